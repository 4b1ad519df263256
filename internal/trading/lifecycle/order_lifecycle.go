// Package lifecycle tracks every order through its state machine and
// accumulates fill details.
package lifecycle

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/Aidin1998/pincex_orderexec/pkg/metrics"
	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// EventCallback is invoked after a transition has been recorded. The state is
// a copy; mutating it has no effect on the manager.
type EventCallback func(ctx context.Context, state *OrderState, transition StateTransition) error

// Option configures a Manager.
type Option func(*Manager)

// WithEventBus publishes every recorded transition to bus.
func WithEventBus(bus EventBus) Option {
	return func(m *Manager) { m.eventBus = bus }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithValidator adds an intake validator run by CreateOrder.
func WithValidator(v OrderValidator) Option {
	return func(m *Manager) { m.validators = append(m.validators, v) }
}

// Manager is the authoritative record of order states.
type Manager struct {
	logger     *zap.Logger
	eventBus   EventBus
	validators []OrderValidator
	now        func() time.Time

	mu        sync.RWMutex
	active    map[string]*OrderState
	completed map[string]*OrderState
	archive   *btree.Map[string, string] // completion key -> order id

	cbMu      sync.RWMutex
	callbacks map[Event][]EventCallback

	metrics *LifecycleMetrics
}

// LifecycleMetrics tracks counters for lifecycle operations.
type LifecycleMetrics struct {
	OrdersCreated    int64            `json:"orders_created"`
	OrdersFilled     int64            `json:"orders_filled"`
	OrdersCancelled  int64            `json:"orders_cancelled"`
	OrdersRejected   int64            `json:"orders_rejected"`
	OrdersExpired    int64            `json:"orders_expired"`
	FillsApplied     int64            `json:"fills_applied"`
	CallbackFailures int64            `json:"callback_failures"`
	StateTransitions map[string]int64 `json:"state_transitions"`
	mutex            sync.RWMutex
}

// NewManager creates a lifecycle manager.
func NewManager(logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		logger:    logger,
		now:       time.Now,
		active:    make(map[string]*OrderState),
		completed: make(map[string]*OrderState),
		archive:   btree.NewMap[string, string](32),
		callbacks: make(map[Event][]EventCallback),
		metrics: &LifecycleMetrics{
			StateTransitions: make(map[string]int64),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.eventBus == nil {
		m.eventBus = NewLoggingEventBus(logger)
	}
	return m
}

// AddValidator adds an intake validator.
func (m *Manager) AddValidator(v OrderValidator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append(m.validators, v)
}

// RegisterEventCallback subscribes cb to event. Many callbacks may listen to
// the same event; they run in registration order.
func (m *Manager) RegisterEventCallback(event Event, cb EventCallback) {
	m.cbMu.Lock()
	defer m.cbMu.Unlock()
	m.callbacks[event] = append(m.callbacks[event], cb)
}

// CreateOrder starts tracking order in PENDING.
func (m *Manager) CreateOrder(ctx context.Context, order *model.Order) (*OrderState, error) {
	if order == nil || order.ID == "" {
		return nil, &LifecycleError{Op: "create", Err: ErrMissingOrderID}
	}
	if err := m.validateOrder(ctx, order); err != nil {
		return nil, &LifecycleError{Op: "create", OrderID: order.ID, Err: err}
	}

	now := m.now()
	m.mu.Lock()
	if m.lookupLocked(order.ID) != nil {
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "create", OrderID: order.ID, Err: ErrDuplicateOrder}
	}

	tr := StateTransition{
		To:          model.OrderStatusPending,
		Event:       EventCreated,
		Timestamp:   now,
		TriggeredBy: "lifecycle_manager",
	}
	state := &OrderState{
		OrderID:           order.ID,
		Symbol:            order.Symbol,
		Side:              order.Side,
		Type:              order.Type,
		RequestedQuantity: order.Quantity,
		FilledQuantity:    decimal.Zero,
		RemainingQuantity: order.Quantity,
		AverageFillPrice:  decimal.Zero,
		TotalCommission:   decimal.Zero,
		Status:            model.OrderStatusPending,
		Transitions:       []StateTransition{tr},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	state.refreshFlags()
	m.active[order.ID] = state
	snapshot := state.clone()
	activeCount := len(m.active)
	m.mu.Unlock()

	metrics.ActiveOrders.Set(float64(activeCount))
	m.metrics.increment(func(lm *LifecycleMetrics) { lm.OrdersCreated++ })

	m.logger.Debug("Order tracked",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("quantity", order.Quantity.String()),
	)

	m.afterTransition(ctx, snapshot, tr)
	return snapshot, nil
}

// TransitionOrder moves an order to status to, recording event in its history.
func (m *Manager) TransitionOrder(ctx context.Context, orderID string, to model.OrderStatus, event Event, details map[string]interface{}, triggeredBy string) (*OrderState, error) {
	m.mu.Lock()
	state := m.lookupLocked(orderID)
	if state == nil {
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "transition", OrderID: orderID, To: to, Err: ErrUnknownOrder}
	}
	if !CanTransition(state.Status, to) {
		from := state.Status
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "transition", OrderID: orderID, From: from, To: to, Err: ErrInvalidTransition}
	}
	tr := m.applyTransitionLocked(state, to, event, details, triggeredBy)
	snapshot := state.clone()
	activeCount := len(m.active)
	m.mu.Unlock()

	metrics.ActiveOrders.Set(float64(activeCount))
	m.afterTransition(ctx, snapshot, tr)
	return snapshot, nil
}

// UpdateFillDetails applies one execution report to an order.
func (m *Manager) UpdateFillDetails(ctx context.Context, orderID string, quantity, price, commission decimal.Decimal) (*OrderState, error) {
	if !quantity.IsPositive() || price.IsNegative() {
		return nil, &LifecycleError{Op: "fill", OrderID: orderID, Err: fmt.Errorf("%w: quantity %s price %s", ErrInvalidFill, quantity, price)}
	}

	m.mu.Lock()
	state := m.lookupLocked(orderID)
	if state == nil {
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "fill", OrderID: orderID, Err: ErrUnknownOrder}
	}
	if state.IsTerminal {
		from := state.Status
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "fill", OrderID: orderID, From: from, Err: ErrInvalidTransition}
	}

	filled := state.FilledQuantity.Add(quantity)
	remaining := state.RequestedQuantity.Sub(filled)
	target := model.OrderStatusPartiallyFilled
	if !remaining.IsPositive() {
		target = model.OrderStatusFilled
	}

	// a further partial fill on a partially filled order only updates figures
	needsTransition := target != state.Status
	if needsTransition && !CanTransition(state.Status, target) {
		from := state.Status
		m.mu.Unlock()
		return nil, &LifecycleError{Op: "fill", OrderID: orderID, From: from, To: target, Err: ErrInvalidTransition}
	}

	state.AverageFillPrice = state.AverageFillPrice.Mul(state.FilledQuantity).
		Add(quantity.Mul(price)).
		Div(filled)
	state.FilledQuantity = filled
	state.RemainingQuantity = remaining
	state.TotalCommission = state.TotalCommission.Add(commission)
	state.UpdatedAt = m.now()

	var tr StateTransition
	if needsTransition {
		tr = m.applyTransitionLocked(state, target, EventForStatus(target), map[string]interface{}{
			"fill_quantity": quantity.String(),
			"fill_price":    price.String(),
			"commission":    commission.String(),
		}, "fill")
	}
	snapshot := state.clone()
	activeCount := len(m.active)
	m.mu.Unlock()

	m.metrics.increment(func(lm *LifecycleMetrics) { lm.FillsApplied++ })
	if remaining.IsNegative() {
		m.logger.Warn("Order overfilled",
			zap.String("order_id", orderID),
			zap.String("requested", snapshot.RequestedQuantity.String()),
			zap.String("filled", snapshot.FilledQuantity.String()),
		)
	}

	if needsTransition {
		metrics.ActiveOrders.Set(float64(activeCount))
		m.afterTransition(ctx, snapshot, tr)
	}
	return snapshot, nil
}

// CancelOrder cancels an order that is still cancellable.
func (m *Manager) CancelOrder(ctx context.Context, orderID, reason, triggeredBy string) (*OrderState, error) {
	m.mu.RLock()
	state := m.lookupLocked(orderID)
	var canCancel bool
	var from model.OrderStatus
	if state != nil {
		canCancel, from = state.CanCancel, state.Status
	}
	m.mu.RUnlock()

	if state == nil {
		return nil, &LifecycleError{Op: "cancel", OrderID: orderID, Err: ErrUnknownOrder}
	}
	if !canCancel {
		return nil, &LifecycleError{Op: "cancel", OrderID: orderID, From: from, To: model.OrderStatusCancelled, Err: ErrNotCancellable}
	}
	return m.TransitionOrder(ctx, orderID, model.OrderStatusCancelled, EventCancelled, reasonDetails(reason), triggeredBy)
}

// RejectOrder rejects an order.
func (m *Manager) RejectOrder(ctx context.Context, orderID, reason, triggeredBy string) (*OrderState, error) {
	return m.TransitionOrder(ctx, orderID, model.OrderStatusRejected, EventRejected, reasonDetails(reason), triggeredBy)
}

// ExpireOrder expires an order.
func (m *Manager) ExpireOrder(ctx context.Context, orderID, reason, triggeredBy string) (*OrderState, error) {
	return m.TransitionOrder(ctx, orderID, model.OrderStatusExpired, EventExpired, reasonDetails(reason), triggeredBy)
}

// GetOrderState returns a copy of the order's state, active or archived.
func (m *Manager) GetOrderState(orderID string) (*OrderState, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := m.lookupLocked(orderID)
	if state == nil {
		return nil, false
	}
	return state.clone(), true
}

// GetActiveOrders returns copies of every non-terminal order, oldest first.
func (m *Manager) GetActiveOrders() []*OrderState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OrderState, 0, len(m.active))
	for _, s := range m.active {
		out = append(out, s.clone())
	}
	sortStates(out)
	return out
}

// GetOrdersByStatus returns copies of every tracked order in status.
func (m *Manager) GetOrdersByStatus(status model.OrderStatus) []*OrderState {
	return m.filter(func(s *OrderState) bool { return s.Status == status })
}

// GetOrdersBySymbol returns copies of every tracked order on symbol.
func (m *Manager) GetOrdersBySymbol(symbol string) []*OrderState {
	return m.filter(func(s *OrderState) bool { return s.Symbol == symbol })
}

// CleanupCompletedOrders purges archived orders that completed more than
// olderThan ago and returns how many were removed.
func (m *Manager) CleanupCompletedOrders(olderThan time.Duration) int {
	cutoff := m.now().Add(-olderThan)

	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	m.archive.Scan(func(key, orderID string) bool {
		if s := m.completed[orderID]; s != nil && s.CompletedAt != nil && !s.CompletedAt.Before(cutoff) {
			return false
		}
		keys = append(keys, key)
		return true
	})
	for _, key := range keys {
		if orderID, ok := m.archive.Delete(key); ok {
			delete(m.completed, orderID)
		}
	}

	if len(keys) > 0 {
		m.logger.Info("Purged completed orders",
			zap.Int("count", len(keys)),
			zap.Time("cutoff", cutoff),
		)
	}
	return len(keys)
}

// Metrics returns a copy of the current counters.
func (m *Manager) Metrics() *LifecycleMetrics {
	m.metrics.mutex.RLock()
	defer m.metrics.mutex.RUnlock()

	transitions := make(map[string]int64, len(m.metrics.StateTransitions))
	for k, v := range m.metrics.StateTransitions {
		transitions[k] = v
	}
	return &LifecycleMetrics{
		OrdersCreated:    m.metrics.OrdersCreated,
		OrdersFilled:     m.metrics.OrdersFilled,
		OrdersCancelled:  m.metrics.OrdersCancelled,
		OrdersRejected:   m.metrics.OrdersRejected,
		OrdersExpired:    m.metrics.OrdersExpired,
		FillsApplied:     m.metrics.FillsApplied,
		CallbackFailures: m.metrics.CallbackFailures,
		StateTransitions: transitions,
	}
}

func (m *Manager) lookupLocked(orderID string) *OrderState {
	if s, ok := m.active[orderID]; ok {
		return s
	}
	return m.completed[orderID]
}

// applyTransitionLocked records the transition and archives terminal orders.
// Caller holds m.mu and has checked the transition table.
func (m *Manager) applyTransitionLocked(state *OrderState, to model.OrderStatus, event Event, details map[string]interface{}, triggeredBy string) StateTransition {
	now := m.now()
	tr := StateTransition{
		From:        state.Status,
		To:          to,
		Event:       event,
		Timestamp:   now,
		Details:     details,
		TriggeredBy: triggeredBy,
	}.clone()

	state.Transitions = append(state.Transitions, tr)
	if reason, ok := details["reason"].(string); ok && to == model.OrderStatusRejected {
		state.ErrorMessages = append(state.ErrorMessages, reason)
	}
	state.Status = to
	state.UpdatedAt = now
	state.refreshFlags()

	if state.IsTerminal {
		completedAt := now
		state.CompletedAt = &completedAt
		delete(m.active, state.OrderID)
		m.completed[state.OrderID] = state
		m.archive.Set(archiveKey(completedAt, state.OrderID), state.OrderID)
	}
	return tr
}

// afterTransition runs outside the state lock.
func (m *Manager) afterTransition(ctx context.Context, state *OrderState, tr StateTransition) {
	metrics.StateTransitions.WithLabelValues(string(tr.From), string(tr.To)).Inc()
	m.metrics.recordTransition(tr)

	m.logger.Info("Order state transition",
		zap.String("order_id", state.OrderID),
		zap.String("from", string(tr.From)),
		zap.String("to", string(tr.To)),
		zap.String("event", string(tr.Event)),
		zap.String("triggered_by", tr.TriggeredBy),
	)

	m.executeCallbacks(ctx, state, tr)

	go func() {
		if err := m.eventBus.PublishStateTransition(context.Background(), state, tr); err != nil {
			m.logger.Error("Failed to publish state transition", zap.String("order_id", state.OrderID), zap.Error(err))
		}
	}()
}

func (m *Manager) executeCallbacks(ctx context.Context, state *OrderState, tr StateTransition) {
	m.cbMu.RLock()
	callbacks := append([]EventCallback(nil), m.callbacks[tr.Event]...)
	m.cbMu.RUnlock()

	for i, cb := range callbacks {
		if err := m.runCallback(ctx, cb, state.clone(), tr.clone()); err != nil {
			m.metrics.increment(func(lm *LifecycleMetrics) { lm.CallbackFailures++ })
			m.logger.Error("Lifecycle callback failed",
				zap.Int("callback", i),
				zap.String("order_id", state.OrderID),
				zap.String("event", string(tr.Event)),
				zap.Error(err),
			)
		}
	}
}

func (m *Manager) runCallback(ctx context.Context, cb EventCallback, state *OrderState, tr StateTransition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panic: %v", r)
		}
	}()
	return cb(ctx, state, tr)
}

func (m *Manager) validateOrder(ctx context.Context, order *model.Order) error {
	m.mu.RLock()
	validators := append([]OrderValidator(nil), m.validators...)
	m.mu.RUnlock()

	for _, v := range validators {
		if err := v.ValidateOrder(ctx, order); err != nil {
			m.logger.Warn("Order validation failed",
				zap.String("validator", v.Name()),
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %s: %v", ErrInvalidOrder, v.Name(), err)
		}
	}
	return nil
}

func (m *Manager) filter(keep func(*OrderState) bool) []*OrderState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*OrderState
	for _, s := range m.active {
		if keep(s) {
			out = append(out, s.clone())
		}
	}
	for _, s := range m.completed {
		if keep(s) {
			out = append(out, s.clone())
		}
	}
	sortStates(out)
	return out
}

func sortStates(states []*OrderState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].CreatedAt.Equal(states[j].CreatedAt) {
			return states[i].OrderID < states[j].OrderID
		}
		return states[i].CreatedAt.Before(states[j].CreatedAt)
	})
}

func archiveKey(completedAt time.Time, orderID string) string {
	return fmt.Sprintf("%020d|%s", completedAt.UnixNano(), orderID)
}

func reasonDetails(reason string) map[string]interface{} {
	if reason == "" {
		return nil
	}
	return map[string]interface{}{"reason": reason}
}

func (lm *LifecycleMetrics) increment(fn func(*LifecycleMetrics)) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	fn(lm)
}

func (lm *LifecycleMetrics) recordTransition(tr StateTransition) {
	lm.mutex.Lock()
	defer lm.mutex.Unlock()
	lm.StateTransitions[fmt.Sprintf("%s->%s", tr.From, tr.To)]++
	switch tr.To {
	case model.OrderStatusFilled:
		lm.OrdersFilled++
	case model.OrderStatusCancelled:
		lm.OrdersCancelled++
	case model.OrderStatusRejected:
		lm.OrdersRejected++
	case model.OrderStatusExpired:
		lm.OrdersExpired++
	}
}
