// =============================
// Conditional Order Execution Engine
// =============================
// The engine keeps stop-loss, stop-limit and trailing-stop orders under
// watch, fires them against fresh quotes and hands the resulting concrete
// orders to an executor.

package execution

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/conversion"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/trigger"
	"github.com/Aidin1998/pincex_orderexec/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderConverter validates and converts conditional orders.
type OrderConverter interface {
	CanConvert(order *model.Order) bool
	Validate(order *model.Order) error
	Convert(order *model.Order, triggeringPrice decimal.Decimal) (*model.ConcreteOrder, error)
}

// LifecycleTracker receives lifecycle reports from the engine.
type LifecycleTracker interface {
	CreateOrder(ctx context.Context, order *model.Order) (*lifecycle.OrderState, error)
	TransitionOrder(ctx context.Context, orderID string, to model.OrderStatus, event lifecycle.Event, details map[string]interface{}, triggeredBy string) (*lifecycle.OrderState, error)
	RejectOrder(ctx context.Context, orderID, reason, triggeredBy string) (*lifecycle.OrderState, error)
	GetOrderState(orderID string) (*lifecycle.OrderState, bool)
}

// Config holds engine timing and capacity settings.
type Config struct {
	SweepInterval time.Duration `mapstructure:"sweep_interval" json:"sweep_interval"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff" json:"error_backoff"`
	QuoteTimeout  time.Duration `mapstructure:"quote_timeout" json:"quote_timeout"`
	MaxConditions int           `mapstructure:"max_conditions" json:"max_conditions"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval: 2 * time.Second,
		ErrorBackoff:  5 * time.Second,
		QuoteTimeout:  2 * time.Second,
		MaxConditions: 10000,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithConverter replaces the default converter.
func WithConverter(c OrderConverter) Option {
	return func(e *Engine) { e.converter = c }
}

// WithExecutor sets where converted orders are dispatched. Without one,
// dispatch is a no-op.
func WithExecutor(x model.Executor) Option {
	return func(e *Engine) { e.executor = x }
}

// WithLifecycle reports restored, triggered and rejected orders to t.
func WithLifecycle(t LifecycleTracker) Option {
	return func(e *Engine) { e.lifecycle = t }
}

// WithConfig overrides the defaults; zero fields keep their default.
func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		def := DefaultConfig()
		if cfg.SweepInterval <= 0 {
			cfg.SweepInterval = def.SweepInterval
		}
		if cfg.ErrorBackoff <= 0 {
			cfg.ErrorBackoff = def.ErrorBackoff
		}
		if cfg.QuoteTimeout <= 0 {
			cfg.QuoteTimeout = def.QuoteTimeout
		}
		if cfg.MaxConditions <= 0 {
			cfg.MaxConditions = def.MaxConditions
		}
		e.config = cfg
	}
}

// EngineStatus is a point-in-time view of the engine.
type EngineStatus struct {
	Running          bool       `json:"running"`
	MonitoredSymbols int        `json:"monitored_symbols"`
	TotalConditions  int        `json:"total_conditions"`
	Processed        int64      `json:"processed"`
	Triggered        int64      `json:"triggered"`
	Failed           int64      `json:"failed"`
	LastSweep        *time.Time `json:"last_sweep,omitempty"`
}

// MonitoredOrder describes one active condition.
type MonitoredOrder struct {
	OrderID       string           `json:"order_id"`
	Type          trigger.Type     `json:"trigger_type"`
	Side          model.OrderSide  `json:"side"`
	TriggerPrice  decimal.Decimal  `json:"trigger_price"`
	HighWaterMark *decimal.Decimal `json:"high_water_mark,omitempty"`
	LowWaterMark  *decimal.Decimal `json:"low_water_mark,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Engine monitors conditional orders. A single instance owns its conditions;
// there is no cross-process coordination.
type Engine struct {
	logger    *zap.SugaredLogger
	repo      model.Repository
	quotes    model.QuoteSource
	converter OrderConverter
	executor  model.Executor
	lifecycle LifecycleTracker
	config    Config
	now       func() time.Time

	// symbol -> conditions
	conditions map[string][]*trigger.Condition
	mu         sync.Mutex

	processed   int64
	triggered   int64
	failed      int64
	lastSweepNs int64

	// startMu serialises Start and Stop
	startMu  sync.Mutex
	running  int32
	cancel   context.CancelFunc
	workerWg sync.WaitGroup
}

// NewEngine creates an execution engine.
func NewEngine(logger *zap.Logger, repo model.Repository, quotes model.QuoteSource, opts ...Option) *Engine {
	e := &Engine{
		logger:     logger.Sugar(),
		repo:       repo,
		quotes:     quotes,
		converter:  conversion.NewConverter(),
		config:     DefaultConfig(),
		now:        time.Now,
		conditions: make(map[string][]*trigger.Condition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start restores unterminated conditional orders from storage and launches
// the monitoring loop. Calling Start on a running engine is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil
	}

	e.logger.Infow("Starting execution engine",
		"sweep_interval", e.config.SweepInterval,
		"max_conditions", e.config.MaxConditions)

	e.restore(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	e.workerWg.Add(1)
	go e.monitoringLoop(loopCtx)
	return nil
}

// Stop cancels the monitoring loop and waits for it to exit. Calling Stop on
// a stopped engine is a no-op. A Stop issued while Start is restoring waits
// for Start to finish and then stops the loop it launched.
func (e *Engine) Stop() error {
	e.startMu.Lock()
	defer e.startMu.Unlock()

	if !atomic.CompareAndSwapInt32(&e.running, 1, 0) {
		return nil
	}

	e.logger.Info("Stopping execution engine")
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	e.workerWg.Wait()
	return nil
}

// IsRunning reports whether the monitoring loop is active.
func (e *Engine) IsRunning() bool {
	return atomic.LoadInt32(&e.running) == 1
}

// AddOrder starts monitoring a conditional order. An order id that is already
// monitored has its condition replaced.
func (e *Engine) AddOrder(order *model.Order) error {
	if err := e.check("add", order); err != nil {
		return err
	}

	cond, ok := trigger.NewCondition(order, e.now())
	if !ok {
		return &ExecutionError{Op: "add", OrderID: order.ID, Err: ErrUnsupportedOrderType}
	}

	e.mu.Lock()
	replaced := e.removeLocked(order.ID)
	if !replaced && e.countLocked() >= e.config.MaxConditions {
		e.mu.Unlock()
		return &ExecutionError{Op: "add", OrderID: order.ID, Err: model.ErrTooManyConditions}
	}
	e.conditions[cond.Symbol] = append(e.conditions[cond.Symbol], cond)
	total := e.countLocked()
	e.mu.Unlock()

	metrics.MonitoredConditions.Set(float64(total))
	e.logger.Debugw("Added trigger condition",
		"order_id", order.ID,
		"symbol", order.Symbol,
		"type", cond.Type,
		"trigger_price", cond.TriggerPrice,
		"replaced", replaced)
	return nil
}

// ValidateOrder reports whether AddOrder would accept order, without
// registering anything.
func (e *Engine) ValidateOrder(order *model.Order) error {
	return e.check("validate", order)
}

func (e *Engine) check(op string, order *model.Order) error {
	if order == nil {
		return &ExecutionError{Op: op, Err: ErrUnsupportedOrderType}
	}
	if !e.converter.CanConvert(order) {
		return &ExecutionError{Op: op, OrderID: order.ID, Err: ErrUnsupportedOrderType}
	}
	if err := e.converter.Validate(order); err != nil {
		if errors.Is(err, conversion.ErrUnsupportedType) {
			return &ExecutionError{Op: op, OrderID: order.ID, Err: ErrUnsupportedOrderType}
		}
		return &ExecutionError{Op: op, OrderID: order.ID, Err: errors.Join(ErrMissingTriggerField, err)}
	}
	return nil
}

// CallbackRegistry is the subscription side of the lifecycle manager.
type CallbackRegistry interface {
	RegisterEventCallback(event lifecycle.Event, cb lifecycle.EventCallback)
}

// TrackTerminations stops monitoring any order that is filled, cancelled,
// rejected or expired through the lifecycle manager.
func (e *Engine) TrackTerminations(registry CallbackRegistry) {
	drop := func(_ context.Context, state *lifecycle.OrderState, _ lifecycle.StateTransition) error {
		e.RemoveOrder(state.OrderID)
		return nil
	}
	for _, ev := range []lifecycle.Event{lifecycle.EventFilled, lifecycle.EventCancelled, lifecycle.EventRejected, lifecycle.EventExpired} {
		registry.RegisterEventCallback(ev, drop)
	}
}

// RemoveOrder stops monitoring orderID. Unknown ids are ignored.
func (e *Engine) RemoveOrder(orderID string) {
	e.mu.Lock()
	removed := e.removeLocked(orderID)
	total := e.countLocked()
	e.mu.Unlock()

	if removed {
		metrics.MonitoredConditions.Set(float64(total))
		e.logger.Debugw("Removed trigger condition", "order_id", orderID)
	}
}

// Status returns the engine's running flag and counters.
func (e *Engine) Status() EngineStatus {
	e.mu.Lock()
	symbols := len(e.conditions)
	total := e.countLocked()
	e.mu.Unlock()

	status := EngineStatus{
		Running:          e.IsRunning(),
		MonitoredSymbols: symbols,
		TotalConditions:  total,
		Processed:        atomic.LoadInt64(&e.processed),
		Triggered:        atomic.LoadInt64(&e.triggered),
		Failed:           atomic.LoadInt64(&e.failed),
	}
	if ns := atomic.LoadInt64(&e.lastSweepNs); ns > 0 {
		t := time.Unix(0, ns)
		status.LastSweep = &t
	}
	return status
}

// MonitoredOrders returns the active conditions grouped by symbol.
func (e *Engine) MonitoredOrders() map[string][]MonitoredOrder {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string][]MonitoredOrder, len(e.conditions))
	for symbol, bucket := range e.conditions {
		orders := make([]MonitoredOrder, 0, len(bucket))
		for _, c := range bucket {
			snap := c.Snapshot()
			orders = append(orders, MonitoredOrder{
				OrderID:       snap.OrderID,
				Type:          snap.Type,
				Side:          snap.Side,
				TriggerPrice:  snap.TriggerPrice,
				HighWaterMark: snap.HighWaterMark,
				LowWaterMark:  snap.LowWaterMark,
				CreatedAt:     snap.CreatedAt,
			})
		}
		out[symbol] = orders
	}
	return out
}

// restore registers every unterminated conditional order found in storage.
// Storage failures are logged and the engine starts empty.
func (e *Engine) restore(ctx context.Context) {
	orders, err := e.repo.LoadUnterminatedOrders(ctx)
	if err != nil {
		e.logger.Warnw("Failed to load unterminated orders, starting with none", "error", err)
		return
	}

	restored := 0
	for _, order := range orders {
		if !order.Type.IsConditional() {
			continue
		}
		if e.lifecycle != nil {
			if _, err := e.lifecycle.CreateOrder(ctx, order); err != nil && !errors.Is(err, lifecycle.ErrDuplicateOrder) {
				e.logger.Debugw("Lifecycle tracking of restored order failed", "order_id", order.ID, "error", err)
			}
		}
		if err := e.AddOrder(order); err != nil {
			e.logger.Warnw("Skipping unrestorable order", "order_id", order.ID, "error", err)
			continue
		}
		restored++
	}
	e.logger.Infow("Restored conditional orders", "count", restored, "loaded", len(orders))
}

func (e *Engine) removeLocked(orderID string) bool {
	for symbol, bucket := range e.conditions {
		for i, c := range bucket {
			if c.OrderID != orderID {
				continue
			}
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(e.conditions, symbol)
			} else {
				e.conditions[symbol] = bucket
			}
			return true
		}
	}
	return false
}

func (e *Engine) countLocked() int {
	n := 0
	for _, bucket := range e.conditions {
		n += len(bucket)
	}
	return n
}

func (e *Engine) symbols() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.conditions))
	for symbol := range e.conditions {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
