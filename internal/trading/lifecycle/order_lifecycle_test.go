package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap/zaptest"
)

type recordingBus struct {
	mu          sync.Mutex
	transitions []StateTransition
}

func (b *recordingBus) PublishStateTransition(ctx context.Context, state *OrderState, tr StateTransition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitions = append(b.transitions, tr)
	return nil
}

func (b *recordingBus) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.transitions)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type LifecycleTestSuite struct {
	suite.Suite
	ctx     context.Context
	clock   *fakeClock
	bus     *recordingBus
	manager *Manager
}

func (s *LifecycleTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.bus = &recordingBus{}
	s.manager = NewManager(zaptest.NewLogger(s.T()), WithEventBus(s.bus), WithClock(s.clock.Now))
}

func (s *LifecycleTestSuite) newOrder(id string, qty int64) *model.Order {
	return &model.Order{
		ID:       id,
		Symbol:   "AAPL",
		Side:     model.OrderSideBuy,
		Type:     model.OrderTypeLimit,
		Quantity: decimal.NewFromInt(qty),
	}
}

func (s *LifecycleTestSuite) create(id string, qty int64) *OrderState {
	state, err := s.manager.CreateOrder(s.ctx, s.newOrder(id, qty))
	s.Require().NoError(err)
	return state
}

func (s *LifecycleTestSuite) TestCreateOrder() {
	state := s.create("o-1", 100)

	s.Equal(model.OrderStatusPending, state.Status)
	s.True(state.RemainingQuantity.Equal(decimal.NewFromInt(100)))
	s.True(state.FilledQuantity.IsZero())
	s.True(state.CanCancel)
	s.True(state.CanModify)
	s.False(state.IsTerminal)
	s.Require().Len(state.Transitions, 1)
	s.Equal(EventCreated, state.Transitions[0].Event)
}

func (s *LifecycleTestSuite) TestCreateOrder_Rejections() {
	_, err := s.manager.CreateOrder(s.ctx, s.newOrder("", 1))
	var lerr *LifecycleError
	s.Require().ErrorAs(err, &lerr)
	s.ErrorIs(err, ErrMissingOrderID)

	s.create("dup", 1)
	_, err = s.manager.CreateOrder(s.ctx, s.newOrder("dup", 1))
	s.ErrorIs(err, ErrDuplicateOrder)

	// archived orders still count as known
	_, err = s.manager.CancelOrder(s.ctx, "dup", "user", "api")
	s.Require().NoError(err)
	_, err = s.manager.CreateOrder(s.ctx, s.newOrder("dup", 1))
	s.ErrorIs(err, ErrDuplicateOrder)
}

func (s *LifecycleTestSuite) TestCreateOrder_RunsValidators() {
	s.manager.AddValidator(NewBasicOrderValidator(zaptest.NewLogger(s.T())))
	s.manager.AddValidator(NewSymbolValidator([]string{"msft"}, zaptest.NewLogger(s.T())))

	_, err := s.manager.CreateOrder(s.ctx, s.newOrder("o-1", 10))
	s.ErrorIs(err, ErrInvalidOrder)

	bad := s.newOrder("o-2", 0)
	bad.Symbol = "MSFT"
	_, err = s.manager.CreateOrder(s.ctx, bad)
	s.ErrorIs(err, ErrInvalidOrder)

	ok := s.newOrder("o-3", 5)
	ok.Symbol = "MSFT"
	ok.LimitPrice = decimal.NewFromInt(300)
	_, err = s.manager.CreateOrder(s.ctx, ok)
	s.NoError(err)
}

func (s *LifecycleTestSuite) TestPartialThenFullFill() {
	s.create("o-1", 100)

	state, err := s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.NewFromInt(30), decimal.NewFromInt(150), decimal.RequireFromString("0.3"))
	s.Require().NoError(err)
	s.Equal(model.OrderStatusPartiallyFilled, state.Status)
	s.True(state.AverageFillPrice.Equal(decimal.NewFromInt(150)))

	state, err = s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.NewFromInt(20), decimal.NewFromInt(155), decimal.RequireFromString("0.2"))
	s.Require().NoError(err)
	s.Equal(model.OrderStatusPartiallyFilled, state.Status)
	s.True(state.FilledQuantity.Equal(decimal.NewFromInt(50)))
	s.True(state.RemainingQuantity.Equal(decimal.NewFromInt(50)))
	s.True(state.AverageFillPrice.Equal(decimal.NewFromInt(152)), "avg %s", state.AverageFillPrice)
	// CREATED, PARTIALLY_FILLED; the second partial fill adds no self-transition
	s.Len(state.Transitions, 2)

	state, err = s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.NewFromInt(50), decimal.NewFromInt(160), decimal.RequireFromString("0.5"))
	s.Require().NoError(err)
	s.Equal(model.OrderStatusFilled, state.Status)
	s.True(state.FilledQuantity.Equal(decimal.NewFromInt(100)))
	s.True(state.RemainingQuantity.IsZero())
	s.True(state.AverageFillPrice.Equal(decimal.NewFromInt(156)), "avg %s", state.AverageFillPrice)
	s.True(state.TotalCommission.Equal(decimal.NewFromInt(1)))
	s.True(state.IsTerminal)
	s.False(state.CanCancel)
	s.NotNil(state.CompletedAt)

	s.Empty(s.manager.GetActiveOrders())
	s.Len(s.manager.GetOrdersByStatus(model.OrderStatusFilled), 1)

	_, err = s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.NewFromInt(1), decimal.NewFromInt(160), decimal.Zero)
	s.ErrorIs(err, ErrInvalidTransition)
}

func (s *LifecycleTestSuite) TestOverfillIsNotClamped() {
	s.create("o-1", 10)
	state, err := s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.NewFromInt(12), decimal.NewFromInt(5), decimal.Zero)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusFilled, state.Status)
	s.True(state.RemainingQuantity.Equal(decimal.NewFromInt(-2)))
}

func (s *LifecycleTestSuite) TestInvalidFill() {
	s.create("o-1", 10)
	_, err := s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.Zero, decimal.NewFromInt(5), decimal.Zero)
	s.ErrorIs(err, ErrInvalidFill)

	_, err = s.manager.UpdateFillDetails(s.ctx, "missing", decimal.NewFromInt(1), decimal.NewFromInt(5), decimal.Zero)
	s.ErrorIs(err, ErrUnknownOrder)
}

func (s *LifecycleTestSuite) TestTransitionOrder_UnknownAndInvalid() {
	_, err := s.manager.TransitionOrder(s.ctx, "missing", model.OrderStatusFilled, EventFilled, nil, "test")
	s.ErrorIs(err, ErrUnknownOrder)

	s.create("o-1", 1)
	_, err = s.manager.TransitionOrder(s.ctx, "o-1", model.OrderStatusExpired, EventExpired, nil, "test")
	var lerr *LifecycleError
	s.Require().ErrorAs(err, &lerr)
	s.ErrorIs(err, ErrInvalidTransition)
	s.Equal(model.OrderStatusPending, lerr.From)
	s.Equal(model.OrderStatusExpired, lerr.To)

	state, ok := s.manager.GetOrderState("o-1")
	s.Require().True(ok)
	s.Equal(model.OrderStatusPending, state.Status)
	s.Len(state.Transitions, 1)
}

func (s *LifecycleTestSuite) TestCancelOrder() {
	s.create("o-1", 1)
	state, err := s.manager.CancelOrder(s.ctx, "o-1", "user request", "api")
	s.Require().NoError(err)
	s.Equal(model.OrderStatusCancelled, state.Status)
	last := state.Transitions[len(state.Transitions)-1]
	s.Equal("user request", last.Details["reason"])
	s.Equal("api", last.TriggeredBy)

	_, err = s.manager.CancelOrder(s.ctx, "o-1", "again", "api")
	s.ErrorIs(err, ErrNotCancellable)

	_, err = s.manager.CancelOrder(s.ctx, "missing", "", "api")
	s.ErrorIs(err, ErrUnknownOrder)
}

func (s *LifecycleTestSuite) TestRejectAndExpire() {
	s.create("o-1", 1)
	state, err := s.manager.RejectOrder(s.ctx, "o-1", "insufficient funds", "risk")
	s.Require().NoError(err)
	s.Equal(model.OrderStatusRejected, state.Status)
	s.Equal([]string{"insufficient funds"}, state.ErrorMessages)

	s.create("o-2", 1)
	_, err = s.manager.ExpireOrder(s.ctx, "o-2", "", "scheduler")
	s.ErrorIs(err, ErrInvalidTransition)

	_, err = s.manager.TransitionOrder(s.ctx, "o-2", model.OrderStatusAcknowledged, EventAcknowledged, nil, "venue")
	s.Require().NoError(err)
	state, err = s.manager.ExpireOrder(s.ctx, "o-2", "session end", "scheduler")
	s.Require().NoError(err)
	s.Equal(model.OrderStatusExpired, state.Status)
}

func (s *LifecycleTestSuite) TestCallbacks_PanicDoesNotBlock() {
	s.create("o-1", 10)

	var calls []string
	s.manager.RegisterEventCallback(EventFilled, func(ctx context.Context, state *OrderState, tr StateTransition) error {
		calls = append(calls, "first")
		panic("boom")
	})
	s.manager.RegisterEventCallback(EventFilled, func(ctx context.Context, state *OrderState, tr StateTransition) error {
		calls = append(calls, "second")
		return errors.New("listener failed")
	})
	s.manager.RegisterEventCallback(EventFilled, func(ctx context.Context, state *OrderState, tr StateTransition) error {
		calls = append(calls, "third")
		state.Status = model.OrderStatusPending
		return nil
	})

	state, err := s.manager.UpdateFillDetails(s.ctx, "o-1", decimal.NewFromInt(10), decimal.NewFromInt(1), decimal.Zero)
	s.Require().NoError(err)
	s.Equal(model.OrderStatusFilled, state.Status)
	s.Equal([]string{"first", "second", "third"}, calls)

	stored, ok := s.manager.GetOrderState("o-1")
	s.Require().True(ok)
	s.Equal(model.OrderStatusFilled, stored.Status)
	s.EqualValues(2, s.manager.Metrics().CallbackFailures)
}

func (s *LifecycleTestSuite) TestEventBusReceivesTransitions() {
	s.create("o-1", 1)
	_, err := s.manager.CancelOrder(s.ctx, "o-1", "", "api")
	s.Require().NoError(err)
	s.Eventually(func() bool { return s.bus.count() == 2 }, time.Second, 10*time.Millisecond)
}

func (s *LifecycleTestSuite) TestQueries() {
	s.create("o-1", 1)
	s.clock.Advance(time.Second)
	msft := s.newOrder("o-2", 1)
	msft.Symbol = "MSFT"
	_, err := s.manager.CreateOrder(s.ctx, msft)
	s.Require().NoError(err)

	active := s.manager.GetActiveOrders()
	s.Require().Len(active, 2)
	s.Equal("o-1", active[0].OrderID)

	s.Len(s.manager.GetOrdersBySymbol("MSFT"), 1)
	s.Len(s.manager.GetOrdersByStatus(model.OrderStatusPending), 2)

	// returned states are copies
	active[0].Status = model.OrderStatusFilled
	state, _ := s.manager.GetOrderState("o-1")
	s.Equal(model.OrderStatusPending, state.Status)

	_, ok := s.manager.GetOrderState("missing")
	s.False(ok)
}

func (s *LifecycleTestSuite) TestCleanupCompletedOrders() {
	s.create("old", 1)
	s.create("new", 1)
	s.create("open", 1)

	_, err := s.manager.CancelOrder(s.ctx, "old", "", "test")
	s.Require().NoError(err)
	s.clock.Advance(2 * time.Hour)
	_, err = s.manager.CancelOrder(s.ctx, "new", "", "test")
	s.Require().NoError(err)
	s.clock.Advance(30 * time.Minute)

	s.Equal(1, s.manager.CleanupCompletedOrders(time.Hour))
	_, ok := s.manager.GetOrderState("old")
	s.False(ok)
	_, ok = s.manager.GetOrderState("new")
	s.True(ok)
	_, ok = s.manager.GetOrderState("open")
	s.True(ok)

	s.Equal(0, s.manager.CleanupCompletedOrders(time.Hour))
	s.Equal(1, s.manager.CleanupCompletedOrders(0))
}

func (s *LifecycleTestSuite) TestMetrics() {
	s.create("o-1", 1)
	_, err := s.manager.CancelOrder(s.ctx, "o-1", "", "api")
	s.Require().NoError(err)

	m := s.manager.Metrics()
	s.EqualValues(1, m.OrdersCreated)
	s.EqualValues(1, m.OrdersCancelled)
	s.EqualValues(1, m.StateTransitions["PENDING->CANCELLED"])
}

func TestLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(LifecycleTestSuite))
}

func TestCanTransition_Table(t *testing.T) {
	expected := map[model.OrderStatus][]model.OrderStatus{
		model.OrderStatusPending: {
			model.OrderStatusAcknowledged, model.OrderStatusTriggered, model.OrderStatusPartiallyFilled,
			model.OrderStatusFilled, model.OrderStatusCancelled, model.OrderStatusRejected,
		},
		model.OrderStatusAcknowledged: {
			model.OrderStatusTriggered, model.OrderStatusPartiallyFilled, model.OrderStatusFilled,
			model.OrderStatusCancelled, model.OrderStatusRejected, model.OrderStatusExpired,
		},
		model.OrderStatusTriggered: {
			model.OrderStatusPartiallyFilled, model.OrderStatusFilled, model.OrderStatusCancelled,
			model.OrderStatusRejected, model.OrderStatusExpired,
		},
		model.OrderStatusPartiallyFilled: {
			model.OrderStatusPartiallyFilled, model.OrderStatusFilled, model.OrderStatusCancelled,
		},
	}

	// route from PENDING to each starting status
	paths := map[model.OrderStatus][]model.OrderStatus{
		model.OrderStatusPending:         nil,
		model.OrderStatusAcknowledged:    {model.OrderStatusAcknowledged},
		model.OrderStatusTriggered:       {model.OrderStatusTriggered},
		model.OrderStatusPartiallyFilled: {model.OrderStatusPartiallyFilled},
		model.OrderStatusFilled:          {model.OrderStatusFilled},
		model.OrderStatusCancelled:       {model.OrderStatusCancelled},
		model.OrderStatusRejected:        {model.OrderStatusRejected},
		model.OrderStatusExpired:         {model.OrderStatusAcknowledged, model.OrderStatusExpired},
	}

	ctx := context.Background()
	manager := NewManager(zaptest.NewLogger(t))
	for _, from := range AllStatuses {
		allowed := make(map[model.OrderStatus]bool)
		for _, to := range expected[from] {
			allowed[to] = true
		}
		for _, to := range AllStatuses {
			assert.Equal(t, allowed[to], CanTransition(from, to), "%s -> %s", from, to)

			id := fmt.Sprintf("%s-%s", from, to)
			_, err := manager.CreateOrder(ctx, &model.Order{
				ID:       id,
				Symbol:   "AAPL",
				Side:     model.OrderSideBuy,
				Type:     model.OrderTypeLimit,
				Quantity: decimal.NewFromInt(10),
			})
			require.NoError(t, err)
			for _, step := range paths[from] {
				_, err := manager.TransitionOrder(ctx, id, step, EventForStatus(step), nil, "test")
				require.NoError(t, err, "%s: reaching %s", id, step)
			}

			state, err := manager.TransitionOrder(ctx, id, to, EventForStatus(to), nil, "test")
			if !allowed[to] {
				assert.ErrorIs(t, err, ErrInvalidTransition, "%s -> %s", from, to)
				current, ok := manager.GetOrderState(id)
				require.True(t, ok)
				assert.Equal(t, from, current.Status)
				continue
			}
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, state.Status)
			assert.Equal(t, to.IsTerminal(), state.IsTerminal, "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := map[model.OrderStatus]bool{
		model.OrderStatusFilled:    true,
		model.OrderStatusCancelled: true,
		model.OrderStatusRejected:  true,
		model.OrderStatusExpired:   true,
	}
	for _, st := range AllStatuses {
		assert.Equal(t, terminal[st], st.IsTerminal(), st)
	}
}

func TestLifecycleErrorUnwraps(t *testing.T) {
	err := error(&LifecycleError{Op: "transition", OrderID: "o-1", From: model.OrderStatusFilled, To: model.OrderStatusPending, Err: ErrInvalidTransition})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "FILLED -> PENDING")
}
