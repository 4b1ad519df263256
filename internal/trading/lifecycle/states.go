package lifecycle

import (
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/shopspring/decimal"
)

// Event names a lifecycle occurrence that callbacks subscribe to.
type Event string

const (
	EventCreated         Event = "CREATED"
	EventAcknowledged    Event = "ACKNOWLEDGED"
	EventTriggered       Event = "TRIGGERED"
	EventPartiallyFilled Event = "PARTIALLY_FILLED"
	EventFilled          Event = "FILLED"
	EventCancelled       Event = "CANCELLED"
	EventRejected        Event = "REJECTED"
	EventExpired         Event = "EXPIRED"
)

// EventForStatus returns the event conventionally recorded when entering s.
func EventForStatus(s model.OrderStatus) Event {
	return Event(s)
}

var validTransitions = map[model.OrderStatus][]model.OrderStatus{
	model.OrderStatusPending: {
		model.OrderStatusAcknowledged,
		model.OrderStatusTriggered,
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
		model.OrderStatusRejected,
	},
	model.OrderStatusAcknowledged: {
		model.OrderStatusTriggered,
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
		model.OrderStatusRejected,
		model.OrderStatusExpired,
	},
	model.OrderStatusTriggered: {
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
		model.OrderStatusRejected,
		model.OrderStatusExpired,
	},
	model.OrderStatusPartiallyFilled: {
		model.OrderStatusPartiallyFilled,
		model.OrderStatusFilled,
		model.OrderStatusCancelled,
	},
	model.OrderStatusFilled:    {},
	model.OrderStatusCancelled: {},
	model.OrderStatusRejected:  {},
	model.OrderStatusExpired:   {},
}

// AllStatuses lists every lifecycle status.
var AllStatuses = []model.OrderStatus{
	model.OrderStatusPending,
	model.OrderStatusAcknowledged,
	model.OrderStatusTriggered,
	model.OrderStatusPartiallyFilled,
	model.OrderStatusFilled,
	model.OrderStatusCancelled,
	model.OrderStatusRejected,
	model.OrderStatusExpired,
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to model.OrderStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// StateTransition is one append-only entry of an order's history.
type StateTransition struct {
	From        model.OrderStatus      `json:"from_status"`
	To          model.OrderStatus      `json:"to_status"`
	Event       Event                  `json:"event"`
	Timestamp   time.Time              `json:"timestamp"`
	Details     map[string]interface{} `json:"details,omitempty"`
	TriggeredBy string                 `json:"triggered_by"`
}

// OrderState is the lifecycle manager's canonical view of one order.
type OrderState struct {
	OrderID           string            `json:"order_id"`
	Symbol            string            `json:"symbol"`
	Side              model.OrderSide   `json:"side"`
	Type              model.OrderType   `json:"type"`
	RequestedQuantity decimal.Decimal   `json:"requested_quantity"`
	FilledQuantity    decimal.Decimal   `json:"filled_quantity"`
	RemainingQuantity decimal.Decimal   `json:"remaining_quantity"`
	AverageFillPrice  decimal.Decimal   `json:"average_fill_price"`
	TotalCommission   decimal.Decimal   `json:"total_commission"`
	Status            model.OrderStatus `json:"status"`
	CanCancel         bool              `json:"can_cancel"`
	CanModify         bool              `json:"can_modify"`
	IsTerminal        bool              `json:"is_terminal"`
	Transitions       []StateTransition `json:"transition_history"`
	ErrorMessages     []string          `json:"error_messages,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	CompletedAt       *time.Time        `json:"completed_at,omitempty"`
}

// refreshFlags recomputes the derived flags from the current status.
func (s *OrderState) refreshFlags() {
	switch s.Status {
	case model.OrderStatusPending, model.OrderStatusAcknowledged:
		s.CanCancel, s.CanModify = true, true
	case model.OrderStatusTriggered, model.OrderStatusPartiallyFilled:
		s.CanCancel, s.CanModify = true, false
	default:
		s.CanCancel, s.CanModify = false, false
	}
	s.IsTerminal = s.Status.IsTerminal()
}

func (s *OrderState) clone() *OrderState {
	out := *s
	out.Transitions = make([]StateTransition, len(s.Transitions))
	for i, tr := range s.Transitions {
		out.Transitions[i] = tr.clone()
	}
	out.ErrorMessages = append([]string(nil), s.ErrorMessages...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}

func (t StateTransition) clone() StateTransition {
	if t.Details != nil {
		details := make(map[string]interface{}, len(t.Details))
		for k, v := range t.Details {
			details[k] = v
		}
		t.Details = details
	}
	return t
}
