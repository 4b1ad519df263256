package lifecycle

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// EventBus publishes recorded state transitions to downstream consumers.
type EventBus interface {
	PublishStateTransition(ctx context.Context, state *OrderState, transition StateTransition) error
}

// TransitionMessage is the wire form of a published transition.
type TransitionMessage struct {
	OrderID    string          `json:"order_id"`
	Symbol     string          `json:"symbol"`
	Transition StateTransition `json:"transition"`
	State      *OrderState     `json:"state"`
}

// NewTransitionMessage builds the wire form of a transition.
func NewTransitionMessage(state *OrderState, transition StateTransition) *TransitionMessage {
	return &TransitionMessage{
		OrderID:    state.OrderID,
		Symbol:     state.Symbol,
		Transition: transition,
		State:      state,
	}
}

// LoggingEventBus writes transitions to the log only.
type LoggingEventBus struct {
	logger *zap.Logger
}

// NewLoggingEventBus creates a new logging event bus
func NewLoggingEventBus(logger *zap.Logger) EventBus {
	return &LoggingEventBus{
		logger: logger,
	}
}

// PublishStateTransition logs a state transition event
func (b *LoggingEventBus) PublishStateTransition(ctx context.Context, state *OrderState, transition StateTransition) error {
	payload, err := json.Marshal(NewTransitionMessage(state, transition))
	if err != nil {
		b.logger.Error("Failed to marshal state transition", zap.Error(err))
		return err
	}

	b.logger.Debug("State transition published",
		zap.String("order_id", state.OrderID),
		zap.String("from_state", string(transition.From)),
		zap.String("to_state", string(transition.To)),
		zap.String("payload", string(payload)),
	)
	return nil
}
