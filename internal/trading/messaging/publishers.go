package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
)

// TransitionPublisher is a lifecycle.EventBus that writes every transition
// to Kafka keyed by order id, so one order's events stay in one partition.
type TransitionPublisher struct {
	client *KafkaClient
}

// NewTransitionPublisher creates a transition publisher.
func NewTransitionPublisher(client *KafkaClient) *TransitionPublisher {
	return &TransitionPublisher{client: client}
}

// PublishStateTransition implements lifecycle.EventBus.
func (p *TransitionPublisher) PublishStateTransition(ctx context.Context, state *lifecycle.OrderState, transition lifecycle.StateTransition) error {
	data, err := json.Marshal(lifecycle.NewTransitionMessage(state, transition))
	if err != nil {
		return fmt.Errorf("marshal transition for %s: %w", state.OrderID, err)
	}
	return p.client.PublishEvent(ctx, state.OrderID, data, map[string]string{
		"event":     string(transition.Event),
		"to_status": string(transition.To),
	})
}

// OrderPublisher is a model.Executor that hands concrete orders to a
// downstream matching service over Kafka.
type OrderPublisher struct {
	client *KafkaClient
}

// NewOrderPublisher creates an order publisher.
func NewOrderPublisher(client *KafkaClient) *OrderPublisher {
	return &OrderPublisher{client: client}
}

// ExecuteOrder implements model.Executor.
func (p *OrderPublisher) ExecuteOrder(ctx context.Context, order *model.ConcreteOrder) error {
	data, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("marshal concrete order %s: %w", order.ID, err)
	}
	return p.client.PublishEvent(ctx, order.ParentOrderID, data, map[string]string{
		"order_type": string(order.Type),
		"symbol":     order.Symbol,
	})
}
