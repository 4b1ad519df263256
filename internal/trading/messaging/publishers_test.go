package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func TestTransitionPublisher(t *testing.T) {
	w := &fakeWriter{}
	client := newKafkaClientWithWriter([]string{"localhost:9092"}, "orders.transitions", "orderexec", w, zaptest.NewLogger(t))
	pub := NewTransitionPublisher(client)

	state := &lifecycle.OrderState{OrderID: "ord-1", Symbol: "AAPL", Status: model.OrderStatusFilled}
	tr := lifecycle.StateTransition{
		From:      model.OrderStatusTriggered,
		To:        model.OrderStatusFilled,
		Event:     lifecycle.EventFilled,
		Timestamp: time.Now(),
	}
	require.NoError(t, pub.PublishStateTransition(context.Background(), state, tr))

	require.Len(t, w.messages, 1)
	msg := w.messages[0]
	assert.Equal(t, "ord-1", string(msg.Key))
	assert.Equal(t, "FILLED", header(msg, "event"))
	assert.Equal(t, "orderexec", header(msg, "source"))

	var decoded lifecycle.TransitionMessage
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "AAPL", decoded.Symbol)
	assert.Equal(t, model.OrderStatusTriggered, decoded.Transition.From)
}

func TestOrderPublisher(t *testing.T) {
	w := &fakeWriter{}
	client := newKafkaClientWithWriter(nil, "orders.concrete", "orderexec", w, zaptest.NewLogger(t))
	pub := NewOrderPublisher(client)

	order := &model.ConcreteOrder{
		ID:              "c-1",
		ParentOrderID:   "ord-1",
		Symbol:          "AAPL",
		Side:            model.OrderSideSell,
		Type:            model.OrderTypeMarket,
		Quantity:        decimal.NewFromInt(100),
		TriggeringPrice: decimal.NewFromInt(144),
	}
	require.NoError(t, pub.ExecuteOrder(context.Background(), order))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "ord-1", string(w.messages[0].Key))
	assert.Equal(t, "MARKET", header(w.messages[0], "order_type"))

	w.err = errors.New("broker unavailable")
	assert.Error(t, pub.ExecuteOrder(context.Background(), order))
}

func TestKafkaClient_Close(t *testing.T) {
	w := &fakeWriter{}
	client := newKafkaClientWithWriter(nil, "t", "g", w, zaptest.NewLogger(t))

	require.NoError(t, client.Close())
	require.NoError(t, client.Close())
	assert.True(t, w.closed)
	assert.Error(t, client.PublishEvent(context.Background(), "k", []byte("v"), nil))
	assert.Error(t, client.IsHealthy(context.Background()))
}
