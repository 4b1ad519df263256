package model

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the order storage operations the engine depends on.
type Repository interface {
	CreateOrder(ctx context.Context, order *Order) error
	// LoadOrder returns (nil, nil) when the order does not exist.
	LoadOrder(ctx context.Context, orderID string) (*Order, error)
	LoadUnterminatedOrders(ctx context.Context) ([]*Order, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status OrderStatus, triggerPrice decimal.Decimal, ts StatusTimestamps) error
}

// QuoteSource provides the latest traded price for a symbol.
type QuoteSource interface {
	GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Executor dispatches a concrete order to an execution venue.
type Executor interface {
	ExecuteOrder(ctx context.Context, order *ConcreteOrder) error
}
