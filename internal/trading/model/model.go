package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// OrderType is the closed set of order types the engine understands.
type OrderType string

const (
	OrderTypeMarket       OrderType = "MARKET"
	OrderTypeLimit        OrderType = "LIMIT"
	OrderTypeStopLoss     OrderType = "STOP_LOSS"
	OrderTypeStopLimit    OrderType = "STOP_LIMIT"
	OrderTypeTrailingStop OrderType = "TRAILING_STOP"
)

// IsConditional reports whether orders of this type wait for a trigger.
func (t OrderType) IsConditional() bool {
	switch t {
	case OrderTypeStopLoss, OrderTypeStopLimit, OrderTypeTrailingStop:
		return true
	default:
		return false
	}
}

// OrderSide is BUY or SELL.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle status of an order.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusAcknowledged    OrderStatus = "ACKNOWLEDGED"
	OrderStatusTriggered       OrderStatus = "TRIGGERED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// TerminalStatuses lists the statuses with no outgoing transition.
var TerminalStatuses = []OrderStatus{
	OrderStatusFilled,
	OrderStatusCancelled,
	OrderStatusRejected,
	OrderStatusExpired,
}

// IsTerminal reports whether s is a terminal status.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrQuoteUnavailable  = errors.New("quote unavailable")
	ErrTooManyConditions = errors.New("too many trigger conditions")
)

// Order is the persisted order record shared with order storage.
type Order struct {
	ID           string          `gorm:"primaryKey;type:varchar(64)" json:"id" validate:"required"`
	UserID       string          `gorm:"type:varchar(64);index" json:"user_id,omitempty"`
	Symbol       string          `gorm:"type:varchar(32);index;not null" json:"symbol" validate:"required"`
	Side         OrderSide       `gorm:"type:varchar(8);not null" json:"side" validate:"required,oneof=BUY SELL"`
	Type         OrderType       `gorm:"type:varchar(20);not null" json:"type" validate:"required"`
	Quantity     decimal.Decimal `gorm:"type:decimal(20,8);not null" json:"quantity" validate:"gt=0"`
	LimitPrice   decimal.Decimal `gorm:"type:decimal(20,8)" json:"limit_price,omitempty"`
	StopPrice    decimal.Decimal `gorm:"type:decimal(20,8)" json:"stop_price,omitempty"`
	TrailPercent decimal.Decimal `gorm:"type:decimal(10,4)" json:"trail_percent,omitempty"`
	TrailAmount  decimal.Decimal `gorm:"type:decimal(20,8)" json:"trail_amount,omitempty"`
	Status       OrderStatus     `gorm:"type:varchar(20);index;not null" json:"status"`
	TriggerPrice decimal.Decimal `gorm:"type:decimal(20,8)" json:"trigger_price,omitempty"`
	TriggeredAt  *time.Time      `json:"triggered_at,omitempty"`
	FilledAt     *time.Time      `json:"filled_at,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// ConcreteOrder is an immediately executable order produced from a triggered one.
type ConcreteOrder struct {
	ID              string          `json:"id"`
	ParentOrderID   string          `json:"parent_order_id"`
	Symbol          string          `json:"symbol"`
	Side            OrderSide       `json:"side"`
	Type            OrderType       `json:"type"`
	Quantity        decimal.Decimal `json:"quantity"`
	LimitPrice      decimal.Decimal `json:"limit_price,omitempty"`
	TriggeringPrice decimal.Decimal `json:"triggering_price"`
	CreatedAt       time.Time       `json:"created_at"`
}

// StatusTimestamps carries the timestamps written with a status update.
type StatusTimestamps struct {
	TriggeredAt *time.Time
	FilledAt    *time.Time
	UpdatedAt   time.Time
}
