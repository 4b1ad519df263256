// Package trigger holds the threshold state attached to conditional orders
// and the pure logic that decides when a live price fires them.
package trigger

import (
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/shopspring/decimal"
)

// Type represents the trigger rule of a condition.
type Type string

const (
	TypeStopLoss     Type = "stop_loss"
	TypeStopLimit    Type = "stop_limit"
	TypeTrailingStop Type = "trailing_stop"
)

var hundred = decimal.NewFromInt(100)

// TypeFor maps a conditional order type to its trigger type.
func TypeFor(t model.OrderType) (Type, bool) {
	switch t {
	case model.OrderTypeStopLoss:
		return TypeStopLoss, true
	case model.OrderTypeStopLimit:
		return TypeStopLimit, true
	case model.OrderTypeTrailingStop:
		return TypeTrailingStop, true
	default:
		return "", false
	}
}

// TrailSpec configures how far a trailing stop sits from its water mark.
// Percent takes precedence over Amount when both are set.
type TrailSpec struct {
	Percent decimal.Decimal `json:"percent,omitempty"`
	Amount  decimal.Decimal `json:"amount,omitempty"`
}

// IsSet reports whether either trailing mode is configured.
func (s TrailSpec) IsSet() bool {
	return s.Percent.IsPositive() || s.Amount.IsPositive()
}

// threshold computes the stop level for a water mark. Sell stops sit below
// the mark, buy stops above it.
func (s TrailSpec) threshold(mark decimal.Decimal, side model.OrderSide) (decimal.Decimal, bool) {
	switch {
	case s.Percent.IsPositive():
		ratio := s.Percent.Div(hundred)
		if side == model.OrderSideSell {
			return mark.Mul(decimal.NewFromInt(1).Sub(ratio)), true
		}
		return mark.Mul(decimal.NewFromInt(1).Add(ratio)), true
	case s.Amount.IsPositive():
		if side == model.OrderSideSell {
			return mark.Sub(s.Amount), true
		}
		return mark.Add(s.Amount), true
	default:
		return decimal.Zero, false
	}
}

// Condition is the rule and mutable threshold of one conditional order.
type Condition struct {
	OrderID       string           `json:"order_id"`
	Symbol        string           `json:"symbol"`
	Type          Type             `json:"trigger_type"`
	Side          model.OrderSide  `json:"side"`
	TriggerPrice  decimal.Decimal  `json:"trigger_price"`
	HighWaterMark *decimal.Decimal `json:"high_water_mark,omitempty"`
	LowWaterMark  *decimal.Decimal `json:"low_water_mark,omitempty"`
	Trail         TrailSpec        `json:"trail,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// NewCondition builds the condition for a conditional order. Stop types are
// armed at the stop price; trailing stops start at zero and are armed by the
// first observed price.
func NewCondition(order *model.Order, now time.Time) (*Condition, bool) {
	typ, ok := TypeFor(order.Type)
	if !ok {
		return nil, false
	}
	c := &Condition{
		OrderID:   order.ID,
		Symbol:    order.Symbol,
		Type:      typ,
		Side:      order.Side,
		CreatedAt: now,
		UpdatedAt: now,
	}
	switch typ {
	case TypeStopLoss, TypeStopLimit:
		c.TriggerPrice = order.StopPrice
	case TypeTrailingStop:
		c.TriggerPrice = decimal.Zero
		c.Trail = TrailSpec{Percent: order.TrailPercent, Amount: order.TrailAmount}
	}
	return c, true
}

// ShouldTrigger reports whether price crosses the threshold: sell-side fires
// at or below it, buy-side at or above it.
func (c *Condition) ShouldTrigger(price decimal.Decimal) bool {
	switch c.Type {
	case TypeStopLoss, TypeStopLimit:
	case TypeTrailingStop:
		if !c.armed() {
			return false
		}
	default:
		return false
	}

	switch c.Side {
	case model.OrderSideSell:
		return price.LessThanOrEqual(c.TriggerPrice)
	case model.OrderSideBuy:
		return price.GreaterThanOrEqual(c.TriggerPrice)
	default:
		return false
	}
}

// UpdateTrailingStop ratchets a trailing stop toward price. The water mark
// only moves in the favourable direction and the threshold never loosens.
// It reports whether the threshold moved; other trigger types are untouched.
func (c *Condition) UpdateTrailingStop(price decimal.Decimal) bool {
	if c.Type != TypeTrailingStop || !price.IsPositive() {
		return false
	}

	switch c.Side {
	case model.OrderSideSell:
		if c.HighWaterMark != nil && !price.GreaterThan(*c.HighWaterMark) {
			return false
		}
		level, ok := c.Trail.threshold(price, c.Side)
		if !ok {
			return false
		}
		mark := price
		c.HighWaterMark = &mark
		c.TriggerPrice = level
	case model.OrderSideBuy:
		if c.LowWaterMark != nil && !price.LessThan(*c.LowWaterMark) {
			return false
		}
		level, ok := c.Trail.threshold(price, c.Side)
		if !ok {
			return false
		}
		mark := price
		c.LowWaterMark = &mark
		c.TriggerPrice = level
	default:
		return false
	}

	c.UpdatedAt = time.Now()
	return true
}

func (c *Condition) armed() bool {
	if c.Side == model.OrderSideSell {
		return c.HighWaterMark != nil
	}
	return c.LowWaterMark != nil
}

// Snapshot returns a deep copy safe to hand outside the owning lock.
func (c *Condition) Snapshot() Condition {
	out := *c
	if c.HighWaterMark != nil {
		v := *c.HighWaterMark
		out.HighWaterMark = &v
	}
	if c.LowWaterMark != nil {
		v := *c.LowWaterMark
		out.LowWaterMark = &v
	}
	return out
}
