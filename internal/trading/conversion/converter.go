// Package conversion turns triggered conditional orders into concrete
// market or limit orders.
package conversion

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnsupportedType = errors.New("order type cannot be converted")
	ErrMissingField    = errors.New("missing required field")
)

// Converter converts STOP_LOSS, STOP_LIMIT and TRAILING_STOP orders.
type Converter struct {
	validate *validator.Validate
	now      func() time.Time
}

// NewConverter creates a converter with decimal-aware struct validation.
func NewConverter() *Converter {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})

	return &Converter{validate: v, now: time.Now}
}

func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f
	}
	return nil
}

// CanConvert reports whether order is one of the convertible conditional types.
func (c *Converter) CanConvert(order *model.Order) bool {
	return order != nil && order.Type.IsConditional()
}

// Validate checks that order carries every field its conversion needs.
func (c *Converter) Validate(order *model.Order) error {
	if order == nil {
		return fmt.Errorf("%w: order", ErrMissingField)
	}
	if !c.CanConvert(order) {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, order.Type)
	}
	if err := c.validate.Struct(order); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return fmt.Errorf("%w: %s (%s)", ErrMissingField, fieldErrs[0].Field(), fieldErrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrMissingField, err)
	}

	switch order.Type {
	case model.OrderTypeStopLoss:
		if !order.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop_price", ErrMissingField)
		}
	case model.OrderTypeStopLimit:
		if !order.StopPrice.IsPositive() {
			return fmt.Errorf("%w: stop_price", ErrMissingField)
		}
		if !order.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit_price", ErrMissingField)
		}
	case model.OrderTypeTrailingStop:
		if !order.TrailPercent.IsPositive() && !order.TrailAmount.IsPositive() {
			return fmt.Errorf("%w: trail_percent or trail_amount", ErrMissingField)
		}
	}
	return nil
}

// Convert produces the concrete order for a triggered conditional order.
func (c *Converter) Convert(order *model.Order, triggeringPrice decimal.Decimal) (*model.ConcreteOrder, error) {
	if err := c.Validate(order); err != nil {
		return nil, err
	}

	switch order.Type {
	case model.OrderTypeStopLoss:
		return c.convertStopLoss(order, triggeringPrice), nil
	case model.OrderTypeStopLimit:
		return c.convertStopLimit(order, triggeringPrice), nil
	case model.OrderTypeTrailingStop:
		return c.convertTrailingStop(order, triggeringPrice), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, order.Type)
	}
}

func (c *Converter) convertStopLoss(order *model.Order, price decimal.Decimal) *model.ConcreteOrder {
	return c.concrete(order, model.OrderTypeMarket, decimal.Zero, price)
}

func (c *Converter) convertStopLimit(order *model.Order, price decimal.Decimal) *model.ConcreteOrder {
	return c.concrete(order, model.OrderTypeLimit, order.LimitPrice, price)
}

func (c *Converter) convertTrailingStop(order *model.Order, price decimal.Decimal) *model.ConcreteOrder {
	return c.concrete(order, model.OrderTypeMarket, decimal.Zero, price)
}

func (c *Converter) concrete(order *model.Order, typ model.OrderType, limit, price decimal.Decimal) *model.ConcreteOrder {
	return &model.ConcreteOrder{
		ID:              uuid.New().String(),
		ParentOrderID:   order.ID,
		Symbol:          order.Symbol,
		Side:            order.Side,
		Type:            typ,
		Quantity:        order.Quantity,
		LimitPrice:      limit,
		TriggeringPrice: price,
		CreatedAt:       c.now(),
	}
}
