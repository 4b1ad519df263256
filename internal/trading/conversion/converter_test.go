package conversion

import (
	"testing"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopOrder(typ model.OrderType) *model.Order {
	return &model.Order{
		ID:       "ord-1",
		Symbol:   "AAPL",
		Side:     model.OrderSideSell,
		Type:     typ,
		Quantity: decimal.NewFromInt(100),
	}
}

func TestCanConvert(t *testing.T) {
	c := NewConverter()
	for _, typ := range []model.OrderType{model.OrderTypeStopLoss, model.OrderTypeStopLimit, model.OrderTypeTrailingStop} {
		assert.True(t, c.CanConvert(stopOrder(typ)), typ)
	}
	for _, typ := range []model.OrderType{model.OrderTypeMarket, model.OrderTypeLimit, model.OrderType("ICEBERG")} {
		assert.False(t, c.CanConvert(stopOrder(typ)), typ)
	}
	assert.False(t, c.CanConvert(nil))
}

func TestValidate_MissingFields(t *testing.T) {
	c := NewConverter()

	o := stopOrder(model.OrderTypeStopLoss)
	assert.ErrorIs(t, c.Validate(o), ErrMissingField)
	o.StopPrice = decimal.NewFromInt(145)
	assert.NoError(t, c.Validate(o))

	o = stopOrder(model.OrderTypeStopLimit)
	o.StopPrice = decimal.NewFromInt(145)
	assert.ErrorIs(t, c.Validate(o), ErrMissingField)
	o.LimitPrice = decimal.NewFromInt(144)
	assert.NoError(t, c.Validate(o))

	o = stopOrder(model.OrderTypeTrailingStop)
	assert.ErrorIs(t, c.Validate(o), ErrMissingField)
	o.TrailAmount = decimal.NewFromInt(3)
	assert.NoError(t, c.Validate(o))

	o = stopOrder(model.OrderTypeStopLoss)
	o.StopPrice = decimal.NewFromInt(145)
	o.Quantity = decimal.Zero
	assert.ErrorIs(t, c.Validate(o), ErrMissingField)

	o = stopOrder(model.OrderTypeStopLoss)
	o.StopPrice = decimal.NewFromInt(145)
	o.Symbol = ""
	assert.ErrorIs(t, c.Validate(o), ErrMissingField)

	assert.ErrorIs(t, c.Validate(stopOrder(model.OrderTypeLimit)), ErrUnsupportedType)
}

func TestConvert_PreservesOrderFields(t *testing.T) {
	c := NewConverter()
	price := decimal.NewFromInt(144)

	o := stopOrder(model.OrderTypeStopLoss)
	o.StopPrice = decimal.NewFromInt(145)
	out, err := c.Convert(o, price)
	require.NoError(t, err)
	assert.Equal(t, model.OrderTypeMarket, out.Type)
	assert.Equal(t, "AAPL", out.Symbol)
	assert.Equal(t, model.OrderSideSell, out.Side)
	assert.True(t, out.Quantity.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "ord-1", out.ParentOrderID)
	assert.True(t, out.TriggeringPrice.Equal(price))
	assert.NotEmpty(t, out.ID)

	o = stopOrder(model.OrderTypeStopLimit)
	o.StopPrice = decimal.NewFromInt(145)
	o.LimitPrice = decimal.NewFromInt(143)
	out, err = c.Convert(o, price)
	require.NoError(t, err)
	assert.Equal(t, model.OrderTypeLimit, out.Type)
	assert.True(t, out.LimitPrice.Equal(decimal.NewFromInt(143)))

	o = stopOrder(model.OrderTypeTrailingStop)
	o.TrailPercent = decimal.NewFromInt(5)
	out, err = c.Convert(o, price)
	require.NoError(t, err)
	assert.Equal(t, model.OrderTypeMarket, out.Type)
}

func TestConvert_RejectsUnsupported(t *testing.T) {
	_, err := NewConverter().Convert(stopOrder(model.OrderTypeMarket), decimal.NewFromInt(1))
	assert.ErrorIs(t, err, ErrUnsupportedType)
}
