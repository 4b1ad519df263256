package lifecycle

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"go.uber.org/zap"
)

// OrderValidator checks an order before the manager starts tracking it.
type OrderValidator interface {
	ValidateOrder(ctx context.Context, order *model.Order) error
	Name() string
}

// BasicOrderValidator performs basic order validation
type BasicOrderValidator struct {
	logger *zap.Logger
}

// NewBasicOrderValidator creates a new basic order validator
func NewBasicOrderValidator(logger *zap.Logger) *BasicOrderValidator {
	return &BasicOrderValidator{
		logger: logger,
	}
}

// ValidateOrder validates basic order requirements
func (v *BasicOrderValidator) ValidateOrder(ctx context.Context, order *model.Order) error {
	if order.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	if order.Side != model.OrderSideBuy && order.Side != model.OrderSideSell {
		return fmt.Errorf("invalid order side: %s (must be BUY or SELL)", order.Side)
	}

	switch order.Type {
	case model.OrderTypeMarket, model.OrderTypeLimit,
		model.OrderTypeStopLoss, model.OrderTypeStopLimit, model.OrderTypeTrailingStop:
	default:
		return fmt.Errorf("invalid order type: %s", order.Type)
	}

	if !order.Quantity.IsPositive() {
		return fmt.Errorf("order quantity must be positive")
	}

	if (order.Type == model.OrderTypeLimit || order.Type == model.OrderTypeStopLimit) && !order.LimitPrice.IsPositive() {
		return fmt.Errorf("limit price must be positive for limit orders")
	}

	return nil
}

// Name returns the validator name
func (v *BasicOrderValidator) Name() string {
	return "basic_validator"
}

// SymbolValidator restricts intake to a configured set of symbols.
type SymbolValidator struct {
	symbols map[string]struct{}
	logger  *zap.Logger
}

// NewSymbolValidator creates a validator accepting only symbols. An empty
// list accepts everything.
func NewSymbolValidator(symbols []string, logger *zap.Logger) *SymbolValidator {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[strings.ToUpper(strings.TrimSpace(s))] = struct{}{}
	}
	return &SymbolValidator{symbols: set, logger: logger}
}

// ValidateOrder rejects orders on symbols that are not enabled.
func (v *SymbolValidator) ValidateOrder(ctx context.Context, order *model.Order) error {
	if len(v.symbols) == 0 {
		return nil
	}
	if _, ok := v.symbols[strings.ToUpper(order.Symbol)]; !ok {
		v.logger.Debug("Symbol not enabled", zap.String("symbol", order.Symbol))
		return fmt.Errorf("symbol %s is not enabled", order.Symbol)
	}
	return nil
}

// Name returns the validator name
func (v *SymbolValidator) Name() string {
	return "symbol_validator"
}
