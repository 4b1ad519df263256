package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FillReporter accepts execution reports for a tracked order.
type FillReporter interface {
	UpdateFillDetails(ctx context.Context, orderID string, quantity, price, commission decimal.Decimal) (*lifecycle.OrderState, error)
}

// PaperExecutor fills every concrete order in full at its triggering price
// (market) or limit price (limit) and reports the fill against the parent.
type PaperExecutor struct {
	fills   FillReporter
	feeRate decimal.Decimal
	logger  *zap.Logger

	mu       sync.Mutex
	executed []*model.ConcreteOrder
}

// NewPaperExecutor creates a paper executor charging feeRate of notional.
func NewPaperExecutor(fills FillReporter, feeRate decimal.Decimal, logger *zap.Logger) *PaperExecutor {
	return &PaperExecutor{
		fills:   fills,
		feeRate: feeRate,
		logger:  logger,
	}
}

// ExecuteOrder simulates a full fill.
func (p *PaperExecutor) ExecuteOrder(ctx context.Context, order *model.ConcreteOrder) error {
	price := order.TriggeringPrice
	if order.Type == model.OrderTypeLimit {
		price = order.LimitPrice
	}
	if !price.IsPositive() {
		return fmt.Errorf("paper fill for %s: no usable price", order.ID)
	}
	commission := order.Quantity.Mul(price).Mul(p.feeRate)

	p.mu.Lock()
	p.executed = append(p.executed, order)
	p.mu.Unlock()

	p.logger.Info("Paper fill",
		zap.String("order_id", order.ID),
		zap.String("parent_order_id", order.ParentOrderID),
		zap.String("symbol", order.Symbol),
		zap.String("quantity", order.Quantity.String()),
		zap.String("price", price.String()),
	)

	if p.fills == nil {
		return nil
	}
	_, err := p.fills.UpdateFillDetails(ctx, order.ParentOrderID, order.Quantity, price, commission)
	if errors.Is(err, lifecycle.ErrUnknownOrder) || errors.Is(err, lifecycle.ErrInvalidTransition) {
		p.logger.Warn("Fill not recorded", zap.String("parent_order_id", order.ParentOrderID), zap.Error(err))
		return nil
	}
	return err
}

// Executed returns the orders filled so far.
func (p *PaperExecutor) Executed() []*model.ConcreteOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*model.ConcreteOrder(nil), p.executed...)
}
