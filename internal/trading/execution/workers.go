// =============================
// Execution Engine Worker Functions
// =============================
// Monitoring loop, per-symbol sweep and triggered-order processing.

package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/trigger"
	"github.com/Aidin1998/pincex_orderexec/pkg/metrics"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/Aidin1998/pincex_orderexec/internal/trading/execution")

// monitoringLoop sweeps on every tick until ctx is cancelled. A failed sweep
// backs off before the next tick is considered.
func (e *Engine) monitoringLoop(ctx context.Context) {
	defer e.workerWg.Done()

	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	e.logger.Debug("Starting monitoring loop")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.safeSweep(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Errorw("Monitoring sweep failed", "error", err, "backoff", e.config.ErrorBackoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(e.config.ErrorBackoff):
				}
			}
		}
	}
}

func (e *Engine) safeSweep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return e.Sweep(ctx)
}

// Sweep evaluates every monitored symbol once against a fresh quote. A quote
// failure skips that symbol only.
func (e *Engine) Sweep(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "execution.sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.SweepLatency.Observe(time.Since(start).Seconds())
		atomic.StoreInt64(&e.lastSweepNs, e.now().UnixNano())
	}()

	for _, symbol := range e.symbols() {
		if err := ctx.Err(); err != nil {
			return err
		}

		price, err := e.fetchQuote(ctx, symbol)
		if err != nil {
			metrics.QuoteFailures.WithLabelValues(symbol).Inc()
			span.AddEvent("quote_unavailable", trace.WithAttributes(attribute.String("symbol", symbol)))
			e.logger.Warnw("Skipping symbol, quote unavailable", "symbol", symbol, "error", err)
			continue
		}

		for _, cond := range e.evaluate(symbol, price) {
			e.processTriggered(ctx, cond, price)
		}
	}
	return nil
}

func (e *Engine) fetchQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	qctx, cancel := context.WithTimeout(ctx, e.config.QuoteTimeout)
	defer cancel()

	price, err := e.quotes.GetQuote(qctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive price %s", model.ErrQuoteUnavailable, price)
	}
	return price, nil
}

// evaluate ratchets trailing stops and removes every condition that fires.
// Removal happens under the lock so each condition fires at most once.
func (e *Engine) evaluate(symbol string, price decimal.Decimal) []*trigger.Condition {
	e.mu.Lock()
	defer e.mu.Unlock()

	bucket := e.conditions[symbol]
	if len(bucket) == 0 {
		return nil
	}

	var fired []*trigger.Condition
	kept := bucket[:0]
	for _, c := range bucket {
		if c.UpdateTrailingStop(price) {
			e.logger.Debugw("Trailing stop moved",
				"order_id", c.OrderID,
				"trigger_price", c.TriggerPrice,
				"price", price)
		}
		if c.ShouldTrigger(price) {
			fired = append(fired, c)
			continue
		}
		kept = append(kept, c)
	}

	if len(kept) == 0 {
		delete(e.conditions, symbol)
	} else {
		e.conditions[symbol] = kept
	}
	if len(fired) > 0 {
		metrics.MonitoredConditions.Set(float64(e.countLocked()))
	}
	return fired
}

// processTriggered converts a fired condition, persists the new status and
// dispatches the concrete order.
func (e *Engine) processTriggered(ctx context.Context, cond *trigger.Condition, price decimal.Decimal) {
	ctx, span := tracer.Start(ctx, "execution.trigger", trace.WithAttributes(
		attribute.String("order_id", cond.OrderID),
		attribute.String("symbol", cond.Symbol),
		attribute.String("trigger_type", string(cond.Type)),
	))
	defer span.End()

	atomic.AddInt64(&e.processed, 1)

	e.logger.Infow("Executing trigger",
		"order_id", cond.OrderID,
		"symbol", cond.Symbol,
		"type", cond.Type,
		"trigger_price", cond.TriggerPrice,
		"current_price", price)

	if e.terminatedInLifecycle(cond.OrderID) {
		return
	}

	order, err := e.repo.LoadOrder(ctx, cond.OrderID)
	if err != nil {
		e.fail(ctx, "load", cond, err)
		e.requeue(cond)
		return
	}
	if order == nil {
		e.logger.Infow("Triggered order no longer exists, abandoning", "order_id", cond.OrderID)
		return
	}
	if terminatedExternally(order.Status) {
		e.logger.Infow("Triggered order already terminated, abandoning",
			"order_id", cond.OrderID,
			"status", order.Status)
		return
	}

	concrete, err := e.converter.Convert(order, price)
	if err != nil {
		e.fail(ctx, "convert", cond, err)
		e.rejectOrder(ctx, order.ID, err)
		return
	}

	now := e.now()
	ts := model.StatusTimestamps{TriggeredAt: &now, FilledAt: &now, UpdatedAt: now}
	if err := e.repo.UpdateOrderStatus(ctx, order.ID, model.OrderStatusFilled, price, ts); err != nil {
		e.fail(ctx, "store", cond, err)
		e.requeue(cond)
		return
	}

	e.reportTriggered(ctx, order.ID, price, concrete)

	if e.executor != nil {
		if err := e.executor.ExecuteOrder(ctx, concrete); err != nil {
			e.fail(ctx, "execute", cond, err)
			e.rearm(ctx, order.ID)
			e.requeue(cond)
			return
		}
	}

	atomic.AddInt64(&e.triggered, 1)
	metrics.TriggersFired.WithLabelValues(string(cond.Type)).Inc()
	e.logger.Infow("Conditional order executed",
		"order_id", order.ID,
		"concrete_order_id", concrete.ID,
		"concrete_type", concrete.Type,
		"quantity", concrete.Quantity,
		"triggering_price", price)
}

func (e *Engine) fail(ctx context.Context, stage string, cond *trigger.Condition, err error) {
	atomic.AddInt64(&e.failed, 1)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err)
		span.SetStatus(codes.Error, stage)
	}
	metrics.ExecutionFailures.WithLabelValues(stage).Inc()
	e.logger.Errorw("Failed to execute trigger",
		"stage", stage,
		"order_id", cond.OrderID,
		"symbol", cond.Symbol,
		"error", err)
}

// requeue puts a fired condition back so the next sweep retries it, unless
// the order was re-added or removed in the meantime.
func (e *Engine) requeue(cond *trigger.Condition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, bucket := range e.conditions {
		for _, c := range bucket {
			if c.OrderID == cond.OrderID {
				return
			}
		}
	}
	e.conditions[cond.Symbol] = append(e.conditions[cond.Symbol], cond)
	metrics.MonitoredConditions.Set(float64(e.countLocked()))
}

// rearm puts a stored order back to PENDING after a failed dispatch so a
// restart restores it.
func (e *Engine) rearm(ctx context.Context, orderID string) {
	ts := model.StatusTimestamps{UpdatedAt: e.now()}
	if err := e.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusPending, decimal.Zero, ts); err != nil {
		e.logger.Warnw("Failed to re-arm order after dispatch failure", "order_id", orderID, "error", err)
	}
}

// terminatedInLifecycle reports whether the lifecycle manager already holds
// orderID in a terminal state, e.g. filled by an external execution report.
func (e *Engine) terminatedInLifecycle(orderID string) bool {
	if e.lifecycle == nil {
		return false
	}
	state, ok := e.lifecycle.GetOrderState(orderID)
	if !ok || !state.IsTerminal {
		return false
	}
	e.logger.Infow("Triggered order already terminal in lifecycle, abandoning",
		"order_id", orderID,
		"status", state.Status)
	return true
}

func (e *Engine) reportTriggered(ctx context.Context, orderID string, price decimal.Decimal, concrete *model.ConcreteOrder) {
	if e.lifecycle == nil {
		return
	}
	details := map[string]interface{}{
		"triggering_price":  price.String(),
		"concrete_order_id": concrete.ID,
		"concrete_type":     string(concrete.Type),
	}
	if _, err := e.lifecycle.TransitionOrder(ctx, orderID, model.OrderStatusTriggered, lifecycle.EventTriggered, details, "execution_engine"); err != nil {
		e.logger.Debugw("Lifecycle did not record trigger", "order_id", orderID, "error", err)
	}
}

func (e *Engine) rejectOrder(ctx context.Context, orderID string, cause error) {
	if e.lifecycle == nil {
		return
	}
	if _, err := e.lifecycle.RejectOrder(ctx, orderID, cause.Error(), "execution_engine"); err != nil {
		e.logger.Debugw("Lifecycle did not record rejection", "order_id", orderID, "error", err)
	}
}

// terminatedExternally excludes FILLED since the engine itself stores FILLED
// before dispatch.
func terminatedExternally(status model.OrderStatus) bool {
	switch status {
	case model.OrderStatusCancelled, model.OrderStatusRejected, model.OrderStatusExpired:
		return true
	}
	return false
}
