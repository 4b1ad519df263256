package server

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	apperrors "github.com/Aidin1998/pincex_orderexec/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	apiActor = "order_api"

	healthCheckTimeout = 2 * time.Second
	defaultHistorySize = 50
	maxHistorySize     = 500
)

type placeOrderRequest struct {
	ID           string          `json:"id" validate:"omitempty,max=64"`
	UserID       string          `json:"user_id" validate:"omitempty,max=64"`
	Symbol       string          `json:"symbol" validate:"required,max=32"`
	Side         model.OrderSide `json:"side" validate:"required,oneof=BUY SELL"`
	Type         model.OrderType `json:"type" validate:"required,oneof=MARKET LIMIT STOP_LOSS STOP_LIMIT TRAILING_STOP"`
	Quantity     decimal.Decimal `json:"quantity" validate:"gt=0"`
	LimitPrice   decimal.Decimal `json:"limit_price" validate:"gte=0"`
	StopPrice    decimal.Decimal `json:"stop_price" validate:"gte=0"`
	TrailPercent decimal.Decimal `json:"trail_percent" validate:"gte=0,lt=100"`
	TrailAmount  decimal.Decimal `json:"trail_amount" validate:"gte=0"`
}

type fillRequest struct {
	Quantity   decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price      decimal.Decimal `json:"price" validate:"gte=0"`
	Commission decimal.Decimal `json:"commission" validate:"gte=0"`
}

func newRequestValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

func (r *placeOrderRequest) toOrder() *model.Order {
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &model.Order{
		ID:           id,
		UserID:       r.UserID,
		Symbol:       strings.ToUpper(strings.TrimSpace(r.Symbol)),
		Side:         r.Side,
		Type:         r.Type,
		Quantity:     r.Quantity,
		LimitPrice:   r.LimitPrice,
		StopPrice:    r.StopPrice,
		TrailPercent: r.TrailPercent,
		TrailAmount:  r.TrailAmount,
		Status:       model.OrderStatusPending,
	}
}

// handleHealth reports "degraded" with 503 when any registered dependency
// check fails.
func (s *Server) handleHealth(c *gin.Context) {
	status, code := "ok", http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for _, nc := range s.checks {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		err := nc.check(ctx)
		cancel()
		if err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
			checks[nc.name] = err.Error()
			s.logger.Warn("Health check failed", zap.String("check", nc.name), zap.Error(err))
			continue
		}
		checks[nc.name] = "ok"
	}
	c.JSON(code, gin.H{
		"status":         status,
		"engine_running": s.engine.IsRunning(),
		"checks":         checks,
	})
}

func (s *Server) handleEngineStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) handleMonitoredOrders(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.MonitoredOrders())
}

func (s *Server) handleLifecycleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.lifecycle.Metrics())
}

// handlePlaceOrder registers an order with the lifecycle manager, persists it
// and, for conditional types, starts monitoring its trigger.
func (s *Server) handlePlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeProblem(c, validationProblem(err, c.Request.URL.Path))
		return
	}

	ctx := c.Request.Context()
	order := req.toOrder()

	if order.Type.IsConditional() {
		if err := s.engine.ValidateOrder(order); err != nil {
			s.writeError(c, err)
			return
		}
	}

	state, err := s.lifecycle.CreateOrder(ctx, order)
	if err != nil {
		s.writeError(c, err)
		return
	}

	if err := s.repo.CreateOrder(ctx, order); err != nil {
		s.abandon(ctx, order.ID, err, false)
		s.writeError(c, err)
		return
	}

	if order.Type.IsConditional() {
		if err := s.engine.AddOrder(order); err != nil {
			s.abandon(ctx, order.ID, err, true)
			s.writeError(c, err)
			return
		}
	}

	s.logger.Info("Order accepted",
		zap.String("order_id", order.ID),
		zap.String("symbol", order.Symbol),
		zap.String("type", string(order.Type)),
	)
	c.JSON(http.StatusCreated, state)
}

// abandon rejects an order that was tracked but could not be fully accepted.
func (s *Server) abandon(ctx context.Context, orderID string, cause error, persisted bool) {
	if _, err := s.lifecycle.RejectOrder(ctx, orderID, cause.Error(), apiActor); err != nil {
		s.logger.Warn("Failed to reject abandoned order", zap.String("order_id", orderID), zap.Error(err))
	}
	if !persisted {
		return
	}
	ts := model.StatusTimestamps{UpdatedAt: s.now()}
	if err := s.repo.UpdateOrderStatus(ctx, orderID, model.OrderStatusRejected, decimal.Zero, ts); err != nil {
		s.logger.Warn("Failed to persist rejection", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (s *Server) handleListOrders(c *gin.Context) {
	var states []*lifecycle.OrderState
	switch {
	case c.Query("symbol") != "":
		states = s.lifecycle.GetOrdersBySymbol(strings.ToUpper(c.Query("symbol")))
	case c.Query("status") != "":
		states = s.lifecycle.GetOrdersByStatus(model.OrderStatus(strings.ToUpper(c.Query("status"))))
	default:
		states = s.lifecycle.GetActiveOrders()
	}
	if states == nil {
		states = []*lifecycle.OrderState{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": states, "count": len(states)})
}

// handleGetOrder returns the tracked lifecycle state, falling back to the
// stored record for orders no longer tracked in memory.
func (s *Server) handleGetOrder(c *gin.Context) {
	id := c.Param("id")
	if state, ok := s.lifecycle.GetOrderState(id); ok {
		c.JSON(http.StatusOK, state)
		return
	}

	order, err := s.repo.LoadOrder(c.Request.Context(), id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if order == nil {
		s.writeProblem(c, apperrors.NewOrderNotFoundError("order "+id+" not found", c.Request.URL.Path))
		return
	}
	c.JSON(http.StatusOK, order)
}

// handleReportFill applies an execution report from an external venue.
func (s *Server) handleReportFill(c *gin.Context) {
	var req fillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.writeProblem(c, apperrors.NewValidationError(err.Error(), c.Request.URL.Path))
		return
	}
	if err := s.validate.Struct(&req); err != nil {
		s.writeProblem(c, validationProblem(err, c.Request.URL.Path))
		return
	}

	ctx := c.Request.Context()
	id := c.Param("id")
	state, err := s.lifecycle.UpdateFillDetails(ctx, id, req.Quantity, req.Price, req.Commission)
	if err != nil {
		s.writeError(c, err)
		return
	}

	now := s.now()
	ts := model.StatusTimestamps{UpdatedAt: now}
	if state.Status == model.OrderStatusFilled {
		ts.FilledAt = &now
	}
	if err := s.repo.UpdateOrderStatus(ctx, id, state.Status, decimal.Zero, ts); err != nil && !errors.Is(err, model.ErrOrderNotFound) {
		s.logger.Warn("Failed to persist fill status", zap.String("order_id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, state)
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	reason := c.DefaultQuery("reason", "cancelled by request")

	state, err := s.lifecycle.CancelOrder(ctx, id, reason, apiActor)
	if err != nil {
		s.writeError(c, err)
		return
	}

	ts := model.StatusTimestamps{UpdatedAt: s.now()}
	if err := s.repo.UpdateOrderStatus(ctx, id, model.OrderStatusCancelled, decimal.Zero, ts); err != nil {
		s.logger.Warn("Failed to persist cancellation", zap.String("order_id", id), zap.Error(err))
	}
	c.JSON(http.StatusOK, state)
}

// handleSymbolOrderHistory lists stored orders on a symbol, newest first,
// including orders the lifecycle manager no longer tracks.
func (s *Server) handleSymbolOrderHistory(c *gin.Context) {
	limit := defaultHistorySize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeProblem(c, apperrors.NewValidationError("limit must be a positive integer", c.Request.URL.Path))
			return
		}
		limit = n
	}
	if limit > maxHistorySize {
		limit = maxHistorySize
	}

	orders, err := s.repo.ListOrdersBySymbol(c.Request.Context(), strings.ToUpper(c.Param("symbol")), limit)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []*model.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func validationProblem(err error, instance string) *apperrors.ProblemDetails {
	problem := apperrors.NewValidationError("request validation failed", instance)
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		problem.Detail = err.Error()
		return problem
	}
	out := make([]apperrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := "failed on " + fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		out = append(out, apperrors.ValidationError{
			Field:   fe.Field(),
			Message: msg,
			Code:    fe.Tag(),
		})
	}
	return problem.WithValidationErrors(out).WithExtra("error_count", strconv.Itoa(len(out)))
}
