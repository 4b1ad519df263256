package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/config"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/execution"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/lifecycle"
	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	apperrors "github.com/Aidin1998/pincex_orderexec/pkg/errors"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Engine is the part of the execution engine the HTTP surface drives.
type Engine interface {
	ValidateOrder(order *model.Order) error
	AddOrder(order *model.Order) error
	IsRunning() bool
	Status() execution.EngineStatus
	MonitoredOrders() map[string][]execution.MonitoredOrder
}

// Lifecycle is the part of the lifecycle manager the HTTP surface drives.
type Lifecycle interface {
	CreateOrder(ctx context.Context, order *model.Order) (*lifecycle.OrderState, error)
	CancelOrder(ctx context.Context, orderID, reason, triggeredBy string) (*lifecycle.OrderState, error)
	RejectOrder(ctx context.Context, orderID, reason, triggeredBy string) (*lifecycle.OrderState, error)
	UpdateFillDetails(ctx context.Context, orderID string, quantity, price, commission decimal.Decimal) (*lifecycle.OrderState, error)
	GetOrderState(orderID string) (*lifecycle.OrderState, bool)
	GetActiveOrders() []*lifecycle.OrderState
	GetOrdersByStatus(status model.OrderStatus) []*lifecycle.OrderState
	GetOrdersBySymbol(symbol string) []*lifecycle.OrderState
	Metrics() *lifecycle.LifecycleMetrics
}

// Store is the order storage the HTTP surface reads and updates.
type Store interface {
	model.Repository
	ListOrdersBySymbol(ctx context.Context, symbol string, limit int) ([]*model.Order, error)
}

// HealthCheck probes one dependency; a nil error means healthy.
type HealthCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check HealthCheck
}

// Server represents the HTTP server
type Server struct {
	logger      *zap.Logger
	cfg         config.ServerConfig
	serviceName string
	engine      Engine
	lifecycle   Lifecycle
	repo        Store
	validate    *validator.Validate
	now         func() time.Time
	checks      []namedCheck
}

// NewServer creates a new HTTP server
func NewServer(
	logger *zap.Logger,
	cfg config.ServerConfig,
	serviceName string,
	engine Engine,
	lc Lifecycle,
	repo Store,
) *Server {
	return &Server{
		logger:      logger,
		cfg:         cfg,
		serviceName: serviceName,
		engine:      engine,
		lifecycle:   lc,
		repo:        repo,
		validate:    newRequestValidator(),
		now:         time.Now,
	}
}

// AddHealthCheck registers a dependency probe reported by /health. Call it
// before Router.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.checks = append(s.checks, namedCheck{name: name, check: check})
}

// Router creates a new HTTP router
func (s *Server) Router() *gin.Engine {
	router := gin.New()

	router.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.logger, true))
	router.Use(otelgin.Middleware(s.serviceName))
	router.Use(cors.New(s.corsConfig()))

	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		engine := v1.Group("/engine")
		{
			engine.GET("/status", s.handleEngineStatus)
			engine.GET("/orders", s.handleMonitoredOrders)
		}

		v1.GET("/lifecycle/metrics", s.handleLifecycleMetrics)
		v1.GET("/symbols/:symbol/orders", s.handleSymbolOrderHistory)

		orders := v1.Group("/orders")
		{
			orders.POST("", s.handlePlaceOrder)
			orders.GET("", s.handleListOrders)
			orders.GET("/:id", s.handleGetOrder)
			orders.POST("/:id/fills", s.handleReportFill)
			orders.DELETE("/:id", s.handleCancelOrder)
		}
	}

	return router
}

// HTTPServer wraps Router in an http.Server configured from cfg.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.Router(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowMethods = []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions}
	for _, origin := range s.cfg.AllowedOrigins {
		if origin == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(s.cfg.AllowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = s.cfg.AllowedOrigins
	return cfg
}

// writeError maps domain errors onto problem details.
func (s *Server) writeError(c *gin.Context, err error) {
	instance := c.Request.URL.Path
	var problem *apperrors.ProblemDetails

	switch {
	case errors.As(err, &problem):
	case errors.Is(err, lifecycle.ErrDuplicateOrder):
		problem = apperrors.NewConflictError(err.Error(), instance)
	case errors.Is(err, lifecycle.ErrInvalidOrder),
		errors.Is(err, lifecycle.ErrMissingOrderID),
		errors.Is(err, execution.ErrMissingTriggerField),
		errors.Is(err, execution.ErrUnsupportedOrderType):
		problem = apperrors.NewInvalidOrderError(err.Error(), instance)
	case errors.Is(err, lifecycle.ErrInvalidFill):
		problem = apperrors.NewValidationError(err.Error(), instance)
	case errors.Is(err, lifecycle.ErrUnknownOrder), errors.Is(err, model.ErrOrderNotFound):
		problem = apperrors.NewOrderNotFoundError(err.Error(), instance)
	case errors.Is(err, lifecycle.ErrNotCancellable), errors.Is(err, lifecycle.ErrInvalidTransition):
		problem = apperrors.NewInvalidTransitionError(err.Error(), instance)
	case errors.Is(err, model.ErrTooManyConditions):
		problem = apperrors.NewServiceUnavailableError(err.Error(), instance)
	default:
		s.logger.Error("Request failed", zap.String("path", instance), zap.Error(err))
		problem = apperrors.NewInternalError("internal error", instance)
	}

	s.writeProblem(c, problem)
}

func (s *Server) writeProblem(c *gin.Context, problem *apperrors.ProblemDetails) {
	if sc := trace.SpanFromContext(c.Request.Context()).SpanContext(); sc.HasTraceID() {
		problem.WithTraceID(sc.TraceID().String())
	}
	body, err := json.Marshal(problem)
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(problem.Status, "application/problem+json", body)
	c.Abort()
}
