package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Cache is the subset of the Redis client the order cache uses.
type Cache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// GormRepository implements model.Repository using GORM, with an optional
// Redis read-through cache for single-order lookups.
type GormRepository struct {
	db       *gorm.DB
	logger   *zap.Logger
	cache    Cache
	cacheTTL time.Duration
}

// Option configures a GormRepository.
type Option func(*GormRepository)

// WithCache enables the Redis order cache.
func WithCache(client Cache, ttl time.Duration) Option {
	return func(r *GormRepository) {
		if client == nil {
			return
		}
		r.cache = client
		r.cacheTTL = ttl
	}
}

// NewGormRepository creates a new GORM-based repository
func NewGormRepository(db *gorm.DB, logger *zap.Logger, opts ...Option) *GormRepository {
	r := &GormRepository{
		db:       db,
		logger:   logger,
		cacheTTL: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Migrate creates or updates the orders table.
func (r *GormRepository) Migrate() error {
	if err := r.db.AutoMigrate(&model.Order{}); err != nil {
		return fmt.Errorf("failed to migrate orders table: %w", err)
	}
	return nil
}

// CreateOrder creates a new order in the database
func (r *GormRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	now := time.Now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	if order.Status == "" {
		order.Status = model.OrderStatusPending
	}

	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		r.logger.Error("Failed to create order", zap.Error(err), zap.String("order_id", order.ID))
		return fmt.Errorf("failed to create order: %w", err)
	}

	r.logger.Debug("Order created successfully", zap.String("order_id", order.ID))
	return nil
}

// LoadOrder retrieves an order by its ID. A missing order is (nil, nil).
func (r *GormRepository) LoadOrder(ctx context.Context, orderID string) (*model.Order, error) {
	if order, ok := r.getCached(ctx, orderID); ok {
		return order, nil
	}

	var order model.Order
	err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}

	r.setCached(ctx, &order)
	return &order, nil
}

// LoadUnterminatedOrders returns every order whose status is not terminal.
func (r *GormRepository) LoadUnterminatedOrders(ctx context.Context) ([]*model.Order, error) {
	var orders []*model.Order
	if err := r.db.WithContext(ctx).
		Where("status NOT IN ?", model.TerminalStatuses).
		Order("created_at ASC").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to load unterminated orders: %w", err)
	}
	return orders, nil
}

// ListOrdersBySymbol returns up to limit orders on symbol, newest first.
func (r *GormRepository) ListOrdersBySymbol(ctx context.Context, symbol string, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	if err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("failed to list orders for %s: %w", symbol, err)
	}
	return orders, nil
}

// UpdateOrderStatus persists a status change with trigger metadata.
func (r *GormRepository) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus, triggerPrice decimal.Decimal, ts model.StatusTimestamps) error {
	updatedAt := ts.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": updatedAt,
	}
	if !triggerPrice.IsZero() {
		updates["trigger_price"] = triggerPrice
	}
	if ts.TriggeredAt != nil {
		updates["triggered_at"] = *ts.TriggeredAt
	}
	if ts.FilledAt != nil {
		updates["filled_at"] = *ts.FilledAt
	}

	result := r.db.WithContext(ctx).Model(&model.Order{}).Where("id = ?", orderID).Updates(updates)
	if result.Error != nil {
		r.logger.Error("Failed to update order status", zap.Error(result.Error), zap.String("order_id", orderID))
		return fmt.Errorf("failed to update order %s: %w", orderID, result.Error)
	}
	r.invalidate(ctx, orderID)
	if result.RowsAffected == 0 {
		return fmt.Errorf("update order %s: %w", orderID, model.ErrOrderNotFound)
	}
	return nil
}

func cacheKey(orderID string) string {
	return fmt.Sprintf("order:%s", orderID)
}

func (r *GormRepository) getCached(ctx context.Context, orderID string) (*model.Order, bool) {
	if r.cache == nil {
		return nil, false
	}
	cached, err := r.cache.Get(ctx, cacheKey(orderID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Debug("Order cache read failed", zap.String("order_id", orderID), zap.Error(err))
		}
		return nil, false
	}
	var order model.Order
	if err := json.Unmarshal([]byte(cached), &order); err != nil {
		return nil, false
	}
	return &order, true
}

func (r *GormRepository) setCached(ctx context.Context, order *model.Order) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(order)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(order.ID), data, r.cacheTTL).Err(); err != nil {
		r.logger.Debug("Order cache write failed", zap.String("order_id", order.ID), zap.Error(err))
	}
}

func (r *GormRepository) invalidate(ctx context.Context, orderID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(orderID)).Err(); err != nil {
		r.logger.Debug("Order cache invalidation failed", zap.String("order_id", orderID), zap.Error(err))
	}
}
