// Package marketdata provides quote sources for the execution engine.
package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Aidin1998/pincex_orderexec/internal/trading/model"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// StaticQuoteSource serves prices held in memory. Useful for paper trading
// and as a fixed fallback.
type StaticQuoteSource struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticQuoteSource parses prices keyed by symbol.
func NewStaticQuoteSource(prices map[string]string) (*StaticQuoteSource, error) {
	s := &StaticQuoteSource{prices: make(map[string]decimal.Decimal, len(prices))}
	for symbol, raw := range prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid static price for %s: %w", symbol, err)
		}
		s.prices[normalize(symbol)] = price
	}
	return s, nil
}

// SetPrice replaces the price for symbol.
func (s *StaticQuoteSource) SetPrice(symbol string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[normalize(symbol)] = price
}

// GetQuote returns the configured price for symbol.
func (s *StaticQuoteSource) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	price, ok := s.prices[normalize(symbol)]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrQuoteUnavailable, symbol)
	}
	return price, nil
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisQuoteSource reads last-trade prices written by a market data feed
// under "<prefix><SYMBOL>".
type RedisQuoteSource struct {
	client stringGetter
	prefix string
}

// NewRedisQuoteSource creates a Redis-backed quote source.
func NewRedisQuoteSource(client redis.Cmdable, prefix string) *RedisQuoteSource {
	return &RedisQuoteSource{client: client, prefix: prefix}
}

// GetQuote fetches and parses the latest price for symbol.
func (r *RedisQuoteSource) GetQuote(ctx context.Context, symbol string) (decimal.Decimal, error) {
	raw, err := r.client.Get(ctx, r.key(symbol)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrQuoteUnavailable, symbol)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("redis quote %s: %w", symbol, err)
	}
	price, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: unparsable price %q", model.ErrQuoteUnavailable, symbol, raw)
	}
	return price, nil
}

func (r *RedisQuoteSource) key(symbol string) string {
	return r.prefix + normalize(symbol)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
