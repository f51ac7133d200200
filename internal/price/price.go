package price

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"
)

const (
	REDIS_KEY_PRICE_PREFIX = "price:"
	DEFAULT_CACHE_TTL      = 30 * time.Second
)

var ErrUnsupportedCurrency = errors.New("unsupported currency")

// Source returns the USD unit value of a currency.
type Source interface {
	GetUnitPrice(ctx context.Context, currency string) (float64, error)
}

// StaticSource serves prices from an in-process table. Prices can be updated
// at runtime; lookups of unknown currencies fail.
type StaticSource struct {
	mu     sync.RWMutex
	prices map[string]float64
}

func NewStaticSource(prices map[string]float64) *StaticSource {
	table := make(map[string]float64, len(prices))
	for cur, p := range prices {
		table[strings.ToUpper(cur)] = p
	}
	return &StaticSource{prices: table}
}

// NewStaticSourceFromEnv parses METEOR_PRICES, e.g. "BTC=50000,ETH=3000".
func NewStaticSourceFromEnv() *StaticSource {
	raw := os.Getenv("METEOR_PRICES")
	if raw == "" {
		raw = "BTC=50000,ETH=3000,SOL=150"
	}
	prices := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		p, err := strconv.ParseFloat(parts[1], 64)
		if err != nil || p <= 0 {
			log.Printf("[PRICE] Skipping invalid price entry %q", pair)
			continue
		}
		prices[strings.ToUpper(parts[0])] = p
	}
	return NewStaticSource(prices)
}

func (s *StaticSource) GetUnitPrice(ctx context.Context, currency string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prices[strings.ToUpper(currency)]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, currency)
	}
	return p, nil
}

func (s *StaticSource) SetUnitPrice(currency string, p float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[strings.ToUpper(currency)] = p
}

// CachedSource layers a redis TTL cache over another source. Cache errors
// fall through to the backing source; a price lookup only fails when the
// backing source does.
type CachedSource struct {
	src    Source
	client *redis.Client
	ttl    time.Duration
}

func NewCachedSource(src Source, client *redis.Client, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DEFAULT_CACHE_TTL
	}
	return &CachedSource{src: src, client: client, ttl: ttl}
}

func (c *CachedSource) GetUnitPrice(ctx context.Context, currency string) (float64, error) {
	key := REDIS_KEY_PRICE_PREFIX + strings.ToUpper(currency)
	if cached, err := c.client.Get(ctx, key).Float64(); err == nil {
		return cached, nil
	}

	p, err := c.src.GetUnitPrice(ctx, currency)
	if err != nil {
		return 0, err
	}
	if err := c.client.Set(ctx, key, p, c.ttl).Err(); err != nil {
		log.Printf("[PRICE] Cache write failed for %s: %v", currency, err)
	}
	return p, nil
}
