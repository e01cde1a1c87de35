package pricing

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/session-engine/internal/model"
)

// RedisPrices reads live last prices published by a market-data feed under
// keys "price:{symbol}:{secType}:{exchange}".
type RedisPrices struct {
	rdb *redis.Client
}

// NewRedisPrices creates a Redis-backed live price source.
func NewRedisPrices(rdb *redis.Client) *RedisPrices {
	return &RedisPrices{rdb: rdb}
}

// PriceKey returns the Redis key holding the last price of c.
func PriceKey(c model.Contract) string {
	return fmt.Sprintf("price:%s", c)
}

// LastAvailablePrices fetches all prices in one MGET. Missing or malformed
// values map to NaN.
func (p *RedisPrices) LastAvailablePrices(ctx context.Context, contracts []model.Contract) (map[model.Contract]float64, error) {
	out := make(map[model.Contract]float64, len(contracts))
	if len(contracts) == 0 {
		return out, nil
	}

	keys := make([]string, len(contracts))
	for i, c := range contracts {
		keys[i] = PriceKey(c)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis prices: %w", err)
	}

	for i, c := range contracts {
		out[c] = math.NaN()
		s, ok := vals[i].(string)
		if !ok {
			continue
		}
		if v, err := strconv.ParseFloat(s, 64); err == nil {
			out[c] = v
		}
	}
	return out, nil
}

// Publish stores the last price of c.
func (p *RedisPrices) Publish(ctx context.Context, c model.Contract, price float64) error {
	return p.rdb.Set(ctx, PriceKey(c), strconv.FormatFloat(price, 'f', -1, 64), 0).Err()
}
