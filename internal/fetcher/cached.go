package fetcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"pm-embed/internal/cache"
)

const marketKeyPrefix = "gamma:market:"

// CachedMarkets fronts a MarketFetcher with a short-lived cache. Only found
// markets are stored; misses and errors always reach upstream.
type CachedMarkets struct {
	next   MarketFetcher
	store  cache.Store
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedMarkets wraps next. A nil store disables caching.
func NewCachedMarkets(next MarketFetcher, store cache.Store, ttl time.Duration, logger zerolog.Logger) *CachedMarkets {
	return &CachedMarkets{
		next:   next,
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "market_cache").Logger(),
	}
}

func (c *CachedMarkets) FetchMarket(ctx context.Context, slug string) (Market, error) {
	if c.store == nil {
		return c.next.FetchMarket(ctx, slug)
	}

	key := marketKeyPrefix + slug
	if raw, found, err := c.store.Get(ctx, key); err != nil {
		c.logger.Warn().Err(err).Str("slug", slug).Msg("cache get failed")
	} else if found {
		if market, err := DecodeMarket(raw); err == nil {
			return market, nil
		}
	}

	market, err := c.next.FetchMarket(ctx, slug)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(market); err == nil {
		if err := c.store.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("slug", slug).Msg("cache set failed")
		}
	}
	return market, nil
}

var _ MarketFetcher = (*CachedMarkets)(nil)
