// Package oracle provides price feed adapters for the issuance engine.
//
// A feed reports the unit-of-account price of one whole collateral token as
// a signed integer with 8 fractional digits. Freshness enforcement lives in
// the adapter: a feed must fail rather than serve a stale round. Sign and
// zero checks are the valuation layer's job — adapters return the raw price.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrFeedNotFound is returned when no price exists for a feed ID.
	ErrFeedNotFound = errors.New("oracle: price feed not found")

	// ErrStalePrice is returned when the latest round is older than the
	// adapter's configured maximum age.
	ErrStalePrice = errors.New("oracle: price is stale")
)

// Feed is the price source the valuation engine depends on.
type Feed interface {
	// LatestPrice returns the most recent price for feedID as a signed
	// 8-digit fixed-point integer, together with the round's timestamp.
	LatestPrice(ctx context.Context, feedID string) (*big.Int, time.Time, error)
}

// StaticFeed is an in-memory feed with settable prices. Used for tests and
// for development without a live oracle.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[string]*big.Int
	times  map[string]time.Time
}

// NewStaticFeed creates an empty static feed.
func NewStaticFeed() *StaticFeed {
	return &StaticFeed{
		prices: make(map[string]*big.Int),
		times:  make(map[string]time.Time),
	}
}

// Set stores a price for feedID, stamped with the current time.
func (f *StaticFeed) Set(feedID string, price *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[feedID] = new(big.Int).Set(price)
	f.times[feedID] = time.Now().UTC()
}

func (f *StaticFeed) LatestPrice(_ context.Context, feedID string) (*big.Int, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	p, ok := f.prices[feedID]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	return new(big.Int).Set(p), f.times[feedID], nil
}

// RedisFeed reads prices published to Redis by an external oracle relay.
// Each feed is a hash at "price:{feedID}" with fields "value" (decimal
// integer string, 8-digit fixed point) and "updated_at" (unix seconds).
// Rounds older than maxAge are rejected with ErrStalePrice.
type RedisFeed struct {
	rdb    *redis.Client
	maxAge time.Duration
}

// NewRedisFeed creates a Redis-backed feed with the given freshness window.
func NewRedisFeed(rdb *redis.Client, maxAge time.Duration) *RedisFeed {
	return &RedisFeed{rdb: rdb, maxAge: maxAge}
}

func priceKey(feedID string) string { return fmt.Sprintf("price:%s", feedID) }

func (f *RedisFeed) LatestPrice(ctx context.Context, feedID string) (*big.Int, time.Time, error) {
	fields, err := f.rdb.HGetAll(ctx, priceKey(feedID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("oracle: redis read for %s: %w", feedID, err)
	}
	if len(fields) == 0 {
		return nil, time.Time{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}

	price, ok := new(big.Int).SetString(fields["value"], 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("oracle: malformed price for %s: %q", feedID, fields["value"])
	}

	var unix int64
	if _, err := fmt.Sscanf(fields["updated_at"], "%d", &unix); err != nil {
		return nil, time.Time{}, fmt.Errorf("oracle: malformed timestamp for %s: %q", feedID, fields["updated_at"])
	}
	updatedAt := time.Unix(unix, 0).UTC()

	if f.maxAge > 0 && time.Since(updatedAt) > f.maxAge {
		return nil, updatedAt, fmt.Errorf("%w: %s last updated %s", ErrStalePrice, feedID, updatedAt.Format(time.RFC3339))
	}
	return price, updatedAt, nil
}
