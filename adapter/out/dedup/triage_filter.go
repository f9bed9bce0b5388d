// Package dedup provides a Redis-backed fingerprint filter used as a fast
// path in front of the database idempotency check.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a fingerprint is remembered. Mail providers
	// redeliver within hours, not days, so 48h gives ample headroom.
	DefaultTTL = 48 * time.Hour

	// keyPrefix namespaces filter keys in Redis.
	keyPrefix = "triage:fp:"
)

// Filter tracks which message fingerprints have already been ingested.
// It implements out.DedupFilter.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a fingerprint filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{rdb: rdb, ttl: DefaultTTL}
}

// NewFilterWithTTL creates a filter with a custom retention window.
func NewFilterWithTTL(rdb *redis.Client, ttl time.Duration) *Filter {
	return &Filter{rdb: rdb, ttl: ttl}
}

// Seen atomically records the fingerprint and reports whether it was
// already present. SETNX returns true when the key was newly set, so a
// false result means the fingerprint was seen before.
func (f *Filter) Seen(ctx context.Context, fingerprint string) (bool, error) {
	key := keyPrefix + fingerprint

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return !set, nil
}
