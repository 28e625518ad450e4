package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
)

// bucketCacheSize bounds the number of live (identity, category) buckets.
// Eviction only forgets identities idle long enough to fall off the cache,
// which errs permissive, never restrictive.
const bucketCacheSize = 4096

// Quota is the admission budget for one category x tier pair.
type Quota struct {
	Limit  int
	Window time.Duration
}

// Decision is the outcome of one admission check, with everything the
// caller needs to render rate-limit response headers.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	ResetAt    int64 // epoch seconds when the current window ends
	Category   string
	Tier       string
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, the
// granularity of a Retry-After header.
func (d Decision) RetryAfterSeconds() int64 {
	if d.RetryAfter <= 0 {
		return 0
	}

	secs := int64(d.RetryAfter / time.Second)
	if d.RetryAfter%time.Second != 0 {
		secs++
	}

	return secs
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter is the tiered fixed-window rate limiter. One instance serves the
// whole process; buckets are created lazily per (identity, category).
type Limiter struct {
	mu           sync.Mutex
	quotas       map[string]map[string]Quota // category -> tier -> quota
	defaultQuota Quota
	buckets      *lru.Cache[string, *bucket]
	clk          clock.Clock
}

// NewLimiter builds a limiter from the category x tier quota table. The
// fallback quota applies to unknown categories or tiers.
func NewLimiter(clk clock.Clock, quotas map[string]map[string]Quota, fallback Quota) (*Limiter, error) {
	cache, err := lru.New[string, *bucket](bucketCacheSize)
	if err != nil {
		return nil, err
	}

	return &Limiter{
		quotas:       quotas,
		defaultQuota: fallback,
		buckets:      cache,
		clk:          clk,
	}, nil
}

// Admit increments the identity's counter for the category and decides
// admission. If the fixed window has expired, the count and window start
// are reset atomically before the check.
func (l *Limiter) Admit(identity, category, tier string) Decision {
	quota := l.lookup(category, tier)

	decision := Decision{Category: category, Tier: tier}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clk.Now()
	key := identity + "|" + category

	b, ok := l.buckets.Get(key)
	if !ok {
		b = &bucket{windowStart: now}
		l.buckets.Add(key, b)
	}

	windowEnd := b.windowStart.Add(quota.Window)
	if !now.Before(windowEnd) {
		b.windowStart = now
		b.count = 0
		windowEnd = now.Add(quota.Window)
	}

	decision.ResetAt = windowEnd.Unix()

	if b.count >= quota.Limit {
		decision.RetryAfter = windowEnd.Sub(now)
		return decision
	}

	b.count++
	decision.Allowed = true
	decision.Remaining = quota.Limit - b.count

	return decision
}

func (l *Limiter) lookup(category, tier string) Quota {
	tiers, ok := l.quotas[category]
	if !ok {
		return l.defaultQuota
	}

	quota, ok := tiers[tier]
	if !ok {
		return l.defaultQuota
	}

	return quota
}
