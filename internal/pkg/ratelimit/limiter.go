package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pixelgen/pixelgen/internal/pkg/cache"
)

const keyPrefix = "ratelimit:"

// Result describes the outcome of a single limit check
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when rejected
}

// Limiter is a distributed sliding-window log limiter backed by a Redis
// sorted set per identifier. All window maintenance for one check runs in
// a single pipeline so concurrent callers cannot race past the limit.
type Limiter struct {
	name   string
	max    int
	window time.Duration
	client *redis.Client // nil means use the shared cache client
}

// NewLimiter creates a named limiter allowing max requests per window
func NewLimiter(name string, max int, window time.Duration) *Limiter {
	return &Limiter{name: name, max: max, window: window}
}

// NewLimiterWithClient creates a limiter bound to an explicit Redis client (tests)
func NewLimiterWithClient(name string, max int, window time.Duration, client *redis.Client) *Limiter {
	return &Limiter{name: name, max: max, window: window, client: client}
}

// Name returns the limiter's instance name
func (l *Limiter) Name() string { return l.name }

// Window returns the limiter's trailing window length
func (l *Limiter) Window() time.Duration { return l.window }

func (l *Limiter) redisClient() *redis.Client {
	if l.client != nil {
		return l.client
	}
	return cache.GetClient()
}

func (l *Limiter) key(identifier string) string {
	return fmt.Sprintf("%s%s:%s", keyPrefix, l.name, identifier)
}

// Check evaluates one request against the sliding window. Entries older
// than the window are pruned, the request is tentatively recorded, and the
// recorded entry is withdrawn again if the count exceeded the limit — so
// the observable behavior matches "reject without adding an entry" while
// concurrent checks still count each other.
//
// If the shared store is unreachable the limiter fails open: the request
// is allowed and the outage is logged, never surfaced to the caller.
func (l *Limiter) Check(ctx context.Context, identifier string) Result {
	now := time.Now()
	key := l.key(identifier)
	windowStart := now.Add(-l.window)
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.New().String()[:8])

	pipe := l.redisClient().TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Warnf("[RateLimit] %s: store unreachable, failing open: %v", l.name, err)
		return Result{Allowed: true, Limit: l.max, Remaining: l.max, ResetAt: now.Add(l.window)}
	}

	count := int(countCmd.Val())
	resetAt := now.Add(l.window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMilli(int64(oldest[0].Score)).Add(l.window)
	}

	if count > l.max {
		// Withdraw our tentative entry so rejected requests do not occupy
		// the window. Best effort; an orphan ages out with the window.
		if err := l.redisClient().ZRem(ctx, key, member).Err(); err != nil {
			log.Warnf("[RateLimit] %s: failed to withdraw rejected entry: %v", l.name, err)
		}
		return Result{
			Allowed:    false,
			Limit:      l.max,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: int(l.window.Seconds()),
		}
	}

	remaining := l.max - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: true, Limit: l.max, Remaining: remaining, ResetAt: resetAt}
}

// Stricter returns the result with fewer remaining requests; used to pick
// which limiter's numbers go into the response headers when several apply.
func Stricter(a, b Result) Result {
	if !a.Allowed {
		return a
	}
	if !b.Allowed {
		return b
	}
	if a.Remaining <= b.Remaining {
		return a
	}
	return b
}
