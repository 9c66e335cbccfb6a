package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Ironbeetle/tcn-member-portal/pkg/monitoring"
	"github.com/Ironbeetle/tcn-member-portal/v1/utils"
)

// RateLimitStore counts requests in a sliding window per caller key.
// Allow reports whether this request fits the window and, when denied,
// how long the caller should back off.
type RateLimitStore interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// MemoryRateLimitStore keeps per-key request timestamps in memory. Used
// for tests and single-instance deployments without Redis.
type MemoryRateLimitStore struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewMemoryRateLimitStore creates an in-memory sliding-window store
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// SetClock overrides the time source, for tests
func (s *MemoryRateLimitStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Allow implements RateLimitStore
func (s *MemoryRateLimitStore) Allow(_ context.Context, key string, max int, window time.Duration) (bool, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-window)

	kept := s.hits[key][:0]
	for _, t := range s.hits[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.hits[key] = kept

	if len(kept) >= max {
		retryAfter := kept[0].Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}

	s.hits[key] = append(kept, now)
	return true, 0, nil
}

// RedisRateLimitStore implements the sliding window over a Redis sorted
// set so the cap holds across portal instances. Each hit is a set member
// scored by its unix-nano timestamp; entries older than the window are
// pruned before counting.
type RedisRateLimitStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimitStore creates a Redis-backed sliding-window store
func NewRedisRateLimitStore(client *redis.Client) *RedisRateLimitStore {
	return &RedisRateLimitStore{client: client, prefix: "ratelimit:"}
}

// Allow implements RateLimitStore. The hit is recorded in the same
// transaction that prunes and counts the window, so two concurrent
// callers each see the other's entry and cannot both slip under the cap;
// a caller that lands over the cap takes its own entry back out.
func (s *RedisRateLimitStore) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, time.Duration, error) {
	now := time.Now()
	redisKey := s.prefix + key
	cutoff := now.Add(-window).UnixNano()
	member := uuid.NewString()

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, redisKey, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: member,
	})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit window check failed: %w", err)
	}

	if countCmd.Val() <= int64(max) {
		return true, 0, nil
	}

	// Over the cap: this hit does not count against the caller's quota.
	if err := s.client.ZRem(ctx, redisKey, member).Err(); err != nil {
		return false, 0, fmt.Errorf("rate limit hit rollback failed: %w", err)
	}
	oldest, err := s.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
	retryAfter := window
	if err == nil && len(oldest) > 0 {
		retryAfter = time.Unix(0, int64(oldest[0].Score)).Add(window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
	}
	return false, retryAfter, nil
}

// RateLimitMiddleware applies a per-caller-IP sliding window to a group
// of endpoints. Batch push endpoints get a stricter cap than pulls, so
// each route group carries its own middleware instance and scope.
type RateLimitMiddleware struct {
	store  RateLimitStore
	scope  string
	max    int
	window time.Duration
}

// NewRateLimitMiddleware creates a rate limit middleware for one scope
func NewRateLimitMiddleware(store RateLimitStore, scope string, max int, window time.Duration) *RateLimitMiddleware {
	return &RateLimitMiddleware{store: store, scope: scope, max: max, window: window}
}

// Middleware wraps a handler with the sliding-window check
func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := utils.GetClientIP(r)
		key := m.scope + ":" + ip

		allowed, retryAfter, err := m.store.Allow(r.Context(), key, m.max, m.window)
		if err != nil {
			// A broken limiter store must not take the sync API down with
			// it; log and let the request through.
			slog.Error("Rate limit store unavailable", "scope", m.scope, "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			monitoring.RecordRateLimitRejection(m.scope)
			slog.Warn("Rate limit exceeded",
				"scope", m.scope,
				"ip", ip,
				"retryAfterSec", int(retryAfter.Seconds())+1)
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			utils.RespondWithError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
