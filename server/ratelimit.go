package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a client may make another request. retryAfter
// is a hint for the Retry-After header when the answer is no.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ok bool, retryAfter time.Duration)
}

// rateLimiterConfig holds rate limiting configuration
type rateLimiterConfig struct {
	enabled       bool
	backend       string        // memory | redis
	requestsPerIP int           // Max requests per IP per window
	window        time.Duration // Time window for rate limiting
}

// loadRateLimiterConfig reads rate limiter configuration from environment
func loadRateLimiterConfig() *rateLimiterConfig {
	cfg := &rateLimiterConfig{
		enabled:       os.Getenv("RATE_LIMIT_ENABLED") != "0", // Enabled by default
		backend:       strings.ToLower(os.Getenv("RATE_LIMIT_BACKEND")),
		requestsPerIP: 10,
		window:        time.Minute,
	}
	if n := getEnvInt("RATE_LIMIT_REQUESTS_PER_IP", cfg.requestsPerIP); n > 0 {
		cfg.requestsPerIP = n
	}
	if n := getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60); n > 0 {
		cfg.window = time.Duration(n) * time.Second
	}
	if cfg.backend == "" {
		cfg.backend = "memory"
	}
	return cfg
}

// ipRateLimiter keeps a token bucket per client IP. The bucket refills
// requestsPerIP tokens per window and holds at most requestsPerIP.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      *rateLimiterConfig
	now      func() time.Time
}

type visitor struct {
	lim     *rate.Limiter
	lastHit time.Time
}

// newIPRateLimiter creates a new rate limiter
func newIPRateLimiter(ctx context.Context, cfg *rateLimiterConfig) *ipRateLimiter {
	limiter := &ipRateLimiter{
		visitors: make(map[string]*visitor),
		cfg:      cfg,
		now:      time.Now,
	}

	// Start cleanup goroutine to remove stale entries
	go limiter.cleanupLoop(ctx)

	return limiter
}

// cleanupLoop periodically removes stale visitor entries
func (rl *ipRateLimiter) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

// cleanup drops visitors idle for two windows; their buckets are full again by then.
func (rl *ipRateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for ip, v := range rl.visitors {
		if now.Sub(v.lastHit) > rl.cfg.window*2 {
			delete(rl.visitors, ip)
		}
	}
}

func (rl *ipRateLimiter) Allow(_ context.Context, ip string) (bool, time.Duration) {
	if !rl.cfg.enabled {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[ip]
	if !ok {
		every := rate.Every(rl.cfg.window / time.Duration(rl.cfg.requestsPerIP))
		v = &visitor{lim: rate.NewLimiter(every, rl.cfg.requestsPerIP)}
		rl.visitors[ip] = v
	}
	v.lastHit = now

	res := v.lim.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// redisRateLimiter is a sliding window over a sorted set per client, shared by
// every replica.
type redisRateLimiter struct {
	rdb *redis.Client
	cfg *rateLimiterConfig
	now func() time.Time
}

func newRedisRateLimiter(rdb *redis.Client, cfg *rateLimiterConfig) *redisRateLimiter {
	return &redisRateLimiter{rdb: rdb, cfg: cfg, now: time.Now}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, ip string) (bool, time.Duration) {
	if !rl.cfg.enabled {
		return true, 0
	}
	now := rl.now()
	key := "ratelimit:sw:" + ip
	oldest := now.Add(-rl.cfg.window).UnixNano()

	_ = rl.rdb.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(oldest, 10)).Err()

	count, err := rl.rdb.ZCard(ctx, key).Result()
	if err != nil {
		// fail open: a Redis outage must not lock admins out
		slog.Warn("rate limit backend error", slog.Any("err", err), slog.String("component", "http"))
		return true, 0
	}
	if count >= int64(rl.cfg.requestsPerIP) {
		retry := rl.cfg.window
		if first, err := rl.rdb.ZRangeWithScores(ctx, key, 0, 0).Result(); err == nil && len(first) > 0 {
			retry = time.Duration(int64(first[0].Score)+rl.cfg.window.Nanoseconds()-now.UnixNano()) * time.Nanosecond
			if retry < 0 {
				retry = 0
			}
		}
		return false, retry
	}

	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString())
	pipe := rl.rdb.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, rl.cfg.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("rate limit backend error", slog.Any("err", err), slog.String("component", "http"))
	}
	return true, 0
}

// rateLimitMiddleware applies rate limiting to sensitive endpoints
func rateLimitMiddleware(next http.Handler, limiter RateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, retry := limiter.Allow(r.Context(), ip)
		if !ok {
			secs := int(retry.Round(time.Second) / time.Second)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			http.Error(w, "Too Many Requests - rate limit exceeded", http.StatusTooManyRequests)
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}
