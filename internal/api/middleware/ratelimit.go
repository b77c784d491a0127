package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimit defines limits for an endpoint pattern.
type RateLimit struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(r *http.Request) string
}

// RateLimiter implements fixed-window rate limiting backed by Redis. Limits
// apply per actor where the Identity middleware resolved one, per IP
// otherwise. A nil limiter (no Redis configured) allows everything.
type RateLimiter struct {
	client *redis.Client
	limits map[string]RateLimit
	logger zerolog.Logger
}

// NewRateLimiter creates a rate limiter covering the space lifecycle API.
// The realtime channel has its own per-actor mutation budget inside the
// coordinator; only the HTTP surface is limited here.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		client: client,
		logger: logger,
		limits: map[string]RateLimit{
			"POST /space":  {10, time.Hour, actorOrIPKey},
			"GET /spaces":  {120, time.Minute, ipKey},
			"GET /space/":  {120, time.Minute, actorOrIPKey},
			"POST /space/": {30, time.Minute, actorOrIPKey},
		},
	}
}

// ipKey returns the rate limit key based on client IP.
func ipKey(r *http.Request) string {
	return "ratelimit:ip:" + RealIP(r)
}

// actorOrIPKey keys on the resolved actor when present, the IP otherwise.
func actorOrIPKey(r *http.Request) string {
	if id := IdentityFromContext(r.Context()); id.ActorID != "" {
		return "ratelimit:actor:" + id.ActorID
	}
	return "ratelimit:ip:" + RealIP(r)
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil || rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}

		limit := rl.findLimit(r)
		if limit == nil {
			next.ServeHTTP(w, r)
			return
		}

		key := limit.KeyFunc(r)
		windowKey := key + ":" + strconv.FormatInt(time.Now().Unix()/int64(limit.Window.Seconds()), 10)

		pipe := rl.client.Pipeline()
		countCmd := pipe.Incr(r.Context(), windowKey)
		pipe.Expire(r.Context(), windowKey, limit.Window)
		if _, err := pipe.Exec(r.Context()); err != nil {
			// Redis trouble never takes the API down.
			rl.logger.Debug().Err(err).Msg("rate limit check failed")
			next.ServeHTTP(w, r)
			return
		}

		count := countCmd.Val()
		remaining := int64(limit.Requests) - count
		if remaining < 0 {
			remaining = 0
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

		if count > int64(limit.Requests) {
			rl.logger.Warn().
				Str("key", key).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			w.Header().Set("Retry-After", strconv.Itoa(int(limit.Window.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// findLimit finds the matching rate limit for a request.
func (rl *RateLimiter) findLimit(r *http.Request) *RateLimit {
	key := r.Method + " " + r.URL.Path

	var best *RateLimit
	bestLen := 0
	for pattern, limit := range rl.limits {
		if strings.HasPrefix(key, pattern) && len(pattern) > bestLen {
			l := limit
			best = &l
			bestLen = len(pattern)
		}
	}
	return best
}
