package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kiranshivaraju/tracerelay/internal/api/response"
	"github.com/kiranshivaraju/tracerelay/internal/cache"
)

const (
	defaultRequestsPerMinute = 600
	window                   = 60 * time.Second
)

// RateLimit provides fixed-window rate limiting per SDK key via Redis.
type RateLimit struct {
	cache          cache.Cache
	requestsPerMin int
	keyHeader      string
	validKey       func(string) bool
}

// RateLimitOption configures a RateLimit.
type RateLimitOption func(*RateLimit)

// OnlyKeys restricts counting to keys accepted by valid. Other keys pass through uncounted
// so arbitrary header values cannot create Redis counters.
func OnlyKeys(valid func(string) bool) RateLimitOption {
	return func(rl *RateLimit) { rl.validKey = valid }
}

// NewRateLimit creates a new RateLimit middleware that counts requests per value of keyHeader.
func NewRateLimit(c cache.Cache, requestsPerMin int, keyHeader string, opts ...RateLimitOption) *RateLimit {
	if requestsPerMin <= 0 {
		requestsPerMin = defaultRequestsPerMinute
	}
	rl := &RateLimit{cache: c, requestsPerMin: requestsPerMin, keyHeader: keyHeader}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Limit applies rate limiting. Requests without a usable key pass through and are
// rejected downstream.
func (rl *RateLimit) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(rl.keyHeader)
		if key == "" || (rl.validKey != nil && !rl.validKey(key)) {
			next.ServeHTTP(w, r)
			return
		}

		count, err := rl.cache.IncrWithExpiry(r.Context(), cache.RateLimitKey(key), window)
		if err != nil {
			// On Redis error, allow the request (fail open)
			next.ServeHTTP(w, r)
			return
		}

		remaining := rl.requestsPerMin - int(count)
		if remaining < 0 {
			remaining = 0
		}
		resetTime := time.Now().Add(window).Unix()

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.requestsPerMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", resetTime))

		if count > int64(rl.requestsPerMin) {
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			response.Error(w, http.StatusTooManyRequests,
				response.CodeRateLimited, "Too many requests", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}
