package api

import (
	"net/http"
	"strconv"

	"github.com/adnanbaig/browserfarm/internal/fault"
	"github.com/adnanbaig/browserfarm/internal/ratelimit"
)

// RateLimitMiddleware creates a middleware that enforces rate limits
func RateLimitMiddleware(limiter *ratelimit.Limiter, requestsPerHour int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientID(r)
			if clientID == "" {
				// Anonymous callers share one bucket
				clientID = "anonymous"
			}

			if !limiter.Allow(clientID) {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
				w.Header().Set("X-RateLimit-Remaining", "0")
				writeError(w, fault.New(fault.KindCapacityExceeded,
					"rate limit exceeded: maximum %d requests per hour per client", requestsPerHour))
				return
			}

			tokens := limiter.Tokens(clientID)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(requestsPerHour))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(tokens)))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts the client identity from the request
func getClientID(r *http.Request) string {
	if clientID := r.Header.Get("X-Client-ID"); clientID != "" {
		return clientID
	}
	return r.URL.Query().Get("clientId")
}
