package api

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"adgmanager/internal/audit"
	"adgmanager/internal/auth"

	"github.com/sirupsen/logrus"
)

const bearerPrefix = "Bearer "

// RequireToken rejects requests that do not carry the agent's bearer token.
// Browsers cannot set headers on websocket upgrades, so a token query
// parameter is accepted too.
func RequireToken(tm *auth.TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := ""
			if h := r.Header.Get("Authorization"); h != "" {
				if !strings.HasPrefix(h, bearerPrefix) {
					unauthorized(w, r, "Invalid Authorization format")
					return
				}
				token = strings.TrimPrefix(h, bearerPrefix)
			} else {
				token = r.URL.Query().Get("token")
			}

			if token == "" {
				unauthorized(w, r, "Missing Authorization header")
				return
			}
			if err := tm.ValidateToken(token); err != nil {
				unauthorized(w, r, "Invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	audit.Log(audit.EventAuthFailure, "warning", "API request rejected", map[string]interface{}{
		"path":   r.URL.Path,
		"remote": r.RemoteAddr,
		"reason": msg,
	})
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, msg, http.StatusUnauthorized)
}

// RateLimiter allows limit requests per window per client address
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

// Allow records a request from client and reports whether it is within limit
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.requests[client][:0]
	for _, t := range rl.requests[client] {
		if now.Sub(t) < rl.window {
			recent = append(recent, t)
		}
	}

	if len(recent) >= rl.limit {
		rl.requests[client] = recent
		return false
	}
	rl.requests[client] = append(recent, now)
	return true
}

// Middleware answers 429 once a client exceeds the limit
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := r.RemoteAddr
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			client = host
		}
		if !rl.Allow(client) {
			logrus.WithField("client", client).Warn("Rate limit exceeded")
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
