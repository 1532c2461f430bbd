// Package ratelimit provides a fixed-window request limiter keyed by client
// address.
package ratelimit

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter/v2"
)

// maxTrackedClients bounds limiter memory; beyond this the least valuable
// buckets are evicted, which only ever errs towards admitting a request.
const maxTrackedClients = 10_000

// Limiter counts requests per client over a fixed window and rejects clients
// that exceed the configured allowance.
type Limiter struct {
	requests int
	window   time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets *otter.Cache[string, *counter]
}

type counter struct {
	hits atomic.Int64
}

// New creates a limiter admitting the given number of requests per client in
// each window.
func New(requests int, window time.Duration) *Limiter {
	buckets := otter.Must(&otter.Options[string, *counter]{
		MaximumSize:      maxTrackedClients,
		ExpiryCalculator: otter.ExpiryCreating[string, *counter](2 * window),
	})

	return &Limiter{
		requests: requests,
		window:   window,
		now:      time.Now,
		buckets:  buckets,
	}
}

// Allow records a hit for the client and reports whether it is within the
// allowance, along with the wait until the current window resets.
func (l *Limiter) Allow(clientID string) (bool, time.Duration) {
	now := l.now()
	index := now.UnixNano() / int64(l.window)

	// windows are part of the key, so stale buckets age out on their own
	key := clientID + "#" + strconv.FormatInt(index, 10)

	var bucket *counter
	if entry, ok := l.buckets.GetEntry(key); ok {
		bucket = entry.Value
	} else {
		l.mu.Lock()
		if entry, ok := l.buckets.GetEntry(key); ok {
			bucket = entry.Value
		} else {
			bucket = &counter{}
			l.buckets.Set(key, bucket)
		}
		l.mu.Unlock()
	}

	if bucket.hits.Add(1) <= int64(l.requests) {
		return true, 0
	}

	windowEnd := time.Unix(0, (index+1)*int64(l.window))
	return false, windowEnd.Sub(now)
}

// Middleware rejects requests from clients over their allowance with 429,
// setting Retry-After to the wait until their window resets.
func (l *Limiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, retryAfter := l.Allow(ClientID(r))
			if !ok {
				seconds := int((retryAfter + time.Second - 1) / time.Second)
				if seconds < 1 {
					seconds = 1
				}

				w.Header().Set("Retry-After", strconv.Itoa(seconds))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientID derives the rate-limit identity for a request. The first
// X-Forwarded-For hop is preferred so clients behind the ingress proxy are
// told apart; otherwise the connection's remote address is used.
func ClientID(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if trimmed := strings.TrimSpace(first); trimmed != "" {
			return trimmed
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
