package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"weavequery/internal/traceapi"
)

// limitedProcedures are the paths subject to per-client limits. Probes and
// /metrics are never limited.
var limitedProcedures = map[string]bool{
	traceapi.ReadBatchProcedure:  true,
	traceapi.CallsQueryProcedure: true,
	traceapi.CallsStatsProcedure: true,
}

type bucket struct {
	*rate.Limiter
	seen time.Time
}

// clientLimiters hands out one token bucket per client.
type clientLimiters struct {
	rate  rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newClientLimiters(r rate.Limit, burst int) *clientLimiters {
	return &clientLimiters{rate: r, burst: burst, buckets: make(map[string]*bucket)}
}

func (c *clientLimiters) get(key string, now time.Time) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[key]
	if !ok {
		b = &bucket{Limiter: rate.NewLimiter(c.rate, c.burst)}
		c.buckets[key] = b
	}
	b.seen = now
	return b.Limiter
}

// evict drops buckets last used before cutoff and reports how many remain.
func (c *clientLimiters) evict(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, b := range c.buckets {
		if b.seen.Before(cutoff) {
			delete(c.buckets, key)
		}
	}
	return len(c.buckets)
}

// runEviction evicts buckets idle for longer than idle, every interval,
// until ctx is done.
func (c *clientLimiters) runEviction(ctx context.Context, wg *sync.WaitGroup, interval, idle time.Duration) {
	wg.Go(func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				c.evict(now.Add(-idle))
			}
		}
	})
}

// clientKey is the client id header when present, else the remote IP.
func clientKey(r *http.Request) string {
	if id := r.Header.Get(traceapi.ClientIDHeader); id != "" {
		return "id:" + id
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	return "ip:" + ip
}

// errorBody is the JSON shape of a connect error, so connect clients
// decode a 429 as resource_exhausted.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// limitTraceProcedures rejects trace procedure calls beyond the caller's
// budget with 429 and a Retry-After header.
func limitTraceProcedures(c *clientLimiters) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limitedProcedures[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			l := c.get(clientKey(r), time.Now())
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", retryAfter(l.Limit()))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorBody{
				Code:    "resource_exhausted",
				Message: "rate limit exceeded",
			})
		})
	}
}

// retryAfter is the whole number of seconds one token takes to refill, at
// least 1.
func retryAfter(lim rate.Limit) string {
	secs := 1
	if lim > 0 && lim < 1 {
		secs = int(1/float64(lim) + 0.5)
	}
	return strconv.Itoa(secs)
}
