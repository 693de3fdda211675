package server

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ha1tch/otkg/pkg/metrics"
	"github.com/juju/ratelimit"
)

// RateLimiter keeps one token bucket per client address
type RateLimiter struct {
	rate     float64
	capacity int64
	clients  map[string]*ratelimit.Bucket
	mu       sync.RWMutex
}

// NewRateLimiter creates a limiter refilling rate tokens per second up to capacity
func NewRateLimiter(rate float64, capacity int64) *RateLimiter {
	if rate <= 0 {
		rate = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &RateLimiter{
		rate:     rate,
		capacity: capacity,
		clients:  make(map[string]*ratelimit.Bucket),
	}
}

func (rl *RateLimiter) bucket(client string) *ratelimit.Bucket {
	rl.mu.RLock()
	bucket, exists := rl.clients[client]
	rl.mu.RUnlock()

	if !exists {
		rl.mu.Lock()
		if bucket, exists = rl.clients[client]; !exists {
			bucket = ratelimit.NewBucketWithRate(rl.rate, rl.capacity)
			rl.clients[client] = bucket
		}
		rl.mu.Unlock()
	}
	return bucket
}

// Sweep forgets clients whose bucket has refilled
func (rl *RateLimiter) Sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, bucket := range rl.clients {
		if bucket.Available() == bucket.Capacity() {
			delete(rl.clients, client)
		}
	}
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.clients)
}

// sweepEvery runs Sweep until done is closed
func (rl *RateLimiter) sweepEvery(interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep()
			case <-done:
				return
			}
		}
	}()
}

// Middleware charges one token per request. Health and metrics probes are free.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		client, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			client = r.RemoteAddr
		}
		bucket := rl.bucket(client)

		w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(rl.capacity, 10))
		if bucket.TakeAvailable(1) < 1 {
			metrics.RateLimitedTotal.Inc()
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "1")
			writeErrorJSON(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
			return
		}
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(bucket.Available(), 10))

		next.ServeHTTP(w, r)
	})
}
