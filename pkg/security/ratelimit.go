package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultMaxClients bounds the per-client buckets a RateLimiter keeps
	DefaultMaxClients = 10000
	// DefaultClientIdle is how long an unused client bucket survives eviction
	DefaultClientIdle = 10 * time.Minute
)

// buckets is a set of token buckets keyed by name
type buckets struct {
	mu      sync.Mutex
	entries map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newBuckets() *buckets {
	return &buckets{entries: make(map[string]*bucket), now: time.Now}
}

// get returns the bucket for key, creating it with create when absent.
// A nil create leaves missing keys unlimited.
func (b *buckets) get(key string, create func() *rate.Limiter) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok {
		if create == nil {
			return nil
		}
		e = &bucket{limiter: create()}
		b.entries[key] = e
	}
	e.lastUsed = b.now()
	return e.limiter
}

func (b *buckets) set(key string, l *rate.Limiter) {
	b.mu.Lock()
	b.entries[key] = &bucket{limiter: l, lastUsed: b.now()}
	b.mu.Unlock()
}

// evictIdle drops buckets unused for longer than idle
func (b *buckets) evictIdle(idle time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	cutoff := b.now().Add(-idle)
	n := 0
	for key, e := range b.entries {
		if e.lastUsed.Before(cutoff) {
			delete(b.entries, key)
			n++
		}
	}
	return n
}

func (b *buckets) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// RateLimiter applies one token bucket per client plus a global bucket
// sized for ten clients at the per-client rate.
type RateLimiter struct {
	global  *rate.Limiter
	clients *buckets

	rps        rate.Limit
	burst      int
	maxClients int
}

func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		global:     rate.NewLimiter(rate.Limit(requestsPerSecond*10), burst*10),
		clients:    newBuckets(),
		rps:        rate.Limit(requestsPerSecond),
		burst:      burst,
		maxClients: DefaultMaxClients,
	}
}

func (rl *RateLimiter) client(id string) *rate.Limiter {
	if rl.clients.len() >= rl.maxClients {
		rl.clients.evictIdle(DefaultClientIdle)
	}
	return rl.clients.get(id, func() *rate.Limiter { return rate.NewLimiter(rl.rps, rl.burst) })
}

// Allow reports whether clientID may make a request now. A request refused
// by the client bucket does not spend global budget.
func (rl *RateLimiter) Allow(clientID string) bool {
	return rl.client(clientID).Allow() && rl.global.Allow()
}

// Wait blocks until clientID may make a request or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context, clientID string) error {
	if err := rl.client(clientID).Wait(ctx); err != nil {
		return fmt.Errorf("client rate limit: %w", err)
	}
	if err := rl.global.Wait(ctx); err != nil {
		return fmt.Errorf("global rate limit: %w", err)
	}
	return nil
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int { return rl.clients.len() }

// EvictIdle forgets clients idle for longer than idle and returns how many
// were dropped.
func (rl *RateLimiter) EvictIdle(idle time.Duration) int { return rl.clients.evictIdle(idle) }

// ToolRateLimiter limits individual tools. Tools without a configured limit
// run freely.
type ToolRateLimiter struct {
	tools *buckets
}

func NewToolRateLimiter() *ToolRateLimiter {
	return &ToolRateLimiter{tools: newBuckets()}
}

// SetToolLimit sets or replaces the limit for a tool
func (trl *ToolRateLimiter) SetToolLimit(toolName string, requestsPerSecond float64, burst int) {
	trl.tools.set(toolName, rate.NewLimiter(rate.Limit(requestsPerSecond), burst))
}

func (trl *ToolRateLimiter) Allow(toolName string) bool {
	l := trl.tools.get(toolName, nil)
	return l == nil || l.Allow()
}

func (trl *ToolRateLimiter) Wait(ctx context.Context, toolName string) error {
	if l := trl.tools.get(toolName, nil); l != nil {
		return l.Wait(ctx)
	}
	return nil
}
