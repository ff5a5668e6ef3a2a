// Package rategate implements the shared token-bucket admission gate that
// sits in front of every classifier call.
package rategate

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Gate is a token bucket with linear refill. Acquire blocks the calling
// goroutine (never the process) until enough tokens are available. Wake
// order is FIFO-ish via the sleep loop; there are no priority tiers.
type Gate struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time

	now func() time.Time
}

func New(capacity int, refillRate float64) *Gate {
	if capacity < 1 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = 1
	}
	g := &Gate{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: refillRate,
		now:        time.Now,
	}
	g.lastRefill = g.now()
	return g
}

// refillLocked applies elapsed-time refill. Caller holds g.mu.
func (g *Gate) refillLocked() {
	now := g.now()
	elapsed := now.Sub(g.lastRefill).Seconds()
	if elapsed > 0 {
		g.tokens += elapsed * g.refillRate
		if g.tokens > g.capacity {
			g.tokens = g.capacity
		}
	}
	g.lastRefill = now
}

// Acquire takes cost tokens, sleeping outside the lock while waiting so
// other goroutines can still refill and acquire.
func (g *Gate) Acquire(ctx context.Context, cost int) error {
	if cost < 1 {
		cost = 1
	}
	if float64(cost) > g.capacity {
		return fmt.Errorf("rategate: cost %d exceeds capacity %.0f", cost, g.capacity)
	}
	need := float64(cost)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		g.mu.Lock()
		g.refillLocked()
		if g.tokens >= need {
			g.tokens -= need
			g.mu.Unlock()
			return nil
		}
		missing := need - g.tokens
		g.mu.Unlock()

		wait := time.Duration(missing / g.refillRate * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// TryAcquire takes cost tokens without blocking. Used by best-effort
// callers that prefer skipping work over queueing for it.
func (g *Gate) TryAcquire(cost int) bool {
	if cost < 1 {
		cost = 1
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refillLocked()
	if g.tokens >= float64(cost) {
		g.tokens -= float64(cost)
		return true
	}
	return false
}

// Tokens reports the currently available token count after refill.
func (g *Gate) Tokens() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refillLocked()
	return g.tokens
}
