/*
Package throttle limits how often a caller may hit write endpoints.

PURPOSE:
  Replaces process-wide request maps with an injected store. The HTTP layer
  asks Allow(ctx, key) before running a write; the key is the actor ID.

IMPLEMENTATIONS:
  Memory: token bucket per key (golang.org/x/time/rate). Idle keys are
          evicted after a TTL by Sweep, driven by Run.
  Redis:  fixed window per key shared by every server process
          (INCR, PEXPIRE on the first hit, PTTL when over the limit).

SEE ALSO:
  - api/server.go: throttle middleware
*/
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// RetryAfter is set when Allowed is false.
	RetryAfter time.Duration
}

type Throttle interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// =============================================================================
// IN-MEMORY
// =============================================================================

type Memory struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	now      func() time.Time
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var _ Throttle = (*Memory)(nil)

// NewMemory allows rps requests per second per key with the given burst.
// Keys idle for longer than ttl are dropped by Sweep.
func NewMemory(rps float64, burst int, ttl time.Duration) *Memory {
	return &Memory{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Allow(ctx context.Context, key string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	v, ok := m.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(m.rate, m.burst)}
		m.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false, RetryAfter: m.ttl}, nil
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}

// Sweep drops keys idle for longer than the TTL and returns how many were
// dropped.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	dropped := 0
	for key, v := range m.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(m.visitors, key)
			dropped++
		}
	}
	return dropped
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visitors)
}

// Run sweeps every interval until ctx is cancelled.
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
