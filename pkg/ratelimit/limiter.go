package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter answers whether one more action is allowed for a key right now.
// Keys are caller-chosen, e.g. "reveal:<user-id>".
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Memory is a per-key token-bucket limiter. It is an explicitly constructed,
// explicitly owned object: the janitor goroutine that evicts idle buckets runs
// only between NewMemory and Close, never as an import side effect.
type Memory struct {
	mu       sync.Mutex
	buckets  map[string]*memoryBucket
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	stopOnce sync.Once
	stop     chan struct{}
}

type memoryBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemory builds a limiter allowing `limit` actions per `window` with burst
// `burst`, and starts the idle-bucket janitor.
func NewMemory(limit int, window time.Duration, burst int) *Memory {
	if burst < 1 {
		burst = limit
	}
	m := &Memory{
		buckets: make(map[string]*memoryBucket),
		limit:   rate.Limit(float64(limit) / window.Seconds()),
		burst:   burst,
		idleTTL: 2 * window,
		stop:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

func (m *Memory) Allow(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = &memoryBucket{limiter: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = time.Now()
	m.mu.Unlock()
	return b.limiter.Allow(), nil
}

// Close stops the janitor. Safe to call more than once.
func (m *Memory) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Memory) janitor() {
	ticker := time.NewTicker(m.idleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-m.idleTTL)
			m.mu.Lock()
			for key, b := range m.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(m.buckets, key)
				}
			}
			m.mu.Unlock()
		}
	}
}
