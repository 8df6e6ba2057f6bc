package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type bucketKey struct {
	tier    string
	address string
}

type bucket struct {
	mu     sync.Mutex
	count  int
	start  time.Time
	window time.Duration
	// dead is set once the sweeper has dropped the bucket from the map.
	dead bool
}

// MemoryStore keeps buckets in process memory. The map lock only guards
// lookup; counting happens under the bucket's own lock.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	clock   clockwork.Clock
}

func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{buckets: make(map[bucketKey]*bucket), clock: clock}
}

func (s *MemoryStore) lookup(k bucketKey, window time.Duration) *bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[k]
	if !ok {
		b = &bucket{window: window}
		s.buckets[k] = b
	}
	return b
}

func (s *MemoryStore) Take(_ context.Context, tier Tier, address string) (Decision, error) {
	k := bucketKey{tier: tier.Name, address: address}
	for {
		b := s.lookup(k, tier.Window)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		now := s.clock.Now()
		if b.start.IsZero() || now.Sub(b.start) >= tier.Window {
			b.count = 0
			b.start = now
		}
		d := Decision{ResetIn: b.start.Add(tier.Window).Sub(now)}
		if b.count < tier.Max {
			b.count++
			d.Allowed = true
		}
		d.Count = b.count
		d.Remaining = tier.Max - b.count
		b.mu.Unlock()
		return d, nil
	}
}

// Sweep drops buckets whose window has elapsed and returns how many it removed.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, b := range s.buckets {
		b.mu.Lock()
		if !b.start.IsZero() && now.Sub(b.start) >= b.window {
			b.dead = true
			delete(s.buckets, k)
			removed++
		}
		b.mu.Unlock()
	}
	return removed
}

// Len returns the number of live buckets.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Run sweeps every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			s.Sweep()
		}
	}
}
