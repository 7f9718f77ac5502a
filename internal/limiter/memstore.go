package limiter

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process limiter backend for tests and deployments
// without a shared database.
type MemoryStore struct {
	mu     sync.Mutex
	events map[string][]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]time.Time)}
}

func (s *MemoryStore) Take(ctx context.Context, key string, now time.Time, rule Rule) (int, int, bool, time.Time, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	windowStart := now.Add(-rule.Window)
	kept := s.events[key][:0]
	for _, ts := range s.events[key] {
		if !ts.Before(windowStart) {
			kept = append(kept, ts)
		}
	}
	s.events[key] = kept

	windowCount := len(kept)
	burstCount := 0
	if rule.Burst > 0 && rule.BurstWindow > 0 {
		burstStart := now.Add(-rule.BurstWindow)
		for _, ts := range kept {
			if !ts.Before(burstStart) {
				burstCount++
			}
		}
	}
	var oldest time.Time
	if len(kept) > 0 {
		oldest = kept[0]
	}

	accepted := windowCount < rule.Limit && (rule.Burst <= 0 || burstCount < rule.Burst)
	if accepted {
		s.events[key] = append(s.events[key], now)
	}
	return windowCount, burstCount, accepted, oldest, nil
}

var _ Store = (*MemoryStore)(nil)
