package service

import (
	"sync"
	"time"
)

const statsRingSize = 1000

// latencyStats keeps a fixed ring of recent processing times for the health
// and stats endpoints.
type latencyStats struct {
	mu    sync.Mutex
	ring  [statsRingSize]time.Duration
	next  int
	count int
}

func (s *latencyStats) Record(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring[s.next] = d
	s.next = (s.next + 1) % statsRingSize
	if s.count < statsRingSize {
		s.count++
	}
}

// Snapshot returns the sample count and the mean over the retained window.
func (s *latencyStats) Snapshot() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count == 0 {
		return 0, 0
	}
	var total time.Duration
	for i := 0; i < s.count; i++ {
		total += s.ring[i]
	}
	return s.count, total / time.Duration(s.count)
}
