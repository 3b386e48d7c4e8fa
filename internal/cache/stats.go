package cache

import "sync/atomic"

// Stats aggregates cache effectiveness counters. All increments are atomic
// and never taken under tier I/O locks. One instance is injected into the
// layered cache and read by the health endpoint.
type Stats struct {
	total  atomic.Int64
	misses atomic.Int64
	hits   map[string]*atomic.Int64
}

// NewStats prepares per-tier hit counters for the given tier names.
func NewStats(tiers ...string) *Stats {
	hits := make(map[string]*atomic.Int64, len(tiers))
	for _, tier := range tiers {
		hits[tier] = &atomic.Int64{}
	}
	return &Stats{hits: hits}
}

// RecordHit notes a read served by the named tier.
func (s *Stats) RecordHit(tier string) {
	s.total.Add(1)
	if counter, ok := s.hits[tier]; ok {
		counter.Add(1)
	}
}

// RecordMiss notes a read no tier could serve.
func (s *Stats) RecordMiss() {
	s.total.Add(1)
	s.misses.Add(1)
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TotalRequests int64            `json:"totalRequests"`
	Hits          map[string]int64 `json:"hits"`
	Misses        int64            `json:"misses"`
	Entries       map[string]int64 `json:"entries,omitempty"`
}

// Snapshot returns the current counter values. Entries is left for the
// caller to fill from live tier counts.
func (s *Stats) Snapshot() Snapshot {
	hits := make(map[string]int64, len(s.hits))
	for tier, counter := range s.hits {
		hits[tier] = counter.Load()
	}
	return Snapshot{
		TotalRequests: s.total.Load(),
		Hits:          hits,
		Misses:        s.misses.Load(),
	}
}
