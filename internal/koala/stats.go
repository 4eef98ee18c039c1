package koala

import (
	"fmt"
	"sync/atomic"
)

// Stats holds the filter counters. Each counter is only incremented by the
// stage that produces the matching outcome.
type Stats struct {
	total     atomic.Uint64 // classify
	dropped   atomic.Uint64 // classify
	ignored   atomic.Uint64 // classify
	forwarded atomic.Uint64 // forward
	decoded   atomic.Uint64 // decode
}

type StatsSnapshot struct {
	Total     uint64
	Dropped   uint64
	Forwarded uint64
	Decoded   uint64
	Ignored   uint64
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Total:     s.total.Load(),
		Dropped:   s.dropped.Load(),
		Forwarded: s.forwarded.Load(),
		Decoded:   s.decoded.Load(),
		Ignored:   s.ignored.Load(),
	}
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("%d dropped | %d forwarded | %d decoded | %d ignored | total %d",
		s.Dropped, s.Forwarded, s.Decoded, s.Ignored, s.Total)
}
