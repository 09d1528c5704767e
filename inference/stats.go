package inference

import (
	"time"

	"go.uber.org/atomic"
)

// Stats tracks how many inferences ran and how long they took.
type Stats struct {
	count atomic.Int64
	total atomic.Duration
}

func (s *Stats) observe(d time.Duration) {
	s.count.Inc()
	s.total.Add(d)
}

// Count returns the number of completed engine executions.
func (s *Stats) Count() int64 {
	return s.count.Load()
}

// Total returns the time spent in engine executions.
func (s *Stats) Total() time.Duration {
	return s.total.Load()
}

// Average returns the mean execution time, or zero before the first one.
func (s *Stats) Average() time.Duration {
	n := s.count.Load()
	if n == 0 {
		return 0
	}
	return s.total.Load() / time.Duration(n)
}

// Reset clears all counters.
func (s *Stats) Reset() {
	s.count.Store(0)
	s.total.Store(0)
}
