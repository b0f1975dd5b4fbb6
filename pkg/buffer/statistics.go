package buffer

import (
	"sync/atomic"
	"time"
)

// Statistics counts queue operations. All methods are safe for concurrent use.
type Statistics struct {
	writes    atomic.Int64
	reads     atomic.Int64
	overflows atomic.Int64
	drops     atomic.Int64
	size      atomic.Int64
	maxSize   atomic.Int64
	startTime time.Time
}

// NewStatistics creates a zeroed tracker.
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

func (s *Statistics) recordWrite()    { s.writes.Add(1) }
func (s *Statistics) recordRead()     { s.reads.Add(1) }
func (s *Statistics) recordOverflow() { s.overflows.Add(1) }
func (s *Statistics) recordDrop()     { s.drops.Add(1) }

func (s *Statistics) updateSize(size int) {
	n := int64(size)
	s.size.Store(n)
	for {
		cur := s.maxSize.Load()
		if n <= cur || s.maxSize.CompareAndSwap(cur, n) {
			return
		}
	}
}

func (s *Statistics) Writes() int64      { return s.writes.Load() }
func (s *Statistics) Reads() int64       { return s.reads.Load() }
func (s *Statistics) Overflows() int64   { return s.overflows.Load() }
func (s *Statistics) Drops() int64       { return s.drops.Load() }
func (s *Statistics) CurrentSize() int64 { return s.size.Load() }
func (s *Statistics) MaxSize() int64     { return s.maxSize.Load() }

// DropRate is the fraction of writes that were evicted or discarded.
func (s *Statistics) DropRate() float64 {
	writes := s.Writes() + s.Drops()
	if writes == 0 {
		return 0
	}
	return float64(s.Drops()) / float64(writes)
}

// Uptime is the time since the tracker was created.
func (s *Statistics) Uptime() time.Duration {
	return time.Since(s.startTime)
}
