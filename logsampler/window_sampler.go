package logsampler

import (
	"sync/atomic"
	"time"
)

// WindowSampler lets the first limit events of every window through, for
// all keys together. The first event written in a window carries the number
// of events dropped since the last one written.
type WindowSampler struct {
	limit   int64
	window  int64
	now     func() int64
	start   atomic.Int64
	count   atomic.Int64
	dropped atomic.Int64
}

// NewWindowSampler creates a window sampler. A limit below 1 is treated as 1.
func NewWindowSampler(limit int, window time.Duration) *WindowSampler {
	if limit < 1 {
		limit = 1
	}
	s := &WindowSampler{
		limit:  int64(limit),
		window: int64(window),
		now:    func() int64 { return time.Now().UnixNano() },
	}
	s.start.Store(s.now())
	return s
}

// ShouldLog reports whether the window still has room.
func (s *WindowSampler) ShouldLog(key string, err error) (bool, int64) {
	now := s.now()
	start := s.start.Load()
	if now-start >= s.window && s.start.CompareAndSwap(start, now) {
		s.count.Store(0)
	}
	if s.count.Add(1) > s.limit {
		s.dropped.Add(1)
		return false, 0
	}
	return true, s.dropped.Swap(0)
}

// Dropped returns the events dropped since the last one written.
func (s *WindowSampler) Dropped() int64 { return s.dropped.Load() }

func (s *WindowSampler) Flush() {}
func (s *WindowSampler) Close() {}
