/*
Package logsampler decides which hot-path log events get written. Decoders
can hit the same malformed schema millions of times; samplers keep one line
per key and window and report how many were suppressed in between.
*/
package logsampler

import (
	"sync"
	"time"
)

// BackoffConfig defines the parameters for the exponential backoff strategy.
type BackoffConfig struct {
	InitialInterval time.Duration // Quiet window after the first emitted log.
	MaxInterval     time.Duration // Upper bound for the quiet window.
	Factor          float64       // Window growth after each emitted log (e.g. 2.0).
	// ResetInterval is the inactivity after which a key starts over at
	// InitialInterval and its pending summary is reported. Zero disables it.
	ResetInterval time.Duration
}

// DefaultBackoff is the configuration used by the etw package loggers.
var DefaultBackoff = BackoffConfig{
	InitialInterval: 1 * time.Second,
	MaxInterval:     1 * time.Hour,
	Factor:          1.2,
	ResetInterval:   10 * time.Minute,
}

// SummaryReporter receives the suppressed count of keys that went quiet,
// keeping samplers independent of any logging library.
type SummaryReporter interface {
	LogSummary(key string, suppressedCount int64)
}

// Sampler decides if a log event should be written.
type Sampler interface {
	// ShouldLog reports whether the event for key should be written and, if
	// so, how many events for that key were suppressed since the last one.
	ShouldLog(key string, err error) (bool, int64)
	// Flush reports a summary of any suppressed logs.
	Flush()
	// Close flushes one last time and releases the sampler.
	Close()
}

// clock is replaced in tests.
type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type nopReporter struct{}

func (nopReporter) LogSummary(string, int64) {}

// cleanupEvery is the number of ShouldLog calls between stale key sweeps.
// Must be a power of two.
const cleanupEvery = 64

// keyState is the sampling state of one key, linked by recency of use.
type keyState struct {
	key        string
	suppressed int64
	lastLog    int64
	window     int64

	newer, older *keyState
}

// EventDrivenSampler applies per-key exponential backoff without background
// goroutines. Stale keys are swept while handling regular calls, walking a
// recency list from the least recently used key.
type EventDrivenSampler struct {
	config   BackoffConfig
	reporter SummaryReporter
	clock    clock

	mu     sync.Mutex
	keys   map[string]*keyState
	ops    uint64
	newest *keyState
	oldest *keyState
}

// NewEventDrivenSampler creates a sampler. A nil reporter drops summaries.
func NewEventDrivenSampler(config BackoffConfig, reporter SummaryReporter) *EventDrivenSampler {
	if reporter == nil {
		reporter = nopReporter{}
	}
	if config.Factor < 1 {
		config.Factor = 1
	}
	return &EventDrivenSampler{
		config:   config,
		reporter: reporter,
		clock:    systemClock{},
		keys:     make(map[string]*keyState, 64),
	}
}

// ShouldLog determines if an event should be logged based on its key's backoff.
func (s *EventDrivenSampler) ShouldLog(key string, err error) (bool, int64) {
	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ops++
	if s.config.ResetInterval > 0 && s.ops&(cleanupEvery-1) == 0 {
		s.sweep(now)
	}

	st, ok := s.keys[key]
	if !ok {
		st = &keyState{key: key, lastLog: now, window: int64(s.config.InitialInterval)}
		s.keys[key] = st
		s.pushNewest(st)
		return true, 0
	}
	s.touch(st)

	elapsed := now - st.lastLog
	if s.config.ResetInterval > 0 && elapsed > int64(s.config.ResetInterval) {
		suppressed := st.suppressed
		st.suppressed = 0
		st.window = int64(s.config.InitialInterval)
		st.lastLog = now
		return true, suppressed
	}

	if elapsed > st.window {
		suppressed := st.suppressed
		st.suppressed = 0
		st.lastLog = now
		st.window = s.nextWindow(st.window)
		return true, suppressed
	}

	st.suppressed++
	return false, 0
}

func (s *EventDrivenSampler) nextWindow(w int64) int64 {
	next := int64(float64(w) * s.config.Factor)
	if limit := int64(s.config.MaxInterval); limit > 0 && next > limit {
		next = limit
	}
	return next
}

// sweep reports and drops keys idle for longer than ResetInterval.
// Called with mu held.
func (s *EventDrivenSampler) sweep(now int64) {
	threshold := now - int64(s.config.ResetInterval)
	for s.oldest != nil && s.oldest.lastLog < threshold {
		st := s.oldest
		if st.suppressed > 0 {
			s.reporter.LogSummary(st.key, st.suppressed)
		}
		delete(s.keys, st.key)
		s.unlink(st)
	}
}

func (s *EventDrivenSampler) unlink(st *keyState) {
	if st.newer != nil {
		st.newer.older = st.older
	} else {
		s.newest = st.older
	}
	if st.older != nil {
		st.older.newer = st.newer
	} else {
		s.oldest = st.newer
	}
	st.newer, st.older = nil, nil
}

func (s *EventDrivenSampler) pushNewest(st *keyState) {
	st.older = s.newest
	st.newer = nil
	if s.newest != nil {
		s.newest.newer = st
	}
	s.newest = st
	if s.oldest == nil {
		s.oldest = st
	}
}

func (s *EventDrivenSampler) touch(st *keyState) {
	if s.newest == st {
		return
	}
	s.unlink(st)
	s.pushNewest(st)
}

// Len returns the number of tracked keys.
func (s *EventDrivenSampler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Flush reports every pending suppressed count and clears all state.
func (s *EventDrivenSampler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, st := range s.keys {
		if st.suppressed > 0 {
			s.reporter.LogSummary(key, st.suppressed)
		}
	}
	clear(s.keys)
	s.newest, s.oldest = nil, nil
	s.ops = 0
}

// Close is Flush; the sampler stays usable.
func (s *EventDrivenSampler) Close() {
	s.Flush()
}

// SetClock replaces the time source, for tests.
func (s *EventDrivenSampler) SetClock(c clock) {
	s.clock = c
}
