// Package phusluadapter binds logsampler samplers to phuslu/log loggers.
package phusluadapter

import (
	"strconv"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	plog "github.com/phuslu/log"

	"github.com/tekert/etwdecode/logsampler"
)

// SummaryReporter implements logsampler.SummaryReporter with a phuslu logger.
type SummaryReporter struct {
	Logger *plog.Logger
}

// LogSummary logs how many events were suppressed for key.
func (r *SummaryReporter) LogSummary(key string, suppressedCount int64) {
	r.Logger.Info().
		Str("samplerKey", key).
		Int64("suppressedCount", suppressedCount).
		Msg("log sampler summary")
}

// SampledLogger is a phuslu logger whose Sampled* methods consult a sampler.
// A nil entry means the event was dropped; phuslu entries accept calls on nil.
type SampledLogger struct {
	*plog.Logger
	Sampler logsampler.Sampler
}

// NewSampledLogger wraps baseLogger. A nil sampler logs every event.
func NewSampledLogger(baseLogger *plog.Logger, sampler logsampler.Sampler) *SampledLogger {
	return &SampledLogger{
		Logger:  baseLogger,
		Sampler: sampler,
	}
}

// errKey extends key with a hash of the error text, so distinct errors are
// sampled separately.
func errKey(key string, err error) string {
	var buf [96]byte
	b := append(buf[:0], key...)
	b = append(b, ':')
	b = strconv.AppendUint(b, xxhash.Sum64String(err.Error()), 16)
	return string(b)
}

// Sampled starts an entry at level when the sampler lets key through.
func (l *SampledLogger) Sampled(level plog.Level, key string, useErrSig bool, err ...error) *plog.Entry {
	if plog.Level(atomic.LoadUint32((*uint32)(&l.Logger.Level))) > level {
		return nil
	}

	var e error
	if len(err) > 0 {
		e = err[0]
	}
	if useErrSig && e != nil {
		key = errKey(key, e)
	}

	var suppressed int64
	if l.Sampler != nil {
		var ok bool
		if ok, suppressed = l.Sampler.ShouldLog(key, e); !ok {
			return nil
		}
	}

	entry := l.Logger.WithLevel(level)
	if suppressed > 0 {
		entry = entry.Int64("suppressedCount", suppressed)
	}
	if e != nil {
		entry = entry.Err(e)
	}
	return entry
}

// SampledError starts a sampled Error entry.
func (l *SampledLogger) SampledError(key string) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, false)
}

// SampledErrorWithErrSig is SampledError keyed by the error text as well.
func (l *SampledLogger) SampledErrorWithErrSig(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, true, err...)
}

// SampledWarn starts a sampled Warn entry.
func (l *SampledLogger) SampledWarn(key string) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, false)
}

// SampledWarnWithErrSig is SampledWarn keyed by the error text as well.
func (l *SampledLogger) SampledWarnWithErrSig(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, true, err...)
}

// SampledTrace starts a sampled Trace entry.
func (l *SampledLogger) SampledTrace(key string) *plog.Entry {
	return l.Sampled(plog.TraceLevel, key, false)
}

// SampledTraceWithErrSig is SampledTrace keyed by the error text as well.
func (l *SampledLogger) SampledTraceWithErrSig(key string, err ...error) *plog.Entry {
	return l.Sampled(plog.TraceLevel, key, true, err...)
}
