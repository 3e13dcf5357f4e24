package etw

import (
	"os"
	"sync"

	plog "github.com/phuslu/log"

	"github.com/tekert/etwdecode/logsampler"
	"github.com/tekert/etwdecode/logsampler/adapters/phusluadapter"
)

// LoggerName selects one of the package loggers.
type LoggerName string

const (
	DecoderLogger LoggerName = "decoder" // per record, sampled
	SchemaLogger  LoggerName = "schema"  // cache, sources and MOF classes
)

var defaultLevels = map[LoggerName]plog.Level{
	DecoderLogger: plog.WarnLevel,
	SchemaLogger:  plog.InfoLevel,
}

// SampledLogger is an alias for the reusable phuslu SampledLogger.
type SampledLogger = phusluadapter.SampledLogger

// LoggerManager owns a set of package loggers and the sampler guarding the
// decoder logger.
type LoggerManager struct {
	mu      sync.Mutex
	loggers map[LoggerName]*plog.Logger
	hot     *SampledLogger
}

var (
	loggerManager = NewLoggerManager(&plog.IOWriter{Writer: os.Stderr})
	conlog        = loggerManager.hot
	schemalog     = loggerManager.loggers[SchemaLogger]
)

// NewLoggerManager creates loggers writing to w. Repeated decoder warnings
// are sampled per key with logsampler.DefaultBackoff; summaries for keys
// that went quiet go to the schema logger.
func NewLoggerManager(w plog.Writer) *LoggerManager {
	lm := &LoggerManager{loggers: make(map[LoggerName]*plog.Logger, len(defaultLevels))}
	for name, level := range defaultLevels {
		lm.loggers[name] = &plog.Logger{
			Level:   level,
			Writer:  w,
			Context: plog.NewContext(nil).Str("component", string(name)).Value(),
		}
	}
	reporter := &phusluadapter.SummaryReporter{Logger: lm.loggers[SchemaLogger]}
	lm.hot = phusluadapter.NewSampledLogger(lm.loggers[DecoderLogger],
		logsampler.NewEventDrivenSampler(logsampler.DefaultBackoff, reporter))
	return lm
}

// Logger returns the named logger, or nil.
func (lm *LoggerManager) Logger(name LoggerName) *plog.Logger {
	return lm.loggers[name]
}

// Sampled returns the sampled decoder logger.
func (lm *LoggerManager) Sampled() *SampledLogger {
	return lm.hot
}

// SetSampler replaces the decoder sampler and closes the previous one.
// A nil sampler logs every event.
func (lm *LoggerManager) SetSampler(s logsampler.Sampler) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	if old := lm.hot.Sampler; old != nil {
		old.Close()
	}
	lm.hot.Sampler = s
}

// SetWriter points every logger at w. It is not synchronized with logging
// and should be called before decoding starts.
func (lm *LoggerManager) SetWriter(w plog.Writer) {
	for _, l := range lm.loggers {
		l.Writer = w
	}
}

// SetLevels sets the level of the named loggers. Unknown names are ignored.
func (lm *LoggerManager) SetLevels(levels map[LoggerName]plog.Level) {
	for name, level := range levels {
		if l, ok := lm.loggers[name]; ok {
			l.SetLevel(level)
		}
	}
}

// SetLevelAll sets every logger to level.
func (lm *LoggerManager) SetLevelAll(level plog.Level) {
	for _, l := range lm.loggers {
		l.SetLevel(level)
	}
}

// GetLogManager returns the package logger manager.
func GetLogManager() *LoggerManager { return loggerManager }

// SetSampler sets the sampler for decoder warnings.
func SetSampler(s logsampler.Sampler) { loggerManager.SetSampler(s) }

// SetLogWriter sets the writer for all package loggers.
func SetLogWriter(w plog.Writer) { loggerManager.SetWriter(w) }

// SetLogLevels sets the log level for one or more package loggers.
func SetLogLevels(levels map[LoggerName]plog.Level) { loggerManager.SetLevels(levels) }

// SetLogLevelsAll sets all package loggers to level.
func SetLogLevelsAll(level plog.Level) { loggerManager.SetLevelAll(level) }

func SetLogDebugLevel() { SetLogLevelsAll(plog.DebugLevel) }
func SetLogWarnLevel()  { SetLogLevelsAll(plog.WarnLevel) }

// DisableLogging sets all loggers above every level.
func DisableLogging() { SetLogLevelsAll(99) }
