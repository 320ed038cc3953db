package mtrace

import (
	"os"
	"sync"
	"time"

	"github.com/tekert/gomtrace/logsampler"
	"github.com/tekert/gomtrace/logsampler/adapters/phusluadapter"

	plog "github.com/phuslu/log"
)

// LoggerName identifies one of the package loggers.
type LoggerName string

// Available logger names. Use these as keys when configuring log levels.
const (
	SessionLogger  LoggerName = "session"  // Start/Stop and serialization
	ListenerLogger LoggerName = "listener" // instrumentation callbacks (hot path, sampled)
	DefaultLogger  LoggerName = "default"
)

// SampledLogger is the sampled phuslu logger used on the event hot path.
type SampledLogger = phusluadapter.SampledLogger

// LoggerManager owns the package loggers and the hot path sampler.
type LoggerManager struct {
	writer  plog.Writer
	loggers map[LoggerName]*plog.Logger

	mu      sync.Mutex // guards sampler
	sampler logsampler.Sampler
}

var (
	loggerManager *LoggerManager
	lislog        *SampledLogger // listener hot path
	ovflog        *SampledLogger // buffer overflow, one line per second
	seslog        *plog.Logger   // session lifecycle
	log           *plog.Logger   // everything else
)

func init() {
	loggerManager = NewLoggerManager()
	lislog = phusluadapter.NewSampledLogger(
		loggerManager.loggers[ListenerLogger],
		loggerManager.sampler,
	)
	ovflog = phusluadapter.NewSampledLogger(
		loggerManager.loggers[ListenerLogger],
		logsampler.NewRateSampler(1, time.Second),
	)
	seslog = loggerManager.loggers[SessionLogger]
	log = loggerManager.loggers[DefaultLogger]
}

// NewLoggerManager creates loggers writing to stderr.
func NewLoggerManager() *LoggerManager {
	writer := &plog.IOWriter{Writer: os.Stderr}

	lm := &LoggerManager{
		writer:  writer,
		loggers: make(map[LoggerName]*plog.Logger),
	}
	for name, level := range map[LoggerName]plog.Level{
		SessionLogger:  plog.InfoLevel,
		ListenerLogger: plog.WarnLevel,
		DefaultLogger:  plog.InfoLevel,
	} {
		lm.loggers[name] = &plog.Logger{
			Level:   level,
			Writer:  writer,
			Context: plog.NewContext(nil).Str("component", string(name)).Value(),
		}
	}

	reporter := &phusluadapter.SummaryReporter{Logger: lm.loggers[DefaultLogger]}
	lm.sampler = logsampler.NewEventDrivenSampler(logsampler.DefaultBackoff, reporter)
	return lm
}

// SetBaseContext replaces the base context of every logger, keeping the
// component field.
func (lm *LoggerManager) SetBaseContext(ctx []byte) {
	for name, logger := range lm.loggers {
		logger.Context = plog.NewContext(ctx).Str("component", string(name)).Value()
	}
}

// SetSampler replaces the hot path sampler and closes the previous one. It
// may be called while a session is recording.
func (lm *LoggerManager) SetSampler(sampler logsampler.Sampler) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	old := lm.sampler
	lm.sampler = sampler
	if lislog != nil {
		lislog.SetSampler(sampler)
	}
	if old != nil {
		old.Close()
	}
}

// SetWriter changes the writer for all loggers.
func (lm *LoggerManager) SetWriter(writer plog.Writer) {
	lm.writer = writer
	for _, logger := range lm.loggers {
		logger.Writer = writer
	}
}

// SetLogLevels sets the level of the named loggers.
func (lm *LoggerManager) SetLogLevels(levels map[LoggerName]plog.Level) {
	for name, level := range levels {
		if logger, ok := lm.loggers[name]; ok {
			logger.SetLevel(level)
		}
	}
}

// Sampler returns the hot path sampler.
func (lm *LoggerManager) Sampler() logsampler.Sampler {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	return lm.sampler
}

// SetSampler sets the sampler used by the listener logger.
func SetSampler(s logsampler.Sampler) { loggerManager.SetSampler(s) }

// SetLogLevels sets the log level for one or more loggers.
func SetLogLevels(levels map[LoggerName]plog.Level) { loggerManager.SetLogLevels(levels) }

// SetLogLevelsAll sets every logger to level.
func SetLogLevelsAll(level plog.Level) {
	levels := make(map[LoggerName]plog.Level, len(loggerManager.loggers))
	for name := range loggerManager.loggers {
		levels[name] = level
	}
	SetLogLevels(levels)
}

func SetLogDebugLevel() { SetLogLevelsAll(plog.DebugLevel) }
func SetLogInfoLevel()  { SetLogLevelsAll(plog.InfoLevel) }
func SetLogWarnLevel()  { SetLogLevelsAll(plog.WarnLevel) }
func SetLogErrorLevel() { SetLogLevelsAll(plog.ErrorLevel) }

// DisableLogging silences every logger.
func DisableLogging() {
	SetLogLevelsAll(99) // above PanicLevel
}

// SetLogWriter sets the writer for all loggers.
func SetLogWriter(writer plog.Writer) { loggerManager.SetWriter(writer) }

// SetLogBaseContext sets the base context for all loggers.
func SetLogBaseContext(ctx []byte) { loggerManager.SetBaseContext(ctx) }

// GetLogManager returns the package logger manager.
func GetLogManager() *LoggerManager { return loggerManager }
