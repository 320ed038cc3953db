/*
Package logsampler decides whether a log line on a hot path should be written.

The tracer calls into it from instrumentation callbacks, where a misbehaving
host can deliver the same unexpected notification millions of times per
second. Samplers are safe for concurrent use.
*/
package logsampler

import "time"

// BackoffConfig defines the parameters for the exponential backoff strategy.
type BackoffConfig struct {
	InitialInterval time.Duration // Quiet window after the first emitted line.
	MaxInterval     time.Duration // Upper bound for the quiet window.
	Factor          float64       // Window growth factor, e.g. 2.0.
	// ResetInterval is the inactivity after which a key starts over at
	// InitialInterval and is forgotten. Zero disables resets and eviction.
	ResetInterval time.Duration
}

// DefaultBackoff is the configuration used by the tracer loggers.
var DefaultBackoff = BackoffConfig{
	InitialInterval: 1 * time.Second,
	MaxInterval:     1 * time.Hour,
	Factor:          1.2,
	ResetInterval:   10 * time.Minute,
}

// SummaryReporter receives the number of lines suppressed for a key
// that is flushed or evicted.
type SummaryReporter interface {
	LogSummary(key string, suppressedCount int64)
}

// Sampler decides if a log line should be processed.
type Sampler interface {
	// ShouldLog reports whether the line for key should be written and, if so,
	// how many lines for that key were suppressed since the last one.
	ShouldLog(key string, err error) (bool, int64)
	// Flush reports a summary of any suppressed lines.
	Flush()
	// Close flushes one last time and releases the sampler state.
	Close()
}

// clock lets tests drive time.
type clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
