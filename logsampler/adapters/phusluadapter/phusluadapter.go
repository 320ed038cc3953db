// Package phusluadapter plugs a logsampler.Sampler in front of a phuslu
// logger.
package phusluadapter

import (
	"hash/maphash"
	"strconv"
	"sync/atomic"

	"github.com/tekert/gomtrace/logsampler"

	plog "github.com/phuslu/log"
)

var seed = maphash.MakeSeed()

// SummaryReporter logs sampler summaries at info level.
type SummaryReporter struct {
	Logger *plog.Logger
}

// LogSummary implements [logsampler.SummaryReporter].
func (r *SummaryReporter) LogSummary(key string, suppressedCount int64) {
	r.Logger.Info().
		Str("samplerKey", key).
		Int64("suppressedCount", suppressedCount).
		Msg("log sampler summary")
}

// SampledLogger is a phuslu logger whose keyed calls go through a Sampler
// first. The embedded logger stays usable for unsampled lines.
type SampledLogger struct {
	*plog.Logger
	sampler atomic.Pointer[samplerRef]
}

type samplerRef struct{ logsampler.Sampler }

// NewSampledLogger wraps base. A nil sampler lets everything through.
func NewSampledLogger(base *plog.Logger, sampler logsampler.Sampler) *SampledLogger {
	l := &SampledLogger{Logger: base}
	l.SetSampler(sampler)
	return l
}

// SetSampler swaps the sampler. It is safe to call while other goroutines
// are logging; they see either the old or the new sampler.
func (l *SampledLogger) SetSampler(sampler logsampler.Sampler) {
	if sampler == nil {
		l.sampler.Store(nil)
		return
	}
	l.sampler.Store(&samplerRef{sampler})
}

// Sampler returns the current sampler, or nil.
func (l *SampledLogger) Sampler() logsampler.Sampler {
	if ref := l.sampler.Load(); ref != nil {
		return ref.Sampler
	}
	return nil
}

// errSigKey appends a hash of the error text to key, so each distinct error
// is sampled on its own.
func errSigKey(key string, err error) string {
	sum := maphash.String(seed, err.Error())
	b := make([]byte, 0, len(key)+17)
	b = append(b, key...)
	b = append(b, ':')
	return string(strconv.AppendUint(b, sum, 16))
}

// Sampled returns an entry for key at level, or nil if the level is off or
// the sampler drops the line. The nil entry is safe to chain.
func (l *SampledLogger) Sampled(level plog.Level, key string, err error) *plog.Entry {
	if plog.Level(atomic.LoadUint32((*uint32)(&l.Logger.Level))) > level {
		return nil
	}

	var suppressed int64
	if ref := l.sampler.Load(); ref != nil {
		ok, n := ref.ShouldLog(key, err)
		if !ok {
			return nil
		}
		suppressed = n
	}

	e := l.Logger.WithLevel(level)
	if suppressed > 0 {
		e = e.Int64("suppressedCount", suppressed)
	}
	if err != nil {
		e = e.Err(err)
	}
	return e
}

// SampledError samples an error line on key.
func (l *SampledLogger) SampledError(key string) *plog.Entry {
	return l.Sampled(plog.ErrorLevel, key, nil)
}

// SampledErrorWithErrSig samples an error line on key and the text of err.
func (l *SampledLogger) SampledErrorWithErrSig(key string, err error) *plog.Entry {
	if err != nil {
		key = errSigKey(key, err)
	}
	return l.Sampled(plog.ErrorLevel, key, err)
}

// SampledWarn samples a warning line on key.
func (l *SampledLogger) SampledWarn(key string) *plog.Entry {
	return l.Sampled(plog.WarnLevel, key, nil)
}
