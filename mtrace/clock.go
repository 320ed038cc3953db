package mtrace

import (
	"fmt"
	"time"
)

// ClockSource selects which clocks timestamp the records.
type ClockSource uint8

const (
	ClockSourceWall ClockSource = iota
	ClockSourceThreadCPU
	ClockSourceDual
)

func (c ClockSource) String() string {
	switch c {
	case ClockSourceWall:
		return "wall"
	case ClockSourceThreadCPU:
		return "thread-cpu"
	case ClockSourceDual:
		return "dual"
	}
	return fmt.Sprintf("ClockSource(%d)", uint8(c))
}

// ParseClockSource parses the footer names "wall", "thread-cpu" and "dual".
func ParseClockSource(s string) (ClockSource, error) {
	switch s {
	case "wall":
		return ClockSourceWall, nil
	case "thread-cpu":
		return ClockSourceThreadCPU, nil
	case "dual":
		return ClockSourceDual, nil
	}
	return 0, fmt.Errorf("unknown clock source %q", s)
}

func (c ClockSource) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *ClockSource) UnmarshalText(b []byte) (err error) {
	*c, err = ParseClockSource(string(b))
	return err
}

// UsesThreadCPU reports whether records carry a thread cpu delta.
func (c ClockSource) UsesThreadCPU() bool {
	return c == ClockSourceThreadCPU || c == ClockSourceDual
}

// UsesWall reports whether records carry a wall clock delta.
func (c ClockSource) UsesWall() bool {
	return c == ClockSourceWall || c == ClockSourceDual
}

// Version is the artifact version advertised in the header.
func (c ClockSource) Version() uint16 {
	if c == ClockSourceDual {
		return VersionDualClock
	}
	return VersionSingleClock
}

// RecordSize is the size in bytes of one record.
func (c ClockSource) RecordSize() int {
	if c == ClockSourceDual {
		return RecordSizeDualClock
	}
	return RecordSizeSingleClock
}

// Clock provides the two time bases of the tracer.
type Clock interface {
	// Now is the wall clock. Deltas are taken with Time.Sub, so monotonic
	// readings are preferred.
	Now() time.Time
	// ThreadCPUTime is the cpu time consumed by the calling OS thread.
	ThreadCPUTime() time.Duration
	// HasThreadCPU reports whether ThreadCPUTime is meaningful.
	HasThreadCPU() bool
}

// SystemClock reads the OS clocks. Thread cpu time is per OS thread, so a
// host delivering events from goroutines should lock them to their thread.
type SystemClock struct{}

func (SystemClock) Now() time.Time               { return time.Now() }
func (SystemClock) ThreadCPUTime() time.Duration { return threadCPUTime() }
func (SystemClock) HasThreadCPU() bool           { return haveThreadCPUClock }

// defaultClockSource is dual when the clock has per-thread timers.
func defaultClockSource(c Clock) ClockSource {
	if c.HasThreadCPU() {
		return ClockSourceDual
	}
	return ClockSourceWall
}

const (
	calibrationLoops   = 4000
	calibrationUnroll  = 8
	calibrationSamples = calibrationLoops * calibrationUnroll
)

func readClocks(c Clock, source ClockSource) {
	if source.UsesThreadCPU() {
		c.ThreadCPUTime()
	}
	if source.UsesWall() {
		c.Now()
	}
}

// measureClockOverhead returns the cost in nanoseconds of reading the
// clocks of source once. It is only reported, never applied to deltas.
func measureClockOverhead(c Clock, source ClockSource) uint32 {
	elapsed := func() func() time.Duration {
		if c.HasThreadCPU() {
			start := c.ThreadCPUTime()
			return func() time.Duration { return c.ThreadCPUTime() - start }
		}
		start := c.Now()
		return func() time.Duration { return c.Now().Sub(start) }
	}()

	for i := calibrationLoops; i > 0; i-- {
		readClocks(c, source)
		readClocks(c, source)
		readClocks(c, source)
		readClocks(c, source)
		readClocks(c, source)
		readClocks(c, source)
		readClocks(c, source)
		readClocks(c, source)
	}

	d := elapsed()
	if d < 0 {
		return 0
	}
	return uint32(d.Nanoseconds() / calibrationSamples)
}
