//go:build linux

package mtrace

import (
	"time"

	"golang.org/x/sys/unix"
)

var haveThreadCPUClock = probeThreadCPUClock()

func probeThreadCPUClock() bool {
	var ts unix.Timespec
	return unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts) == nil
}

func threadCPUTime() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_THREAD_CPUTIME_ID, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
