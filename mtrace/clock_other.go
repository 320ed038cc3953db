//go:build !linux

package mtrace

import "time"

// No per-thread cpu timer outside Linux; sessions fall back to wall clock.
const haveThreadCPUClock = false

func threadCPUTime() time.Duration { return 0 }
