//go:build !linux

package cputime

import "time"

// ThreadClocksSupported reports whether per-thread CPU clocks are available.
const ThreadClocksSupported = false

// Process returns the process-wide CPU clock backed by gopsutil.
func Process() Clock {
	return ClockFunc(func() time.Duration {
		u, err := ProcessUsage()
		if err != nil {
			return 0
		}
		return u.Total()
	})
}

// CurrentThread reads zero on this platform.
func CurrentThread() Clock { return Zero }

// ThisThread reads zero on this platform.
func ThisThread() Clock { return Zero }
