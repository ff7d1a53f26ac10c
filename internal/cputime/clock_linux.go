//go:build linux

package cputime

import (
	"time"

	"golang.org/x/sys/unix"
)

// ThreadClocksSupported reports whether per-thread CPU clocks are available.
const ThreadClocksSupported = true

// Process returns the process-wide CPU clock.
func Process() Clock {
	return ClockFunc(func() time.Duration {
		return read(unix.CLOCK_PROCESS_CPUTIME_ID)
	})
}

// CurrentThread returns a clock reading the OS thread the caller happens to
// run on at the time of each reading.
func CurrentThread() Clock {
	return ClockFunc(func() time.Duration {
		return read(unix.CLOCK_THREAD_CPUTIME_ID)
	})
}

// ThisThread returns a clock bound to the calling OS thread. It is only
// meaningful when the caller has locked its goroutine to the thread with
// runtime.LockOSThread.
func ThisThread() Clock {
	id := threadClockID(unix.Gettid())
	return ClockFunc(func() time.Duration {
		return read(id)
	})
}

// threadClockID builds the kernel's per-thread scheduler clock id for tid.
func threadClockID(tid int) int32 {
	const perThreadSched = 6
	return int32(^uint32(tid)<<3 | perThreadSched)
}

func read(id int32) time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(id, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}
