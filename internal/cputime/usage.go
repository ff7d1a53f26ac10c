package cputime

import (
	"fmt"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Usage splits process CPU time into user and system components.
type Usage struct {
	User   time.Duration
	System time.Duration
}

// Total returns user plus system time.
func (u Usage) Total() time.Duration { return u.User + u.System }

// ProcessUsage reports the CPU usage of the current process.
func ProcessUsage() (Usage, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return Usage{}, fmt.Errorf("failed to open process: %w", err)
	}
	times, err := p.Times()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to read process times: %w", err)
	}
	return Usage{
		User:   seconds(times.User),
		System: seconds(times.System),
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
