package pacer

import (
	"time"

	"golang.org/x/sys/unix"
)

// MonotonicClock reads CLOCK_MONOTONIC directly via golang.org/x/sys/unix,
// grounded on pkg/driver/errors.go's use of the same package for
// syscall-level concerns — the teacher's only non-stdlib dependency in that
// neighborhood. The pacer's spacing and timeout comparisons must not be
// perturbed by wall-clock adjustments, which is the whole reason to reach
// past time.Now here.
type MonotonicClock struct{}

// Now returns the current monotonic time as a Duration since an
// unspecified epoch, suitable only for subtracting from another Now()
// call.
func (MonotonicClock) Now() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		// CLOCK_MONOTONIC is always available on Linux; a failure here
		// indicates a broken environment. Fall back to wall-clock
		// nanoseconds, which wall-clock adjustments can perturb.
		return time.Duration(time.Now().UnixNano())
	}
	return time.Duration(ts.Sec)*time.Second + time.Duration(ts.Nsec)
}
