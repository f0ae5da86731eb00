package trap

import "time"

// MicrosPerSecond is the sub-second resolution of a Timeval.
const MicrosPerSecond = 1_000_000

// Timeval is the two-field duration value the sleep syscall consumes. The
// kernel reads it through the address passed in the first argument register;
// the struct layout is part of the ABI and must not change.
type Timeval struct {
	Sec  uint64
	Usec uint64
}

// TimevalFromDuration converts d to the kernel's sleep representation.
// Negative durations collapse to zero.
func TimevalFromDuration(d time.Duration) Timeval {
	if d < 0 {
		d = 0
	}

	us := uint64(d / time.Microsecond)

	return Timeval{
		Sec:  us / MicrosPerSecond,
		Usec: us % MicrosPerSecond,
	}
}

// Duration converts tv back to a time.Duration.
func (tv Timeval) Duration() time.Duration {
	return time.Duration(tv.Sec)*time.Second + time.Duration(tv.Usec)*time.Microsecond
}
