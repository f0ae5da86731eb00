package echo

import "time"

// IterationEvent describes one completed pass of the echo loop, for
// transcript recording. ReadErr is empty when the read succeeded.
type IterationEvent struct {
	Iteration int
	At        time.Time
	ReadBytes int
	Wrote     int
	DiagRan   bool
	ReadErr   string
}
