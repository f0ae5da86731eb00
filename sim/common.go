package sim

import "errors"

var (
	ErrProgramExists = errors.New("program already registered")
	ErrKernelHalted  = errors.New("kernel is halted")
)

// WriteRecord describes one accepted write: which descriptor it landed on
// and how many bytes the kernel took.
type WriteRecord struct {
	FD  int64
	Len int
}
