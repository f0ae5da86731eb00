//go:build linux && amd64

package trap

import "golang.org/x/sys/unix"

// RawInvoker issues real traps on the target machine: number in RAX,
// arguments in RDI, RSI, RDX, result back in RAX. The kernel routes its trap
// vector through the same register convention as the native syscall
// instruction, so the stock trampoline carries the request.
type RawInvoker struct{}

func (RawInvoker) Invoke(nr Number, a0, a1, a2 uintptr) int64 {
	r1, _, errno := unix.RawSyscall(uintptr(nr), a0, a1, a2)
	if errno != 0 {
		// the trampoline folds results in [-4095, -1] into an errno;
		// undo that so callers see the raw signed register.
		return -int64(errno)
	}

	return int64(r1)
}
