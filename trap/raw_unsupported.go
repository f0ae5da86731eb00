//go:build !(linux && amd64)

package trap

// RawInvoker has no trap vector to reach from this platform. Every request
// reports ENOSYS so callers fail loudly instead of trapping into a foreign
// kernel; use the simulated kernel here instead.
type RawInvoker struct{}

func (RawInvoker) Invoke(nr Number, a0, a1, a2 uintptr) int64 {
	return -int64(ENOSYS)
}
