package trap

// Number identifies a kernel service. The kernel dispatches on this value;
// it is placed in the number register by the trampoline.
type Number uintptr

// Syscall numbers understood by the kernel.
const (
	SysRead     Number = 0
	SysWrite    Number = 1
	SysExit     Number = 4
	SysGetpid   Number = 9
	SysFork     Number = 11
	SysSleep    Number = 46
	SysWait     Number = 47
	SysShutdown Number = 48
	SysExec     Number = 59
)

var numberNames = map[Number]string{
	SysRead:     "read",
	SysWrite:    "write",
	SysExit:     "exit",
	SysGetpid:   "getpid",
	SysFork:     "fork",
	SysSleep:    "sleep",
	SysWait:     "wait",
	SysShutdown: "shutdown",
	SysExec:     "exec",
}

func (n Number) String() string {
	if name, ok := numberNames[n]; ok {
		return name
	}

	return "unknown"
}

// Well-known file descriptors. The kernel accepts writes only on Stdout and
// Stderr.
const (
	Stdin  int64 = 0
	Stdout int64 = 1
	Stderr int64 = 2
)

// Invoker is the syscall trampoline: the single point of contact between
// user code and the kernel.
//
// Invoke places nr and the three arguments into the registers the kernel's
// trap handler expects, executes the trap, and returns the result register.
// A negative result is a kernel error code passed through verbatim; no
// retries happen here. The trap may clobber a fixed set of scratch registers
// and, when the syscall performs I/O, mutate any memory passed by address.
// Memory passed by address stays alive and at that address until Invoke
// returns, so an implementation may hold the argument across a park.
// Invoke blocks exactly as long as the underlying syscall blocks.
type Invoker interface {
	Invoke(nr Number, a0, a1, a2 uintptr) int64
}

// InvokerFunc adapts a plain function to the Invoker interface.
type InvokerFunc func(nr Number, a0, a1, a2 uintptr) int64

func (f InvokerFunc) Invoke(nr Number, a0, a1, a2 uintptr) int64 {
	return f(nr, a0, a1, a2)
}

// Replayer is an optional Invoker capability: a forked process catching up
// to its branch point answers syscalls from a recorded log, and the code in
// between runs a second time. Callers with host-visible side effects probe
// for this to keep those effects exactly-once. A real trap vector never
// replays.
type Replayer interface {
	Replaying() bool
}
