package trap

import (
	"errors"
	"fmt"
	"unsafe"
)

// ErrExecReturned reports an exec that came back with a success result. A
// replaced image cannot return, so observing this means the kernel broke the
// exec contract; callers treat any return from Exec as a failure.
var ErrExecReturned = errors.New("exec returned without replacing the image")

// Client issues typed syscalls through an Invoker, classifying every raw
// result at the call site. It holds no state beyond the trampoline and is
// safe to share within a process.
type Client struct {
	inv Invoker
}

// NewClient wraps inv in a typed syscall surface.
func NewClient(inv Invoker) *Client {
	return &Client{inv: inv}
}

// invoke funnels every syscall into the trampoline. The directives make any
// pointer-derived uintptr argument escape and keep its address stable until
// the call returns, so a kernel that parks the caller mid-syscall never
// holds a stale stack address. The unsafe.Pointer conversion has to appear
// in this call's argument list; a helper returning a ready-made uintptr
// defeats the directive.
//
//go:uintptrescapes
//go:noinline
func (c *Client) invoke(nr Number, a0, a1, a2 uintptr) int64 {
	return c.inv.Invoke(nr, a0, a1, a2)
}

// Read issues a read syscall into buf and reports the byte count the kernel
// delivered. A zero count is a valid empty read, not an error.
func (c *Client) Read(fd int64, buf []byte) (int, error) {
	var p0 unsafe.Pointer
	if len(buf) > 0 {
		p0 = unsafe.Pointer(&buf[0])
	}

	n, err := Check(c.invoke(SysRead, uintptr(fd), uintptr(p0), uintptr(len(buf))))
	if err != nil {
		return 0, fmt.Errorf("read on fd %d failed: %w", fd, err)
	}

	return int(n), nil
}

// Write hands exactly len(buf) bytes to the kernel and reports how many it
// accepted.
func (c *Client) Write(fd int64, buf []byte) (int, error) {
	var p0 unsafe.Pointer
	if len(buf) > 0 {
		p0 = unsafe.Pointer(&buf[0])
	}

	n, err := Check(c.invoke(SysWrite, uintptr(fd), uintptr(p0), uintptr(len(buf))))
	if err != nil {
		return 0, fmt.Errorf("write on fd %d failed: %w", fd, err)
	}

	return int(n), nil
}

// WriteString writes s to fd. The length handed to the kernel is len(s),
// byte-exact.
func (c *Client) WriteString(fd int64, s string) (int, error) {
	return c.Write(fd, []byte(s))
}

// Getpid reports the calling process's kernel-assigned identity.
func (c *Client) Getpid() (int64, error) {
	pid, err := Check(c.invoke(SysGetpid, 0, 0, 0))
	if err != nil {
		return 0, fmt.Errorf("getpid failed: %w", err)
	}

	return pid, nil
}

// Fork duplicates the calling process. The kernel hands the child's pid to
// both resulting processes, so the return value alone cannot tell the copies
// apart; compare Getpid against a pre-fork snapshot to discriminate.
func (c *Client) Fork() (int64, error) {
	pid, err := Check(c.invoke(SysFork, 0, 0, 0))
	if err != nil {
		return 0, fmt.Errorf("fork failed: %w", err)
	}

	return pid, nil
}

// Exec replaces the calling process image with the program at path. It does
// not return on success; when it does return, the original image is still
// running and the result is the failure cause.
func (c *Client) Exec(path string) error {
	cpath, err := MarshalPath(path)
	if err != nil {
		return fmt.Errorf("exec of %s failed: %w", path, err)
	}

	if _, err := Check(c.invoke(SysExec, uintptr(unsafe.Pointer(&cpath[0])), 0, 0)); err != nil {
		return fmt.Errorf("exec of %s failed: %w", path, err)
	}

	return fmt.Errorf("exec of %s failed: %w", path, ErrExecReturned)
}

// Wait blocks the caller until the child identified by pid terminates or
// changes state. The kernel's status payload is observed but not decoded.
func (c *Client) Wait(pid int64) error {
	if _, err := Check(c.invoke(SysWait, uintptr(pid), 0, 0)); err != nil {
		return fmt.Errorf("wait on pid %d failed: %w", pid, err)
	}

	return nil
}

// Sleep suspends the calling process for at least the duration in tv. The
// kernel reads tv through its address; the argument registers carry only the
// pointer.
func (c *Client) Sleep(tv *Timeval) error {
	if _, err := Check(c.invoke(SysSleep, uintptr(unsafe.Pointer(tv)), 0, 0)); err != nil {
		return fmt.Errorf("sleep failed: %w", err)
	}

	return nil
}

// Exit asks the kernel to terminate the calling process with status. It does
// not return when the kernel honors the request.
func (c *Client) Exit(status int64) {
	c.invoke(SysExit, uintptr(status), 0, 0)
}

// Shutdown asks the kernel to power the machine off. Like Exit, a return
// means the kernel refused.
func (c *Client) Shutdown() error {
	if _, err := Check(c.invoke(SysShutdown, 0, 0, 0)); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	return nil
}

// Replaying reports whether the invoker is currently replaying a forked
// process's recorded results. False whenever the invoker does not implement
// Replayer.
func (c *Client) Replaying() bool {
	if r, ok := c.inv.(Replayer); ok {
		return r.Replaying()
	}

	return false
}
