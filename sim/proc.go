package sim

import (
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/echotrap/echotrap/trap"
)

// entry is one recorded syscall: the number a process issued and the result
// the kernel answered. Read entries also carry the bytes delivered into the
// caller's buffer, so a replaying child can reconstruct them.
type entry struct {
	nr      trap.Number
	result  int64
	payload []byte
}

// Proc is one simulated process. It satisfies trap.Invoker, so a trap.Client
// built on it traps into the owning Kernel.
//
// history and cursor implement fork: a child starts with a copy of its
// parent's log (ending in the fork itself) and re-executes the shared image
// against it. While the cursor trails the log, Invoke replays recorded
// results without touching the machine; once the log is spent, the process
// is live. Live syscalls append to the log with the cursor keeping pace, so
// a later fork hands the full record down.
type Proc struct {
	k     *Kernel
	pid   int64
	ppid  int64
	name  string
	image Program

	history []entry
	cursor  int

	mu     sync.Mutex
	exited bool
	status int64

	done     chan struct{}
	doneOnce sync.Once
}

// Pid returns the kernel-assigned process ID.
func (p *Proc) Pid() int64 {
	return p.pid
}

// Ppid returns the parent's pid, or 0 for processes booted directly.
func (p *Proc) Ppid() int64 {
	return p.ppid
}

// Done is closed when the process terminates for any reason.
func (p *Proc) Done() <-chan struct{} {
	return p.done
}

// ExitStatus reports the process's exit status, and whether it has exited.
func (p *Proc) ExitStatus() (int64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.status, p.exited
}

// Replaying reports whether the process is still consuming an inherited fork
// log. The code between replayed syscalls runs again for real on the child,
// so anything with host-visible side effects consults this to stay
// exactly-once. Only meaningful on the process's own goroutine.
func (p *Proc) Replaying() bool {
	return p.cursor < len(p.history)
}

// finish marks the process exited. The first status sticks; later calls only
// make sure done is closed.
func (p *Proc) finish(status int64) {
	p.mu.Lock()
	if !p.exited {
		p.exited = true
		p.status = status
	}
	p.mu.Unlock()

	p.doneOnce.Do(func() { close(p.done) })
}

// vanish kills the process goroutine without recording an exit status. Used
// when the machine powers off underneath a running process.
func (p *Proc) vanish() {
	p.finish(0)
	runtime.Goexit()
}

// Invoke is the trap gate. Recorded syscalls replay from the log; everything
// else dispatches into the kernel.
func (p *Proc) Invoke(nr trap.Number, a0, a1, a2 uintptr) int64 {
	if p.cursor < len(p.history) {
		return p.replay(nr, a1, a2)
	}

	k := p.k

	k.mu.Lock()
	halted := k.halted
	k.mu.Unlock()

	if halted {
		p.vanish()
	}

	switch nr {
	case trap.SysRead:
		return p.sysRead(int64(a0), a1, a2)
	case trap.SysWrite:
		return p.sysWrite(int64(a0), a1, a2)
	case trap.SysGetpid:
		return p.sysGetpid()
	case trap.SysFork:
		return p.sysFork()
	case trap.SysSleep:
		return p.sysSleep(a0)
	case trap.SysWait:
		return p.sysWait(int64(a0))
	case trap.SysExec:
		return p.sysExec(a0)
	case trap.SysExit:
		p.sysExit(int64(a0))
		return 0 // not reached
	case trap.SysShutdown:
		p.sysShutdown()
		return 0 // not reached
	default:
		k.count(func(s *Stats) { s.Unknowns++ })
		return p.record(nr, -int64(trap.ENOSYS))
	}
}

// replay consumes the next log entry. The image must issue the same syscall
// it did when the log was recorded; anything else means the program is
// nondeterministic and the simulation cannot stand behind the result.
func (p *Proc) replay(nr trap.Number, a1, a2 uintptr) int64 {
	e := p.history[p.cursor]
	if e.nr != nr {
		panic(fmt.Sprintf(
			"sim: pid %d diverged from its log: issued %v, recorded %v",
			p.pid, nr, e.nr,
		))
	}

	p.cursor++

	// Reads must restore the recorded payload so the replaying image builds
	// the same state the recording one did.
	if nr == trap.SysRead && a1 != 0 && len(e.payload) > 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(a1)), int(a2))
		copy(dst, e.payload)
	}

	p.k.count(func(s *Stats) { s.Replays++ })

	return e.result
}

// record appends a completed syscall to the log and hands back its result.
// The cursor keeps pace with the log on live processes, so only inherited
// entries ever replay.
func (p *Proc) record(nr trap.Number, result int64) int64 {
	p.history = append(p.history, entry{nr: nr, result: result})
	p.cursor = len(p.history)

	return result
}

// recordRead is record for reads, keeping the delivered bytes.
func (p *Proc) recordRead(result int64, payload []byte) int64 {
	p.history = append(p.history, entry{nr: trap.SysRead, result: result, payload: payload})
	p.cursor = len(p.history)

	return result
}

func (p *Proc) sysRead(fd int64, a1, a2 uintptr) int64 {
	k := p.k

	k.mu.Lock()
	k.stats.Reads++

	if fd != trap.Stdin {
		k.stats.Errors++
		k.mu.Unlock()

		return p.record(trap.SysRead, -int64(trap.EBADF))
	}

	if a2 == 0 {
		k.mu.Unlock()
		return p.recordRead(0, nil)
	}

	for len(k.input) == 0 && !k.inputEOF && !k.halted {
		k.cond.Wait()
	}

	if k.halted {
		k.mu.Unlock()
		p.vanish()
	}

	if len(k.input) == 0 {
		// End of input: a zero-length read, exactly what a closed console
		// delivers.
		k.mu.Unlock()
		return p.recordRead(0, nil)
	}

	n := len(k.input)
	if n > int(a2) {
		n = int(a2)
	}

	chunk := make([]byte, n)
	copy(chunk, k.input[:n])
	k.input = k.input[n:]
	k.mu.Unlock()

	if a1 != 0 {
		dst := unsafe.Slice((*byte)(unsafe.Pointer(a1)), int(a2))
		copy(dst, chunk)
	}

	return p.recordRead(int64(n), chunk)
}

func (p *Proc) sysWrite(fd int64, a1, a2 uintptr) int64 {
	k := p.k

	k.mu.Lock()
	k.stats.Writes++

	// Only stdout and stderr accept writes.
	if fd <= trap.Stdin || fd > trap.Stderr {
		k.stats.Errors++
		k.mu.Unlock()

		return p.record(trap.SysWrite, -int64(trap.EINVAL))
	}

	var data []byte
	if a1 != 0 && a2 > 0 {
		src := unsafe.Slice((*byte)(unsafe.Pointer(a1)), int(a2))
		data = make([]byte, len(src))
		copy(data, src)
	}

	k.output.Write(data)
	k.writes = append(k.writes, WriteRecord{FD: fd, Len: len(data)})

	if k.cfg.Console != nil {
		// Best effort; the captured log is the source of truth.
		_, _ = k.cfg.Console.Write(data)
	}
	k.mu.Unlock()

	return p.record(trap.SysWrite, int64(len(data)))
}

func (p *Proc) sysGetpid() int64 {
	p.k.count(func(s *Stats) { s.Getpids++ })

	return p.record(trap.SysGetpid, p.pid)
}

// sysFork clones the calling process. The child gets a copy of the parent's
// syscall log, fork included, and re-executes the shared image against it on
// a fresh goroutine. Both processes see the child's pid as the result; the
// only way to tell the copies apart is to ask for one's own pid afterwards.
func (p *Proc) sysFork() int64 {
	k := p.k

	k.mu.Lock()
	k.stats.Forks++

	if k.halted {
		k.mu.Unlock()
		p.vanish()
	}

	k.nextPid++
	childPid := k.nextPid

	forked := entry{nr: trap.SysFork, result: childPid}

	log := make([]entry, len(p.history)+1)
	copy(log, p.history)
	log[len(p.history)] = forked

	child := &Proc{
		k:       k,
		pid:     childPid,
		ppid:    p.pid,
		name:    p.name,
		image:   p.image,
		history: log,
		done:    make(chan struct{}),
	}

	k.procs[childPid] = child
	k.mu.Unlock()

	k.logger.Infow("forked process", "parent", p.pid, "child", childPid)

	k.start(child)

	p.history = append(p.history, forked)
	p.cursor = len(p.history)

	return childPid
}

func (p *Proc) sysSleep(a0 uintptr) int64 {
	k := p.k

	if a0 == 0 {
		k.count(func(s *Stats) { s.Sleeps++; s.Errors++ })
		return p.record(trap.SysSleep, -int64(trap.EINVAL))
	}

	tv := *(*trap.Timeval)(unsafe.Pointer(a0))
	d := tv.Duration()

	k.mu.Lock()
	k.stats.Sleeps++
	k.sleeps = append(k.sleeps, d)
	sleepFn := k.cfg.SleepFn
	k.mu.Unlock()

	if sleepFn != nil {
		sleepFn(d)
	}

	return p.record(trap.SysSleep, 0)
}

// sysWait parks the caller until the process identified by pid terminates,
// then reports its exit status.
func (p *Proc) sysWait(pid int64) int64 {
	k := p.k

	k.mu.Lock()
	k.stats.Waits++
	child, ok := k.procs[pid]
	if !ok {
		k.stats.Errors++
		k.mu.Unlock()

		return p.record(trap.SysWait, -int64(trap.EINVAL))
	}
	k.mu.Unlock()

	select {
	case <-child.done:
	case <-k.down:
		p.vanish()
	}

	status, _ := child.ExitStatus()

	return p.record(trap.SysWait, status)
}

// sysExec replaces the calling process image with a registered program. On
// success the old image's log is discarded, the new image runs to completion
// on the same pid, and the call never returns.
func (p *Proc) sysExec(a0 uintptr) int64 {
	k := p.k

	k.count(func(s *Stats) { s.Execs++ })

	if a0 == 0 {
		k.count(func(s *Stats) { s.Errors++ })
		return p.record(trap.SysExec, -int64(trap.EINVAL))
	}

	path, errno := readCString(a0)
	if errno != 0 {
		k.count(func(s *Stats) { s.Errors++ })
		return p.record(trap.SysExec, -int64(errno))
	}

	k.mu.Lock()
	prog, ok := k.programs[path]
	k.mu.Unlock()

	if !ok {
		k.count(func(s *Stats) { s.Errors++ })
		k.logger.Warnw("exec target not found", "pid", p.pid, "path", path)

		return p.record(trap.SysExec, -int64(trap.EEXIST))
	}

	k.logger.Infow("replacing process image", "pid", p.pid, "path", path)

	p.name = path
	p.image = prog
	p.history = nil
	p.cursor = 0

	prog(trap.NewClient(p))

	// The new image ran to completion without an explicit exit.
	p.finish(0)
	runtime.Goexit()

	return 0 // not reached
}

func (p *Proc) sysExit(status int64) {
	p.k.count(func(s *Stats) { s.Exits++ })
	p.k.logger.Infow("process exited", "pid", p.pid, "status", status)

	p.finish(status)
	runtime.Goexit()
}

// sysShutdown powers the machine off. Every blocked process is released and
// quietly killed; the caller never comes back from the trap.
func (p *Proc) sysShutdown() {
	k := p.k

	k.mu.Lock()
	k.stats.Shutdowns++

	if !k.halted {
		k.halted = true
		close(k.down)
		k.cond.Broadcast()
	}
	k.mu.Unlock()

	k.logger.Infow("machine powering off", "pid", p.pid)

	p.finish(0)
	runtime.Goexit()
}

// count updates the syscall counters under the kernel lock.
func (k *Kernel) count(fn func(s *Stats)) {
	k.mu.Lock()
	defer k.mu.Unlock()

	fn(&k.stats)
}

// readCString walks a NUL-terminated string out of process memory, bounded
// the same way the machine bounds exec paths.
func readCString(addr uintptr) (string, trap.Errno) {
	buf := make([]byte, 0, trap.PathMax)

	for i := 0; ; i++ {
		if i >= trap.PathMax {
			return "", trap.ENAMETOOLONG
		}

		b := *(*byte)(unsafe.Pointer(addr + uintptr(i)))
		if b == 0 {
			break
		}

		buf = append(buf, b)
	}

	return string(buf), 0
}
