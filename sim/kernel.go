package sim

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/echotrap/echotrap/trap"
)

// Program is a process image: the code a sim process runs. It receives a
// client bound to its own process and may fork, exec, and trap freely.
// Returning from a Program is an implicit exit with status 0.
type Program func(c *trap.Client)

// KernelCfg configures the simulator's behaviour.
//
// SleepFn is called with each requested sleep duration; leaving it nil makes
// sleeps return immediately, which keeps tests fast and deterministic.
// Console, when set, receives a live copy of every console write as it
// happens; Output captures everything either way.
type KernelCfg struct {
	SleepFn func(d time.Duration)
	Console io.Writer
}

// DefaultKernelCfg is the default config: sleeps are recorded but not
// served, and console output is only captured.
func DefaultKernelCfg() *KernelCfg {
	return &KernelCfg{
		SleepFn: nil,
		Console: nil,
	}
}

// Kernel is an in-process machine. It owns the console input queue, the
// output log, the program registry, and the process table; processes trap
// into it through their Proc's Invoke.
type Kernel struct {
	logger *zap.SugaredLogger
	cfg    *KernelCfg

	mu       sync.Mutex
	cond     *sync.Cond
	input    []byte
	inputEOF bool

	output bytes.Buffer
	writes []WriteRecord
	sleeps []time.Duration

	programs map[string]Program
	procs    map[int64]*Proc
	nextPid  int64

	stats  Stats
	halted bool
	down   chan struct{}
}

// NewKernel boots an empty machine. A nil cfg means DefaultKernelCfg.
func NewKernel(logger *zap.SugaredLogger, cfg *KernelCfg) *Kernel {
	if cfg == nil {
		cfg = DefaultKernelCfg()
	}

	k := &Kernel{
		logger:   logger,
		cfg:      cfg,
		programs: make(map[string]Program),
		procs:    make(map[int64]*Proc),
		down:     make(chan struct{}),
	}

	k.cond = sync.NewCond(&k.mu)

	return k
}

// RegisterProgram installs prog at path in the machine's filesystem, making
// it reachable by exec. Paths are exact-match strings.
func (k *Kernel) RegisterProgram(path string, prog Program) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if _, ok := k.programs[path]; ok {
		return fmt.Errorf("failed to register %s: %w", path, ErrProgramExists)
	}

	k.programs[path] = prog

	return nil
}

// Spawn boots prog as a fresh process and returns its handle. The process
// runs on its own goroutine; wait for it via Proc.Done.
func (k *Kernel) Spawn(name string, prog Program) (*Proc, error) {
	k.mu.Lock()

	if k.halted {
		k.mu.Unlock()
		return nil, fmt.Errorf("failed to spawn %s: %w", name, ErrKernelHalted)
	}

	k.nextPid++

	p := &Proc{
		k:     k,
		pid:   k.nextPid,
		name:  name,
		image: prog,
		done:  make(chan struct{}),
	}

	k.procs[p.pid] = p
	k.mu.Unlock()

	k.logger.Infow("spawning process", "pid", p.pid, "name", name)

	k.start(p)

	return p, nil
}

// start runs p's image on its own goroutine. A return from the image without
// an explicit exit terminates the process with status 0.
func (k *Kernel) start(p *Proc) {
	go func() {
		defer p.finish(0)
		p.image(trap.NewClient(p))
	}()
}

// Proc looks up a process by pid. Terminated processes stay visible so their
// exit status can still be read.
func (k *Kernel) Proc(pid int64) (*Proc, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	p, ok := k.procs[pid]

	return p, ok
}

// FeedInput appends b to the console input queue, waking any blocked reader.
func (k *Kernel) FeedInput(b []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.input = append(k.input, b...)
	k.cond.Broadcast()
}

// CloseInput marks the console input queue as finished. Readers drain what is
// queued, then observe end-of-input as a zero-length read.
func (k *Kernel) CloseInput() {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.inputEOF = true
	k.cond.Broadcast()
}

// Output returns everything written to stdout and stderr, in arrival order.
func (k *Kernel) Output() []byte {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make([]byte, k.output.Len())
	copy(out, k.output.Bytes())

	return out
}

// Writes returns the per-call write log.
func (k *Kernel) Writes() []WriteRecord {
	k.mu.Lock()
	defer k.mu.Unlock()

	ws := make([]WriteRecord, len(k.writes))
	copy(ws, k.writes)

	return ws
}

// SleepRequests returns every sleep duration processes have asked for.
func (k *Kernel) SleepRequests() []time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()

	ds := make([]time.Duration, len(k.sleeps))
	copy(ds, k.sleeps)

	return ds
}

// Stats returns a snapshot of the syscall counters.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.stats
}

// Down is closed when a process powers the machine off.
func (k *Kernel) Down() <-chan struct{} {
	return k.down
}

// Halted reports whether the machine has been powered off.
func (k *Kernel) Halted() bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	return k.halted
}
