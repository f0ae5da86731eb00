// Package echo implements the interactive echo service: a banner, then a
// prompt/read/echo loop over the kernel console, with optional diagnostic
// launches, pacing, and buffer scrubbing between iterations.
package echo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/echotrap/echotrap/proc"
	"github.com/echotrap/echotrap/trap"
)

// BufSize is the capacity of the service's input buffer. Reads never exceed
// it, and every iteration starts with all of it zeroed.
const BufSize = 4096

// TerminalBehavior says what the supervisor does after its final iteration.
type TerminalBehavior string

const (
	// TerminateExit issues the exit syscall with the configured status.
	TerminateExit TerminalBehavior = "exit"
	// TerminateSpin never terminates. It parks the supervisor until the
	// context is cancelled rather than burning cycles.
	TerminateSpin TerminalBehavior = "spin"
	// TerminateShutdown powers the machine off.
	TerminateShutdown TerminalBehavior = "shutdown"
)

var (
	ErrNoLauncher      = errors.New("diagnostics enabled without a launcher")
	ErrBadTerminal     = errors.New("unknown terminal behavior")
	ErrBannerTooLong   = errors.New("banner exceeds one buffer")
	ErrNegativeIterCap = errors.New("negative iteration cap")
)

// SupervisorCfg configures the echo service.
//
// Iterations caps the loop; 0 means run unbounded. ReplyPrefix, when set, is
// written before each echo. Events, when set, receives one IterationEvent
// per completed iteration. ProfWriter, when set, receives per-iteration
// stage timings as CSV.
type SupervisorCfg struct {
	Banner      string
	Prompt      string
	ReplyPrefix string
	SleepFor    time.Duration
	Iterations  int
	Diagnose    bool
	Terminal    TerminalBehavior
	ExitStatus  int64
	Events      chan<- IterationEvent
	ProfWriter  io.Writer
}

// DefaultSupervisorCfg is the default config: the classic banner and prompt,
// half-second pacing, unbounded loop, no diagnostics, exit on completion.
func DefaultSupervisorCfg() *SupervisorCfg {
	return &SupervisorCfg{
		Banner:     "Hey, type something\n",
		Prompt:     ">>> ",
		SleepFor:   500 * time.Millisecond,
		Iterations: 0,
		Diagnose:   false,
		Terminal:   TerminateExit,
		ExitStatus: 0,
	}
}

// Supervisor owns the echo loop's state: the reusable input buffer, the
// sleep request value, and the running stats. It drives everything through
// one syscall client and is strictly single-threaded.
type Supervisor struct {
	logger   *zap.SugaredLogger
	client   *trap.Client
	launcher *proc.Launcher
	cfg      *SupervisorCfg
	profiler *Profiler

	buf   [BufSize]byte
	tv    trap.Timeval
	stats Stats
}

// NewSupervisor initialises the echo service. launcher may be nil when
// diagnostics are disabled. A nil cfg means DefaultSupervisorCfg.
func NewSupervisor(
	logger *zap.SugaredLogger,
	client *trap.Client,
	launcher *proc.Launcher,
	cfg *SupervisorCfg,
) (*Supervisor, error) {
	if cfg == nil {
		cfg = DefaultSupervisorCfg()
	}

	if cfg.Terminal == "" {
		cfg.Terminal = TerminateExit
	}

	switch cfg.Terminal {
	case TerminateExit, TerminateSpin, TerminateShutdown:
	default:
		return nil, fmt.Errorf("failed to initialise supervisor with terminal %q: %w", cfg.Terminal, ErrBadTerminal)
	}

	if cfg.Diagnose && launcher == nil {
		return nil, fmt.Errorf("failed to initialise supervisor: %w", ErrNoLauncher)
	}

	if cfg.Iterations < 0 {
		return nil, fmt.Errorf("failed to initialise supervisor: %w", ErrNegativeIterCap)
	}

	if len(cfg.Banner) > BufSize {
		return nil, fmt.Errorf("failed to initialise supervisor: %w", ErrBannerTooLong)
	}

	s := &Supervisor{
		logger:   logger,
		client:   client,
		launcher: launcher,
		cfg:      cfg,
		tv:       trap.TimevalFromDuration(cfg.SleepFor),
	}

	if cfg.ProfWriter != nil {
		s.profiler = NewProfiler(cfg.ProfWriter)
	}

	return s, nil
}

var nopLog = zap.NewNop().Sugar()

// hostLog returns the supervisor's logger, or a no-op logger while the
// process is a forked copy replaying its way to the branch point. Replayed
// iterations already logged the first time through.
func (s *Supervisor) hostLog() *zap.SugaredLogger {
	if s.client.Replaying() {
		return nopLog
	}

	return s.logger
}

// Run writes the banner once, then loops prompt, read, optional diagnostic,
// echo, sleep, scrub until the iteration cap is reached or ctx is cancelled.
// Cancellation is honored between iterations only; a blocked syscall blocks.
//
// With a bounded iteration count Run finishes with the configured terminal
// behavior, so with TerminateExit it does not return on a live kernel.
func (s *Supervisor) Run(ctx context.Context) error {
	s.hostLog().Infow("echo service starting",
		"iterations", s.cfg.Iterations,
		"diagnostics", s.cfg.Diagnose,
		"terminal", s.cfg.Terminal,
	)

	if s.cfg.Banner != "" {
		if _, err := s.client.WriteString(trap.Stdout, s.cfg.Banner); err != nil {
			return fmt.Errorf("failed to write banner: %w", err)
		}
	}

	for i := 1; s.cfg.Iterations == 0 || i <= s.cfg.Iterations; i++ {
		// A forked copy still catching up to its branch point ignores
		// cancellation; its recorded history never observed one, and
		// stopping early would skip the exec its parent is waiting on.
		if !s.client.Replaying() {
			select {
			case <-ctx.Done():
				s.flushProfile()
				s.logger.Infow("context cancelled, stopping echo loop", "iterations", s.stats.Iterations)

				return nil
			default:
			}
		}

		s.iterate(i)
	}

	s.flushProfile()

	s.logger.Infow("echo loop finished",
		"iterations", s.stats.Iterations,
		"bytesEchoed", s.stats.BytesEchoed,
	)

	return s.terminate(ctx)
}

// flushProfile pushes any buffered profile rows out before the loop stops.
func (s *Supervisor) flushProfile() {
	if s.profiler == nil {
		return
	}

	if err := s.profiler.Flush(); err != nil {
		s.logger.Warnw("failed to flush stage profile", "err", err)
	}
}

// iterate runs one pass of the loop: prompt, read, optional diagnostic,
// echo, sleep, scrub. Per-iteration syscall failures are logged and counted,
// never fatal; a failed read additionally skips the diagnostic and the echo.
func (s *Supervisor) iterate(i int) {
	ev := IterationEvent{Iteration: i, At: time.Now()}

	start := time.Now()

	if s.cfg.Prompt != "" {
		if _, err := s.client.WriteString(trap.Stdout, s.cfg.Prompt); err != nil {
			s.hostLog().Warnw("failed to write prompt", "iteration", i, "err", err)
			s.stats.WriteFailures++
		}
	}

	promptDone := time.Now()

	n, err := s.client.Read(trap.Stdin, s.buf[:])
	readFailed := err != nil

	if readFailed {
		s.hostLog().Warnw("read failed", "iteration", i, "err", err)
		s.stats.ReadFailures++
		ev.ReadErr = err.Error()
		n = 0
	} else {
		ev.ReadBytes = n
		s.stats.BytesRead += uint64(n)

		if n == 0 {
			s.stats.EmptyReads++
		}
	}

	readDone := time.Now()
	diagDone := readDone

	if s.cfg.Diagnose && !readFailed {
		if err := s.launcher.Run(); err != nil {
			s.hostLog().Errorw("diagnostic launch failed", "iteration", i, "err", err)
			s.stats.DiagFailures++
		} else {
			s.stats.Diagnostics++
			ev.DiagRan = true
		}

		diagDone = time.Now()
	}

	if !readFailed {
		s.echo(i, n, &ev)
	}

	writeDone := time.Now()

	s.sleep(i)

	sleepDone := time.Now()

	s.scrub(n)

	s.stats.Iterations++

	// Replayed iterations were profiled and emitted the first time through;
	// doing it again would double every row.
	if s.profiler != nil && !s.client.Replaying() {
		sample := StageSample{
			Iteration:  i,
			Prompt:     promptDone.Sub(start),
			Read:       readDone.Sub(promptDone),
			Diagnostic: diagDone.Sub(readDone),
			Write:      writeDone.Sub(diagDone),
			Sleep:      sleepDone.Sub(writeDone),
			Clear:      time.Since(sleepDone),
		}

		if err := s.profiler.Record(sample); err != nil {
			s.logger.Warnw("failed to record stage profile", "iteration", i, "err", err)
		}
	}

	s.emit(ev)
}

// echo writes the optional reply prefix, then exactly the n bytes the read
// delivered, from the same buffer.
func (s *Supervisor) echo(i, n int, ev *IterationEvent) {
	if s.cfg.ReplyPrefix != "" {
		if _, err := s.client.WriteString(trap.Stdout, s.cfg.ReplyPrefix); err != nil {
			s.hostLog().Warnw("failed to write reply prefix", "iteration", i, "err", err)
			s.stats.WriteFailures++
		}
	}

	wrote, err := s.client.Write(trap.Stdout, s.buf[:n])
	if err != nil {
		s.hostLog().Warnw("failed to echo", "iteration", i, "bytes", n, "err", err)
		s.stats.WriteFailures++

		return
	}

	if wrote != n {
		s.hostLog().Warnw("short echo write", "iteration", i, "want", n, "wrote", wrote)
		s.stats.WriteFailures++
	}

	s.stats.BytesEchoed += uint64(wrote)
	ev.Wrote = wrote
}

// sleep paces the loop with the configured duration. The Timeval lives on
// the supervisor and is passed to the kernel by address every time.
func (s *Supervisor) sleep(i int) {
	if s.cfg.SleepFor <= 0 {
		return
	}

	if err := s.client.Sleep(&s.tv); err != nil {
		s.hostLog().Warnw("sleep failed", "iteration", i, "err", err)
	}
}

// scrub zeroes exactly the bytes the last read populated. Everything past n
// is already zero and stays untouched, so scrubbing twice is a no-op.
func (s *Supervisor) scrub(n int) {
	clear(s.buf[:n])
}

// terminate applies the configured end-of-loop behavior. Only the bounded
// variant ever gets here.
func (s *Supervisor) terminate(ctx context.Context) error {
	switch s.cfg.Terminal {
	case TerminateExit:
		s.logger.Infow("exiting", "status", s.cfg.ExitStatus)
		s.client.Exit(s.cfg.ExitStatus)

		return nil
	case TerminateSpin:
		s.logger.Infow("echo loop idling forever")
		<-ctx.Done()

		return nil
	case TerminateShutdown:
		s.logger.Infow("powering machine off")

		if err := s.client.Shutdown(); err != nil {
			return fmt.Errorf("failed to power off: %w", err)
		}

		return nil
	default:
		return fmt.Errorf("failed to terminate with %q: %w", s.cfg.Terminal, ErrBadTerminal)
	}
}

// emit hands the iteration event to the configured sink without ever
// blocking the loop. Forked copies replaying a finished iteration stay
// silent; the original already emitted it.
func (s *Supervisor) emit(ev IterationEvent) {
	if s.cfg.Events == nil || s.client.Replaying() {
		return
	}

	select {
	case s.cfg.Events <- ev:
	default:
		s.stats.DroppedEvents++
		s.logger.Warnw("event sink full, dropping iteration event", "iteration", ev.Iteration)
	}
}

// Stats returns the loop counters. Only call it once Run has returned or the
// supervisor's process is done; the loop mutates these without locking.
func (s *Supervisor) Stats() Stats {
	return s.stats
}
