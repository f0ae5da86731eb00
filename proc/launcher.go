// Package proc composes the kernel's process lifecycle calls (fork, pid
// query, exec, wait) into supervised operations.
package proc

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/echotrap/echotrap/trap"
)

var ErrNoDiagnosticPath = errors.New("no diagnostic path configured")

// LauncherCfg configures the diagnostic launcher.
// ExecFailStatus is the exit status the child reports when exec fails; the
// child always terminates instead of falling through into supervisor code.
type LauncherCfg struct {
	DiagnosticPath string
	ExecFailStatus int64
}

// DefaultLauncherCfg is the default config: the cpuid diagnostic, exit
// status 127 on a failed exec.
func DefaultLauncherCfg() *LauncherCfg {
	return &LauncherCfg{
		DiagnosticPath: "/sbin/cpuid",
		ExecFailStatus: 127,
	}
}

// Launcher runs an external diagnostic program as a supervised child
// process: fork, exec the diagnostic in the child, block in the parent until
// the child has terminated. At most one diagnostic is in flight per Run, and
// the parent resumes strictly after the child is done.
type Launcher struct {
	logger *zap.SugaredLogger
	client *trap.Client
	cfg    *LauncherCfg
}

// NewLauncher initialises a launcher over the given syscall client. A nil
// cfg means DefaultLauncherCfg.
func NewLauncher(logger *zap.SugaredLogger, client *trap.Client, cfg *LauncherCfg) (*Launcher, error) {
	if cfg == nil {
		cfg = DefaultLauncherCfg()
	}

	if cfg.DiagnosticPath == "" {
		return nil, fmt.Errorf("failed to initialise launcher: %w", ErrNoDiagnosticPath)
	}

	return &Launcher{
		logger: logger,
		client: client,
		cfg:    cfg,
	}, nil
}

var nopLog = zap.NewNop().Sugar()

// hostLog returns the launcher's logger, or a no-op logger while the calling
// process is a forked copy replaying an earlier launch on its way to the
// branch point.
func (l *Launcher) hostLog() *zap.SugaredLogger {
	if l.client.Replaying() {
		return nopLog
	}

	return l.logger
}

// Run launches the configured diagnostic and blocks until it has finished.
//
// The kernel hands the child's pid to both copies of the forked process, so
// the fork result alone cannot say which copy is which. Each copy re-queries
// its own pid and compares it against the pre-fork snapshot: the copy whose
// pid still matches is the parent. Exactly one copy takes each branch.
//
// The child branch never returns. It either execs into the diagnostic or,
// when exec fails, exits with the configured failure status.
func (l *Launcher) Run() error {
	parent, err := l.client.Getpid()
	if err != nil {
		return fmt.Errorf("failed to snapshot pid before fork: %w", err)
	}

	child, err := l.client.Fork()
	if err != nil {
		return fmt.Errorf("failed to fork diagnostic child: %w", err)
	}

	self, err := l.client.Getpid()
	if err != nil {
		return fmt.Errorf("failed to re-query pid after fork: %w", err)
	}

	if self != parent {
		err := l.client.Exec(l.cfg.DiagnosticPath)

		// Exec only comes back on failure. Terminate this copy here; it
		// must never run supervisor code.
		l.logger.Errorw("diagnostic exec failed, terminating child",
			"path", l.cfg.DiagnosticPath,
			"err", err,
		)
		l.client.Exit(l.cfg.ExecFailStatus)

		return fmt.Errorf("failed to exec diagnostic: %w", err)
	}

	l.hostLog().Debugw("diagnostic child running", "parent", parent, "child", child)

	if err := l.client.Wait(child); err != nil {
		return fmt.Errorf("failed to wait for diagnostic child %d: %w", child, err)
	}

	l.hostLog().Debugw("diagnostic child finished", "child", child)

	return nil
}
