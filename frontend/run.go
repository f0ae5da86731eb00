package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/echotrap/echotrap/diag"
	"github.com/echotrap/echotrap/echo"
	"github.com/echotrap/echotrap/proc"
	"github.com/echotrap/echotrap/record"
	"github.com/echotrap/echotrap/sim"
	"github.com/echotrap/echotrap/trap"
)

// Flags are the switches that only make sense on the command line; durable
// settings live in Config.
type Flags struct {
	Verbose bool // dump machine stats at exit
}

// Run wires the echo service up per cfg and drives it until it finishes or
// the process is interrupted. With sim enabled the service runs as a process
// inside an in-memory kernel whose console is fed from stdin; otherwise it
// traps straight into the machine it is running on.
func Run(ctx context.Context, logger *zap.SugaredLogger, cfg *Config, opts *Flags) error {
	logger.Infoln("=== launching echo service ===")
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	snk, err := openSinks(logger, cfg)
	if err != nil {
		return err
	}
	defer snk.close(logger)

	if cfg.Sim.Enabled {
		return runSim(ctx, logger, cfg, opts, snk)
	}

	return runRaw(ctx, logger, cfg, opts, snk)
}

func runSim(ctx context.Context, logger *zap.SugaredLogger, cfg *Config, opts *Flags, snk *sinks) error {
	kcfg := sim.DefaultKernelCfg()
	kcfg.Console = os.Stdout

	if cfg.Sim.RealSleep {
		kcfg.SleepFn = time.Sleep
	}

	k := sim.NewKernel(logger, kcfg)

	if cfg.Echo.Diagnose {
		if err := k.RegisterProgram(cfg.Echo.DiagnosticPath, diag.Program); err != nil {
			return fmt.Errorf("failed to register diagnostic program: %w", err)
		}
	}

	var eg errgroup.Group

	if snk.store != nil {
		eg.Go(func() error {
			return snk.store.Drain(ctx, snk.events)
		})
	}

	svcErr := make(chan error, 1)

	p, err := k.Spawn("echo-service", func(c *trap.Client) {
		if err := serveEcho(ctx, logger, c, cfg, snk); err != nil {
			// Forked copies re-execute this image, so never double-send.
			select {
			case svcErr <- err:
			default:
			}
		}
	})
	if err != nil {
		return fmt.Errorf("failed to spawn echo service: %w", err)
	}

	// Host stdin feeds the machine's console. Reading os.Stdin cannot be
	// cancelled, so the pump is a plain goroutine that dies with the
	// process rather than a member of the group.
	go pumpStdin(k)

	select {
	case <-p.Done():
	case <-ctx.Done():
		logger.Infow("interrupt received, closing console")
		k.CloseInput()
		<-p.Done()
	}

	status, exited := p.ExitStatus()
	logger.Infow("echo service finished", "pid", p.Pid(), "status", status, "exited", exited)

	if snk.events != nil {
		close(snk.events)
	}

	if err := eg.Wait(); err != nil {
		logger.Errorw("transcript recorder failed", "err", err)
	}

	if opts.Verbose {
		dumpStats(logger, k.Stats())
	}

	select {
	case err := <-svcErr:
		return fmt.Errorf("echo service failed: %w", err)
	default:
		return nil
	}
}

func runRaw(ctx context.Context, logger *zap.SugaredLogger, cfg *Config, opts *Flags, snk *sinks) error {
	client := trap.NewClient(trap.RawInvoker{})

	sup, err := buildSupervisor(logger, client, cfg, snk)
	if err != nil {
		return err
	}

	var eg errgroup.Group

	if snk.store != nil {
		eg.Go(func() error {
			return snk.store.Drain(ctx, snk.events)
		})
	}

	err = sup.Run(ctx)

	if snk.events != nil {
		close(snk.events)
	}

	if werr := eg.Wait(); werr != nil {
		logger.Errorw("transcript recorder failed", "err", werr)
	}

	if opts.Verbose {
		dumpStats(logger, sup.Stats())
	}

	if err != nil {
		return fmt.Errorf("echo service failed: %w", err)
	}

	return nil
}

// serveEcho is the process image of the echo service: it assembles the
// launcher and supervisor over the process's own trap client and runs the
// loop. Forked diagnostic children re-execute this image against their
// recorded logs, so everything before Run must stay side-effect free.
func serveEcho(ctx context.Context, logger *zap.SugaredLogger, c *trap.Client, cfg *Config, snk *sinks) error {
	sup, err := buildSupervisor(logger, c, cfg, snk)
	if err != nil {
		return err
	}

	return sup.Run(ctx)
}

// buildSupervisor turns the file config into a wired supervisor, with the
// diagnostic launcher attached when diagnostics are on.
func buildSupervisor(logger *zap.SugaredLogger, client *trap.Client, cfg *Config, snk *sinks) (*echo.Supervisor, error) {
	var launcher *proc.Launcher

	if cfg.Echo.Diagnose {
		lcfg := proc.DefaultLauncherCfg()
		lcfg.DiagnosticPath = cfg.Echo.DiagnosticPath

		l, err := proc.NewLauncher(logger, client, lcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to build diagnostic launcher: %w", err)
		}

		launcher = l
	}

	scfg := &echo.SupervisorCfg{
		Banner:      cfg.Echo.Banner,
		Prompt:      cfg.Echo.Prompt,
		ReplyPrefix: cfg.Echo.ReplyPrefix,
		SleepFor:    time.Duration(cfg.Echo.SleepMs) * time.Millisecond,
		Iterations:  cfg.Echo.Iterations,
		Diagnose:    cfg.Echo.Diagnose,
		Terminal:    echo.TerminalBehavior(cfg.Echo.Terminal),
		ExitStatus:  cfg.Echo.ExitStatus,
		Events:      snk.events,
	}

	// Assigning a nil *os.File here would make the writer non-nil.
	if snk.prof != nil {
		scfg.ProfWriter = snk.prof
	}

	sup, err := echo.NewSupervisor(logger, client, launcher, scfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build supervisor: %w", err)
	}

	return sup, nil
}

// sinks bundles the optional transcript store and stage-profile file.
type sinks struct {
	store  *record.Store
	events chan echo.IterationEvent
	prof   *os.File
}

func openSinks(logger *zap.SugaredLogger, cfg *Config) (*sinks, error) {
	snk := &sinks{}

	if cfg.Record.Transcript != "" {
		store, err := record.NewStore(logger, cfg.Record.Transcript)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript store: %w", err)
		}

		snk.store = store
		snk.events = make(chan echo.IterationEvent, 256)
	}

	if cfg.Profile.Stages != "" {
		f, err := os.Create(cfg.Profile.Stages)
		if err != nil {
			snk.close(logger)

			return nil, fmt.Errorf("failed to create stage profile %s: %w", cfg.Profile.Stages, err)
		}

		snk.prof = f
	}

	return snk, nil
}

func (s *sinks) close(logger *zap.SugaredLogger) {
	if s.prof != nil {
		if err := s.prof.Close(); err != nil {
			logger.Warnw("failed to close stage profile", "err", err)
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warnw("failed to close transcript store", "err", err)
		}
	}
}

// pumpStdin copies host stdin into the machine's console queue. Host EOF
// closes the queue, which processes observe as end of input.
func pumpStdin(k *sim.Kernel) {
	buf := make([]byte, echo.BufSize)

	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			k.FeedInput(buf[:n])
		}

		if err != nil {
			k.CloseInput()

			return
		}
	}
}

func dumpStats(logger *zap.SugaredLogger, stats any) {
	bts, err := json.Marshal(stats)
	if err != nil {
		logger.Errorw("failed to marshal stats", "err", err)

		return
	}

	logger.Infoln(string(bts))
}
