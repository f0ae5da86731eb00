package echo_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echotrap/echotrap/echo"
	"github.com/echotrap/echotrap/proc"
	"github.com/echotrap/echotrap/sim"
	"github.com/echotrap/echotrap/trap"
)

func waitDone(t *testing.T, p *sim.Proc) {
	t.Helper()

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process did not finish in time")
	}
}

func TestSupervisor_EndToEndWithDiagnostic(t *testing.T) {
	k := sim.NewKernel(zap.NewNop().Sugar(), sim.DefaultKernelCfg())

	require.NoError(t, k.RegisterProgram("/sbin/cpuid", func(c *trap.Client) {
		_, _ = c.WriteString(trap.Stdout, "Brand string is: SimCPU\n")
		c.Exit(0)
	}))

	k.FeedInput([]byte("hi\n"))

	p, err := k.Spawn("echo-service", func(c *trap.Client) {
		logger := zap.NewNop().Sugar()

		launcher, err := proc.NewLauncher(logger, c, nil)
		if err != nil {
			c.Exit(1)
		}

		s, err := echo.NewSupervisor(logger, c, launcher, &echo.SupervisorCfg{
			Banner:     "Hey, type something\n",
			Prompt:     ">>> ",
			SleepFor:   100 * time.Millisecond,
			Iterations: 1,
			Diagnose:   true,
			Terminal:   echo.TerminateExit,
		})
		if err != nil {
			c.Exit(2)
		}

		_ = s.Run(context.Background())
	})
	require.NoError(t, err)

	waitDone(t, p)

	status, exited := p.ExitStatus()
	require.True(t, exited)
	require.Zero(t, status)

	// Banner, prompt, the diagnostic's own output, then the echo. The wait
	// in the launcher guarantees the diagnostic's writes land before the
	// echoed bytes.
	require.Equal(t,
		"Hey, type something\n>>> Brand string is: SimCPU\nhi\n",
		string(k.Output()),
	)

	require.Equal(t, []time.Duration{100 * time.Millisecond}, k.SleepRequests())

	stats := k.Stats()
	require.Equal(t, uint64(1), stats.Forks)
	require.Equal(t, uint64(1), stats.Execs)
	require.Equal(t, uint64(1), stats.Waits)
}

// Forked diagnostic children re-execute the supervisor against their
// recorded logs, so every finished iteration runs twice in Go terms. Events
// must still arrive exactly once each.
func TestSupervisor_ForkReplayKeepsEventsExactlyOnce(t *testing.T) {
	k := sim.NewKernel(zap.NewNop().Sugar(), sim.DefaultKernelCfg())

	require.NoError(t, k.RegisterProgram("/sbin/cpuid", func(c *trap.Client) {
		_, _ = c.WriteString(trap.Stdout, "diag\n")
		c.Exit(0)
	}))

	events := make(chan echo.IterationEvent, 8)

	k.FeedInput([]byte("one\n"))

	p, err := k.Spawn("echo-service", func(c *trap.Client) {
		logger := zap.NewNop().Sugar()

		launcher, err := proc.NewLauncher(logger, c, nil)
		if err != nil {
			c.Exit(1)
		}

		s, err := echo.NewSupervisor(logger, c, launcher, &echo.SupervisorCfg{
			Banner:     "Hey, type something\n",
			Prompt:     ">>> ",
			Iterations: 2,
			Diagnose:   true,
			Events:     events,
		})
		if err != nil {
			c.Exit(2)
		}

		_ = s.Run(context.Background())
	})
	require.NoError(t, err)

	first := <-events
	require.Equal(t, 1, first.Iteration)
	require.Equal(t, 4, first.ReadBytes)
	require.True(t, first.DiagRan)

	k.FeedInput([]byte("two\n"))

	second := <-events
	require.Equal(t, 2, second.Iteration)
	require.True(t, second.DiagRan)

	waitDone(t, p)

	// The second fork's child replayed all of iteration one; a duplicate
	// event would surface here.
	select {
	case ev := <-events:
		t.Fatalf("unexpected extra event for iteration %d", ev.Iteration)
	default:
	}

	require.Equal(t,
		"Hey, type something\n>>> diag\none\n>>> diag\ntwo\n",
		string(k.Output()),
	)

	stats := k.Stats()
	require.Equal(t, uint64(2), stats.Forks)
	require.Equal(t, uint64(2), stats.Execs)
	require.NotZero(t, stats.Replays)
}

// A cancellation arriving while a forked child is still catching up to its
// branch point must not cut the catch-up short: the child would exit before
// its exec, and the parent would record a diagnostic that never ran.
func TestSupervisor_CancelDuringForkCatchupStillRunsDiagnostic(t *testing.T) {
	k := sim.NewKernel(zap.NewNop().Sugar(), sim.DefaultKernelCfg())

	require.NoError(t, k.RegisterProgram("/sbin/cpuid", func(c *trap.Client) {
		_, _ = c.WriteString(trap.Stdout, "diag ran\n")
		c.Exit(0)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := k.Spawn("echo-service", func(c *trap.Client) {
		logger := zap.NewNop().Sugar()

		launcher, err := proc.NewLauncher(logger, c, nil)
		if err != nil {
			c.Exit(1)
		}

		s, err := echo.NewSupervisor(logger, c, launcher, &echo.SupervisorCfg{
			Banner:     "Hey, type something\n",
			Prompt:     ">>> ",
			Iterations: 1,
			Diagnose:   true,
		})
		if err != nil {
			c.Exit(2)
		}

		_ = s.Run(ctx)
	})
	require.NoError(t, err)

	// Wait for the service to park in its read, then cancel before any
	// input arrives. The fork happens after the read, so its child is born
	// with the context already cancelled and must still replay through to
	// the exec.
	require.Eventually(t, func() bool {
		return strings.Contains(string(k.Output()), ">>> ")
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	k.FeedInput([]byte("one\n"))

	waitDone(t, p)

	require.Equal(t,
		"Hey, type something\n>>> diag ran\none\n",
		string(k.Output()),
	)
	require.Equal(t, uint64(1), k.Stats().Execs, "the diagnostic must exec despite the cancellation")
}

func TestSupervisor_UnboundedLoopStopsOnCancel(t *testing.T) {
	k := sim.NewKernel(zap.NewNop().Sugar(), sim.DefaultKernelCfg())

	k.FeedInput([]byte("ping\n"))

	events := make(chan echo.IterationEvent, 64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := k.Spawn("echo-service", func(c *trap.Client) {
		s, err := echo.NewSupervisor(zap.NewNop().Sugar(), c, nil, &echo.SupervisorCfg{
			Iterations: 0,
			Events:     events,
		})
		if err != nil {
			c.Exit(1)
		}

		if err := s.Run(ctx); err != nil {
			c.Exit(2)
		}

		_, _ = c.WriteString(trap.Stdout, "stopped\n")
	})
	require.NoError(t, err)

	// First iteration done. Cancellation is only honored between
	// iterations, and the next read is already blocking, so close the
	// console to let that iteration complete and hit the loop boundary.
	<-events
	cancel()
	k.CloseInput()

	waitDone(t, p)

	status, _ := p.ExitStatus()
	require.Zero(t, status)
	require.Contains(t, string(k.Output()), "ping\n")
	require.Contains(t, string(k.Output()), "stopped\n")
}

func TestSupervisor_ShutdownTerminalHaltsMachine(t *testing.T) {
	k := sim.NewKernel(zap.NewNop().Sugar(), sim.DefaultKernelCfg())

	k.FeedInput([]byte("bye\n"))

	p, err := k.Spawn("echo-service", func(c *trap.Client) {
		s, err := echo.NewSupervisor(zap.NewNop().Sugar(), c, nil, &echo.SupervisorCfg{
			Iterations: 1,
			Terminal:   echo.TerminateShutdown,
		})
		if err != nil {
			c.Exit(1)
		}

		_ = s.Run(context.Background())
	})
	require.NoError(t, err)

	waitDone(t, p)

	select {
	case <-k.Down():
	case <-time.After(5 * time.Second):
		t.Fatal("machine did not power off")
	}

	require.True(t, k.Halted())
	require.Equal(t, "bye\n", string(k.Output()))
	require.Equal(t, uint64(1), k.Stats().Shutdowns)
}
