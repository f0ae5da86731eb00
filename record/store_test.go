package record_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/echotrap/echotrap/echo"
	"github.com/echotrap/echotrap/record"
)

func newStore(t *testing.T) *record.Store {
	t.Helper()

	s, err := record.NewStore(zap.NewNop().Sugar(), filepath.Join(t.TempDir(), "transcript.db"))
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, s.Close()) })

	return s
}

func TestStore_InsertAndReadBack(t *testing.T) {
	s := newStore(t)

	first := echo.IterationEvent{
		Iteration: 1,
		At:        time.Now(),
		ReadBytes: 3,
		Wrote:     3,
		DiagRan:   true,
	}
	second := echo.IterationEvent{
		Iteration: 2,
		At:        time.Now(),
		ReadErr:   "read on fd 0 failed: input/output error",
	}

	require.NoError(t, s.Insert(first))
	require.NoError(t, s.Insert(second))

	got, err := s.Iterations()
	require.NoError(t, err)
	require.Len(t, got, 2)

	require.Equal(t, 1, got[0].Iteration)
	require.Equal(t, 3, got[0].ReadBytes)
	require.Equal(t, 3, got[0].Wrote)
	require.True(t, got[0].DiagRan)
	require.Empty(t, got[0].ReadErr)
	require.WithinDuration(t, first.At, got[0].At, time.Second)

	require.Equal(t, 2, got[1].Iteration)
	require.Zero(t, got[1].ReadBytes)
	require.False(t, got[1].DiagRan)
	require.Equal(t, second.ReadErr, got[1].ReadErr)
}

func TestStore_DrainRecordsUntilChannelCloses(t *testing.T) {
	s := newStore(t)

	events := make(chan echo.IterationEvent, 4)

	done := make(chan error, 1)

	go func() {
		done <- s.Drain(context.Background(), events)
	}()

	for i := 1; i <= 3; i++ {
		events <- echo.IterationEvent{Iteration: i, At: time.Now(), ReadBytes: i}
	}
	close(events)

	require.NoError(t, <-done)

	got, err := s.Iterations()
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, ev := range got {
		require.Equal(t, i+1, ev.Iteration)
		require.Equal(t, i+1, ev.ReadBytes)
	}
}

func TestStore_DrainStopsOnContextCancel(t *testing.T) {
	s := newStore(t)

	events := make(chan echo.IterationEvent)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Drain(ctx, events))
}
