package echo

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// StageSample carries the time one iteration spent in each loop stage.
type StageSample struct {
	Iteration  int
	Prompt     time.Duration
	Read       time.Duration
	Diagnostic time.Duration
	Write      time.Duration
	Sleep      time.Duration
	Clear      time.Duration
}

// Profiler writes per-iteration stage timings to its destination in CSV
// format, one row per iteration, durations in nanoseconds.
type Profiler struct {
	w *csv.Writer

	wroteHeader bool
}

// NewProfiler returns a profiler writing CSV to dest.
func NewProfiler(dest io.Writer) *Profiler {
	return &Profiler{
		w: csv.NewWriter(dest),
	}
}

// Record appends one sample row, writing the header first if this is the
// first sample.
func (p *Profiler) Record(s StageSample) error {
	if !p.wroteHeader {
		if err := p.w.Write([]string{
			"iteration",
			"prompt-ns",
			"read-ns",
			"diagnostic-ns",
			"write-ns",
			"sleep-ns",
			"clear-ns",
		}); err != nil {
			return fmt.Errorf("failed to write profile header: %w", err)
		}

		p.wroteHeader = true
	}

	row := []string{
		strconv.Itoa(s.Iteration),
		strconv.FormatInt(s.Prompt.Nanoseconds(), 10),
		strconv.FormatInt(s.Read.Nanoseconds(), 10),
		strconv.FormatInt(s.Diagnostic.Nanoseconds(), 10),
		strconv.FormatInt(s.Write.Nanoseconds(), 10),
		strconv.FormatInt(s.Sleep.Nanoseconds(), 10),
		strconv.FormatInt(s.Clear.Nanoseconds(), 10),
	}

	if err := p.w.Write(row); err != nil {
		return fmt.Errorf("failed to write profile row: %w", err)
	}

	return nil
}

// Flush pushes buffered rows to the destination.
func (p *Profiler) Flush() error {
	p.w.Flush()

	if err := p.w.Error(); err != nil {
		return fmt.Errorf("failed to flush profile: %w", err)
	}

	return nil
}
