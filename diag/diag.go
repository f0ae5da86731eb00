// Package diag carries the diagnostic program body: a one-shot self-report
// issued over the raw trap surface. The root binary registers it with the
// simulated kernel under the configured diagnostic path, and cmd/diag ships
// the same body as the standalone binary for the real target.
package diag

import (
	"fmt"

	"github.com/echotrap/echotrap/trap"
)

// Report writes a one-line self-report naming the calling process's pid.
// The line is informational; nothing downstream parses it.
func Report(c *trap.Client) error {
	pid, err := c.Getpid()
	if err != nil {
		return fmt.Errorf("failed to query own pid: %w", err)
	}

	if _, err := c.WriteString(trap.Stdout, fmt.Sprintf("diagnostic online: pid %d\n", pid)); err != nil {
		return fmt.Errorf("failed to write self-report: %w", err)
	}

	return nil
}

// Program is Report in process-image form: it terminates through the kernel
// instead of returning, status 1 when the report could not be written.
func Program(c *trap.Client) {
	if err := Report(c); err != nil {
		c.Exit(1)
		return
	}

	c.Exit(0)
}
