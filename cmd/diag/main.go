// diag is the standalone diagnostic binary for the target machine. It writes
// a one-line self-report through the raw trap surface and exits; the echo
// service launches it with fork+exec and waits for it to finish.
package main

import (
	"log"

	"github.com/echotrap/echotrap/diag"
	"github.com/echotrap/echotrap/trap"
)

func main() {
	if err := diag.Report(trap.NewClient(trap.RawInvoker{})); err != nil {
		log.Fatalf("diagnostic failed: %v", err)
	}
}
