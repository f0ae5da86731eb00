package sim

// Stats counts the syscalls the kernel has dispatched live. Replayed entries
// are counted once, under Replays; they never touch the per-call counters
// because the machine already performed them.
type Stats struct {
	Reads     uint64
	Writes    uint64
	Exits     uint64
	Getpids   uint64
	Forks     uint64
	Sleeps    uint64
	Waits     uint64
	Shutdowns uint64
	Execs     uint64
	Unknowns  uint64
	Errors    uint64
	Replays   uint64
}
