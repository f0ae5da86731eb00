package echo

// Stats counts what the echo loop has done and what went wrong doing it.
type Stats struct {
	Iterations    uint64
	BytesRead     uint64
	BytesEchoed   uint64
	EmptyReads    uint64
	ReadFailures  uint64
	WriteFailures uint64
	Diagnostics   uint64
	DiagFailures  uint64
	DroppedEvents uint64
}
