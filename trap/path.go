package trap

import (
	"errors"
	"fmt"
)

// PathMax is the kernel's cap on an exec path, including the terminating
// NUL: its string copier walks at most this many bytes.
const PathMax = 512

var ErrPathTooLong = errors.New("path exceeds the kernel's cstring cap")

// MarshalPath lays path out as the NUL-terminated byte buffer the exec
// syscall reads through its address argument.
func MarshalPath(path string) ([PathMax]byte, error) {
	var buf [PathMax]byte

	if len(path) >= PathMax {
		return buf, fmt.Errorf("%w: %d bytes", ErrPathTooLong, len(path))
	}

	copy(buf[:], path)
	buf[len(path)] = 0

	return buf, nil
}
