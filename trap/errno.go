package trap

import "fmt"

// Errno is a kernel-reported failure code. The kernel returns -Errno in the
// result register; Check recovers it.
type Errno int64

// Error codes the kernel reports.
const (
	EIO          Errno = 5
	EBADF        Errno = 9
	EEXIST       Errno = 17
	EINVAL       Errno = 22
	EMFILE       Errno = 24
	ENOSYS       Errno = 32
	ENAMETOOLONG Errno = 63
)

var errnoNames = map[Errno]string{
	EIO:          "input/output error",
	EBADF:        "bad file descriptor",
	EEXIST:       "file exists",
	EINVAL:       "invalid argument",
	EMFILE:       "too many open files",
	ENOSYS:       "function not implemented",
	ENAMETOOLONG: "file name too long",
}

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}

	return fmt.Sprintf("errno %d", int64(e))
}

// Check classifies a raw syscall result. Negative results carry the kernel's
// error code and come back as an Errno; zero and positive results are the
// success payload (e.g. a byte count).
func Check(r int64) (int64, error) {
	if r < 0 {
		return 0, Errno(-r)
	}

	return r, nil
}
