package diag_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/echotrap/echotrap/diag"
	"github.com/echotrap/echotrap/trap"
)

func TestReportNamesOwnPid(t *testing.T) {
	var wrote []byte

	inv := trap.InvokerFunc(func(nr trap.Number, a0, a1, a2 uintptr) int64 {
		switch nr {
		case trap.SysGetpid:
			return 7
		case trap.SysWrite:
			require.EqualValues(t, trap.Stdout, a0)
			wrote = append(wrote, unsafe.Slice((*byte)(unsafe.Pointer(a1)), int(a2))...)

			return int64(a2)
		default:
			t.Fatalf("unexpected syscall %s", nr)

			return 0
		}
	})

	require.NoError(t, diag.Report(trap.NewClient(inv)))
	require.Equal(t, "diagnostic online: pid 7\n", string(wrote))
}

func TestReportSurfacesWriteFailure(t *testing.T) {
	inv := trap.InvokerFunc(func(nr trap.Number, a0, a1, a2 uintptr) int64 {
		if nr == trap.SysGetpid {
			return 3
		}

		return -int64(trap.EINVAL)
	})

	err := diag.Report(trap.NewClient(inv))
	require.ErrorIs(t, err, trap.EINVAL)
}

func TestProgramExitsZeroOnSuccess(t *testing.T) {
	exited := int64(-1)

	inv := trap.InvokerFunc(func(nr trap.Number, a0, a1, a2 uintptr) int64 {
		switch nr {
		case trap.SysGetpid:
			return 5
		case trap.SysWrite:
			return int64(a2)
		case trap.SysExit:
			exited = int64(a0)

			return 0
		default:
			return -int64(trap.ENOSYS)
		}
	})

	diag.Program(trap.NewClient(inv))
	require.EqualValues(t, 0, exited)
}

func TestProgramExitsNonzeroOnFailure(t *testing.T) {
	exited := int64(-1)

	inv := trap.InvokerFunc(func(nr trap.Number, a0, a1, a2 uintptr) int64 {
		switch nr {
		case trap.SysExit:
			exited = int64(a0)

			return 0
		default:
			return -int64(trap.EIO)
		}
	})

	diag.Program(trap.NewClient(inv))
	require.EqualValues(t, 1, exited)
}
