package porterr_test

import (
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	require.Equal(t, porterr.KindNone, porterr.KindOf(nil))
	require.Equal(t, porterr.KindHeapFull, porterr.KindOf(errors.Wrap(porterr.ErrHeapFull, "allocate")))
	require.Equal(t, porterr.KindInvalidParams, porterr.KindOf(porterr.InvalidParams("byteAmount is %d", 0)))
	require.Equal(t, porterr.KindUnsupportedPageSize, porterr.KindOf(porterr.UnsupportedPageSize("page size %d", 3)))
	require.Equal(t, porterr.KindPreconditionViolation, porterr.KindOf(porterr.DoubleFree("handle %d", 32)))
	require.Equal(t, porterr.KindPreconditionViolation, porterr.KindOf(porterr.InvalidHandle("handle %d", 33)))
	require.Equal(t, porterr.KindOperationFailed, porterr.KindOf(errors.New("something else")))
	require.Equal(t, "InsufficientAddressSpace", porterr.KindInsufficientAddressSpace.String())
}

func TestMarkedErrorsStayDistinct(t *testing.T) {
	doubleFree := porterr.DoubleFree("handle %d", 32)
	invalidHandle := porterr.InvalidHandle("handle %d", 33)

	require.True(t, errors.Is(doubleFree, porterr.ErrDoubleFree))
	require.True(t, errors.Is(doubleFree, porterr.ErrPreconditionViolation))
	require.False(t, errors.Is(doubleFree, porterr.ErrInvalidHandle))
	require.False(t, errors.Is(invalidHandle, porterr.ErrDoubleFree))

	unsupported := porterr.UnsupportedPageSize("page size %d", 3)
	require.True(t, errors.Is(unsupported, porterr.ErrInvalidParams))
	require.False(t, errors.Is(porterr.InvalidParams("x"), porterr.ErrUnsupportedPageSize))
}

func TestPlatformErrorKeepsErrno(t *testing.T) {
	err := porterr.NewPlatformError("mmap", syscall.ENOMEM)
	require.Error(t, err)
	require.True(t, errors.Is(err, porterr.ErrOperationFailed))
	require.Equal(t, int(syscall.ENOMEM), porterr.Errno(err))
	require.Equal(t, porterr.KindOperationFailed, porterr.KindOf(err))

	var platformErr *porterr.PlatformError
	require.True(t, errors.As(err, &platformErr))
	require.Equal(t, "mmap", platformErr.Op)

	require.NoError(t, porterr.NewPlatformError("mmap", nil))
}

func TestLastError(t *testing.T) {
	var last porterr.LastError
	require.Equal(t, porterr.KindNone, last.Kind())

	last.SetLastError(nil)
	require.Nil(t, last.Err())

	last.SetLastError(porterr.NewPlatformError("munmap", syscall.EINVAL))
	require.Equal(t, porterr.KindOperationFailed, last.Kind())
	require.Equal(t, int(syscall.EINVAL), last.Errno())
	require.Contains(t, last.Message(), "munmap")

	last.Clear()
	require.Equal(t, porterr.KindNone, last.Kind())
	require.Equal(t, 0, last.Errno())
	require.Empty(t, last.Message())
}
