package simvmem_test

import (
	"io"
	"strings"
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"github.com/omrgo/portmem/vmem"
	"github.com/omrgo/portmem/vmem/simvmem"
	"github.com/stretchr/testify/require"
)

var basePage = vmem.PageSize{Size: 4096, Flags: vmem.PageFlagsNotUsed}

func TestReservePlacement(t *testing.T) {
	provider := simvmem.New(simvmem.Options{})

	first, err := provider.Reserve(0, 0x4000, vmem.ModeRead, basePage)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x10000000), first)

	second, err := provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x10004000), second)

	hinted, err := provider.Reserve(0x10100000, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x10100000), hinted)

	// an occupied hint falls back to the lowest fit
	moved, err := provider.Reserve(0x10000000, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x10005000), moved)

	require.Equal(t, 4, provider.ReservationCount())
	require.Equal(t, 4, provider.Calls(simvmem.OperationReserve))
	require.NoError(t, provider.Validate())

	require.NoError(t, provider.Free(second, 0x1000))
	reused, err := provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)
	require.Equal(t, second, reused)
}

func TestReserveErrors(t *testing.T) {
	provider := simvmem.New(simvmem.Options{Limit: 0x10010000})

	_, err := provider.Reserve(0, 0x20000, vmem.ModeRead, basePage)
	require.True(t, errors.Is(err, porterr.ErrOperationFailed))
	require.Equal(t, int(syscall.ENOMEM), porterr.Errno(err))

	_, err = provider.Reserve(0, 0x1800, vmem.ModeRead, basePage)
	require.Equal(t, int(syscall.EINVAL), porterr.Errno(err))

	_, err = provider.Reserve(0, 0x200000, vmem.ModeRead, vmem.PageSize{Size: 0x200000})
	require.Equal(t, int(syscall.ENOMEM), porterr.Errno(err))

	provider.FailNext(simvmem.OperationReserve, 2)
	_, err = provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.Error(t, err)
	_, err = provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.Error(t, err)
	_, err = provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)
}

func TestLargePageReservation(t *testing.T) {
	provider := simvmem.New(simvmem.Options{LargePageSizes: []uintptr{0x200000}})

	capabilities := provider.Capabilities()
	require.NoError(t, capabilities.Validate())
	require.Len(t, capabilities.PageSizes, 2)
	require.Equal(t, uintptr(0x200000), capabilities.DefaultLargePage.Size)

	_, err := provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)

	address, err := provider.Reserve(0, 0x400000, vmem.ModeRead|vmem.ModeWrite, vmem.PageSize{Size: 0x200000})
	require.NoError(t, err)
	require.Equal(t, uintptr(0x10200000), address)
	require.Equal(t, uintptr(0x400000), provider.CommittedBytes(address))
}

func TestCommitDecommit(t *testing.T) {
	provider := simvmem.New(simvmem.Options{})

	address, err := provider.Reserve(0, 0x4000, vmem.ModeRead|vmem.ModeWrite, basePage)
	require.NoError(t, err)
	require.Equal(t, uintptr(0), provider.CommittedBytes(address))

	require.NoError(t, provider.Commit(address, 0x2000, vmem.ModeRead|vmem.ModeWrite))
	require.Equal(t, uintptr(0x2000), provider.CommittedBytes(address))

	memory := provider.Bytes(address, 0x4000)
	require.Len(t, memory, 0x4000)
	memory[0x1000] = 1

	require.NoError(t, provider.Decommit(address+0x1000, 0x1000, false))
	require.Equal(t, byte(1), memory[0x1000])
	require.Equal(t, uintptr(0x2000), provider.CommittedBytes(address))

	require.NoError(t, provider.Decommit(address+0x1000, 0x1000, true))
	require.Equal(t, byte(0), memory[0x1000])
	require.Equal(t, uintptr(0x1000), provider.CommittedBytes(address))

	err = provider.Commit(address+0x3000, 0x2000, vmem.ModeRead)
	require.True(t, errors.Is(err, porterr.ErrOperationFailed))

	err = provider.Free(address, 0x1000)
	require.Equal(t, int(syscall.EINVAL), porterr.Errno(err))
	require.NoError(t, provider.Free(address, 0x4000))
	require.Nil(t, provider.Bytes(address, 0x4000))
}

func TestUnbacked(t *testing.T) {
	provider := simvmem.New(simvmem.Options{Unbacked: true})

	address, err := provider.Reserve(0, 0x1000, vmem.ModeRead, basePage)
	require.NoError(t, err)
	require.Nil(t, provider.Bytes(address, 0x1000))
	require.NoError(t, provider.Decommit(address, 0x1000, true))
}

func TestNUMAAndAdvice(t *testing.T) {
	provider := simvmem.New(simvmem.Options{NUMANodes: 1})

	address, err := provider.Reserve(0, 0x2000, vmem.ModeRead, basePage)
	require.NoError(t, err)

	require.NoError(t, provider.BindNUMANode(address, 0x2000, 1))
	require.Equal(t, 1, provider.NUMANode(address))
	require.Equal(t, int(syscall.EINVAL), porterr.Errno(provider.BindNUMANode(address, 0x2000, 2)))
	require.Equal(t, int(syscall.EFAULT), porterr.Errno(provider.BindNUMANode(address+0x2000, 0x1000, 1)))

	require.NoError(t, provider.AdviseHugepage(address, 0x2000))
	require.Equal(t, uintptr(0x2000), provider.AdvisedBytes())
	require.Equal(t, 1, provider.Calls(simvmem.OperationAdviseHugepage))
}

func TestOpenMaps(t *testing.T) {
	provider := simvmem.New(simvmem.Options{Base: 0x100000, Limit: 0x200000})

	_, err := provider.Reserve(0x140000, 0x2000, vmem.ModeRead|vmem.ModeExecute, basePage)
	require.NoError(t, err)
	_, err = provider.Reserve(0x100000, 0x1000, vmem.ModeRead|vmem.ModeWrite, basePage)
	require.NoError(t, err)

	maps, err := provider.OpenMaps()
	require.NoError(t, err)
	defer maps.Close()

	contents, err := io.ReadAll(maps)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "1000-100000 ---p 00000000 00:00 0 [guard]", lines[0])
	require.Equal(t, "100000-101000 rw-p 00000000 00:00 0", lines[1])
	require.Equal(t, "140000-142000 r-xp 00000000 00:00 0", lines[2])
	require.True(t, strings.HasPrefix(lines[3], "200000-"))
}

func TestOperationString(t *testing.T) {
	require.Equal(t, "Reserve", simvmem.OperationReserve.String())
	require.Equal(t, "OpenMaps", simvmem.OperationOpenMaps.String())
	require.Equal(t, "Unknown", simvmem.Operation(99).String())
}
