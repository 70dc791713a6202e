package vmem_test

import (
	"io"
	"syscall"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/memcat"
	"github.com/omrgo/portmem/porterr"
	"github.com/omrgo/portmem/vmem"
	"github.com/omrgo/portmem/vmem/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
)

func newMockManager(t *testing.T, ctrl *gomock.Controller, capabilities *vmem.PlatformCapabilities) (*vmem.Manager, *mocks.MockReservationProvider) {
	provider := mocks.NewMockReservationProvider(ctrl)
	provider.EXPECT().Kind().Return(vmem.AllocatorMmap).AnyTimes()

	manager, err := vmem.New(slog.New(slog.NewJSONHandler(io.Discard)), provider, vmem.CreateOptions{
		Capabilities: capabilities,
	})
	require.NoError(t, err)
	return manager, provider
}

func basePageCapabilities() *vmem.PlatformCapabilities {
	return &vmem.PlatformCapabilities{
		PageSizes: []vmem.PageSize{{Size: 4 * kib, Flags: vmem.PageFlagsNotUsed}},
	}
}

func TestProviderCallSequence(t *testing.T) {
	ctrl := gomock.NewController(t)
	manager, provider := newMockManager(t, ctrl, basePageCapabilities())

	address := uintptr(0x7f0000000000)
	basePage := vmem.PageSize{Size: 4 * kib, Flags: vmem.PageFlagsNotUsed}
	mode := vmem.ModeRead | vmem.ModeWrite

	gomock.InOrder(
		provider.EXPECT().Reserve(uintptr(0), 16*kib, mode, basePage).Return(address, nil),
		provider.EXPECT().Commit(address+4*kib, 8*kib, mode).Return(nil),
		provider.EXPECT().Decommit(address+4*kib, 4*kib, true).Return(nil),
		provider.EXPECT().Decommit(address+8*kib, 4*kib, false).Return(nil),
		provider.EXPECT().Free(address, 16*kib).Return(nil),
	)

	region, err := manager.ReserveMemory(0, 16*kib, mode, 4*kib, memcat.CategoryUnknown)
	require.NoError(t, err)
	require.Equal(t, address, region.Address())
	require.Equal(t, vmem.AllocatorMmap, region.Allocator())
	require.Nil(t, region.Bytes())

	_, err = manager.CommitMemory(region, address+4*kib, 8*kib)
	require.NoError(t, err)
	require.NoError(t, manager.DecommitMemory(region, address+4*kib, 4*kib))

	manager.SetAdviseOSOnFree(false)
	require.NoError(t, manager.DecommitMemory(region, address+8*kib, 4*kib))
	require.Equal(t, vmem.RegionDecommitted, region.State())

	require.NoError(t, manager.FreeMemory(region))
}

func TestProviderCommitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	manager, provider := newMockManager(t, ctrl, basePageCapabilities())

	address := uintptr(0x7f0000000000)
	mode := vmem.ModeRead | vmem.ModeWrite

	provider.EXPECT().Reserve(uintptr(0), 8*kib, mode, gomock.Any()).Return(address, nil)
	provider.EXPECT().Commit(address, 8*kib, mode).Return(porterr.NewPlatformError("mprotect", syscall.ENOMEM))

	region, err := manager.ReserveMemory(0, 8*kib, mode, 4*kib, memcat.CategoryUnknown)
	require.NoError(t, err)

	_, err = manager.CommitMemory(region, address, 8*kib)
	require.True(t, errors.Is(err, porterr.ErrOperationFailed))
	require.Equal(t, int(syscall.ENOMEM), manager.LastError().Errno())
	require.Equal(t, vmem.RegionReserved, region.State())
	require.False(t, region.IsCommitted(address, 4*kib))
}

func TestStrictAddressReleasesOutOfRangeMemory(t *testing.T) {
	ctrl := gomock.NewController(t)
	manager, provider := newMockManager(t, ctrl, basePageCapabilities())

	params := manager.ParamsInit()
	params.StartAddress = 0x100000
	params.EndAddress = 0x100000
	params.ByteAmount = 4 * kib
	params.Options = vmem.OptionAddressHint | vmem.OptionStrictAddress

	gomock.InOrder(
		provider.EXPECT().Reserve(uintptr(0x100000), 4*kib, params.Mode, gomock.Any()).Return(uintptr(0x200000), nil),
		provider.EXPECT().Free(uintptr(0x200000), 4*kib).Return(nil),
	)

	region, err := manager.ReserveMemoryEx(params)
	require.Nil(t, region)
	require.True(t, errors.Is(err, porterr.ErrInsufficientAddressSpace))
	require.Empty(t, manager.Regions())
}

func TestUnsupportedExtensions(t *testing.T) {
	ctrl := gomock.NewController(t)
	manager, provider := newMockManager(t, ctrl, basePageCapabilities())

	address := uintptr(0x7f0000000000)
	provider.EXPECT().Reserve(uintptr(0), 4*kib, gomock.Any(), gomock.Any()).Return(address, nil)

	region, err := manager.ReserveMemory(0, 4*kib, vmem.ModeRead, 4*kib, memcat.CategoryUnknown)
	require.NoError(t, err)

	err = manager.SetNUMAAffinity(region, 1, address, 4*kib)
	require.True(t, errors.Is(err, porterr.ErrUnsupported))
	require.Equal(t, porterr.KindUnsupported, manager.LastError().Kind())

	// without a map source the quick search is skipped
	params := manager.ParamsInit()
	params.StartAddress = 0x100000
	params.EndAddress = 0x100000
	params.ByteAmount = 4 * kib
	params.Options = vmem.OptionQuick | vmem.OptionBottomUp
	provider.EXPECT().Reserve(uintptr(0x100000), 4*kib, gomock.Any(), gomock.Any()).Return(uintptr(0x100000), nil)

	region, err = manager.ReserveMemoryEx(params)
	require.NoError(t, err)
	require.Equal(t, uintptr(0x100000), region.Address())
}
