package vmem_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"github.com/omrgo/portmem/vmem"
	"github.com/stretchr/testify/require"
)

const (
	kib = uintptr(1024)
	mib = 1024 * kib
)

func largePageCapabilities() *vmem.PlatformCapabilities {
	large := vmem.PageSize{Size: 4 * mib, Flags: vmem.PageFlagsNotUsed}
	return &vmem.PlatformCapabilities{
		PageSizes: []vmem.PageSize{
			{Size: 4 * kib, Flags: vmem.PageFlagsNotUsed},
			large,
		},
		DefaultLargePage: &large,
	}
}

func TestFindValidPageSizeExactMatch(t *testing.T) {
	resolver := vmem.NewPageSizeResolver(largePageCapabilities())

	pageSize, exact := resolver.FindValidPageSize(vmem.ModeRead|vmem.ModeWrite, 4*mib, vmem.PageFlagsNotUsed)
	require.True(t, exact)
	require.Equal(t, vmem.PageSize{Size: 4 * mib, Flags: vmem.PageFlagsNotUsed}, pageSize)

	pageSize, exact = resolver.FindValidPageSize(vmem.ModeRead|vmem.ModeWrite, 4*kib, vmem.PageFlagsNotUsed)
	require.True(t, exact)
	require.Equal(t, 4*kib, pageSize.Size)
}

func TestFindValidPageSizeUnsupportedSizeUsesDefaultLargePage(t *testing.T) {
	resolver := vmem.NewPageSizeResolver(largePageCapabilities())

	pageSize, exact := resolver.FindValidPageSize(vmem.ModeRead|vmem.ModeWrite, 2*mib, vmem.PageFlagsNotUsed)
	require.False(t, exact)
	require.Equal(t, 4*mib, pageSize.Size)

	pageSize, exact = resolver.FindValidPageSize(vmem.ModeRead, 0, vmem.PageFlagsNotUsed)
	require.False(t, exact)
	require.Equal(t, 4*mib, pageSize.Size)
}

func TestFindValidPageSizeFlagsMustMatch(t *testing.T) {
	resolver := vmem.NewPageSizeResolver(largePageCapabilities())

	pageSize, exact := resolver.FindValidPageSize(vmem.ModeRead, 4*mib, vmem.PageFlagsFixed)
	require.False(t, exact)
	require.Equal(t, vmem.PageSize{Size: 4 * mib, Flags: vmem.PageFlagsNotUsed}, pageSize)
}

func TestFindValidPageSizeWithoutLargePage(t *testing.T) {
	resolver := vmem.NewPageSizeResolver(&vmem.PlatformCapabilities{
		PageSizes: []vmem.PageSize{{Size: 4 * kib, Flags: vmem.PageFlagsNotUsed}},
	})

	pageSize, exact := resolver.FindValidPageSize(vmem.ModeRead|vmem.ModeWrite, 2*mib, vmem.PageFlagsNotUsed)
	require.False(t, exact)
	require.Equal(t, 4*kib, pageSize.Size)
}

func TestFindValidPageSizeExecutable(t *testing.T) {
	capabilities := largePageCapabilities()
	resolver := vmem.NewPageSizeResolver(capabilities)

	pageSize, exact := resolver.FindValidPageSize(vmem.ModeRead|vmem.ModeExecute, 2*mib, vmem.PageFlagsNotUsed)
	require.False(t, exact)
	require.Equal(t, 4*kib, pageSize.Size)

	capabilities.ExecutableLargePages = true
	pageSize, exact = resolver.FindValidPageSize(vmem.ModeRead|vmem.ModeExecute, 2*mib, vmem.PageFlagsNotUsed)
	require.False(t, exact)
	require.Equal(t, 4*mib, pageSize.Size)
}

func TestFindValidPageSizeAlwaysReturnsTableEntry(t *testing.T) {
	capabilities := largePageCapabilities()
	resolver := vmem.NewPageSizeResolver(capabilities)

	for _, size := range []uintptr{0, 1, 4 * kib, 8 * kib, 64 * kib, 2 * mib, 4 * mib, 1 << 30} {
		for _, flags := range []vmem.PageFlags{vmem.PageFlagsNotUsed, vmem.PageFlagsFixed, vmem.PageFlagsPageable} {
			for _, mode := range []vmem.MemoryMode{vmem.ModeRead, vmem.ModeRead | vmem.ModeExecute} {
				pageSize, _ := resolver.FindValidPageSize(mode, size, flags)
				require.Contains(t, capabilities.SupportedPageSizes(), pageSize)
			}
		}
	}
}

func TestCapabilitiesValidate(t *testing.T) {
	require.NoError(t, largePageCapabilities().Validate())

	err := (&vmem.PlatformCapabilities{}).Validate()
	require.True(t, errors.Is(err, porterr.ErrInvalidParams))

	err = (&vmem.PlatformCapabilities{
		PageSizes: []vmem.PageSize{{Size: 3000}},
	}).Validate()
	require.True(t, errors.Is(err, porterr.ErrInvalidParams))

	err = (&vmem.PlatformCapabilities{
		PageSizes: []vmem.PageSize{{Size: 2 * mib}, {Size: 4 * kib}},
	}).Validate()
	require.True(t, errors.Is(err, porterr.ErrInvalidParams))
}

func TestDefaultLargePageSize(t *testing.T) {
	capabilities := largePageCapabilities()

	pageSize, ok := capabilities.DefaultLargePageSize(vmem.ModeRead | vmem.ModeWrite)
	require.True(t, ok)
	require.Equal(t, 4*mib, pageSize.Size)

	_, ok = capabilities.DefaultLargePageSize(vmem.ModeExecute)
	require.False(t, ok)

	require.Equal(t, 4*kib, capabilities.BasePageSize().Size)
}
