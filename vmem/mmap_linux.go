//go:build linux

package vmem

import (
	"io"
	"math/bits"
	"os"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"golang.org/x/sys/unix"
)

const (
	reserveOnlyMapFlags = unix.MAP_NORESERVE
	procMapsPath        = "/proc/self/maps"
	mpolPreferred       = 1
)

var _ MapsSource = &OSProvider{}
var _ HugepageAdvisor = &OSProvider{}
var _ NUMABinder = &OSProvider{}

func largePageMapFlags(pageSize uintptr) (int, error) {
	if pageSize&(pageSize-1) != 0 {
		return 0, porterr.UnsupportedPageSize("hugetlb page size 0x%x is not a power of two", pageSize)
	}

	return unix.MAP_HUGETLB | bits.TrailingZeros64(uint64(pageSize))<<unix.MAP_HUGE_SHIFT, nil
}

func (p *OSProvider) OpenMaps() (io.ReadCloser, error) {
	file, err := os.Open(procMapsPath)
	if err != nil {
		return nil, porterr.NewPlatformError("open "+procMapsPath, err)
	}
	return file, nil
}

func (p *OSProvider) AdviseHugepage(address uintptr, size uintptr) error {
	start := (address + p.basePageSize - 1) &^ (p.basePageSize - 1)
	end := (address + size) &^ (p.basePageSize - 1)
	if start >= end {
		return nil
	}

	err := unix.Madvise(p.Bytes(start, end-start), unix.MADV_HUGEPAGE)
	if err != nil {
		return porterr.NewPlatformError("madvise", err)
	}
	return nil
}

func (p *OSProvider) BindNUMANode(address uintptr, size uintptr, node int) error {
	if node < 1 {
		return errors.Wrapf(porterr.ErrInvalidParams, "NUMA node %d is out of range", node)
	}

	// NUMA nodes are numbered from 1 here and from 0 by the kernel
	nodeIndex := node - 1
	mask := make([]uint64, nodeIndex/64+1)
	mask[nodeIndex/64] |= 1 << (nodeIndex % 64)

	_, _, errno := unix.Syscall6(unix.SYS_MBIND,
		address,
		size,
		mpolPreferred,
		uintptr(unsafe.Pointer(&mask[0])),
		uintptr(len(mask)*64),
		0,
	)
	if errno != 0 {
		return porterr.NewPlatformError("mbind", errno)
	}
	return nil
}
