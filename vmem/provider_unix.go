//go:build linux || darwin || freebsd

package vmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"golang.org/x/sys/unix"
)

// OSProvider reserves address space with anonymous private mmap
type OSProvider struct {
	basePageSize uintptr
}

var _ ReservationProvider = &OSProvider{}
var _ MemoryMapper = &OSProvider{}

func NewOSProvider() *OSProvider {
	return &OSProvider{basePageSize: uintptr(unix.Getpagesize())}
}

func protectionBits(mode MemoryMode) int {
	protection := unix.PROT_NONE
	if mode&ModeExecute != 0 {
		protection |= unix.PROT_EXEC
	}
	if mode&ModeRead != 0 {
		protection |= unix.PROT_READ
	}
	if mode&ModeWrite != 0 {
		protection |= unix.PROT_WRITE
	}
	return protection
}

func (p *OSProvider) Reserve(hint uintptr, size uintptr, mode MemoryMode, pageSize PageSize) (uintptr, error) {
	protection := unix.PROT_NONE
	flags := unix.MAP_ANON | unix.MAP_PRIVATE
	largePages := pageSize.Size != 0 && pageSize.Size != p.basePageSize

	if largePages {
		// large pages are backed when mapped, so they get their protections up front
		pageFlags, err := largePageMapFlags(pageSize.Size)
		if err != nil {
			return 0, err
		}
		flags |= pageFlags
		protection = protectionBits(mode)
	} else if mode&ModeCommit != 0 {
		protection = protectionBits(mode)
	} else {
		flags |= reserveOnlyMapFlags
	}

	// never MAP_FIXED: the hint must not replace an existing mapping. The hint and every region
	// address are outside the Go heap, so converting them from uintptr is safe despite go vet.
	pointer, err := unix.MmapPtr(-1, 0, unsafe.Pointer(hint), size, protection, flags)
	if err != nil {
		return 0, porterr.NewPlatformError("mmap", err)
	}

	return uintptr(pointer), nil
}

func (p *OSProvider) Commit(address uintptr, size uintptr, mode MemoryMode) error {
	err := unix.Mprotect(p.Bytes(address, size), protectionBits(mode))
	if err != nil {
		return porterr.NewPlatformError("mprotect", err)
	}
	return nil
}

func (p *OSProvider) Decommit(address uintptr, size uintptr, disclaim bool) error {
	if !disclaim {
		return nil
	}

	err := unix.Madvise(p.Bytes(address, size), unix.MADV_DONTNEED)
	if err != nil {
		return porterr.NewPlatformError("madvise", err)
	}
	return nil
}

func (p *OSProvider) Free(address uintptr, size uintptr) error {
	if address == 0 {
		return errors.Wrap(porterr.ErrInvalidParams, "cannot unmap address 0")
	}

	err := unix.MunmapPtr(unsafe.Pointer(address), size) // address came from mmap, not the Go heap
	if err != nil {
		return porterr.NewPlatformError("munmap", err)
	}
	return nil
}

func (p *OSProvider) Kind() AllocatorKind {
	return AllocatorMmap
}

func (p *OSProvider) Bytes(address uintptr, size uintptr) []byte {
	// address came from mmap, not the Go heap
	return unsafe.Slice((*byte)(unsafe.Pointer(address)), size)
}
