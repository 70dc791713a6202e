//go:build windows

package vmem

import (
	"unsafe"

	"github.com/omrgo/portmem/porterr"
	"golang.org/x/sys/windows"
)

// OSProvider reserves address space with VirtualAlloc
type OSProvider struct {
	basePageSize uintptr
}

var _ ReservationProvider = &OSProvider{}
var _ MemoryMapper = &OSProvider{}

func NewOSProvider() *OSProvider {
	return &OSProvider{basePageSize: uintptr(windows.Getpagesize())}
}

func protectionBits(mode MemoryMode) uint32 {
	switch {
	case mode&ModeExecute != 0 && mode&ModeWrite != 0:
		return windows.PAGE_EXECUTE_READWRITE
	case mode&ModeExecute != 0 && mode&ModeRead != 0:
		return windows.PAGE_EXECUTE_READ
	case mode&ModeExecute != 0:
		return windows.PAGE_EXECUTE
	case mode&ModeWrite != 0:
		return windows.PAGE_READWRITE
	case mode&ModeRead != 0:
		return windows.PAGE_READONLY
	default:
		return windows.PAGE_NOACCESS
	}
}

func (p *OSProvider) Reserve(hint uintptr, size uintptr, mode MemoryMode, pageSize PageSize) (uintptr, error) {
	allocationType := uint32(windows.MEM_RESERVE)
	protection := uint32(windows.PAGE_NOACCESS)

	if pageSize.Size != 0 && pageSize.Size != p.basePageSize {
		// large pages must be committed in the same call that reserves them
		allocationType |= windows.MEM_COMMIT | windows.MEM_LARGE_PAGES
		protection = protectionBits(mode)
	} else if mode&ModeCommit != 0 {
		allocationType |= windows.MEM_COMMIT
		protection = protectionBits(mode)
	}
	if mode&ModeTopDown != 0 {
		allocationType |= windows.MEM_TOP_DOWN
	}

	address, err := windows.VirtualAlloc(hint, size, allocationType, protection)
	if err != nil {
		return 0, porterr.NewPlatformError("VirtualAlloc", err)
	}
	return address, nil
}

func (p *OSProvider) Commit(address uintptr, size uintptr, mode MemoryMode) error {
	_, err := windows.VirtualAlloc(address, size, windows.MEM_COMMIT, protectionBits(mode))
	if err != nil {
		return porterr.NewPlatformError("VirtualAlloc", err)
	}
	return nil
}

func (p *OSProvider) Decommit(address uintptr, size uintptr, disclaim bool) error {
	if !disclaim {
		return nil
	}

	err := windows.VirtualFree(address, size, windows.MEM_DECOMMIT)
	if err != nil {
		return porterr.NewPlatformError("VirtualFree", err)
	}
	return nil
}

func (p *OSProvider) Free(address uintptr, size uintptr) error {
	err := windows.VirtualFree(address, 0, windows.MEM_RELEASE)
	if err != nil {
		return porterr.NewPlatformError("VirtualFree", err)
	}
	return nil
}

func (p *OSProvider) Kind() AllocatorKind {
	return AllocatorVirtualAlloc
}

func (p *OSProvider) Bytes(address uintptr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(address)), size)
}
