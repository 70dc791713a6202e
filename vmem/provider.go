package vmem

import "io"

//go:generate mockgen -destination mocks/provider.go -package mocks github.com/omrgo/portmem/vmem ReservationProvider

// ReservationProvider performs the operating system side of reserving, committing, and
// releasing address space. Implementations are not expected to be goroutine-safe: the Manager
// serializes its calls unless it was created externally synchronized.
type ReservationProvider interface {
	// Reserve maps size bytes of address space, preferably at hint. hint is only a preference;
	// the returned address may be anywhere. 0 lets the provider choose. Memory is only
	// accessible afterward if mode includes ModeCommit.
	Reserve(hint uintptr, size uintptr, mode MemoryMode, pageSize PageSize) (uintptr, error)
	// Commit makes an already reserved range accessible with the protections in mode
	Commit(address uintptr, size uintptr, mode MemoryMode) error
	// Decommit returns a committed range to the reserved state. When disclaim is false the
	// provider may leave the pages resident.
	Decommit(address uintptr, size uintptr, disclaim bool) error
	// Free releases a whole reservation
	Free(address uintptr, size uintptr) error
	Kind() AllocatorKind
}

// MapsSource is implemented by providers that can describe the current address space layout
// in the format of /proc/self/maps
type MapsSource interface {
	OpenMaps() (io.ReadCloser, error)
}

// HugepageAdvisor is implemented by providers that can ask the OS to back a range with
// transparent huge pages
type HugepageAdvisor interface {
	AdviseHugepage(address uintptr, size uintptr) error
}

// NUMABinder is implemented by providers that can set a preferred NUMA node for a range
type NUMABinder interface {
	BindNUMANode(address uintptr, size uintptr, node int) error
}

// MemoryMapper is implemented by providers that can expose reserved memory as a byte slice
type MemoryMapper interface {
	Bytes(address uintptr, size uintptr) []byte
}
