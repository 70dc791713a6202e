// Package heap implements a first-fit suballocator that lives entirely inside a caller-supplied
// byte range. Every block is bracketed by a pair of boundary tags holding its size in slots:
// positive for free blocks, negative for occupied ones. The tags let Free coalesce with both
// neighbors without walking a free list.
//
// A Heap is a view over memory the caller owns. It never allocates or releases its backing
// store and has no lifetime of its own: the heap is gone when the caller reuses the memory.
//
// Heap is not safe for concurrent use. Callers that share a heap between goroutines must
// serialize access themselves or use SynchronizedHeap.
package heap

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
)

const (
	// SlotSize is the allocation granularity of the heap in bytes. Every request is rounded up
	// to a whole number of slots.
	SlotSize = 8

	headerSlots = 4

	// HeapManagementOverhead is the number of bytes consumed by the heap header and the
	// boundary tags of the initial free block
	HeapManagementOverhead = (headerSlots + 2) * SlotSize

	// a block must have room for two tags and one payload slot before it is worth splitting off
	minimumSplitSlots = 3
	minimumGrowSlots  = 5
)

// header slot indices
const (
	headerHeapSize = iota
	headerFirstFreeBlock
	headerLastAllocSlot
	headerLargestAllocSizeVisited
)

// CreateFlags is reserved for future heap behaviors and must be zero
type CreateFlags uint32

// Handle identifies an allocation within a heap. It is the byte offset of the allocation's
// payload from the (aligned) start of the heap.
type Handle int

// NullHandle is never returned for a successful allocation. Free ignores it and Reallocate
// treats it as a fresh allocation.
const NullHandle Handle = 0

// Heap is a boundary-tag suballocator over a caller-supplied byte range
type Heap struct {
	memory []byte
	slots  []int64
}

var _ memutils.Validatable = &Heap{}

// Create initializes a heap over memory, overwriting whatever it held. The start of memory is
// rounded up and its length rounded down to SlotSize. Create fails with
// porterr.ErrInsufficientSpace if what remains cannot hold the heap header and at least one
// payload slot.
//
// Any capacity beyond len(memory) is left untouched but becomes available to Grow, which is how
// a heap placed at the start of a partially committed reservation can later be widened in place.
func Create(memory []byte, flags CreateFlags) (*Heap, error) {
	if flags != 0 {
		return nil, porterr.InvalidParams("heap create flags must be zero, got %d", flags)
	}

	delta, err := alignmentDelta(memory)
	if err != nil {
		return nil, err
	}

	size := len(memory)
	if size <= HeapManagementOverhead+delta {
		return nil, errors.Wrapf(porterr.ErrInsufficientSpace, "%d bytes cannot hold a heap", size)
	}

	adjustedSize := memutils.AlignDown(size-delta, SlotSize)
	if adjustedSize <= HeapManagementOverhead {
		return nil, errors.Wrapf(porterr.ErrInsufficientSpace, "%d bytes cannot hold a heap after alignment", size)
	}

	h := newView(memory, delta)

	numSlots := int64(adjustedSize / SlotSize)
	blockSize := numSlots - HeapManagementOverhead/SlotSize

	h.slots[headerHeapSize] = numSlots
	h.slots[headerFirstFreeBlock] = headerSlots
	h.slots[headerSlots] = blockSize
	h.slots[numSlots-1] = blockSize
	h.slots[headerLastAllocSlot] = headerSlots
	h.slots[headerLargestAllocSizeVisited] = blockSize

	return h, nil
}

// Attach returns a view of a heap previously created over the same memory. The header is
// checked against the memory bounds and the block chain is walked before the view is returned.
func Attach(memory []byte) (*Heap, error) {
	delta, err := alignmentDelta(memory)
	if err != nil {
		return nil, err
	}

	if cap(memory)-delta <= HeapManagementOverhead {
		return nil, errors.Wrapf(porterr.ErrInsufficientSpace, "%d bytes cannot hold a heap", cap(memory))
	}

	h := newView(memory, delta)
	if err := h.Validate(); err != nil {
		return nil, errors.Wrap(err, "memory does not hold a valid heap")
	}

	return h, nil
}

func alignmentDelta(memory []byte) (int, error) {
	base := unsafe.SliceData(memory)
	if base == nil {
		return 0, porterr.InvalidParams("heap memory is nil")
	}

	address := uintptr(unsafe.Pointer(base))
	delta := int(memutils.AlignUp(address, SlotSize) - address)
	if delta >= cap(memory) {
		return 0, errors.Wrapf(porterr.ErrInsufficientSpace, "%d bytes cannot hold a heap", cap(memory))
	}

	return delta, nil
}

// newView builds the slot view over everything from the aligned base to the capacity of memory
func newView(memory []byte, delta int) *Heap {
	full := memory[delta:cap(memory)]
	slotCount := len(full) / SlotSize

	return &Heap{
		memory: full[:slotCount*SlotSize],
		slots:  unsafe.Slice((*int64)(unsafe.Pointer(unsafe.SliceData(full))), slotCount),
	}
}

// TotalBytes is the size of the heap in bytes, including the header and every tag
func (h *Heap) TotalBytes() int {
	return int(h.slots[headerHeapSize]) * SlotSize
}

// CapacityBytes is the number of bytes the heap could span if grown to the end of its memory
func (h *Heap) CapacityBytes() int {
	return len(h.slots) * SlotSize
}

// IsFull reports whether the heap has no free block at all
func (h *Heap) IsFull() bool {
	return h.slots[headerFirstFreeBlock] == 0
}

// Bytes returns the payload of an occupied block. The slice covers the whole slot-rounded
// block, so it may be a few bytes longer than the size originally requested.
func (h *Heap) Bytes(handle Handle) ([]byte, error) {
	top, size, err := h.occupiedBlock(handle)
	if err != nil {
		return nil, err
	}

	start := int(top+1) * SlotSize
	end := start + int(size)*SlotSize
	return h.memory[start:end:end], nil
}

func handleForBlock(top int64) Handle {
	return Handle((top + 1) * SlotSize)
}

// occupiedBlock resolves a handle to the slot index of its top tag and its size in slots,
// refusing anything that is not the start of a currently occupied block
func (h *Heap) occupiedBlock(handle Handle) (int64, int64, error) {
	if handle <= NullHandle || handle%SlotSize != 0 {
		return 0, 0, porterr.InvalidHandle("handle %d is not a slot-aligned heap offset", handle)
	}

	heapSize := h.slots[headerHeapSize]
	top := int64(handle)/SlotSize - 1
	if top < headerSlots || top >= heapSize-1 {
		return 0, 0, porterr.InvalidHandle("handle %d is outside the heap", handle)
	}

	tag := h.slots[top]
	if tag > 0 {
		bottom := top + tag + 1
		if bottom < heapSize && h.slots[bottom] == tag {
			return 0, 0, porterr.DoubleFree("block at handle %d is already free", handle)
		}
		return 0, 0, porterr.InvalidHandle("handle %d does not point to an allocation", handle)
	}
	if tag == 0 {
		return 0, 0, porterr.InvalidHandle("handle %d does not point to an allocation", handle)
	}

	size := -tag
	bottom := top + size + 1
	if bottom >= heapSize || h.slots[bottom] != tag {
		return 0, 0, porterr.InvalidHandle("handle %d does not point to an allocation", handle)
	}

	return top, size, nil
}

// slotsForRequest converts a byte count into a slot count, using one slot for empty requests
func slotsForRequest(byteAmount uint) (int64, error) {
	if byteAmount == 0 {
		return 1, nil
	}

	rounded := memutils.AlignUp(byteAmount, SlotSize)
	if rounded < byteAmount {
		return 0, porterr.InvalidParams("request of %d bytes overflows when rounded to slots", byteAmount)
	}

	return int64(rounded / SlotSize), nil
}
