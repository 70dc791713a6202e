package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
)

// Allocate suballocates byteAmount bytes, rounded up to whole slots. A zero-byte request still
// receives one slot. The lowest-addressed free block that is large enough is used; if none
// exists the call fails with porterr.ErrHeapFull and the heap is unchanged.
func (h *Heap) Allocate(byteAmount uint) (Handle, error) {
	memutils.DebugValidate(h)

	heapSize := h.slots[headerHeapSize]
	firstFreeBlock := h.slots[headerFirstFreeBlock]

	if firstFreeBlock == 0 {
		return NullHandle, errors.Wrap(porterr.ErrHeapFull, "no free blocks remain")
	}

	requestSize, err := slotsForRequest(byteAmount)
	if err != nil {
		return NullHandle, err
	}

	if requestSize > heapSize {
		return NullHandle, errors.Wrapf(porterr.ErrHeapFull, "request of %d bytes is larger than the heap", byteAmount)
	}

	lastSlot := heapSize - 1
	var cursor, largestChunkSize int64

	// A block at least as large as largestAllocSizeVisited is known to exist after the first
	// free block. Anything larger cannot be before lastAllocSlot, so resume from there.
	if requestSize <= h.slots[headerLargestAllocSizeVisited] {
		cursor = firstFreeBlock
	} else {
		cursor = h.slots[headerLastAllocSlot]
		largestChunkSize = h.slots[headerLargestAllocSizeVisited]
	}

	var chunkSize int64
	found := false
	for cursor < lastSlot {
		chunkSize = h.slots[cursor]
		if chunkSize == 0 {
			return NullHandle, errors.Wrapf(porterr.ErrPreconditionViolation, "heap corrupted: empty boundary tag at slot %d", cursor)
		}

		if chunkSize < 0 {
			cursor += -chunkSize + 2
			continue
		}

		if chunkSize >= requestSize {
			found = true
			break
		}

		cursor += chunkSize + 2
		if chunkSize > largestChunkSize {
			largestChunkSize = chunkSize
		}
	}

	if !found {
		return NullHandle, errors.Wrapf(porterr.ErrHeapFull, "no free block can hold %d bytes", byteAmount)
	}

	isFirstFree := cursor == firstFreeBlock
	residualSize := chunkSize - requestSize

	if residualSize >= minimumSplitSlots {
		h.slots[cursor] = -requestSize
		h.slots[cursor+requestSize+1] = -requestSize

		residualSize -= 2
		remainder := cursor + requestSize + 2
		h.slots[remainder] = residualSize
		h.slots[cursor+chunkSize+1] = residualSize

		if isFirstFree {
			h.slots[headerFirstFreeBlock] = remainder
			h.slots[headerLastAllocSlot] = remainder
			h.slots[headerLargestAllocSizeVisited] = 0
		} else {
			h.slots[headerLastAllocSlot] = remainder
			h.slots[headerLargestAllocSizeVisited] = largestChunkSize
		}
	} else {
		// too small to leave a usable free block behind: hand out the whole chunk
		h.slots[cursor] = -chunkSize
		h.slots[cursor+chunkSize+1] = -chunkSize

		if isFirstFree {
			h.slots[headerFirstFreeBlock] = 0
			h.findFirstFreeFrom(cursor+chunkSize+2, true)
		}
	}

	return handleForBlock(cursor), nil
}

// findFirstFreeFrom scans forward from a block boundary and records the first free block it
// finds. The first free block stays 0 if there are none.
func (h *Heap) findFirstFreeFrom(cursor int64, resetSearch bool) {
	lastSlot := h.slots[headerHeapSize] - 1

	for cursor < lastSlot {
		size := h.slots[cursor]
		if size > 0 {
			h.slots[headerFirstFreeBlock] = cursor
			if resetSearch {
				h.slots[headerLastAllocSlot] = cursor
				h.slots[headerLargestAllocSizeVisited] = 0
			}
			return
		}

		cursor += -size + 2
	}
}

// Free releases an allocation and merges it with any free neighbors. Freeing NullHandle is a
// no-op. Handles that do not refer to a live allocation are rejected with
// porterr.ErrDoubleFree or porterr.ErrInvalidHandle and leave the heap untouched.
func (h *Heap) Free(handle Handle) error {
	if handle == NullHandle {
		return nil
	}

	memutils.DebugValidate(h)

	top, size, err := h.occupiedBlock(handle)
	if err != nil {
		return err
	}

	firstFreeBlock := h.slots[headerFirstFreeBlock]
	totalSlots := h.slots[headerHeapSize]
	blockSize := size

	if top != headerSlots {
		previousBottom := top - 1
		previousSize := h.slots[previousBottom]

		if previousSize > 0 {
			blockSize += previousSize + 2
			top = previousBottom - previousSize - 1
			if previousBottom == h.slots[headerLastAllocSlot]-1 {
				h.slots[headerLastAllocSlot] = top
			}
		}
	}

	h.slots[top] = blockSize
	h.slots[top+blockSize+1] = blockSize

	if top+blockSize+1 != totalSlots-1 {
		nextTop := top + blockSize + 2
		nextSize := h.slots[nextTop]

		if nextSize > 0 {
			blockSize += nextSize + 2
			h.slots[top] = blockSize
			h.slots[top+blockSize+1] = blockSize
			if nextTop == h.slots[headerLastAllocSlot] {
				h.slots[headerLastAllocSlot] = top
			}
		}
	}

	if firstFreeBlock == 0 || top < firstFreeBlock {
		h.slots[headerFirstFreeBlock] = top
		h.slots[headerLargestAllocSizeVisited] = 0
		h.slots[headerLastAllocSlot] = top
	} else if top < h.slots[headerLastAllocSlot] {
		if blockSize > h.slots[headerLargestAllocSizeVisited] {
			h.slots[headerLargestAllocSizeVisited] = blockSize
		}
	}

	return nil
}

// Reallocate resizes an allocation, in place where the following block allows it and by
// relocation otherwise. Relocated allocations keep their contents. When the resize cannot be
// satisfied the original allocation is left exactly as it was and porterr.ErrHeapFull is
// returned. Reallocating NullHandle is the same as calling Allocate.
func (h *Heap) Reallocate(handle Handle, byteAmount uint) (Handle, error) {
	if handle == NullHandle {
		return h.Allocate(byteAmount)
	}

	memutils.DebugValidate(h)

	top, blockSize, err := h.occupiedBlock(handle)
	if err != nil {
		return NullHandle, err
	}

	requestSize, err := slotsForRequest(byteAmount)
	if err != nil {
		return NullHandle, err
	}

	growAmount := requestSize - blockSize
	if growAmount == 0 {
		return handle, nil
	}

	heapSize := h.slots[headerHeapSize]
	isLastBlock := top+blockSize+1 == heapSize-1

	var nextTop, nextSize int64
	nextIsFirstFree := false
	if !isLastBlock {
		nextTop = top + blockSize + 2
		nextSize = h.slots[nextTop]

		firstFreeBlock := h.slots[headerFirstFreeBlock]
		nextIsFirstFree = firstFreeBlock != 0 && nextTop == firstFreeBlock
	}

	result := handle
	var resultErr error

	if growAmount > 0 {
		if isLastBlock || nextSize < 0 || nextSize+2 < growAmount {
			result, resultErr = h.relocate(handle, blockSize, byteAmount)
		} else {
			residualSize := nextSize + 2 - growAmount

			if residualSize >= minimumSplitSlots {
				blockSize += growAmount
				h.slots[top] = -blockSize
				h.slots[top+blockSize+1] = -blockSize

				nextTop = top + blockSize + 2
				nextSize -= growAmount
				h.slots[nextTop] = nextSize
				h.slots[nextTop+nextSize+1] = nextSize

				if nextIsFirstFree {
					h.slots[headerFirstFreeBlock] = nextTop
				}
			} else {
				// not enough left over for a block of its own, swallow the neighbor whole
				blockSize += growAmount + residualSize
				h.slots[top] = -blockSize
				h.slots[top+blockSize+1] = -blockSize

				if nextIsFirstFree {
					h.slots[headerFirstFreeBlock] = 0
					h.findFirstFreeFrom(top+blockSize+2, false)
				}
			}
		}
	} else {
		if !isLastBlock && nextSize > 0 {
			// hand the released slots to the free block that follows
			blockSize += growAmount
			h.slots[top] = -blockSize
			h.slots[top+blockSize+1] = -blockSize

			nextTop = top + blockSize + 2
			nextSize -= growAmount
			h.slots[nextTop] = nextSize
			h.slots[nextTop+nextSize+1] = nextSize

			if nextIsFirstFree {
				h.slots[headerFirstFreeBlock] = nextTop
			}
		} else if growAmount < -2 {
			blockSize += growAmount
			h.slots[top] = -blockSize
			h.slots[top+blockSize+1] = -blockSize

			nextTop = top + blockSize + 2
			nextSize = -growAmount - 2
			h.slots[nextTop] = nextSize
			h.slots[nextTop+nextSize+1] = nextSize

			firstFreeBlock := h.slots[headerFirstFreeBlock]
			if firstFreeBlock == 0 || nextTop < firstFreeBlock {
				h.slots[headerFirstFreeBlock] = nextTop
			}
		}
	}

	h.slots[headerLargestAllocSizeVisited] = 0
	h.slots[headerLastAllocSlot] = h.slots[headerFirstFreeBlock]

	return result, resultErr
}

func (h *Heap) relocate(handle Handle, blockSize int64, byteAmount uint) (Handle, error) {
	newHandle, err := h.Allocate(byteAmount)
	if err != nil {
		return NullHandle, err
	}

	oldStart := int(handle)
	newStart := int(newHandle)
	copy(h.memory[newStart:newStart+int(blockSize)*SlotSize], h.memory[oldStart:oldStart+int(blockSize)*SlotSize])

	err = h.Free(handle)
	if err != nil {
		return NullHandle, err
	}

	return newHandle, nil
}

// QuerySize returns the usable size in bytes of an allocation. This is the slot-rounded size,
// which can be larger than the size that was requested.
func (h *Heap) QuerySize(handle Handle) (uint, error) {
	_, size, err := h.occupiedBlock(handle)
	if err != nil {
		return 0, err
	}

	return uint(size) * SlotSize, nil
}

// Grow extends the heap by growAmount bytes (rounded down to slots) into the memory immediately
// following it. The extra memory must already be part of the slice the heap was created over,
// between its length and its capacity. Growth by four slots or fewer is refused because it
// cannot hold a useful block.
func (h *Heap) Grow(growAmount uint) error {
	memutils.DebugValidate(h)

	numSlots := int64(memutils.AlignDown(growAmount, SlotSize) / SlotSize)
	if numSlots < minimumGrowSlots {
		return errors.Wrapf(porterr.ErrInsufficientSpace, "growing by %d bytes does not leave room for a block", growAmount)
	}

	heapSize := h.slots[headerHeapSize]
	if heapSize+numSlots > int64(len(h.slots)) {
		return errors.Wrapf(porterr.ErrInsufficientSpace, "growing by %d bytes exceeds the %d bytes of memory behind the heap", growAmount, h.CapacityBytes())
	}

	tail := h.slots[heapSize-1]
	if tail < 0 {
		h.slots[heapSize] = numSlots - 2
		h.slots[heapSize+numSlots-1] = numSlots - 2
	} else {
		// the last block is free, extend it over the new slots
		h.slots[heapSize-tail-2] = numSlots + tail
		h.slots[heapSize+numSlots-1] = numSlots + tail
	}

	if h.slots[headerFirstFreeBlock] == 0 {
		h.slots[headerFirstFreeBlock] = heapSize
	}

	h.slots[headerHeapSize] = heapSize + numSlots
	return nil
}
