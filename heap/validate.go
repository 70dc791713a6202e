package heap

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/memutils"
)

// Validate walks every block in the heap and verifies the structural invariants: matching
// boundary tags, no pair of adjacent free blocks, a block chain that exactly covers the heap,
// and a first-free cursor that points at the lowest free block.
func (h *Heap) Validate() error {
	heapSize := h.slots[headerHeapSize]
	if heapSize <= HeapManagementOverhead/SlotSize || heapSize > int64(len(h.slots)) {
		return errors.Errorf("heap size of %d slots is outside the %d slots of memory behind the heap", heapSize, len(h.slots))
	}

	firstFreeBlock := h.slots[headerFirstFreeBlock]
	lastAllocSlot := h.slots[headerLastAllocSlot]
	if lastAllocSlot < 0 || lastAllocSlot >= heapSize {
		return errors.Errorf("last allocation slot %d is outside the heap", lastAllocSlot)
	}

	lowestFree := int64(0)
	previousFree := false
	cursor := int64(headerSlots)
	for cursor < heapSize {
		tag := h.slots[cursor]
		if tag == 0 {
			return errors.Errorf("empty boundary tag at slot %d", cursor)
		}

		size := tag
		if size < 0 {
			size = -size
		}

		bottom := cursor + size + 1
		if bottom >= heapSize {
			return errors.Errorf("block at slot %d with %d slots runs past the end of the heap", cursor, size)
		}

		if h.slots[bottom] != tag {
			return errors.Errorf("block at slot %d has top tag %d but bottom tag %d", cursor, tag, h.slots[bottom])
		}

		if tag > 0 {
			if previousFree {
				return errors.Errorf("free block at slot %d was not coalesced with the free block before it", cursor)
			}
			if lowestFree == 0 {
				lowestFree = cursor
			}
		}
		previousFree = tag > 0

		cursor = bottom + 1
	}

	if cursor != heapSize {
		return errors.Errorf("block chain ends at slot %d but the heap has %d slots", cursor, heapSize)
	}

	if firstFreeBlock != lowestFree {
		return errors.Errorf("first free block is recorded as slot %d but the lowest free block is at slot %d", firstFreeBlock, lowestFree)
	}

	return nil
}

// VisitAllRegions calls handleBlock for every block in address order. offset and size are in
// bytes and describe the payload; handle is NullHandle for free blocks. Returning an error
// from handleBlock stops the walk and returns that error.
func (h *Heap) VisitAllRegions(handleBlock func(handle Handle, offset int, size int, free bool) error) error {
	heapSize := h.slots[headerHeapSize]
	cursor := int64(headerSlots)

	for cursor < heapSize-1 {
		tag := h.slots[cursor]
		if tag == 0 {
			return errors.Errorf("empty boundary tag at slot %d", cursor)
		}

		free := tag > 0
		size := tag
		handle := NullHandle
		if !free {
			size = -tag
			handle = handleForBlock(cursor)
		}

		err := handleBlock(handle, int(cursor+1)*SlotSize, int(size)*SlotSize, free)
		if err != nil {
			return err
		}

		cursor += size + 2
	}

	return nil
}

// FreeBytes is the total payload of all free blocks. A single allocation of this size will only
// succeed if the heap has exactly one free block.
func (h *Heap) FreeBytes() int {
	total := 0
	_ = h.VisitAllRegions(func(handle Handle, offset int, size int, free bool) error {
		if free {
			total += size
		}
		return nil
	})
	return total
}

func (h *Heap) AddStatistics(stats *memutils.Statistics) {
	stats.RegionCount++
	stats.RegionBytes += h.TotalBytes()

	_ = h.VisitAllRegions(func(handle Handle, offset int, size int, free bool) error {
		if !free {
			stats.AllocationCount++
			stats.AllocationBytes += size
		}
		return nil
	})
}

func (h *Heap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.RegionCount++
	stats.RegionBytes += h.TotalBytes()

	_ = h.VisitAllRegions(func(handle Handle, offset int, size int, free bool) error {
		if free {
			stats.AddFreeRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

// PrintDetailedMap writes a JSON description of the heap and every block in it
func (h *Heap) PrintDetailedMap(writer *jwriter.Writer) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	obj := writer.Object()
	defer obj.End()

	obj.Name("TotalBytes").Int(h.TotalBytes())
	obj.Name("CapacityBytes").Int(h.CapacityBytes())
	stats.PrintJSON(&obj)

	blocks := obj.Name("Blocks").Array()
	defer blocks.End()

	_ = h.VisitAllRegions(func(handle Handle, offset int, size int, free bool) error {
		blockObj := blocks.Object()
		defer blockObj.End()

		blockObj.Name("Offset").Int(offset)
		blockObj.Name("Size").Int(size)
		blockObj.Name("Free").Bool(free)
		return nil
	})
}
