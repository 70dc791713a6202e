package vmem

import (
	"fmt"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/internal/utils"
	"github.com/omrgo/portmem/memcat"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
)

// Region is a single reservation of address space. Regions are created by
// Manager.ReserveMemoryEx and released by Manager.FreeMemory; after that every operation on
// them fails.
type Region struct {
	mutex *utils.OptionalRWMutex
	owner *Manager

	address   uintptr
	size      uintptr
	pageSize  PageSize
	mode      MemoryMode
	allocator AllocatorKind
	category  memcat.ID
	counters  *memcat.Category

	state          RegionState
	committed      []uint64
	committedPages int
}

func newRegion(owner *Manager, address uintptr, size uintptr, pageSize PageSize, mode MemoryMode, category memcat.ID, counters *memcat.Category) *Region {
	memutils.DebugCheckPow2(pageSize.Size, "page size")
	pageCount := int(size / pageSize.Size)
	return &Region{
		mutex: &owner.regionsMutex,
		owner: owner,

		address:   address,
		size:      size,
		pageSize:  pageSize,
		mode:      mode,
		allocator: owner.provider.Kind(),
		category:  category,
		counters:  counters,

		state:     RegionReserved,
		committed: make([]uint64, (pageCount+63)/64),
	}
}

func (r *Region) Address() uintptr {
	return r.address
}

func (r *Region) Size() uintptr {
	return r.size
}

// PageSize is the page size actually used, which can differ from the one requested
func (r *Region) PageSize() uintptr {
	return r.pageSize.Size
}

func (r *Region) PageFlags() PageFlags {
	return r.pageSize.Flags
}

func (r *Region) Mode() MemoryMode {
	return r.mode
}

func (r *Region) Allocator() AllocatorKind {
	return r.allocator
}

func (r *Region) Category() memcat.ID {
	return r.category
}

func (r *Region) State() RegionState {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.state
}

func (r *Region) CommittedBytes() uintptr {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return uintptr(r.committedPages) * r.pageSize.Size
}

// IsCommitted reports whether every page in [address, address+byteAmount) is committed
func (r *Region) IsCommitted(address uintptr, byteAmount uintptr) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	if !r.rangeIsValid(address, byteAmount) || byteAmount == 0 {
		return false
	}

	first, last := r.pageRange(address, byteAmount)
	for page := first; page <= last; page++ {
		if r.committed[page/64]&(1<<(page%64)) == 0 {
			return false
		}
	}
	return true
}

// Bytes exposes the whole reservation as a slice. Only committed pages may be touched. It
// returns nil when the provider cannot map memory into the process, or when the region has
// been freed.
func (r *Region) Bytes() []byte {
	mapper, ok := r.owner.provider.(MemoryMapper)
	if !ok || r.State() == RegionFreed {
		return nil
	}

	return mapper.Bytes(r.address, r.size)
}

// rangeIsValid checks that [address, address+byteAmount) lies within the reservation without
// wrapping around the top of the address space
func (r *Region) rangeIsValid(address uintptr, byteAmount uintptr) bool {
	requestedUpperLimit := address + byteAmount - 1
	if requestedUpperLimit+1 < byteAmount {
		return false
	}

	realUpperLimit := r.address + r.size - 1
	return address >= r.address && requestedUpperLimit <= realUpperLimit
}

func (r *Region) checkRange(address uintptr, byteAmount uintptr) error {
	if r.state == RegionFreed || r.state == RegionUnreserved {
		return porterr.InvalidParams("region at 0x%x is %s", r.address, r.state)
	}

	if !r.rangeIsValid(address, byteAmount) {
		return porterr.InvalidParams("range 0x%x+0x%x is outside the reservation 0x%x+0x%x",
			address, byteAmount, r.address, r.size)
	}

	err := memutils.CheckAligned(address, r.pageSize.Size, "address")
	if err == nil {
		err = memutils.CheckAligned(byteAmount, r.pageSize.Size, "byte amount")
	}
	if err != nil {
		return errors.Mark(err, porterr.ErrInvalidParams)
	}

	return nil
}

// pageRange converts a validated, nonempty byte range into inclusive page indices
func (r *Region) pageRange(address uintptr, byteAmount uintptr) (int, int) {
	first := int((address - r.address) / r.pageSize.Size)
	last := int((address + byteAmount - 1 - r.address) / r.pageSize.Size)
	return first, last
}

func (r *Region) markCommitted(address uintptr, byteAmount uintptr) {
	first, last := r.pageRange(address, byteAmount)
	for page := first; page <= last; page++ {
		word, bit := page/64, uint64(1)<<(page%64)
		if r.committed[word]&bit == 0 {
			r.committed[word] |= bit
			r.committedPages++
		}
	}

	r.state = RegionCommitted
}

func (r *Region) markDecommitted(address uintptr, byteAmount uintptr) {
	first, last := r.pageRange(address, byteAmount)
	for page := first; page <= last; page++ {
		word, bit := page/64, uint64(1)<<(page%64)
		if r.committed[word]&bit != 0 {
			r.committed[word] &^= bit
			r.committedPages--
		}
	}

	if r.committedPages == 0 {
		r.state = RegionDecommitted
	}
}

func (r *Region) Validate() error {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.validate()
}

func (r *Region) validate() error {
	if r.pageSize.Size == 0 || r.size%r.pageSize.Size != 0 {
		return errors.Errorf("region at 0x%x has size 0x%x, which is not a multiple of its page size 0x%x", r.address, r.size, r.pageSize.Size)
	}

	count := 0
	for _, word := range r.committed {
		count += bits.OnesCount64(word)
	}
	if count != r.committedPages {
		return errors.Errorf("region at 0x%x counts %d committed pages but its page map holds %d", r.address, r.committedPages, count)
	}

	if r.state == RegionCommitted && count == 0 {
		return errors.Errorf("region at 0x%x is committed but has no committed pages", r.address)
	}

	return nil
}

func (r *Region) printJSON(obj *jwriter.ObjectState) {
	obj.Name("Address").String(fmt.Sprintf("0x%x", r.address))
	obj.Name("Size").Int(int(r.size))
	obj.Name("PageSize").Int(int(r.pageSize.Size))
	obj.Name("PageFlags").String(r.pageSize.Flags.String())
	obj.Name("Mode").String(r.mode.String())
	obj.Name("Allocator").String(r.allocator.String())
	obj.Name("Category").Int(int(r.category))
	obj.Name("State").String(r.state.String())
	obj.Name("CommittedBytes").Int(r.committedPages * int(r.pageSize.Size))
}
