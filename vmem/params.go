package vmem

import "github.com/omrgo/portmem/memcat"

// MaxAddress is the highest address a reservation range can name
const MaxAddress = ^uintptr(0)

// Params describes a reservation request. Build one with Manager.ParamsInit so that unset
// fields get the platform defaults.
type Params struct {
	// StartAddress and EndAddress bound the address the reservation may start at. EndAddress
	// is inclusive. The range is only a preference unless OptionStrictAddress is set.
	StartAddress uintptr
	EndAddress   uintptr
	// ByteAmount must be a multiple of PageSize
	ByteAmount uintptr

	Mode MemoryMode
	// PageSize and PageFlags are only a preference unless OptionStrictPageSize is set
	PageSize  uintptr
	PageFlags PageFlags
	Options   Options
	Category  memcat.ID

	// AlignmentInBytes is an additional alignment for the start of the reservation, on top of
	// the page size. 0 means page alignment only.
	AlignmentInBytes uintptr
}

func (p Params) isAnywhere() bool {
	return p.StartAddress == 0 && p.EndAddress == MaxAddress
}

// isStrictAndOutOfRange reports whether address violates a strict address request
func (p Params) isStrictAndOutOfRange(address uintptr) bool {
	return p.Options&OptionStrictAddress != 0 && (address < p.StartAddress || address > p.EndAddress)
}
