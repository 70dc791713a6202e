package vmem

import "github.com/omrgo/portmem/memutils"

// PageFlags qualify a page size with platform-specific attributes
type PageFlags uint32

var pageFlagsMapping = memutils.NewFlagStringMapping[PageFlags]()

func (f PageFlags) Register(str string) {
	pageFlagsMapping.Register(f, str)
}
func (f PageFlags) String() string {
	return pageFlagsMapping.FlagsToString(f)
}

const (
	// PageFlagsNotUsed is the only flag value on platforms that do not distinguish page types
	PageFlagsNotUsed PageFlags = 1 << iota
	// PageFlagsFixed requests pages that cannot be paged out
	PageFlagsFixed
	// PageFlagsPageable requests pages that may be paged out
	PageFlagsPageable
	// PageFlagsSuperpageAny accepts any superpage type the platform offers
	PageFlagsSuperpageAny
)

// MemoryMode describes the access rights of a reservation and how it should be created
type MemoryMode uint32

var memoryModeMapping = memutils.NewFlagStringMapping[MemoryMode]()

func (m MemoryMode) Register(str string) {
	memoryModeMapping.Register(m, str)
}
func (m MemoryMode) String() string {
	return memoryModeMapping.FlagsToString(m)
}

const (
	ModeRead MemoryMode = 1 << iota
	ModeWrite
	ModeExecute
	// ModeCommit commits the entire reservation as soon as it is reserved
	ModeCommit
	ModeVirtual
	ModeTopDown
	ModePersist
)

// Options change how ReserveMemoryEx searches for an address and page size
type Options uint32

var optionsMapping = memutils.NewFlagStringMapping[Options]()

func (o Options) Register(str string) {
	optionsMapping.Register(o, str)
}
func (o Options) String() string {
	return optionsMapping.FlagsToString(o)
}

const (
	// OptionBottomUp searches the requested range from the lowest address upward
	OptionBottomUp Options = 1 << iota
	// OptionTopDown searches the requested range from the highest address downward
	OptionTopDown
	// OptionStrictAddress fails the reservation instead of accepting memory outside the
	// requested range
	OptionStrictAddress
	// OptionStrictPageSize fails the reservation instead of falling back to the base page size
	OptionStrictPageSize
	// OptionUse2To32GArea is accepted for compatibility and ignored on every supported platform
	OptionUse2To32GArea
	// OptionQuick consults the process memory map to pick a free address before reserving
	OptionQuick
	// Option31BitArea is accepted for compatibility and ignored on every supported platform
	Option31BitArea
	// OptionAddressHint makes a single attempt at the start address before reserving anywhere
	OptionAddressHint
)

// ManagerCreateFlags indicate specific Manager behaviors to activate or deactivate
type ManagerCreateFlags int32

var managerCreateFlagsMapping = memutils.NewFlagStringMapping[ManagerCreateFlags]()

func (f ManagerCreateFlags) Register(str string) {
	managerCreateFlagsMapping.Register(f, str)
}
func (f ManagerCreateFlags) String() string {
	return managerCreateFlagsMapping.FlagsToString(f)
}

const (
	// ManagerCreateExternallySynchronized ensures that the Manager and its regions will not be
	// synchronized internally. The consumer must guarantee they are used from only one goroutine
	// at a time or are synchronized by some other mechanism.
	ManagerCreateExternallySynchronized ManagerCreateFlags = 1 << iota
)

// AllocatorKind records which OS facility produced a reservation
type AllocatorKind int

const (
	AllocatorUnknown AllocatorKind = iota
	AllocatorMmap
	AllocatorSharedMemory
	AllocatorVirtualAlloc
	AllocatorSimulated
)

var allocatorKindNames = map[AllocatorKind]string{
	AllocatorUnknown:      "Unknown",
	AllocatorMmap:         "Mmap",
	AllocatorSharedMemory: "SharedMemory",
	AllocatorVirtualAlloc: "VirtualAlloc",
	AllocatorSimulated:    "Simulated",
}

func (k AllocatorKind) String() string {
	name, ok := allocatorKindNames[k]
	if !ok {
		return "Unknown"
	}
	return name
}

// RegionState is the lifecycle position of a Region
type RegionState int

const (
	RegionUnreserved RegionState = iota
	RegionReserved
	RegionCommitted
	RegionDecommitted
	RegionFreed
)

var regionStateNames = map[RegionState]string{
	RegionUnreserved:  "Unreserved",
	RegionReserved:    "Reserved",
	RegionCommitted:   "Committed",
	RegionDecommitted: "Decommitted",
	RegionFreed:       "Freed",
}

func (s RegionState) String() string {
	name, ok := regionStateNames[s]
	if !ok {
		return "Unknown"
	}
	return name
}

func init() {
	PageFlagsNotUsed.Register("PageFlagsNotUsed")
	PageFlagsFixed.Register("PageFlagsFixed")
	PageFlagsPageable.Register("PageFlagsPageable")
	PageFlagsSuperpageAny.Register("PageFlagsSuperpageAny")

	ModeRead.Register("ModeRead")
	ModeWrite.Register("ModeWrite")
	ModeExecute.Register("ModeExecute")
	ModeCommit.Register("ModeCommit")
	ModeVirtual.Register("ModeVirtual")
	ModeTopDown.Register("ModeTopDown")
	ModePersist.Register("ModePersist")

	OptionBottomUp.Register("OptionBottomUp")
	OptionTopDown.Register("OptionTopDown")
	OptionStrictAddress.Register("OptionStrictAddress")
	OptionStrictPageSize.Register("OptionStrictPageSize")
	OptionUse2To32GArea.Register("OptionUse2To32GArea")
	OptionQuick.Register("OptionQuick")
	Option31BitArea.Register("Option31BitArea")
	OptionAddressHint.Register("OptionAddressHint")

	ManagerCreateExternallySynchronized.Register("ManagerCreateExternallySynchronized")
}
