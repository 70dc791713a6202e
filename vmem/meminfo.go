package vmem

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessMemoryQuery selects which figure ProcessMemorySize reports
type ProcessMemoryQuery int

const (
	// ProcessMemoryPrivate is resident memory that is not shared with other processes
	ProcessMemoryPrivate ProcessMemoryQuery = iota
	// ProcessMemoryPhysical is the resident set size
	ProcessMemoryPhysical
	// ProcessMemoryVirtual is the size of the whole address space
	ProcessMemoryVirtual
)

var processMemoryQueryNames = map[ProcessMemoryQuery]string{
	ProcessMemoryPrivate:  "Private",
	ProcessMemoryPhysical: "Physical",
	ProcessMemoryVirtual:  "Virtual",
}

func (q ProcessMemoryQuery) String() string {
	name, ok := processMemoryQueryNames[q]
	if !ok {
		return "Unknown"
	}
	return name
}

// AvailablePhysicalMemory is the amount of memory that can be handed to new allocations without
// swapping
func AvailablePhysicalMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, porterr.NewPlatformError("query physical memory", err)
	}

	return vm.Available, nil
}

// ProcessMemorySize reports the memory used by the current process
func ProcessMemorySize(query ProcessMemoryQuery) (uint64, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, porterr.NewPlatformError("open process", err)
	}

	switch query {
	case ProcessMemoryPrivate:
		return privateMemorySize(proc)
	case ProcessMemoryPhysical, ProcessMemoryVirtual:
		info, err := proc.MemoryInfo()
		if err != nil {
			return 0, porterr.NewPlatformError("query process memory", err)
		}
		if query == ProcessMemoryPhysical {
			return info.RSS, nil
		}
		return info.VMS, nil
	default:
		return 0, porterr.InvalidParams("unknown process memory query %d", query)
	}
}

func (m *Manager) AvailablePhysicalMemory() (uint64, error) {
	size, err := AvailablePhysicalMemory()
	if err != nil {
		return 0, m.fail(err)
	}
	return size, nil
}

func (m *Manager) ProcessMemorySize(query ProcessMemoryQuery) (uint64, error) {
	size, err := ProcessMemorySize(query)
	if err != nil {
		return 0, m.fail(errors.Wrapf(err, "%s memory size", query))
	}
	return size, nil
}
