// Package vmem reserves, commits, decommits and releases regions of virtual address space
// through a pluggable ReservationProvider, and negotiates which page size a reservation can use.
package vmem

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/internal/utils"
	"github.com/omrgo/portmem/memcat"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// CreateOptions contains optional settings when creating a Manager. It is valid to leave all
// the fields blank.
type CreateOptions struct {
	// Flags indicates specific Manager behaviors to activate or deactivate
	Flags ManagerCreateFlags

	// Capabilities is the page size table to reserve against. If it is nil, the running system
	// is inspected with DetectCapabilities.
	Capabilities *PlatformCapabilities

	// Categories receives the byte counts of every reservation. If it is nil, the Manager keeps
	// a private registry, available from Manager.Categories.
	Categories *memcat.Registry

	// ErrorSink is told about every failing operation. If it is nil, the Manager keeps a private
	// porterr.LastError, available from Manager.LastError.
	ErrorSink porterr.Sink

	// DisableAdviseOSOnFree stops DecommitMemory from telling the OS that decommitted pages
	// can be discarded. It can be changed later with SetAdviseOSOnFree.
	DisableAdviseOSOnFree bool

	// EnableHugepageAdvice asks the OS to back base page reservations with transparent huge
	// pages, when the platform supports it
	EnableHugepageAdvice bool

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when regions
	// are reserved and freed
	MemoryCallbackOptions *MemoryCallbackOptions
}

// Manager owns a set of reserved regions. It is safe for concurrent use unless it was created
// with ManagerCreateExternallySynchronized.
type Manager struct {
	logger       *slog.Logger
	provider     ReservationProvider
	capabilities *PlatformCapabilities
	resolver     PageSizeResolver
	categories   *memcat.Registry
	errorSink    porterr.Sink
	lastError    *porterr.LastError
	callbacks    memoryCallbacks

	adviseOSOnFree       atomic.Bool
	enableHugepageAdvice bool

	regionsMutex utils.OptionalRWMutex
	regions      *swiss.Map[uintptr, *Region]
	regionOrder  []*Region
}

// New creates a new Manager
//
// provider - The OS layer that will perform the reservations
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, provider ReservationProvider, options CreateOptions) (*Manager, error) {
	if provider == nil {
		return nil, porterr.InvalidParams("a reservation provider is required")
	}

	useMutex := options.Flags&ManagerCreateExternallySynchronized == 0

	manager := &Manager{
		logger:       logger,
		provider:     provider,
		capabilities: options.Capabilities,
		categories:   options.Categories,
		errorSink:    options.ErrorSink,

		enableHugepageAdvice: options.EnableHugepageAdvice,

		regionsMutex: utils.OptionalRWMutex{UseMutex: useMutex},
		regions:      swiss.NewMap[uintptr, *Region](16),
	}
	manager.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Manager:   manager,
	}
	manager.adviseOSOnFree.Store(!options.DisableAdviseOSOnFree)

	if manager.capabilities == nil {
		var err error
		manager.capabilities, err = DetectCapabilities()
		if err != nil {
			return nil, err
		}
	}

	err := manager.capabilities.Validate()
	if err != nil {
		return nil, err
	}
	manager.resolver = NewPageSizeResolver(manager.capabilities)

	if manager.categories == nil {
		manager.categories = memcat.NewRegistry(useMutex)
	}

	if manager.errorSink == nil {
		manager.lastError = &porterr.LastError{}
		manager.errorSink = manager.lastError
	}

	return manager, nil
}

// Categories returns the registry that reservations are counted against
func (m *Manager) Categories() *memcat.Registry {
	return m.categories
}

// LastError returns the Manager's private error sink, or nil when CreateOptions.ErrorSink was
// provided
func (m *Manager) LastError() *porterr.LastError {
	return m.lastError
}

func (m *Manager) Capabilities() *PlatformCapabilities {
	return m.capabilities
}

func (m *Manager) SetAdviseOSOnFree(advise bool) {
	m.adviseOSOnFree.Store(advise)
}

func (m *Manager) AdviseOSOnFree() bool {
	return m.adviseOSOnFree.Load()
}

func (m *Manager) SupportedPageSizes() []PageSize {
	return m.capabilities.SupportedPageSizes()
}

func (m *Manager) DefaultLargePageSize(mode MemoryMode) (PageSize, bool) {
	return m.capabilities.DefaultLargePageSize(mode)
}

func (m *Manager) FindValidPageSize(mode MemoryMode, size uintptr, flags PageFlags) (PageSize, bool) {
	return m.resolver.FindValidPageSize(mode, size, flags)
}

func (m *Manager) basePageSize() PageSize {
	return m.capabilities.BasePageSize()
}

// ParamsInit returns reservation parameters with every field at its default: anywhere in the
// address space, base pages, read/write, uncategorized
func (m *Manager) ParamsInit() Params {
	base := m.basePageSize()
	return Params{
		StartAddress: 0,
		EndAddress:   MaxAddress,
		PageSize:     base.Size,
		PageFlags:    base.Flags,
		Mode:         ModeRead | ModeWrite,
		Category:     memcat.CategoryUnknown,
	}
}

func (m *Manager) fail(err error) error {
	m.errorSink.SetLastError(err)
	return err
}

func (m *Manager) register(region *Region) {
	m.regions.Put(region.address, region)
	m.regionOrder = append(m.regionOrder, region)
}

func (m *Manager) unregister(region *Region) {
	m.regions.Delete(region.address)

	index := slices.Index(m.regionOrder, region)
	if index >= 0 {
		m.regionOrder = slices.Delete(m.regionOrder, index, index+1)
	}
}

// openRegion checks that region was reserved by this Manager and has not been freed
func (m *Manager) openRegion(region *Region) error {
	if region == nil {
		return porterr.InvalidParams("region is nil")
	}

	if region.owner != m {
		return porterr.InvalidParams("region at 0x%x was not reserved by this manager", region.address)
	}

	registered, ok := m.regions.Get(region.address)
	if !ok || registered != region {
		return porterr.InvalidParams("region at 0x%x is not open", region.address)
	}

	return nil
}

// Regions returns the open regions in the order they were reserved
func (m *Manager) Regions() []*Region {
	m.regionsMutex.RLock()
	defer m.regionsMutex.RUnlock()

	return slices.Clone(m.regionOrder)
}

func (m *Manager) AddStatistics(stats *memutils.Statistics) {
	m.regionsMutex.RLock()
	defer m.regionsMutex.RUnlock()

	for _, region := range m.regionOrder {
		stats.RegionCount++
		stats.RegionBytes += int(region.size)
		if region.committedPages > 0 {
			stats.AllocationCount++
			stats.AllocationBytes += region.committedPages * int(region.pageSize.Size)
		}
	}
}

// PrintDetailedMap writes a JSON description of the page size table, the category counters and
// every open region
func (m *Manager) PrintDetailedMap(writer *jwriter.Writer) {
	var stats memutils.Statistics
	stats.Clear()
	m.AddStatistics(&stats)

	obj := writer.Object()
	defer obj.End()

	stats.PrintJSON(&obj)

	pageSizes := obj.Name("PageSizes").Array()
	for _, pageSize := range m.capabilities.SupportedPageSizes() {
		pageSizeObj := pageSizes.Object()
		pageSizeObj.Name("Size").Int(int(pageSize.Size))
		pageSizeObj.Name("Flags").String(pageSize.Flags.String())
		pageSizeObj.End()
	}
	pageSizes.End()

	obj.Name("Categories")
	m.categories.BuildStatsString(writer)

	m.regionsMutex.RLock()
	defer m.regionsMutex.RUnlock()

	regions := obj.Name("Regions").Array()
	defer regions.End()

	for _, region := range m.regionOrder {
		regionObj := regions.Object()
		region.printJSON(&regionObj)
		regionObj.End()
	}
}

// Validate checks that the region table is consistent and every open region's page map agrees
// with its counters
func (m *Manager) Validate() error {
	m.regionsMutex.RLock()
	defer m.regionsMutex.RUnlock()

	if m.regions.Count() != len(m.regionOrder) {
		return errors.Errorf("region table holds %d regions but the region list holds %d", m.regions.Count(), len(m.regionOrder))
	}

	for index, region := range m.regionOrder {
		registered, ok := m.regions.Get(region.address)
		if !ok || registered != region {
			return errors.Errorf("region %d at 0x%x is missing from the region table", index, region.address)
		}
		if region.state == RegionFreed || region.state == RegionUnreserved {
			return errors.Errorf("region %d at 0x%x is open but %s", index, region.address, region.state)
		}

		err := region.validate()
		if err != nil {
			return err
		}

		for _, other := range m.regionOrder[index+1:] {
			if region.address < other.address+other.size && other.address < region.address+region.size {
				return errors.Errorf("regions at 0x%x and 0x%x overlap", region.address, other.address)
			}
		}
	}

	return nil
}

// Destroy releases every region that is still open. Each one is logged as unreleased memory,
// since callers are expected to free their regions before destroying the Manager. The free
// callback runs for every released region once the region list is unlocked.
func (m *Manager) Destroy() error {
	m.regionsMutex.Lock()

	var result error
	released := m.regionOrder
	for _, region := range released {
		m.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed region",
			slog.String("Address", fmt.Sprintf("0x%x", region.address)),
			slog.Int("Size", int(region.size)),
			slog.Int("PageSize", int(region.pageSize.Size)),
			slog.Int("Category", int(region.category)),
		)

		region.state = RegionFreed
		err := m.provider.Free(region.address, region.size)
		if err != nil {
			result = errors.CombineErrors(result, errors.Wrapf(err, "releasing region at 0x%x", region.address))
		}
		region.counters.Decrement(region.size)
		m.regions.Delete(region.address)
	}
	m.regionOrder = nil
	m.regionsMutex.Unlock()

	for _, region := range released {
		m.callbacks.Free(region)
	}

	return result
}
