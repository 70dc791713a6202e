package vmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/memcat"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
	"golang.org/x/exp/slog"
)

// ReserveMemory reserves byteAmount bytes with the given page size. A nonzero address is a
// preferred location, not a requirement.
func (m *Manager) ReserveMemory(address uintptr, byteAmount uintptr, mode MemoryMode, pageSize uintptr, category memcat.ID) (*Region, error) {
	params := m.ParamsInit()
	if address != 0 {
		params.StartAddress = address
		params.EndAddress = address
	}
	params.ByteAmount = byteAmount
	params.Mode = mode
	params.PageSize = pageSize
	params.PageFlags = PageFlagsNotUsed
	params.Category = category

	return m.ReserveMemoryEx(params)
}

// ReserveMemoryEx reserves a region of address space as described by params. Unless
// OptionStrictPageSize is set, a page size the platform cannot provide falls back to the base
// page size; check Region.PageSize to see what was used. Unless OptionStrictAddress is set, the
// region may lie outside [StartAddress, EndAddress] when nothing inside the range is available.
func (m *Manager) ReserveMemoryEx(params Params) (*Region, error) {
	m.logger.Debug("Manager::ReserveMemoryEx",
		slog.String("StartAddress", fmt.Sprintf("0x%x", params.StartAddress)),
		slog.String("EndAddress", fmt.Sprintf("0x%x", params.EndAddress)),
		slog.Int("ByteAmount", int(params.ByteAmount)),
		slog.Int("PageSize", int(params.PageSize)),
		slog.String("Mode", params.Mode.String()),
		slog.String("Options", params.Options.String()),
	)

	err := validateParams(params)
	if err != nil {
		return nil, m.fail(err)
	}

	m.regionsMutex.Lock()
	region, err := m.reserveMemory(params)
	m.regionsMutex.Unlock()

	if err != nil {
		return nil, m.fail(err)
	}

	m.logger.Debug("    Reserved region",
		slog.String("Address", fmt.Sprintf("0x%x", region.address)),
		slog.Int("PageSize", int(region.pageSize.Size)),
		slog.String("State", region.state.String()),
	)
	m.callbacks.Reserve(region)

	return region, nil
}

func validateParams(params Params) error {
	if params.ByteAmount == 0 {
		return porterr.InvalidParams("cannot reserve 0 bytes")
	}
	if params.PageSize == 0 {
		return porterr.InvalidParams("page size cannot be 0")
	}
	if params.StartAddress > params.EndAddress {
		return porterr.InvalidParams("start address 0x%x is above end address 0x%x", params.StartAddress, params.EndAddress)
	}
	if params.ByteAmount%params.PageSize != 0 {
		return porterr.InvalidParams("byte amount 0x%x is not a multiple of the page size 0x%x", params.ByteAmount, params.PageSize)
	}
	if params.AlignmentInBytes != 0 {
		err := memutils.CheckPow2(params.AlignmentInBytes, "alignment")
		if err != nil {
			return errors.Mark(err, porterr.ErrInvalidParams)
		}
	}
	return nil
}

// searchAlignment combines a page size with the requested alignment. Both are powers of two, so
// the larger is a multiple of the smaller.
func searchAlignment(pageSize uintptr, alignmentInBytes uintptr) (uintptr, error) {
	alignment, granule := pageSize, alignmentInBytes
	if granule > alignment {
		alignment, granule = granule, alignment
	}

	if granule != 0 && alignment%granule != 0 {
		return 0, porterr.InvalidParams("alignment 0x%x is not compatible with the page size 0x%x", alignmentInBytes, pageSize)
	}
	return alignment, nil
}

func (m *Manager) reserveMemory(params Params) (*Region, error) {
	base := m.basePageSize()

	pageSize, index, supported := m.resolver.isSupported(params.PageSize)
	if !supported {
		if params.Options&OptionStrictPageSize != 0 {
			return nil, porterr.UnsupportedPageSize("page size 0x%x is not supported", params.PageSize)
		}

		if params.ByteAmount%base.Size != 0 {
			return nil, porterr.InvalidParams("byte amount 0x%x is not a multiple of the base page size 0x%x", params.ByteAmount, base.Size)
		}

		m.logger.Debug("    Unsupported page size, using base pages", slog.Int("PageSize", int(params.PageSize)))
		pageSize, index = base, 0
	}

	var address uintptr
	var err error
	if index > 0 {
		address, err = m.reserveLargePages(params, pageSize)
		if err != nil {
			if params.Options&OptionStrictPageSize != 0 {
				return nil, err
			}

			m.logger.Debug("    Large page reservation failed, reverting to base pages", slog.String("Error", err.Error()))
			pageSize = base
			address, err = m.reserveDefaultPages(params, base)
		}
	} else {
		address, err = m.reserveDefaultPages(params, pageSize)
	}
	if err != nil {
		return nil, err
	}

	return m.acceptReservation(params, address, pageSize)
}

func (m *Manager) reserveDefaultPages(params Params, pageSize PageSize) (uintptr, error) {
	alignment, err := searchAlignment(pageSize.Size, params.AlignmentInBytes)
	if err != nil {
		return 0, err
	}

	address, err := m.reserveInRange(params, pageSize, alignment, true)
	if err != nil {
		return 0, err
	}

	if m.enableHugepageAdvice && m.capabilities.HugepageAdvice {
		advisor, ok := m.provider.(HugepageAdvisor)
		if ok {
			adviseErr := advisor.AdviseHugepage(address, params.ByteAmount)
			if adviseErr != nil {
				m.logger.Debug("    Transparent huge page advice failed", slog.String("Error", adviseErr.Error()))
			}
		}
	}

	return address, nil
}

func (m *Manager) reserveLargePages(params Params, pageSize PageSize) (uintptr, error) {
	alignment, err := searchAlignment(pageSize.Size, params.AlignmentInBytes)
	if err != nil {
		return 0, err
	}

	return m.reserveInRange(params, pageSize, alignment, false)
}

// reserveInRange tries candidate addresses until the provider hands back memory that satisfies
// the range. The quick and hint searches only apply to base pages.
func (m *Manager) reserveInRange(params Params, pageSize PageSize, alignment uintptr, defaultPages bool) (uintptr, error) {
	strict := params.Options&OptionStrictAddress != 0
	var lastErr error

	attempt := func(hint uintptr) (uintptr, bool) {
		address, err := m.provider.Reserve(hint, params.ByteAmount, params.Mode, pageSize)
		if err != nil {
			lastErr = err
			return 0, false
		}
		return address, true
	}
	inRange := func(address uintptr) bool {
		return address >= params.StartAddress && address <= params.EndAddress
	}

	direction := 1
	switch {
	case params.Options&OptionTopDown != 0:
		direction = -1
	case params.Options&OptionBottomUp != 0:
	case params.isAnywhere():
		address, ok := attempt(0)
		if !ok {
			return 0, m.reservationFailed(params, lastErr)
		}
		return address, nil
	}

	var address uintptr
	found := false

	if defaultPages && params.Options&OptionQuick != 0 {
		candidate, err := m.quickSearch(params, direction < 0, strict)
		if err != nil {
			m.logger.Debug("    Quick search found nothing", slog.String("Error", err.Error()))
		} else if address, found = attempt(candidate); found && strict && !inRange(address) {
			err = m.provider.Free(address, params.ByteAmount)
			if err != nil {
				return 0, porterr.NewPlatformError("free", err)
			}
			found = false
		}
	}

	if !found && defaultPages && params.Options&OptionAddressHint != 0 {
		address, found = attempt(params.StartAddress)
		if !found {
			return 0, m.reservationFailed(params, lastErr)
		}
	}

	if !found && params.Options&OptionAddressHint == 0 {
		iterator := newAddressIterator(params.StartAddress, params.EndAddress, alignment, direction)
		for candidate, ok := iterator.Next(); ok; candidate, ok = iterator.Next() {
			address, found = attempt(candidate)
			if !found {
				continue
			}
			if inRange(address) {
				break
			}

			found = false
			err := m.provider.Free(address, params.ByteAmount)
			if err != nil {
				return 0, porterr.NewPlatformError("free", err)
			}
		}
	}

	if !found && !strict {
		address, found = attempt(0)
	}

	if !found {
		return 0, m.reservationFailed(params, lastErr)
	}

	if params.isStrictAndOutOfRange(address) {
		err := m.provider.Free(address, params.ByteAmount)
		if err != nil {
			m.logger.Debug("    Releasing out of range reservation failed", slog.String("Error", err.Error()))
		}
		return 0, errors.Wrapf(porterr.ErrInsufficientAddressSpace,
			"could not reserve 0x%x bytes within 0x%x-0x%x", params.ByteAmount, params.StartAddress, params.EndAddress)
	}

	return address, nil
}

func (m *Manager) reservationFailed(params Params, cause error) error {
	err := errors.Wrapf(porterr.ErrInsufficientAddressSpace,
		"could not reserve 0x%x bytes within 0x%x-0x%x", params.ByteAmount, params.StartAddress, params.EndAddress)
	if cause != nil {
		err = errors.WithSecondaryError(err, cause)
	}
	return err
}

func (m *Manager) quickSearch(params Params, reverse bool, strict bool) (uintptr, error) {
	source, ok := m.provider.(MapsSource)
	if !ok {
		return 0, errors.Wrap(porterr.ErrUnsupported, "the provider cannot describe the address space")
	}

	maps, err := source.OpenMaps()
	if err != nil {
		return 0, err
	}
	defer maps.Close()

	return findAvailableBlock(maps, params.StartAddress, params.EndAddress, params.ByteAmount, reverse, strict, m.basePageSize().Size)
}

// acceptReservation turns a successful provider reservation into a registered region. If the
// category budget or the initial commit fails, the memory is released again.
func (m *Manager) acceptReservation(params Params, address uintptr, pageSize PageSize) (*Region, error) {
	counters := m.categories.Category(params.Category)
	region := newRegion(m, address, params.ByteAmount, pageSize, params.Mode, params.Category, counters)

	err := counters.TryIncrement(params.ByteAmount)
	if err != nil {
		freeErr := m.provider.Free(address, params.ByteAmount)
		if freeErr != nil {
			err = errors.WithSecondaryError(err, freeErr)
		}
		return nil, errors.Wrapf(err, "category %d", params.Category)
	}

	if params.Mode&ModeCommit != 0 {
		_, err = m.commitRange(region, address, params.ByteAmount)
		if err != nil {
			freeErr := m.provider.Free(address, params.ByteAmount)
			if freeErr != nil {
				err = errors.WithSecondaryError(err, freeErr)
			}
			counters.Decrement(params.ByteAmount)
			return nil, err
		}
	}

	m.register(region)
	return region, nil
}
