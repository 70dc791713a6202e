package vmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"golang.org/x/exp/slog"
)

// CommitMemory makes [address, address+byteAmount) of region accessible. The range must lie
// within the region and be aligned to its page size. Committing pages that are already
// committed is harmless. It returns address on success.
func (m *Manager) CommitMemory(region *Region, address uintptr, byteAmount uintptr) (uintptr, error) {
	m.logger.Debug("Manager::CommitMemory",
		slog.String("Address", fmt.Sprintf("0x%x", address)),
		slog.Int("ByteAmount", int(byteAmount)),
	)

	m.regionsMutex.Lock()
	result, err := m.commitMemory(region, address, byteAmount)
	m.regionsMutex.Unlock()

	if err != nil {
		return 0, m.fail(err)
	}
	return result, nil
}

func (m *Manager) commitMemory(region *Region, address uintptr, byteAmount uintptr) (uintptr, error) {
	err := m.openRegion(region)
	if err != nil {
		return 0, err
	}

	return m.commitRange(region, address, byteAmount)
}

func (m *Manager) commitRange(region *Region, address uintptr, byteAmount uintptr) (uintptr, error) {
	err := region.checkRange(address, byteAmount)
	if err != nil {
		return 0, err
	}

	if byteAmount == 0 {
		return address, nil
	}

	// large pages are backed as soon as they are reserved, only executable ones need new protections
	if region.pageSize.Size == m.basePageSize().Size || region.mode&ModeExecute != 0 {
		err = m.provider.Commit(address, byteAmount, region.mode)
		if err != nil {
			return 0, errors.Wrapf(err, "committing 0x%x bytes at 0x%x", byteAmount, address)
		}
	}

	region.markCommitted(address, byteAmount)
	return address, nil
}

// DecommitMemory returns [address, address+byteAmount) of region to the reserved state. The
// range must lie within the region and be aligned to its page size. The OS is only told it can
// discard the pages while AdviseOSOnFree is set.
func (m *Manager) DecommitMemory(region *Region, address uintptr, byteAmount uintptr) error {
	m.logger.Debug("Manager::DecommitMemory",
		slog.String("Address", fmt.Sprintf("0x%x", address)),
		slog.Int("ByteAmount", int(byteAmount)),
	)

	m.regionsMutex.Lock()
	err := m.decommitMemory(region, address, byteAmount)
	m.regionsMutex.Unlock()

	if err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Manager) decommitMemory(region *Region, address uintptr, byteAmount uintptr) error {
	err := m.openRegion(region)
	if err != nil {
		return err
	}

	err = region.checkRange(address, byteAmount)
	if err != nil {
		return err
	}

	if byteAmount == 0 {
		return nil
	}

	err = m.provider.Decommit(address, byteAmount, m.AdviseOSOnFree())
	if err != nil {
		return errors.Wrapf(err, "decommitting 0x%x bytes at 0x%x", byteAmount, address)
	}

	region.markDecommitted(address, byteAmount)
	return nil
}

// FreeMemory releases region back to the OS. Freeing a region twice is rejected with
// porterr.ErrDoubleFree. If the OS refuses to release the memory the error is returned, but the
// region is still considered released.
func (m *Manager) FreeMemory(region *Region) error {
	if region != nil {
		m.logger.Debug("Manager::FreeMemory",
			slog.String("Address", fmt.Sprintf("0x%x", region.address)),
			slog.Int("Size", int(region.size)),
		)
	}

	m.regionsMutex.Lock()
	released, err := m.freeMemory(region)
	m.regionsMutex.Unlock()

	if released {
		m.callbacks.Free(region)
	}
	if err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Manager) freeMemory(region *Region) (bool, error) {
	if region == nil {
		return false, porterr.InvalidParams("region is nil")
	}
	if region.owner != m {
		return false, porterr.InvalidHandle("region at 0x%x was not reserved by this manager", region.address)
	}

	registered, ok := m.regions.Get(region.address)
	if !ok || registered != region || region.state == RegionFreed {
		return false, porterr.DoubleFree("region at 0x%x has already been freed", region.address)
	}

	m.unregister(region)
	region.state = RegionFreed

	err := m.provider.Free(region.address, region.size)
	region.counters.Decrement(region.size)
	if err != nil {
		return true, errors.Wrapf(err, "freeing region at 0x%x", region.address)
	}

	return true, nil
}

// SetNUMAAffinity asks the OS to prefer node for the pages of [address, address+byteAmount).
// Nodes are numbered from 1. Providers without NUMA support return porterr.ErrUnsupported.
func (m *Manager) SetNUMAAffinity(region *Region, node int, address uintptr, byteAmount uintptr) error {
	m.logger.Debug("Manager::SetNUMAAffinity", slog.Int("Node", node))

	m.regionsMutex.Lock()
	err := m.setNUMAAffinity(region, node, address, byteAmount)
	m.regionsMutex.Unlock()

	if err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Manager) setNUMAAffinity(region *Region, node int, address uintptr, byteAmount uintptr) error {
	err := m.openRegion(region)
	if err != nil {
		return err
	}

	if !region.rangeIsValid(address, byteAmount) {
		return porterr.InvalidParams("range 0x%x+0x%x is outside the reservation 0x%x+0x%x",
			address, byteAmount, region.address, region.size)
	}

	if node < 1 {
		return porterr.InvalidParams("NUMA node %d is out of range", node)
	}

	binder, ok := m.provider.(NUMABinder)
	if !ok {
		return errors.Wrap(porterr.ErrUnsupported, "the provider cannot set NUMA affinity")
	}

	err = binder.BindNUMANode(address, byteAmount, node)
	if err != nil {
		return errors.Wrapf(err, "binding 0x%x bytes at 0x%x to NUMA node %d", byteAmount, address, node)
	}

	return nil
}
