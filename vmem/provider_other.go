//go:build !linux && !darwin && !freebsd && !windows

package vmem

import (
	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
)

// OSProvider is a placeholder on platforms without a virtual memory implementation. Every
// operation fails with porterr.ErrUnsupported.
type OSProvider struct{}

var _ ReservationProvider = &OSProvider{}

func NewOSProvider() *OSProvider {
	return &OSProvider{}
}

func (p *OSProvider) Reserve(hint uintptr, size uintptr, mode MemoryMode, pageSize PageSize) (uintptr, error) {
	return 0, errors.Wrap(porterr.ErrUnsupported, "reserve")
}

func (p *OSProvider) Commit(address uintptr, size uintptr, mode MemoryMode) error {
	return errors.Wrap(porterr.ErrUnsupported, "commit")
}

func (p *OSProvider) Decommit(address uintptr, size uintptr, disclaim bool) error {
	return errors.Wrap(porterr.ErrUnsupported, "decommit")
}

func (p *OSProvider) Free(address uintptr, size uintptr) error {
	return errors.Wrap(porterr.ErrUnsupported, "free")
}

func (p *OSProvider) Kind() AllocatorKind {
	return AllocatorUnknown
}
