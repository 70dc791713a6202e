package vmem

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
)

// PageSize is one entry of a platform's page size table
type PageSize struct {
	Size  uintptr
	Flags PageFlags
}

func (p PageSize) String() string {
	return fmt.Sprintf("%d (%s)", p.Size, p.Flags)
}

// CapabilityProvider describes the page sizes a platform can reserve
type CapabilityProvider interface {
	// SupportedPageSizes returns every usable page size in ascending order, base page first
	SupportedPageSizes() []PageSize
	// DefaultLargePageSize returns the large page preferred for the mode, if there is one
	DefaultLargePageSize(mode MemoryMode) (PageSize, bool)
}

// PlatformCapabilities is a static CapabilityProvider. The zero value is not usable: PageSizes
// needs at least the base page.
type PlatformCapabilities struct {
	// PageSizes lists the supported page sizes in ascending order. The first entry is the base page.
	PageSizes []PageSize
	// DefaultLargePage is the large page used when a request names an unsupported size. It
	// should also appear in PageSizes.
	DefaultLargePage *PageSize
	// ExecutableLargePages reports whether DefaultLargePage may back executable memory
	ExecutableLargePages bool
	// HugepageAdvice reports whether the OS accepts transparent huge page advice
	HugepageAdvice bool
}

var _ CapabilityProvider = &PlatformCapabilities{}

func (c *PlatformCapabilities) Validate() error {
	if len(c.PageSizes) == 0 {
		return porterr.InvalidParams("the page size table is empty")
	}

	for index, pageSize := range c.PageSizes {
		if pageSize.Size == 0 {
			return porterr.InvalidParams("page size %d is zero", index)
		}
		err := memutils.CheckPow2(pageSize.Size, fmt.Sprintf("page size %d", index))
		if err != nil {
			return errors.Mark(err, porterr.ErrInvalidParams)
		}
		if index > 0 && pageSize.Size <= c.PageSizes[index-1].Size {
			return porterr.InvalidParams("page size %d (%d bytes) is not larger than the page size before it", index, pageSize.Size)
		}
	}

	if c.DefaultLargePage != nil {
		err := memutils.CheckPow2(c.DefaultLargePage.Size, "default large page size")
		if err != nil || c.DefaultLargePage.Size == 0 {
			return porterr.InvalidParams("default large page size %d is not a power of two", c.DefaultLargePage.Size)
		}
	}

	return nil
}

func (c *PlatformCapabilities) SupportedPageSizes() []PageSize {
	return c.PageSizes
}

func (c *PlatformCapabilities) DefaultLargePageSize(mode MemoryMode) (PageSize, bool) {
	if c.DefaultLargePage == nil {
		return PageSize{}, false
	}
	if mode&ModeExecute != 0 && !c.ExecutableLargePages {
		return PageSize{}, false
	}

	return *c.DefaultLargePage, true
}

// BasePageSize is the smallest page size: the first entry of the table
func (c *PlatformCapabilities) BasePageSize() PageSize {
	return c.PageSizes[0]
}

// PageSizeResolver maps a requested page size onto one the platform can actually provide
type PageSizeResolver struct {
	capabilities CapabilityProvider
}

func NewPageSizeResolver(capabilities CapabilityProvider) PageSizeResolver {
	return PageSizeResolver{capabilities: capabilities}
}

// FindValidPageSize returns the page size that a reservation asking for size and flags should
// use. When the table holds that exact (size, flags) pair it is returned with true. Otherwise
// the default large page for the mode is returned, or the base page when there is no default
// large page, and the boolean is false.
func (r PageSizeResolver) FindValidPageSize(mode MemoryMode, size uintptr, flags PageFlags) (PageSize, bool) {
	supported := r.capabilities.SupportedPageSizes()

	if size != 0 {
		for _, pageSize := range supported {
			if pageSize.Size == size && pageSize.Flags == flags {
				return pageSize, true
			}
		}
	}

	largePage, ok := r.capabilities.DefaultLargePageSize(mode)
	if ok && largePage.Size != 0 {
		return largePage, false
	}

	if len(supported) == 0 {
		return PageSize{}, false
	}
	return supported[0], false
}

// isSupported reports whether size appears anywhere in the table, ignoring flags
func (r PageSizeResolver) isSupported(size uintptr) (PageSize, int, bool) {
	for index, pageSize := range r.capabilities.SupportedPageSizes() {
		if pageSize.Size == size {
			return pageSize, index, true
		}
	}
	return PageSize{}, -1, false
}
