//go:build darwin || freebsd

package vmem

import (
	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
)

const reserveOnlyMapFlags = 0

func largePageMapFlags(pageSize uintptr) (int, error) {
	return 0, errors.Wrapf(porterr.ErrUnsupportedPageSize, "page size 0x%x cannot be mapped on this platform", pageSize)
}
