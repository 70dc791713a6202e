//go:build !linux

package vmem

import (
	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
	"github.com/shirou/gopsutil/v3/process"
)

func privateMemorySize(proc *process.Process) (uint64, error) {
	return 0, errors.Wrap(porterr.ErrUnsupported, "private memory size is only available on linux")
}
