//go:build linux

package vmem

import (
	"github.com/omrgo/portmem/porterr"
	"github.com/shirou/gopsutil/v3/process"
)

func privateMemorySize(proc *process.Process) (uint64, error) {
	info, err := proc.MemoryInfoEx()
	if err != nil {
		return 0, porterr.NewPlatformError("query process memory", err)
	}

	if info.Shared > info.RSS {
		return 0, nil
	}
	return info.RSS - info.Shared, nil
}
