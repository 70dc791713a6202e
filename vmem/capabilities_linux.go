//go:build linux

package vmem

import (
	"os"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
	"golang.org/x/sys/unix"
)

const (
	transparentHugepagePath = "/sys/kernel/mm/transparent_hugepage/enabled"
	// THP advice only matters when the kernel is in madvise mode
	transparentHugepageMadvise = "always [madvise] never"
)

// DetectCapabilities builds the page size table for the running system. Hugetlb pages are only
// offered when the kernel has a nonzero pool of them configured.
func DetectCapabilities() (*PlatformCapabilities, error) {
	base := PageSize{Size: uintptr(unix.Getpagesize()), Flags: PageFlagsNotUsed}
	capabilities := &PlatformCapabilities{
		PageSizes: []PageSize{base},
	}

	vm, err := mem.VirtualMemory()
	if err == nil && vm.HugePagesTotal > 0 && uintptr(vm.HugePageSize) > base.Size {
		large := PageSize{Size: uintptr(vm.HugePageSize), Flags: PageFlagsNotUsed}
		capabilities.PageSizes = append(capabilities.PageSizes, large)
		capabilities.DefaultLargePage = &large
		// code caches on power use the base page unless the caller asks for a large page by name
		capabilities.ExecutableLargePages = runtime.GOARCH != "ppc64" && runtime.GOARCH != "ppc64le"
	}

	capabilities.HugepageAdvice = transparentHugepageAdviceEnabled(transparentHugepagePath)

	return capabilities, nil
}

func transparentHugepageAdviceEnabled(path string) bool {
	contents, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	return strings.HasPrefix(string(contents), transparentHugepageMadvise)
}
