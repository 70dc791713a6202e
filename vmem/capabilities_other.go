//go:build !linux

package vmem

import "os"

// DetectCapabilities builds the page size table for the running system. Only the base page is
// offered outside linux.
func DetectCapabilities() (*PlatformCapabilities, error) {
	return &PlatformCapabilities{
		PageSizes: []PageSize{{Size: uintptr(os.Getpagesize()), Flags: PageFlagsNotUsed}},
	}, nil
}
