//go:build debug_mem_utils

package memutils_test

import (
	"testing"

	"github.com/omrgo/portmem/memutils"
	"github.com/stretchr/testify/require"
)

func TestDebugCheckPow2(t *testing.T) {
	require.NotPanics(t, func() {
		memutils.DebugCheckPow2(uintptr(4096), "page size")
	})
	require.Panics(t, func() {
		memutils.DebugCheckPow2(uintptr(3*4096), "page size")
	})
}
