package memcat_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/memcat"
	"github.com/omrgo/portmem/porterr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestCountersBalanceUnderConcurrency(t *testing.T) {
	registry := memcat.NewRegistry(true)

	var group errgroup.Group
	for worker := 0; worker < 8; worker++ {
		group.Go(func() error {
			for i := 0; i < 1000; i++ {
				registry.IncrementCounters(memcat.CategoryVirtualMemory, 4096)
				registry.DecrementCounters(memcat.CategoryVirtualMemory, 4096)
			}
			registry.IncrementCounters(memcat.CategoryVirtualMemory, 64)
			return nil
		})
	}
	require.NoError(t, group.Wait())

	category := registry.Category(memcat.CategoryVirtualMemory)
	require.Equal(t, int64(8*64), category.LiveBytes())
	require.Equal(t, int64(8), category.LiveAllocations())
	require.GreaterOrEqual(t, category.PeakBytes(), int64(4096))
}

func TestUnregisteredIDFallsBackToUnknown(t *testing.T) {
	registry := memcat.NewRegistry(false)

	registry.IncrementCounters(memcat.ID(0x9999), 128)
	require.Equal(t, int64(128), registry.Category(memcat.CategoryUnknown).LiveBytes())

	registry.DecrementCounters(memcat.ID(0x9999), 128)
	require.Equal(t, int64(0), registry.Category(memcat.CategoryUnknown).LiveBytes())
}

func TestRegisterAndLimit(t *testing.T) {
	registry := memcat.NewRegistry(true)

	category, err := registry.Register(memcat.CategoryFirstUser, "CodeCache", 8192)
	require.NoError(t, err)
	require.Equal(t, "CodeCache", category.Name())

	_, err = registry.Register(memcat.CategoryFirstUser, "Duplicate", 0)
	require.True(t, errors.Is(err, porterr.ErrInvalidParams))

	_, err = registry.Register(memcat.CategoryFirstUser+1, "Negative", -1)
	require.True(t, errors.Is(err, porterr.ErrInvalidParams))

	require.NoError(t, registry.TryIncrementCounters(memcat.CategoryFirstUser, 4096))
	require.NoError(t, registry.TryIncrementCounters(memcat.CategoryFirstUser, 4096))

	err = registry.TryIncrementCounters(memcat.CategoryFirstUser, 1)
	require.True(t, errors.Is(err, porterr.ErrInsufficientSpace))
	require.Equal(t, int64(8192), category.LiveBytes())
	require.Equal(t, int64(2), category.LiveAllocations())

	registry.DecrementCounters(memcat.CategoryFirstUser, 4096)
	require.NoError(t, registry.TryIncrementCounters(memcat.CategoryFirstUser, 1))
}

func TestResolvedCategoryOutlivesRegistration(t *testing.T) {
	registry := memcat.NewRegistry(true)

	unknown := registry.Category(memcat.CategoryFirstUser + 2)
	require.Equal(t, memcat.CategoryUnknown, unknown.ID())
	require.NoError(t, unknown.TryIncrement(512))

	registered, err := registry.Register(memcat.CategoryFirstUser+2, "Late", 0)
	require.NoError(t, err)
	require.Same(t, registered, registry.Category(memcat.CategoryFirstUser+2))

	unknown.Decrement(512)
	require.Equal(t, int64(0), unknown.LiveBytes())
	require.Equal(t, int64(0), registered.LiveBytes())
}

func TestDecrementBelowZeroPanics(t *testing.T) {
	registry := memcat.NewRegistry(false)

	require.Panics(t, func() {
		registry.DecrementCounters(memcat.CategoryHeap, 8)
	})
}

func TestBuildStatsString(t *testing.T) {
	registry := memcat.NewRegistry(false)
	registry.IncrementCounters(memcat.CategoryHeap, 256)

	writer := jwriter.NewWriter()
	registry.BuildStatsString(&writer)
	require.NoError(t, writer.Error())

	out := string(writer.Bytes())
	require.Contains(t, out, `"Name":"Heap"`)
	require.Contains(t, out, `"LiveBytes":256`)
}

func TestCollector(t *testing.T) {
	registry := memcat.NewRegistry(false)
	registry.IncrementCounters(memcat.CategoryPortLibrary, 1024)

	promRegistry := prometheus.NewRegistry()
	require.NoError(t, promRegistry.Register(memcat.NewCollector(registry)))

	families, err := promRegistry.Gather()
	require.NoError(t, err)
	require.Len(t, families, 3)

	for _, family := range families {
		if family.GetName() != "portmem_category_live_bytes" {
			continue
		}

		require.Len(t, family.GetMetric(), 4)
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "category" && label.GetValue() == "PortLibrary" {
					require.Equal(t, float64(1024), metric.GetGauge().GetValue())
				}
			}
		}
	}
}
