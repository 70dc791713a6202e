package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/heap"
	"github.com/omrgo/portmem/memcat"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/vmem"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	reserveSize     = sizeValue(16 << 20)
	reservePageSize = sizeValue(0)
	allocationSize  = sizeValue(256)
	allocations     = 1024
	workers         = 4
	strictPageSize  = false
	printMap        = false
	printMetrics    = false
)

func init() {
	Root.AddCommand(reserveCommand)
	cmdFlags := reserveCommand.Flags()
	cmdFlags.Var(&reserveSize, "size", "Size of the reservation")
	cmdFlags.Var(&reservePageSize, "page-size", "Page size to request, the base page if unset")
	cmdFlags.BoolVar(&strictPageSize, "strict-page-size", false, "Fail instead of falling back to base pages")
	cmdFlags.Var(&allocationSize, "allocation-size", "Size of each heap allocation")
	cmdFlags.IntVarP(&allocations, "allocations", "n", allocations, "Number of heap allocations to make")
	cmdFlags.IntVar(&workers, "workers", workers, "Number of goroutines sharing the heap")
	cmdFlags.BoolVar(&printMap, "map", false, "Print the manager and heap maps as JSON")
	cmdFlags.BoolVar(&printMetrics, "metrics", false, "Print the memory category gauges")
}

var reserveCommand = &cobra.Command{
	Use:   "reserve",
	Short: "Reserve a region, build a heap in it and release it again.",
	Long: `Reserves a region in the heap memory category, commits it, and creates a
heap over it. A number of goroutines then share the heap, each allocating,
filling and freeing blocks. The region and heap statistics are printed before
everything is released.`,
	Args: cobra.NoArgs,
	RunE: func(command *cobra.Command, args []string) error {
		manager, err := newManager(command)
		if err != nil {
			return err
		}

		err = runReserve(command.OutOrStdout(), manager)
		return errors.CombineErrors(err, manager.Destroy())
	},
}

func runReserve(output io.Writer, manager *vmem.Manager) error {
	params := manager.ParamsInit()
	params.ByteAmount = uintptr(reserveSize)
	if reservePageSize != 0 {
		params.PageSize = uintptr(reservePageSize)
		params.ByteAmount = memutils.AlignUp(params.ByteAmount, params.PageSize)
	}
	params.Category = memcat.CategoryHeap
	if strictPageSize {
		params.Options |= vmem.OptionStrictPageSize
	}

	region, err := manager.ReserveMemoryEx(params)
	if err != nil {
		return err
	}
	fmt.Fprintf(output, "reserved %s at 0x%x using %s pages (%s)\n",
		formatSize(region.Size()), region.Address(), formatSize(region.PageSize()), region.Allocator())

	_, err = manager.CommitMemory(region, region.Address(), region.Size())
	if err != nil {
		return err
	}

	memory := region.Bytes()
	if memory == nil {
		return errors.New("the reservation cannot be addressed from this process")
	}

	h, err := heap.Create(memory, 0)
	if err != nil {
		return err
	}

	err = exerciseHeap(heap.NewSynchronizedHeap(h))
	if err != nil {
		return err
	}
	err = h.Validate()
	if err != nil {
		return err
	}

	var heapStats memutils.DetailedStatistics
	heapStats.Clear()
	h.AddDetailedStatistics(&heapStats)
	fmt.Fprintf(output, "heap: %d live allocations in %s, %s free in %d ranges\n",
		heapStats.AllocationCount, formatSize(uintptr(heapStats.AllocationBytes)),
		formatSize(uintptr(heapStats.FreeBytes)), heapStats.FreeRangeCount)

	if printMap {
		writer := jwriter.NewWriter()
		obj := writer.Object()
		obj.Name("Manager")
		manager.PrintDetailedMap(&writer)
		obj.Name("Heap")
		h.PrintDetailedMap(&writer)
		obj.End()
		if err := writer.Error(); err != nil {
			return err
		}
		fmt.Fprintln(output, string(writer.Bytes()))
	}

	if printMetrics {
		err = writeMetrics(output, manager.Categories())
		if err != nil {
			return err
		}
	}

	err = manager.DecommitMemory(region, region.Address(), region.Size())
	if err != nil {
		return err
	}
	return manager.FreeMemory(region)
}

// exerciseHeap has every worker allocate its share of the allocations, fill them, and free
// every other one, so the heap is left fragmented
func exerciseHeap(shared *heap.SynchronizedHeap) error {
	var group errgroup.Group

	for worker := 0; worker < workers; worker++ {
		worker := worker
		group.Go(func() error {
			var handles []heap.Handle
			for i := worker; i < allocations; i += workers {
				handle, err := shared.Allocate(uint(allocationSize))
				if err != nil {
					return errors.Wrapf(err, "allocation %d", i)
				}

				block, err := shared.Bytes(handle)
				if err != nil {
					return err
				}
				for j := range block {
					block[j] = byte(worker)
				}
				handles = append(handles, handle)
			}

			for i := 0; i < len(handles); i += 2 {
				err := shared.Free(handles[i])
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	return group.Wait()
}

func writeMetrics(output io.Writer, categories *memcat.Registry) error {
	registry := prometheus.NewPedanticRegistry()
	err := registry.Register(memcat.NewCollector(categories))
	if err != nil {
		return err
	}

	families, err := registry.Gather()
	if err != nil {
		return err
	}

	sort.Slice(families, func(i, j int) bool {
		return families[i].GetName() < families[j].GetName()
	})
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			category := ""
			for _, label := range metric.GetLabel() {
				if label.GetName() == "category" {
					category = label.GetValue()
				}
			}
			fmt.Fprintf(output, "%s{category=%q} %g\n", family.GetName(), category, metric.GetGauge().GetValue())
		}
	}
	return nil
}
