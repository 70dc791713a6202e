package heap_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/heap"
	"github.com/omrgo/portmem/porterr"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestSynchronizedHeapConcurrentUse(t *testing.T) {
	h, err := heap.Create(alignedBuffer(256*1024), 0)
	require.NoError(t, err)
	initialFree := h.FreeBytes()

	shared := heap.NewSynchronizedHeap(h)

	var group errgroup.Group
	for worker := 0; worker < 8; worker++ {
		value := byte(worker + 1)
		group.Go(func() error {
			var live []heap.Handle
			for i := 0; i < 200; i++ {
				handle, err := shared.Allocate(uint(16 + i%96))
				if errors.Is(err, porterr.ErrHeapFull) {
					continue
				}
				if err != nil {
					return err
				}

				payload, err := shared.Bytes(handle)
				if err != nil {
					return err
				}
				for j := range payload {
					payload[j] = value
				}
				live = append(live, handle)

				if i%3 == 0 {
					handle, err = shared.Reallocate(live[0], 200)
					if err == nil {
						live[0] = handle
					} else if !errors.Is(err, porterr.ErrHeapFull) {
						return err
					}
				}
			}

			for _, handle := range live {
				payload, err := shared.Bytes(handle)
				if err != nil {
					return err
				}
				if payload[0] != value {
					return errors.Newf("allocation %d was overwritten by another worker", handle)
				}
				if err := shared.Free(handle); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, group.Wait())
	require.NoError(t, shared.Validate())
	require.Equal(t, initialFree, h.FreeBytes())
}
