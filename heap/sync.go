package heap

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/internal/utils"
	"github.com/omrgo/portmem/memutils"
)

// SynchronizedHeap wraps a Heap so that it can be shared between goroutines. Every call takes
// the same mutex, so heavy concurrent use will serialize on it.
type SynchronizedHeap struct {
	mutex utils.OptionalMutex
	heap  *Heap
}

func NewSynchronizedHeap(heap *Heap) *SynchronizedHeap {
	return &SynchronizedHeap{
		mutex: utils.OptionalMutex{UseMutex: true},
		heap:  heap,
	}
}

func (s *SynchronizedHeap) Allocate(byteAmount uint) (Handle, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.Allocate(byteAmount)
}

func (s *SynchronizedHeap) Free(handle Handle) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.Free(handle)
}

func (s *SynchronizedHeap) Reallocate(handle Handle, byteAmount uint) (Handle, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.Reallocate(handle, byteAmount)
}

func (s *SynchronizedHeap) QuerySize(handle Handle) (uint, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.QuerySize(handle)
}

func (s *SynchronizedHeap) Grow(growAmount uint) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.Grow(growAmount)
}

// Bytes returns the payload of an allocation. The lock only covers the lookup: the caller
// must not use the slice after the allocation has been freed or reallocated.
func (s *SynchronizedHeap) Bytes(handle Handle) ([]byte, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.Bytes(handle)
}

func (s *SynchronizedHeap) Validate() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.heap.Validate()
}

func (s *SynchronizedHeap) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.heap.AddDetailedStatistics(stats)
}

func (s *SynchronizedHeap) PrintDetailedMap(writer *jwriter.Writer) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.heap.PrintDetailedMap(writer)
}
