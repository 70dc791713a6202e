// Package memcat tracks live memory by category. Counters are shared by every goroutine that
// reserves or suballocates memory, so all updates go through atomic compare-and-swap loops.
package memcat

import (
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/omrgo/portmem/porterr"
)

// ID identifies a memory category
type ID uint32

const (
	CategoryUnknown ID = iota
	CategoryPortLibrary
	CategoryVirtualMemory
	CategoryHeap

	// CategoryFirstUser is the lowest ID available to consumers registering their own categories
	CategoryFirstUser ID = 0x100
)

// Sink is notified whenever memory attributed to a category is acquired or released
type Sink interface {
	IncrementCounters(id ID, size uintptr)
	DecrementCounters(id ID, size uintptr)
}

// BudgetedSink is a Sink that can refuse an increment which would take a category over its limit
type BudgetedSink interface {
	Sink
	TryIncrementCounters(id ID, size uintptr) error
}

// Category holds the live counters for one category
type Category struct {
	id    ID
	name  string
	limit int64

	liveBytes       int64
	liveAllocations int64
	peakBytes       int64
}

func (c *Category) ID() ID {
	return c.id
}

func (c *Category) Name() string {
	return c.name
}

// Limit is the maximum number of live bytes allowed for this category, or 0 if there is no limit
func (c *Category) Limit() int64 {
	return c.limit
}

func (c *Category) LiveBytes() int64 {
	return atomic.LoadInt64(&c.liveBytes)
}

func (c *Category) LiveAllocations() int64 {
	return atomic.LoadInt64(&c.liveAllocations)
}

func (c *Category) PeakBytes() int64 {
	return atomic.LoadInt64(&c.peakBytes)
}

func (c *Category) increment(size int64) {
	var newVal int64
	for {
		currentVal := atomic.LoadInt64(&c.liveBytes)
		newVal = currentVal + size

		if atomic.CompareAndSwapInt64(&c.liveBytes, currentVal, newVal) {
			break
		}
	}

	atomic.AddInt64(&c.liveAllocations, 1)
	c.recordPeak(newVal)
}

func (c *Category) incrementWithLimit(size int64) error {
	var newVal int64
	for {
		currentVal := atomic.LoadInt64(&c.liveBytes)
		newVal = currentVal + size

		if c.limit > 0 && newVal > c.limit {
			return errors.Wrapf(porterr.ErrInsufficientSpace, "category %s would hold %d bytes, limit is %d", c.name, newVal, c.limit)
		}

		if atomic.CompareAndSwapInt64(&c.liveBytes, currentVal, newVal) {
			break
		}
	}

	atomic.AddInt64(&c.liveAllocations, 1)
	c.recordPeak(newVal)
	return nil
}

// TryIncrement charges size bytes to this category, failing if that would exceed its limit.
// Bytes charged here must be released with Decrement on the same Category.
func (c *Category) TryIncrement(size uintptr) error {
	return c.incrementWithLimit(int64(size))
}

func (c *Category) Decrement(size uintptr) {
	c.decrement(int64(size))
}

func (c *Category) recordPeak(value int64) {
	for {
		peak := atomic.LoadInt64(&c.peakBytes)
		if value <= peak || atomic.CompareAndSwapInt64(&c.peakBytes, peak, value) {
			return
		}
	}
}

func (c *Category) decrement(size int64) {
	for {
		currentVal := atomic.LoadInt64(&c.liveBytes)
		newVal := currentVal - size

		if newVal < 0 {
			panic(fmt.Sprintf("live bytes for memory category %s went negative", c.name))
		}

		if atomic.CompareAndSwapInt64(&c.liveBytes, currentVal, newVal) {
			break
		}
	}

	newCount := atomic.AddInt64(&c.liveAllocations, -1)
	if newCount < 0 {
		panic(fmt.Sprintf("live allocations for memory category %s went negative", c.name))
	}
}
