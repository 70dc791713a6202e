package memcat

import (
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/omrgo/portmem/internal/utils"
	"github.com/omrgo/portmem/porterr"
)

var builtinCategories = []struct {
	id   ID
	name string
}{
	{CategoryUnknown, "Unknown"},
	{CategoryPortLibrary, "PortLibrary"},
	{CategoryVirtualMemory, "VirtualMemory"},
	{CategoryHeap, "Heap"},
}

// Registry owns the set of known categories. Counters for an unregistered ID are attributed
// to CategoryUnknown.
type Registry struct {
	mutex      utils.OptionalRWMutex
	categories *swiss.Map[ID, *Category]
	order      []*Category
	unknown    *Category
}

var _ BudgetedSink = &Registry{}

// NewRegistry creates a Registry holding the built-in categories. Pass useMutex=false only if
// categories will never be registered concurrently with counter updates; the counters
// themselves are always atomic.
func NewRegistry(useMutex bool) *Registry {
	r := &Registry{
		mutex:      utils.OptionalRWMutex{UseMutex: useMutex},
		categories: swiss.NewMap[ID, *Category](16),
	}

	for _, builtin := range builtinCategories {
		r.add(&Category{id: builtin.id, name: builtin.name})
	}
	r.unknown, _ = r.categories.Get(CategoryUnknown)

	return r
}

func (r *Registry) add(category *Category) {
	r.categories.Put(category.id, category)
	r.order = append(r.order, category)
}

// Register adds a category. limit is the maximum number of live bytes TryIncrementCounters will
// allow, or 0 for no limit.
func (r *Registry) Register(id ID, name string, limit int64) (*Category, error) {
	if limit < 0 {
		return nil, porterr.InvalidParams("category %s has negative limit %d", name, limit)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if existing, exists := r.categories.Get(id); exists {
		return nil, errors.Wrapf(porterr.ErrInvalidParams, "category id %d is already registered as %s", id, existing.name)
	}

	category := &Category{id: id, name: name, limit: limit}
	r.add(category)
	return category, nil
}

// Category returns the category registered for id, or the unknown category
func (r *Registry) Category(id ID) *Category {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	category, ok := r.categories.Get(id)
	if !ok {
		return r.unknown
	}
	return category
}

// Categories returns every registered category in registration order
func (r *Registry) Categories() []*Category {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	categories := make([]*Category, len(r.order))
	copy(categories, r.order)
	return categories
}

func (r *Registry) IncrementCounters(id ID, size uintptr) {
	r.Category(id).increment(int64(size))
}

func (r *Registry) TryIncrementCounters(id ID, size uintptr) error {
	return r.Category(id).incrementWithLimit(int64(size))
}

func (r *Registry) DecrementCounters(id ID, size uintptr) {
	r.Category(id).decrement(int64(size))
}

func (r *Registry) BuildStatsString(writer *jwriter.Writer) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	obj := writer.Object()
	defer obj.End()

	for _, category := range r.order {
		categoryObj := obj.Name(strconv.FormatUint(uint64(category.id), 10)).Object()
		categoryObj.Name("Name").String(category.name)
		categoryObj.Name("LiveBytes").Int(int(category.LiveBytes()))
		categoryObj.Name("LiveAllocations").Int(int(category.LiveAllocations()))
		categoryObj.Name("PeakBytes").Int(int(category.PeakBytes()))
		if category.limit > 0 {
			categoryObj.Name("Limit").Int(int(category.limit))
		}
		categoryObj.End()
	}
}
