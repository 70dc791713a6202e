// Package simvmem is a vmem.ReservationProvider over a synthetic address space. Reservations
// are placed deterministically and can be backed by ordinary Go memory, which makes it suitable
// for tests and for exercising reservation logic without touching the real address space.
package simvmem

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/omrgo/portmem/memutils"
	"github.com/omrgo/portmem/porterr"
	"github.com/omrgo/portmem/vmem"
	"golang.org/x/exp/slices"
)

// Operation names a provider call for failure injection and call counting
type Operation int

const (
	OperationReserve Operation = iota
	OperationCommit
	OperationDecommit
	OperationFree
	OperationAdviseHugepage
	OperationBindNUMANode
	OperationOpenMaps
)

var operationNames = map[Operation]string{
	OperationReserve:        "Reserve",
	OperationCommit:         "Commit",
	OperationDecommit:       "Decommit",
	OperationFree:           "Free",
	OperationAdviseHugepage: "AdviseHugepage",
	OperationBindNUMANode:   "BindNUMANode",
	OperationOpenMaps:       "OpenMaps",
}

func (o Operation) String() string {
	name, ok := operationNames[o]
	if !ok {
		return "Unknown"
	}
	return name
}

const (
	defaultPageSize uintptr = 4096
	defaultBase     uintptr = 0x10000000
	defaultSize     uintptr = 1 << 30
)

// Options configures a simulated address space. It is valid to leave all the fields blank.
type Options struct {
	// PageSize is the base page size. Defaults to 4KiB.
	PageSize uintptr
	// Base is the lowest address that can be reserved. Defaults to 0x10000000.
	Base uintptr
	// Limit is one past the highest address that can be reserved. Defaults to Base+1GiB.
	Limit uintptr
	// LargePageSizes lists the page sizes above PageSize that reservations may use. Any other
	// page size fails as though the OS had no pages of that size available.
	LargePageSizes []uintptr
	// NUMANodes is the number of NUMA nodes BindNUMANode accepts. 0 disables NUMA support.
	NUMANodes int
	// Unbacked skips allocating Go memory behind reservations. Bytes returns nil.
	Unbacked bool
}

type reservation struct {
	address  uintptr
	size     uintptr
	pageSize vmem.PageSize
	mode     vmem.MemoryMode
	memory   []byte

	committedBytes uintptr
	numaNode       int
}

// Provider simulates anonymous private mappings. It is safe for concurrent use.
type Provider struct {
	mutex   sync.Mutex
	options Options

	reservations *swiss.Map[uintptr, *reservation]
	failures     map[Operation]int
	calls        map[Operation]int
	advisedBytes uintptr
}

var _ vmem.ReservationProvider = &Provider{}
var _ vmem.MapsSource = &Provider{}
var _ vmem.HugepageAdvisor = &Provider{}
var _ vmem.NUMABinder = &Provider{}
var _ vmem.MemoryMapper = &Provider{}

func New(options Options) *Provider {
	if options.PageSize == 0 {
		options.PageSize = defaultPageSize
	}
	if options.Base == 0 {
		options.Base = defaultBase
	}
	if options.Limit == 0 {
		options.Limit = options.Base + defaultSize
	}

	return &Provider{
		options:      options,
		reservations: swiss.NewMap[uintptr, *reservation](16),
		failures:     make(map[Operation]int),
		calls:        make(map[Operation]int),
	}
}

// Capabilities returns a page size table matching the provider's configuration. The first
// large page size, if any, is the default large page.
func (p *Provider) Capabilities() *vmem.PlatformCapabilities {
	capabilities := &vmem.PlatformCapabilities{
		PageSizes:            []vmem.PageSize{{Size: p.options.PageSize, Flags: vmem.PageFlagsNotUsed}},
		ExecutableLargePages: true,
		HugepageAdvice:       true,
	}

	largePages := slices.Clone(p.options.LargePageSizes)
	slices.Sort(largePages)
	for _, size := range largePages {
		capabilities.PageSizes = append(capabilities.PageSizes, vmem.PageSize{Size: size, Flags: vmem.PageFlagsNotUsed})
	}
	if len(largePages) > 0 {
		large := capabilities.PageSizes[1]
		capabilities.DefaultLargePage = &large
	}

	return capabilities
}

// FailNext makes the next count calls of op fail with ENOMEM
func (p *Provider) FailNext(op Operation, count int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.failures[op] = count
}

// Calls returns the number of times op has been called
func (p *Provider) Calls(op Operation) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.calls[op]
}

// ReservationCount is the number of live reservations
func (p *Provider) ReservationCount() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.reservations.Count()
}

// CommittedBytes is the number of committed bytes in the reservation starting at address
func (p *Provider) CommittedBytes(address uintptr) uintptr {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	r, ok := p.reservations.Get(address)
	if !ok {
		return 0
	}
	return r.committedBytes
}

// AdvisedBytes is the total number of bytes passed to AdviseHugepage
func (p *Provider) AdvisedBytes() uintptr {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return p.advisedBytes
}

// NUMANode returns the node the reservation at address was last bound to, or 0
func (p *Provider) NUMANode(address uintptr) int {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	r, ok := p.reservations.Get(address)
	if !ok {
		return 0
	}
	return r.numaNode
}

// begin counts a call and reports an injected failure
func (p *Provider) begin(op Operation) error {
	p.calls[op]++

	if p.failures[op] > 0 {
		p.failures[op]--
		return porterr.NewPlatformError(strings.ToLower(op.String()), syscall.ENOMEM)
	}
	return nil
}

func (p *Provider) sortedAddresses() []uintptr {
	addresses := make([]uintptr, 0, p.reservations.Count())
	p.reservations.Iter(func(address uintptr, _ *reservation) bool {
		addresses = append(addresses, address)
		return false
	})
	slices.Sort(addresses)
	return addresses
}

func (p *Provider) isFree(address uintptr, size uintptr) bool {
	end := address + size
	if end < address || address < p.options.Base || end > p.options.Limit {
		return false
	}

	free := true
	p.reservations.Iter(func(_ uintptr, r *reservation) bool {
		if address < r.address+r.size && r.address < end {
			free = false
			return true
		}
		return false
	})
	return free
}

// lowestFit finds the lowest aligned address with size free bytes
func (p *Provider) lowestFit(size uintptr, alignment uintptr) (uintptr, bool) {
	candidate := memutils.AlignUp(p.options.Base, alignment)

	for _, address := range p.sortedAddresses() {
		r, _ := p.reservations.Get(address)
		if candidate+size <= r.address {
			break
		}
		if r.address+r.size > candidate {
			candidate = memutils.AlignUp(r.address+r.size, alignment)
		}
	}

	if candidate+size < candidate || candidate+size > p.options.Limit {
		return 0, false
	}
	return candidate, true
}

// find returns the reservation holding [address, address+size)
func (p *Provider) find(address uintptr, size uintptr) (*reservation, bool) {
	var found *reservation
	p.reservations.Iter(func(_ uintptr, r *reservation) bool {
		if address >= r.address && address+size <= r.address+r.size && address+size >= address {
			found = r
			return true
		}
		return false
	})
	return found, found != nil
}

func (p *Provider) Reserve(hint uintptr, size uintptr, mode vmem.MemoryMode, pageSize vmem.PageSize) (uintptr, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationReserve)
	if err != nil {
		return 0, err
	}

	if size == 0 {
		return 0, porterr.NewPlatformError("reserve", syscall.EINVAL)
	}

	alignment := p.options.PageSize
	if pageSize.Size != p.options.PageSize {
		if !slices.Contains(p.options.LargePageSizes, pageSize.Size) {
			return 0, porterr.NewPlatformError("reserve", syscall.ENOMEM)
		}
		alignment = pageSize.Size
	}
	if size%alignment != 0 {
		return 0, porterr.NewPlatformError("reserve", syscall.EINVAL)
	}

	address := hint
	if hint == 0 || hint%alignment != 0 || !p.isFree(hint, size) {
		var ok bool
		address, ok = p.lowestFit(size, alignment)
		if !ok {
			return 0, porterr.NewPlatformError("reserve", syscall.ENOMEM)
		}
	}

	r := &reservation{
		address:  address,
		size:     size,
		pageSize: pageSize,
		mode:     mode,
	}
	if !p.options.Unbacked {
		r.memory = make([]byte, size)
	}
	// large pages are backed as soon as they are mapped
	if mode&vmem.ModeCommit != 0 || alignment != p.options.PageSize {
		r.committedBytes = size
	}
	p.reservations.Put(address, r)

	return address, nil
}

func (p *Provider) Commit(address uintptr, size uintptr, mode vmem.MemoryMode) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationCommit)
	if err != nil {
		return err
	}

	r, ok := p.find(address, size)
	if !ok {
		return porterr.NewPlatformError("commit", syscall.ENOMEM)
	}

	r.mode = mode
	r.committedBytes += size
	if r.committedBytes > r.size {
		r.committedBytes = r.size
	}
	return nil
}

func (p *Provider) Decommit(address uintptr, size uintptr, disclaim bool) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationDecommit)
	if err != nil {
		return err
	}

	r, ok := p.find(address, size)
	if !ok {
		return porterr.NewPlatformError("decommit", syscall.EINVAL)
	}

	if !disclaim {
		return nil
	}

	// discarded anonymous pages read back as zero
	if r.memory != nil {
		offset := address - r.address
		discarded := r.memory[offset : offset+size]
		for i := range discarded {
			discarded[i] = 0
		}
	}
	if size > r.committedBytes {
		r.committedBytes = 0
	} else {
		r.committedBytes -= size
	}
	return nil
}

func (p *Provider) Free(address uintptr, size uintptr) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationFree)
	if err != nil {
		return err
	}

	r, ok := p.reservations.Get(address)
	if !ok || r.size != size {
		return porterr.NewPlatformError("free", syscall.EINVAL)
	}

	p.reservations.Delete(address)
	return nil
}

func (p *Provider) Kind() vmem.AllocatorKind {
	return vmem.AllocatorSimulated
}

func (p *Provider) AdviseHugepage(address uintptr, size uintptr) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationAdviseHugepage)
	if err != nil {
		return err
	}

	p.advisedBytes += size
	return nil
}

func (p *Provider) BindNUMANode(address uintptr, size uintptr, node int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationBindNUMANode)
	if err != nil {
		return err
	}

	if node < 1 || node > p.options.NUMANodes {
		return porterr.NewPlatformError("mbind", syscall.EINVAL)
	}

	r, ok := p.find(address, size)
	if !ok {
		return porterr.NewPlatformError("mbind", syscall.EFAULT)
	}
	r.numaNode = node
	return nil
}

func (p *Provider) Bytes(address uintptr, size uintptr) []byte {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	r, ok := p.find(address, size)
	if !ok || r.memory == nil {
		return nil
	}

	offset := address - r.address
	return r.memory[offset : offset+size : offset+size]
}

// OpenMaps describes the simulated address space in /proc/self/maps format. Everything outside
// [Base, Limit) is shown as mapped so that searches stay inside the simulated space.
func (p *Provider) OpenMaps() (io.ReadCloser, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	err := p.begin(OperationOpenMaps)
	if err != nil {
		return nil, err
	}

	var sb strings.Builder
	if p.options.Base > p.options.PageSize {
		writeMapsLine(&sb, p.options.PageSize, p.options.Base, "---p", "[guard]")
	}
	for _, address := range p.sortedAddresses() {
		r, _ := p.reservations.Get(address)
		writeMapsLine(&sb, r.address, r.address+r.size, permissions(r.mode), "")
	}
	if p.options.Limit < vmem.MaxAddress {
		writeMapsLine(&sb, p.options.Limit, vmem.MaxAddress, "---p", "[guard]")
	}

	return io.NopCloser(strings.NewReader(sb.String())), nil
}

func writeMapsLine(sb *strings.Builder, start uintptr, end uintptr, perms string, name string) {
	fmt.Fprintf(sb, "%x-%x %s 00000000 00:00 0", start, end, perms)
	if name != "" {
		fmt.Fprintf(sb, " %s", name)
	}
	sb.WriteByte('\n')
}

func permissions(mode vmem.MemoryMode) string {
	perms := []byte("---p")
	if mode&vmem.ModeRead != 0 {
		perms[0] = 'r'
	}
	if mode&vmem.ModeWrite != 0 {
		perms[1] = 'w'
	}
	if mode&vmem.ModeExecute != 0 {
		perms[2] = 'x'
	}
	return string(perms)
}

// Validate checks that no two reservations overlap and all of them lie inside the space
func (p *Provider) Validate() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	previousEnd := p.options.Base
	for _, address := range p.sortedAddresses() {
		r, _ := p.reservations.Get(address)
		if r.address < previousEnd {
			return errors.Errorf("reservation at 0x%x overlaps the one before it", r.address)
		}
		previousEnd = r.address + r.size
	}
	if previousEnd > p.options.Limit {
		return errors.Errorf("reservations extend to 0x%x, past the limit 0x%x", previousEnd, p.options.Limit)
	}
	return nil
}
