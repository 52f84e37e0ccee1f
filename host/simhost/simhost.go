// Package simhost is an in-memory host runtime. It lays out klasses,
// objects, roots, thread stacks and compiled methods in a mem.Arena exactly
// as a 64-bit HotSpot VM would, and implements host.Upcalls on top of them.
//
// It is used by the tests and by cmd/heapscan.
package simhost

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/mem"
)

const (
	// Size of each of the metadata, native and code regions.
	regionSize = 256 << 10

	// Class mirror layout: the static reference fields follow the instance
	// fields at a fixed offset.
	mirrorStaticCountOffset = 96
	mirrorStaticsOffset     = 104
)

// Config selects the shape of the simulated VM.
type Config struct {
	HeapStart       mem.Address // default 0x4000_0000
	HeapSize        uintptr     // default 1 MiB
	CompressedOops  bool
	CompressedKlass bool

	// ABI is the layout the host was built with. Defaults to layout.HotSpot.
	ABI *layout.ABI
}

type region struct {
	next, end mem.Address
}

func (r *region) alloc(size uintptr) mem.Address {
	addr := r.next
	size = mem.AlignUp(size, mem.BytesInWord)
	if r.end.Sub(addr) < size {
		panic(fmt.Sprintf("simhost: region exhausted allocating %d bytes", size))
	}
	r.next = addr.Add(size)
	return addr
}

type klassInfo struct {
	kind     layout.Kind
	maps     []layout.OopMapBlock
	refType  layout.ReferenceType
	elemType layout.BasicType
	size     uintptr // instance size, 0 for arrays and mirrors
}

type objInfo struct {
	klass  mem.Address
	length int // array length or mirror static count
}

// Host is a simulated VM.
type Host struct {
	cfg    Config
	abi    *layout.ABI
	arena  *mem.Arena
	header layout.Header
	access edge.Access

	mu       sync.Mutex
	meta     region
	native   region
	code     region
	heap     region
	klasses  map[mem.Address]*klassInfo
	objects  map[edge.ObjectReference]objInfo
	order    []edge.ObjectReference
	roots    [host.NumSources][]edge.Slot
	mutators []*Mutator
	nmethods map[mem.Address]*NMethod
	checksum uint16
	nextVT   int32

	rootScans    [host.NumSources]atomic.Int32
	threadScans  atomic.Int32
	slowScans    atomic.Int32
	fixedMethods atomic.Int32
}

// New builds an empty VM.
func New(cfg Config) (*Host, error) {
	if cfg.HeapStart == 0 {
		cfg.HeapStart = 0x4000_0000
	}
	if cfg.HeapSize == 0 {
		cfg.HeapSize = 1 << 20
	}
	if cfg.ABI == nil {
		cfg.ABI = &layout.HotSpot
	}
	base := cfg.HeapStart - 3*regionSize
	h := &Host{
		cfg:      cfg,
		abi:      cfg.ABI,
		arena:    mem.NewArena(base, 3*regionSize+cfg.HeapSize),
		klasses:  make(map[mem.Address]*klassInfo),
		objects:  make(map[edge.ObjectReference]objInfo),
		nmethods: make(map[mem.Address]*NMethod),
		checksum: cfg.ABI.Sizes.Checksum(),
	}
	h.meta = region{next: base.Add(mem.BytesInPage), end: base.Add(regionSize)}
	h.native = region{next: base.Add(regionSize), end: base.Add(2 * regionSize)}
	h.code = region{next: base.Add(2 * regionSize), end: cfg.HeapStart}
	h.heap = region{next: cfg.HeapStart, end: cfg.HeapStart.Add(cfg.HeapSize)}

	refs := edge.Uncompressed()
	if cfg.CompressedOops {
		var err error
		refs, err = edge.NewCompression(h.HeapStart(), h.HeapEnd())
		if err != nil {
			return nil, err
		}
	}
	klass := edge.Uncompressed()
	if cfg.CompressedKlass {
		klass = edge.CompressionWith(base, edge.LogMinObjAlignment)
	}
	h.header = layout.NewHeader(h.abi, klass, refs, h.fields(refs, klass))
	h.access = edge.Access{Mem: h.arena, Compression: refs}
	return h, nil
}

func (h *Host) headerSize() uintptr {
	return h.header.LengthOffset()
}

func (h *Host) fields(refs, klass edge.Compression) layout.Fields {
	hs := int32(mem.BytesInWord + mem.BytesInWord)
	if klass.Enabled() {
		hs = mem.BytesInWord + 4
	}
	r := int32(refs.BytesInReference())
	// java.lang.ref.Reference: referent, queue, next, discovered.
	return layout.Fields{
		Referent:            hs,
		Discovered:          hs + 3*r,
		StaticFields:        mirrorStaticsOffset,
		StaticOopFieldCount: mirrorStaticCountOffset,
	}
}

// Memory returns the arena holding the whole VM.
func (h *Host) Memory() *mem.Arena { return h.arena }

// Header returns the host's own object model.
func (h *Host) Header() layout.Header { return h.header }

// Access loads and stores references the way the host encodes them.
func (h *Host) Access() edge.Access { return h.access }

func (h *Host) Compression() edge.Compression      { return h.header.References() }
func (h *Host) KlassCompression() edge.Compression { return h.klassCompression() }
func (h *Host) HeapStart() mem.Address             { return h.cfg.HeapStart }
func (h *Host) HeapEnd() mem.Address               { return h.cfg.HeapStart.Add(h.cfg.HeapSize) }

func (h *Host) klassCompression() edge.Compression {
	if h.cfg.CompressedKlass {
		return edge.CompressionWith(h.arena.Start(), edge.LogMinObjAlignment)
	}
	return edge.Uncompressed()
}

// Field returns the offset of the i-th reference field of a plain instance.
func (h *Host) Field(i int) int32 {
	return int32(h.headerSize() + uintptr(i)*h.Compression().BytesInReference())
}

// SetLayoutChecksum overrides the checksum reported to the binding.
func (h *Host) SetLayoutChecksum(sum uint16) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checksum = sum
}

// Objects returns every allocated object in allocation order.
func (h *Host) Objects() []edge.ObjectReference {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]edge.ObjectReference(nil), h.order...)
}

// ReferenceType returns the reference type of obj's klass, or RefNone.
func (h *Host) ReferenceType(obj edge.ObjectReference) layout.ReferenceType {
	h.mu.Lock()
	defer h.mu.Unlock()
	k := h.klasses[h.objects[obj].klass]
	if k == nil || k.kind != layout.KindInstanceRef {
		return layout.RefNone
	}
	return k.refType
}
