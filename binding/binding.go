// Package binding is the collector side of a host runtime. It validates the
// host's header layout, fixes the reference encoding, and exposes object
// scanning, root scanning and compiled-method registration to the collector
// and to the host.
package binding

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tinygo-org/heapscan/codecache"
	"github.com/tinygo-org/heapscan/config"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/mem"
	"github.com/tinygo-org/heapscan/refs"
	"github.com/tinygo-org/heapscan/roots"
	"github.com/tinygo-org/heapscan/scan"
	"github.com/tinygo-org/heapscan/work"
)

// ErrNarrowOopMismatch is returned by CheckNarrowOop.
var ErrNarrowOopMismatch = errors.New("compressed oop encoding differs from the host")

// Binding is one collector instance attached to a host.
type Binding struct {
	up     host.Upcalls
	mem    mem.Memory
	abi    *layout.ABI
	fields layout.Fields
	log    *slog.Logger

	opts       config.Options
	noRefTypes atomic.Bool

	header  layout.Header
	access  edge.Access
	scanner *scan.Scanner
	refs    *refs.Table
	codes   *codecache.Registrar
	roots   *roots.Scanner
}

// New attaches a binding to a host. It fails with a *layout.MismatchError
// if the host's header layout differs from the one the binding was built
// for.
func New(up host.Upcalls, m mem.Memory, opts config.Options, log *slog.Logger) (*Binding, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	abi := &layout.HotSpot
	if err := abi.Validate(up.LayoutChecksum()); err != nil {
		return nil, err
	}

	refEnc := edge.Uncompressed()
	if opts.CompressedOops {
		var err error
		refEnc, err = edge.NewCompression(opts.HeapRange())
		if err != nil {
			return nil, fmt.Errorf("compressed oops: %w", err)
		}
	}

	b := &Binding{
		up:  up,
		mem: m,
		abi: abi,
		// The host lays these classes out at startup; the offsets do not
		// change afterwards.
		fields: layout.Fields{
			Referent:            up.ReferentOffset(),
			Discovered:          up.DiscoveredOffset(),
			StaticFields:        up.OffsetOfStaticFields(),
			StaticOopFieldCount: up.StaticOopFieldCountOffset(),
		},
		log:   log,
		opts:  opts,
		refs:  refs.NewTable(),
		codes: codecache.NewRegistrar(codecache.NewMutexTable()),
	}
	b.noRefTypes.Store(opts.NoReferenceTypes)
	b.setHeader(edge.Uncompressed(), refEnc)
	b.roots = roots.New(up, b.codes.Table(), roots.Options{
		Capacity:                    opts.RootsBufferCapacity,
		UseCodeCacheTable:           opts.UseCodeCacheTable,
		ScanMutatorsInSafepoint:     opts.ScanMutatorsInSafepoint,
		SingleThreadMutatorScanning: opts.SingleThreadMutatorScanning,
	}, log)

	log.Info("binding initialized", "gc", "init",
		"compression", refEnc.String(),
		"heap_size", opts.HeapSize.String(),
		"no_reference_types", opts.NoReferenceTypes)
	return b, nil
}

func (b *Binding) setHeader(klass, refEnc edge.Compression) {
	b.header = layout.NewHeader(b.abi, klass, refEnc, b.fields)
	b.access = edge.Access{Mem: b.mem, Compression: refEnc}
	b.scanner = scan.New(b.mem, b.header, b.refs, b)
}

// SetCompressedKlassBaseAndShift switches to 32-bit klass fields. The host
// calls it once during startup, before any object is scanned.
func (b *Binding) SetCompressedKlassBaseAndShift(base mem.Address, shift uint) {
	b.setHeader(edge.CompressionWith(base, shift), b.header.References())
	b.log.Debug("compressed class pointers", "gc", "init", "base", base, "shift", shift)
}

// CheckNarrowOop compares the host's compressed oop encoding with the
// binding's.
func (b *Binding) CheckNarrowOop(base mem.Address, shift uint) error {
	c := b.Compression()
	if !c.Enabled() {
		return fmt.Errorf("%w: binding does not compress references", ErrNarrowOopMismatch)
	}
	if c.Base() != base || c.Shift() != shift {
		return fmt.Errorf("%w: host base %v shift %d, binding base %v shift %d",
			ErrNarrowOopMismatch, base, shift, c.Base(), c.Shift())
	}
	return nil
}

func (b *Binding) Header() layout.Header         { return b.header }
func (b *Binding) Access() edge.Access           { return b.access }
func (b *Binding) Compression() edge.Compression { return b.header.References() }
func (b *Binding) Scanner() *scan.Scanner        { return b.scanner }
func (b *Binding) References() *refs.Table       { return b.refs }
func (b *Binding) CodeCache() codecache.Table    { return b.codes.Table() }
func (b *Binding) Host() host.Upcalls            { return b.up }
func (b *Binding) Memory() mem.Memory            { return b.mem }

// HeapRange returns the bounds of the heap.
func (b *Binding) HeapRange() (start, end mem.Address) {
	return b.opts.HeapRange()
}

// NoReferenceTypes reports whether Reference objects are currently scanned
// as ordinary objects. It can change between scans through Process.
func (b *Binding) NoReferenceTypes() bool {
	return b.noRefTypes.Load()
}

// Process changes an option at run time. Only no_reference_types takes
// effect after initialization.
func (b *Binding) Process(name, value string) error {
	o := b.opts
	if err := o.Process(name, value); err != nil {
		return err
	}
	if name != "no_reference_types" {
		return fmt.Errorf("option %s cannot be changed after initialization", name)
	}
	b.noRefTypes.Store(o.NoReferenceTypes)
	return nil
}

// Options returns the options in effect.
func (b *Binding) Options() config.Options {
	o := b.opts
	o.NoReferenceTypes = b.noRefTypes.Load()
	return o
}

// ScanObject visits every reference slot of obj.
func (b *Binding) ScanObject(obj edge.ObjectReference, v scan.Visitor) {
	b.scanner.ScanObject(obj, v)
}

// ScanObjectSlow has the host enumerate the slots of obj.
func (b *Binding) ScanObjectSlow(obj edge.ObjectReference, v scan.Visitor, tls host.Thread) {
	b.scanner.ScanObjectSlow(obj, v, b.up, tls)
}

// ScanVMSpecificRoots schedules the scanning of every host root source.
func (b *Binding) ScanVMSpecificRoots(sched work.Scheduler, f work.RootsFactory, cycle work.Cycle) {
	b.roots.ScanVMSpecificRoots(sched, f, cycle)
}

// ScanThreadRoots schedules the scanning of all mutator stacks.
func (b *Binding) ScanThreadRoots(sched work.Scheduler, f work.RootsFactory) {
	b.roots.ScanThreadRoots(sched, f)
}

func (b *Binding) ScanRootsInAllMutatorThreads(sched work.Scheduler, f work.RootsFactory) {
	b.roots.ScanRootsInAllMutatorThreads(sched, f)
}

func (b *Binding) ScanRootsInMutatorThread(sched work.Scheduler, f work.RootsFactory, m host.Mutator) {
	b.roots.ScanRootsInMutatorThread(sched, f, m)
}

// AddNMethodOop records a slot of the compiled method tls is installing.
// Oop table entries are full words, so they are tagged wide under
// compressed oops.
func (b *Binding) AddNMethodOop(tls host.Thread, slot edge.Slot) {
	if b.Compression().Enabled() {
		slot = edge.WideSlot(slot.Address())
	}
	b.codes.AddRoot(tls, slot)
}

// RegisterNMethod completes the installation of nmethod.
func (b *Binding) RegisterNMethod(tls host.Thread, nmethod mem.Address) {
	b.codes.Register(tls, nmethod)
}

// UnregisterNMethod forgets nmethod when the host unloads it.
func (b *Binding) UnregisterNMethod(nmethod mem.Address) {
	b.codes.Unregister(nmethod)
}
