// Package roots turns the host's root sets into work packets.
//
// Each host subsystem is scanned by its own packet, so the sources are
// scanned in parallel. The host reports slots through the renew-buffer
// closure of the work package, and every buffer it fills becomes one tracing
// packet.
package roots

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tinygo-org/heapscan/codecache"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/work"
)

const tracerName = "github.com/tinygo-org/heapscan/roots"

// Options configure root scanning.
type Options struct {
	// Capacity of the buffers handed to the host. Zero means
	// work.DefaultCapacity.
	Capacity int
	// UseCodeCacheTable reports compiled-code roots from the binding's own
	// table instead of asking the host to walk its code cache.
	UseCodeCacheTable bool
	// SingleThreadMutatorScanning scans all thread stacks in one packet
	// instead of one packet per mutator.
	SingleThreadMutatorScanning bool
	// ScanMutatorsInSafepoint, together with SingleThreadMutatorScanning,
	// moves the VM thread's roots into the all-threads packet.
	ScanMutatorsInSafepoint bool
}

func (o *Options) vmThreadWithMutators() bool {
	return o.ScanMutatorsInSafepoint && o.SingleThreadMutatorScanning
}

// Scanner schedules root scanning packets.
type Scanner struct {
	host  host.Upcalls
	table codecache.Table
	opts  Options
	log   *slog.Logger
}

// New returns a Scanner. table may be nil if UseCodeCacheTable is not set.
func New(up host.Upcalls, table codecache.Table, opts Options, log *slog.Logger) *Scanner {
	if opts.Capacity <= 0 {
		opts.Capacity = work.DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{host: up, table: table, opts: opts, log: log}
}

// vmSources are scanned by ScanVMSpecificRoots, each by one packet. The code
// cache and the VM thread are handled separately.
var vmSources = []host.Source{
	host.Universe,
	host.JNIHandles,
	host.ObjectSynchronizer,
	host.Management,
	host.JvmtiExport,
	host.AOTLoader,
	host.SystemDictionary,
	host.StringTable,
	host.ClassLoaderDataGraph,
	host.WeakProcessor,
	host.OopStorageSet,
}

// ScanVMSpecificRoots adds one packet per host root source to the Prepare
// stage.
func (s *Scanner) ScanVMSpecificRoots(sched work.Scheduler, f work.RootsFactory, cycle work.Cycle) {
	packets := make([]work.Packet, 0, len(vmSources)+2)
	for _, src := range vmSources {
		packets = append(packets, s.sourcePacket(src, f))
	}
	if s.opts.UseCodeCacheTable && s.table != nil {
		packets = append(packets, &CodeCacheRoots{
			Table:    s.table,
			Host:     s.host,
			Factory:  f,
			Cycle:    cycle,
			Capacity: s.opts.Capacity,
		})
	} else {
		packets = append(packets, s.sourcePacket(host.CodeCache, f))
	}
	if !s.opts.vmThreadWithMutators() {
		packets = append(packets, s.sourcePacket(host.VMThread, f))
	}
	sched.BulkAdd(work.Prepare, packets)
	s.log.Debug("scheduled vm roots", "gc", "roots", "packets", len(packets))
}

func (s *Scanner) sourcePacket(src host.Source, f work.RootsFactory) *SourceRoots {
	return &SourceRoots{Source: src, Host: s.host, Factory: f, Capacity: s.opts.Capacity}
}

// ScanThreadRoots schedules the scanning of all mutator stacks, either as
// one packet or as one packet per mutator.
func (s *Scanner) ScanThreadRoots(sched work.Scheduler, f work.RootsFactory) {
	if s.opts.SingleThreadMutatorScanning {
		s.ScanRootsInAllMutatorThreads(sched, f)
		return
	}
	for _, m := range s.host.Mutators() {
		s.ScanRootsInMutatorThread(sched, f, m)
	}
}

// ScanRootsInAllMutatorThreads adds one packet scanning every stack.
func (s *Scanner) ScanRootsInAllMutatorThreads(sched work.Scheduler, f work.RootsFactory) {
	sched.Add(work.Prepare, &ThreadRoots{
		Host:     s.host,
		Factory:  f,
		Capacity: s.opts.Capacity,
		All:      true,
		VMThread: s.opts.vmThreadWithMutators(),
	})
}

// ScanRootsInMutatorThread adds a packet scanning the stack of m.
func (s *Scanner) ScanRootsInMutatorThread(sched work.Scheduler, f work.RootsFactory, m host.Mutator) {
	sched.Add(work.Prepare, &ThreadRoots{Host: s.host, Factory: f, Capacity: s.opts.Capacity, Mutator: m})
}

// countingFactory counts the slots passed through to a RootsFactory.
type countingFactory struct {
	work.RootsFactory
	slots, packets int
}

func (c *countingFactory) CreateProcessRootsWork(slots []edge.Slot) {
	c.slots += len(slots)
	c.packets++
	c.RootsFactory.CreateProcessRootsWork(slots)
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// SourceRoots scans the roots of one host subsystem.
type SourceRoots struct {
	Source   host.Source
	Host     host.Upcalls
	Factory  work.RootsFactory
	Capacity int
}

func (p *SourceRoots) Do(ctx context.Context, w *work.Worker) {
	_, span := startSpan(ctx, "heapscan.roots", attribute.String("roots.source", p.Source.String()))
	defer span.End()

	f := &countingFactory{RootsFactory: p.Factory}
	p.Host.ScanRoots(p.Source, work.NewRootsClosure(f, p.Capacity))

	span.SetAttributes(attribute.Int("roots.slots", f.slots), attribute.Int("roots.packets", f.packets))
	w.Logger().Debug("scanned roots", "gc", "roots", "source", p.Source, "slots", f.slots, "worker", w.ID)
}

// ThreadRoots scans mutator stacks: all of them if All is set, otherwise
// the stack of Mutator. With VMThread set it also scans the VM thread.
type ThreadRoots struct {
	Host     host.Upcalls
	Factory  work.RootsFactory
	Capacity int
	All      bool
	VMThread bool
	Mutator  host.Mutator
}

func (p *ThreadRoots) Do(ctx context.Context, w *work.Worker) {
	_, span := startSpan(ctx, "heapscan.thread_roots", attribute.Bool("roots.all", p.All))
	defer span.End()

	f := &countingFactory{RootsFactory: p.Factory}
	c := work.NewRootsClosure(f, p.Capacity)
	if p.All {
		p.Host.ScanAllThreadRoots(c)
	} else {
		span.SetAttributes(attribute.Int("roots.mutator", p.Mutator.ID))
		p.Host.ScanThreadRoots(c, p.Mutator)
	}
	if p.VMThread {
		p.Host.ScanRoots(host.VMThread, c)
	}
	span.SetAttributes(attribute.Int("roots.slots", f.slots))
}
