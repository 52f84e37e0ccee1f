// Package trace is a marking closure driven by a binding. It is the
// collector half that the binding feeds: root slots become ProcessEdges
// packets, and every newly marked object is scanned into further packets
// until the closure is complete.
package trace

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/mem"
	"github.com/tinygo-org/heapscan/refs"
	"github.com/tinygo-org/heapscan/scan"
	"github.com/tinygo-org/heapscan/work"
)

const instrumentationName = "github.com/tinygo-org/heapscan/trace"

// Binding is what the tracer needs from a binding.
type Binding interface {
	Access() edge.Access
	HeapRange() (start, end mem.Address)
	ScanObject(obj edge.ObjectReference, v scan.Visitor)
	References() *refs.Table
	ScanVMSpecificRoots(sched work.Scheduler, f work.RootsFactory, cycle work.Cycle)
	ScanThreadRoots(sched work.Scheduler, f work.RootsFactory)
}

// Runner is a scheduler that can run its packets to completion.
type Runner interface {
	work.Scheduler
	Run(ctx context.Context)
}

// Tracer marks every object reachable from the binding's roots.
type Tracer struct {
	b        Binding
	marks    *MarkTable
	capacity int
	log      *slog.Logger

	packets atomic.Int64
	slots   atomic.Int64

	// Cumulative statistics, updated at the end of each cycle.
	cycles      atomic.Uint64
	totalMarked atomic.Uint64
	totalSlots  atomic.Uint64
	lastPause   atomic.Int64
	last        atomic.Pointer[Stats]

	markedCounter metric.Int64Counter
	cycleCounter  metric.Int64Counter
}

// New returns a tracer for the heap of b. capacity bounds the number of
// slots in each packet; zero means work.DefaultCapacity.
func New(b Binding, capacity int, log *slog.Logger) *Tracer {
	if capacity <= 0 {
		capacity = work.DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	t := &Tracer{
		b:        b,
		marks:    NewMarkTable(b.HeapRange()),
		capacity: capacity,
		log:      log,
	}

	meter := otel.Meter(instrumentationName)
	var err error
	if t.markedCounter, err = meter.Int64Counter("heapscan.marked_objects",
		metric.WithDescription("Objects marked by completed cycles.")); err != nil {
		log.Warn("creating counter", "err", err)
		t.markedCounter = noop.Int64Counter{}
	}
	if t.cycleCounter, err = meter.Int64Counter("heapscan.cycles",
		metric.WithDescription("Completed collection cycles.")); err != nil {
		log.Warn("creating counter", "err", err)
		t.cycleCounter = noop.Int64Counter{}
	}
	return t
}

// Marks returns the mark table of the last cycle.
func (t *Tracer) Marks() *MarkTable {
	return t.marks
}

// Stats describe one cycle.
type Stats struct {
	Marked   int
	Slots    int64
	Packets  int64
	Soft     int
	Weak     int
	Phantom  int
	Duration time.Duration
}

// LastStats returns the statistics of the last completed cycle, or the zero
// value if no cycle has completed.
func (t *Tracer) LastStats() Stats {
	if s := t.last.Load(); s != nil {
		return *s
	}
	return Stats{}
}

// Collect runs one marking cycle on s and returns its statistics. The mark
// table and the reference candidates of the previous cycle are discarded.
func (t *Tracer) Collect(ctx context.Context, s Runner, cycle work.Cycle) Stats {
	attrs := []attribute.KeyValue{
		attribute.Bool("nursery", cycle.Nursery),
		attribute.Bool("may_move", cycle.MayMove),
	}
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "trace.Collect", oteltrace.WithAttributes(attrs...))
	defer span.End()

	t.marks.Clear()
	t.b.References().Reset()
	t.packets.Store(0)
	t.slots.Store(0)

	start := time.Now()
	s.Add(work.Prepare, work.PacketFunc(func(_ context.Context, w *work.Worker) {
		f := t.Factory(w.Scheduler)
		t.b.ScanVMSpecificRoots(w.Scheduler, f, cycle)
		t.b.ScanThreadRoots(w.Scheduler, f)
	}))
	s.Run(ctx)

	refTable := t.b.References()
	stats := Stats{
		Marked:   t.marks.Marked(),
		Slots:    t.slots.Load(),
		Packets:  t.packets.Load(),
		Soft:     refTable.Len(refs.Soft),
		Weak:     refTable.Len(refs.Weak),
		Phantom:  refTable.Len(refs.Phantom),
		Duration: time.Since(start),
	}
	t.cycles.Add(1)
	t.totalMarked.Add(uint64(stats.Marked))
	t.totalSlots.Add(uint64(stats.Slots))
	t.lastPause.Store(int64(stats.Duration))
	t.last.Store(&stats)

	t.markedCounter.Add(ctx, int64(stats.Marked), metric.WithAttributes(attrs...))
	t.cycleCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	span.SetAttributes(
		attribute.Int("marked", stats.Marked),
		attribute.Int64("slots", stats.Slots),
		attribute.Int64("packets", stats.Packets),
	)
	t.log.Info("cycle done", "gc", "trace",
		"nursery", cycle.Nursery,
		"marked", stats.Marked,
		"slots", stats.Slots,
		"packets", stats.Packets,
		"duration", stats.Duration)
	return stats
}

// Factory returns a roots factory that turns root batches into
// ProcessEdges packets in the Closure stage of sched.
func (t *Tracer) Factory(sched work.Scheduler) work.RootsFactory {
	return work.RootsFactoryFunc(func(slots []edge.Slot) {
		sched.Add(work.Closure, &ProcessEdges{Slots: slots, tracer: t})
	})
}

// ProcessEdges marks the objects referenced by a batch of slots and scans
// those it marked first.
type ProcessEdges struct {
	Slots  []edge.Slot
	tracer *Tracer
}

func (p *ProcessEdges) Do(ctx context.Context, w *work.Worker) {
	t := p.tracer
	t.packets.Add(1)
	t.slots.Add(int64(len(p.Slots)))

	access := t.b.Access()
	buf := work.NewSlotBuffer(t.capacity, func(slots []edge.Slot) {
		w.Scheduler.Add(work.Closure, &ProcessEdges{Slots: slots, tracer: t})
	})
	for _, slot := range p.Slots {
		obj, ok := access.Load(slot)
		if !ok || !t.marks.TestAndMark(obj) {
			continue
		}
		t.b.ScanObject(obj, buf)
	}
	buf.Flush()
}
