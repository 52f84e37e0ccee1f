package roots

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tinygo-org/heapscan/codecache"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/mem"
	"github.com/tinygo-org/heapscan/work"
)

// NMethodsPerPacket is the number of compiled methods fixed up by one
// FixRelocations packet.
const NMethodsPerPacket = 64

// CodeCacheRoots reports the slots of compiled methods from the binding's
// table.
type CodeCacheRoots struct {
	Table    codecache.Table
	Host     host.Upcalls
	Factory  work.RootsFactory
	Cycle    work.Cycle
	Capacity int
}

func (p *CodeCacheRoots) Do(ctx context.Context, w *work.Worker) {
	_, span := startSpan(ctx, "heapscan.code_cache_roots")
	defer span.End()

	// Mature methods only need scanning in full-heap collections.
	r := p.Table.Collect(!p.Cycle.Nursery)

	buf := work.NewSlotBuffer(p.Capacity, p.Factory.CreateProcessRootsWork)
	var fix []mem.Address
	for _, gen := range [][]codecache.Entry{r.Mature, r.Nursery} {
		for _, e := range gen {
			for _, s := range e.Slots {
				buf.VisitSlot(s)
			}
			if p.Cycle.MayMove {
				fix = append(fix, e.NMethod)
			}
		}
	}
	buf.Flush()

	nurserySlots, matureSlots := r.Slots()
	span.SetAttributes(
		attribute.Int("nursery_slots", nurserySlots),
		attribute.Int("mature_slots", matureSlots),
		attribute.Int("num_nmethods", len(fix)),
	)
	w.Logger().Debug("scanned code cache roots", "gc", "roots",
		"nursery_slots", nurserySlots, "mature_slots", matureSlots, "fix", len(fix))

	if !p.Cycle.MayMove {
		return
	}
	// Relocations can only be fixed once every slot of a method has been
	// forwarded.
	stage := work.SoftRefClosure
	if p.Cycle.ForwardAfterLiveness {
		stage = work.RefForwarding
	}
	var packets []work.Packet
	for len(fix) > 0 {
		n := min(len(fix), NMethodsPerPacket)
		packets = append(packets, &FixRelocations{NMethods: fix[:n:n], Host: p.Host})
		fix = fix[n:]
	}
	w.Scheduler.BulkAdd(stage, packets)
}

// FixRelocations asks the host to patch the instruction streams of compiled
// methods after their slots were updated.
type FixRelocations struct {
	NMethods []mem.Address
	Host     host.Upcalls
}

func (p *FixRelocations) Do(ctx context.Context, w *work.Worker) {
	_, span := startSpan(ctx, "heapscan.fix_relocations", attribute.Int("num_nmethods", len(p.NMethods)))
	defer span.End()
	for _, nm := range p.NMethods {
		p.Host.FixOopRelocations(nm)
	}
}
