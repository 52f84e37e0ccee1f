package simhost

import (
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/layout"
)

// Reachable computes the objects reachable from all roots, stacks and
// compiled methods. Unless strongRefs is set, the referents of soft, weak
// and phantom references are not followed.
func (h *Host) Reachable(strongRefs bool) map[edge.ObjectReference]bool {
	var work []edge.Slot
	for src := host.Source(0); src < host.NumSources; src++ {
		work = append(work, h.Roots(src)...)
	}
	h.mu.Lock()
	for _, m := range h.mutators {
		work = append(work, m.stack...)
	}
	for _, nm := range h.nmethods {
		for _, s := range nm.Slots {
			work = append(work, edge.WideSlot(s.Address()))
		}
	}
	h.mu.Unlock()

	live := make(map[edge.ObjectReference]bool)
	for len(work) > 0 {
		s := work[len(work)-1]
		work = work[:len(work)-1]
		obj, ok := h.access.Load(s)
		if !ok || live[obj] {
			continue
		}
		live[obj] = true
		slots := h.Slots(obj)
		if !strongRefs {
			switch h.ReferenceType(obj) {
			case layout.RefSoft, layout.RefWeak, layout.RefPhantom:
				// Drop referent and discovered.
				slots = slots[:len(slots)-2]
			}
		}
		work = append(work, slots...)
	}
	return live
}
