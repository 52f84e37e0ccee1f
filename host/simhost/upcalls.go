package simhost

import (
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/mem"
)

var _ host.Upcalls = (*Host)(nil)

func (h *Host) LayoutChecksum() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checksum
}

func (h *Host) ReferentOffset() int32            { return h.header.Fields().Referent }
func (h *Host) DiscoveredOffset() int32          { return h.header.Fields().Discovered }
func (h *Host) OffsetOfStaticFields() int32      { return h.header.Fields().StaticFields }
func (h *Host) StaticOopFieldCountOffset() int32 { return h.header.Fields().StaticOopFieldCount }

// ScanObject reports every slot of obj, treating references as strong.
func (h *Host) ScanObject(obj edge.ObjectReference, fn host.SlotFunc, tls host.Thread) {
	h.slowScans.Add(1)
	for _, s := range h.Slots(obj) {
		fn(s)
	}
}

// ScanRoots reports the roots of src. Without a binding-side code cache
// table, the code cache source reports the oop tables of all compiled
// methods.
func (h *Host) ScanRoots(src host.Source, c host.Closure) {
	h.rootScans[src].Add(1)
	w := host.NewSlotWriter(c)
	defer w.Close()
	for _, s := range h.Roots(src) {
		w.Add(s)
	}
	if src == host.CodeCache {
		h.mu.Lock()
		var slots []edge.Slot
		for _, nm := range h.nmethods {
			slots = append(slots, nm.Slots...)
		}
		h.mu.Unlock()
		for _, s := range slots {
			if h.Compression().Enabled() {
				s = edge.WideSlot(s.Address())
			}
			w.Add(s)
		}
	}
}

func (h *Host) ScanAllThreadRoots(c host.Closure) {
	w := host.NewSlotWriter(c)
	defer w.Close()
	for _, m := range h.Mutators() {
		h.scanStack(w, h.mutator(m))
	}
}

func (h *Host) ScanThreadRoots(c host.Closure, m host.Mutator) {
	w := host.NewSlotWriter(c)
	defer w.Close()
	h.scanStack(w, h.mutator(m))
}

func (h *Host) scanStack(w *host.SlotWriter, m *Mutator) {
	h.threadScans.Add(1)
	h.mu.Lock()
	stack := append([]edge.Slot(nil), m.stack...)
	h.mu.Unlock()
	for _, s := range stack {
		w.Add(s)
	}
}

func (h *Host) Mutators() []host.Mutator {
	h.mu.Lock()
	defer h.mu.Unlock()
	ms := make([]host.Mutator, len(h.mutators))
	for i, m := range h.mutators {
		ms[i] = m.Handle()
	}
	return ms
}

// FixOopRelocations copies the oop table of nmethod into its instruction
// stream.
func (h *Host) FixOopRelocations(nmethod mem.Address) {
	h.mu.Lock()
	nm := h.nmethods[nmethod]
	h.mu.Unlock()
	if nm == nil {
		return
	}
	h.fixedMethods.Add(1)
	for i, s := range nm.Slots {
		h.arena.Store64(nm.immediates[i], h.arena.Load64(s.Address()))
	}
}
