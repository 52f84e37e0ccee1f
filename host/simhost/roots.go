package simhost

import (
	"fmt"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/mem"
)

// nativeSlot allocates an off-heap root slot holding target. Off-heap slots
// are full words, so under compressed oops they are reported tagged.
func (h *Host) nativeSlot(target edge.ObjectReference) edge.Slot {
	h.mu.Lock()
	addr := h.native.alloc(mem.BytesInWord)
	h.mu.Unlock()
	slot := edge.SlotAt(addr)
	if h.Compression().Enabled() {
		slot = edge.WideSlot(addr)
	}
	h.access.Store(slot, target)
	return slot
}

// AddRoot registers a full-width root of src pointing to target.
func (h *Host) AddRoot(src host.Source, target edge.ObjectReference) edge.Slot {
	slot := h.nativeSlot(target)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots[src] = append(h.roots[src], slot)
	return slot
}

// AddNarrowRoot registers a compressed root of src. Only valid with
// compressed oops.
func (h *Host) AddNarrowRoot(src host.Source, target edge.ObjectReference) edge.Slot {
	if !h.Compression().Enabled() {
		panic("simhost: narrow root without compressed oops")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	slot := edge.SlotAt(h.native.alloc(4))
	h.access.Store(slot, target)
	h.roots[src] = append(h.roots[src], slot)
	return slot
}

// Roots returns the root slots registered for src.
func (h *Host) Roots(src host.Source) []edge.Slot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]edge.Slot(nil), h.roots[src]...)
}

// RootScans returns how often src was scanned.
func (h *Host) RootScans(src host.Source) int {
	return int(h.rootScans[src].Load())
}

// Mutator is a simulated application thread.
type Mutator struct {
	h     *Host
	id    int
	stack []edge.Slot
}

// NewMutator starts a thread with an empty stack.
func (h *Host) NewMutator() *Mutator {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := &Mutator{h: h, id: len(h.mutators)}
	h.mutators = append(h.mutators, m)
	return m
}

// Handle returns the mutator as seen by the binding.
func (m *Mutator) Handle() host.Mutator {
	return host.Mutator{TLS: host.Thread(0x7f00_0000 + m.id*0x1000), ID: m.id}
}

// Push adds a stack slot pointing to target.
func (m *Mutator) Push(target edge.ObjectReference) edge.Slot {
	slot := m.h.nativeSlot(target)
	m.h.mu.Lock()
	defer m.h.mu.Unlock()
	m.stack = append(m.stack, slot)
	return slot
}

func (h *Host) mutator(hm host.Mutator) *Mutator {
	h.mu.Lock()
	defer h.mu.Unlock()
	if hm.ID < 0 || hm.ID >= len(h.mutators) {
		panic(fmt.Sprintf("simhost: unknown mutator %d", hm.ID))
	}
	return h.mutators[hm.ID]
}

// ThreadScans returns how many stack scans were performed.
func (h *Host) ThreadScans() int {
	return int(h.threadScans.Load())
}

// NMethod is a compiled method with embedded object references. Each
// reference lives twice: in the oop table, which the collector updates,
// and as an unaligned immediate in the instruction stream. Oop table
// entries are always full words; Slots holds their untagged addresses.
type NMethod struct {
	Addr       mem.Address
	Slots      []edge.Slot
	immediates []mem.Address
}

// CodeRegistry is notified about compiled methods. The binding implements
// it.
type CodeRegistry interface {
	AddNMethodOop(tls host.Thread, slot edge.Slot)
	RegisterNMethod(tls host.Thread, nmethod mem.Address)
	UnregisterNMethod(nmethod mem.Address)
}

// Compile installs a compiled method referencing targets and registers its
// oop table through reg on behalf of tls.
func (h *Host) Compile(reg CodeRegistry, tls host.Thread, targets ...edge.ObjectReference) *NMethod {
	h.mu.Lock()
	n := uintptr(len(targets))
	addr := h.code.alloc(16 + n*mem.BytesInWord + n*(mem.BytesInWord+3))
	nm := &NMethod{Addr: addr}
	table := addr.Add(16)
	code := table.Add(n * mem.BytesInWord)
	for i := range targets {
		nm.Slots = append(nm.Slots, edge.SlotAt(table.Add(uintptr(i)*mem.BytesInWord)))
		// Opcode bytes around each immediate leave it unaligned.
		nm.immediates = append(nm.immediates, code.Add(uintptr(i)*(mem.BytesInWord+3)+2))
	}
	h.nmethods[addr] = nm
	h.mu.Unlock()

	for i, t := range targets {
		h.arena.Store64(nm.Slots[i].Address(), uint64(t))
		h.arena.Store64(nm.immediates[i], uint64(t))
		reg.AddNMethodOop(tls, nm.Slots[i])
	}
	reg.RegisterNMethod(tls, addr)
	return nm
}

// Unload removes a compiled method.
func (h *Host) Unload(reg CodeRegistry, nm *NMethod) {
	reg.UnregisterNMethod(nm.Addr)
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nmethods, nm.Addr)
}

// Immediate returns the reference embedded in the instruction stream at
// index i.
func (h *Host) Immediate(nm *NMethod, i int) edge.ObjectReference {
	return edge.ObjectReference(h.arena.Load64(nm.immediates[i]))
}

// FixedMethods returns how many relocation fixups were performed.
func (h *Host) FixedMethods() int {
	return int(h.fixedMethods.Load())
}

// SlowScans returns how many objects were scanned through ScanObject.
func (h *Host) SlowScans() int {
	return int(h.slowScans.Load())
}
