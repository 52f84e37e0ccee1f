package simhost

import (
	"fmt"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/mem"
)

const markPrototype = 1 // unlocked, no hash

func (h *Host) allocate(klass mem.Address, size uintptr, length int) edge.ObjectReference {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.klasses[klass]; !ok {
		panic(fmt.Sprintf("simhost: unknown klass %v", klass))
	}
	obj := edge.ObjectReference(h.heap.alloc(size))
	h.arena.Store64(obj.Address(), markPrototype)
	if kc := h.klassCompression(); kc.Enabled() {
		h.arena.Store32(obj.Address().Add(h.header.KlassOffset()), kc.Encode(edge.ObjectReference(klass)))
	} else {
		mem.StoreAddress(h.arena, obj.Address().Add(h.header.KlassOffset()), klass)
	}
	h.objects[obj] = objInfo{klass: klass, length: length}
	h.order = append(h.order, obj)
	return obj
}

func (h *Host) info(klass mem.Address) *klassInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.klasses[klass]
}

// New allocates an instance of a non-array, non-mirror klass.
func (h *Host) New(klass mem.Address) edge.ObjectReference {
	k := h.info(klass)
	if k == nil || k.size == 0 {
		panic(fmt.Sprintf("simhost: New on klass %v", klass))
	}
	return h.allocate(klass, k.size, 0)
}

// NewMirror allocates a class mirror with the given number of static
// reference fields.
func (h *Host) NewMirror(klass mem.Address, statics int) edge.ObjectReference {
	size := uintptr(mirrorStaticsOffset) + uintptr(statics)*h.Compression().BytesInReference()
	obj := h.allocate(klass, size, statics)
	h.arena.Store32(obj.FieldAddress(mirrorStaticCountOffset), uint32(statics))
	return obj
}

// NewArray allocates an array of an array klass.
func (h *Host) NewArray(klass mem.Address, length int) edge.ObjectReference {
	k := h.info(klass)
	if k == nil || (k.kind != layout.KindObjArray && k.kind != layout.KindTypeArray) {
		panic(fmt.Sprintf("simhost: NewArray on klass %v", klass))
	}
	esize := h.Compression().BytesInReference()
	if k.kind == layout.KindTypeArray {
		esize = elementSizes[k.elemType]
	}
	size := h.header.ArrayBaseOffset(k.elemType) + uintptr(length)*esize
	obj := h.allocate(klass, size, length)
	h.arena.Store32(obj.Address().Add(h.header.LengthOffset()), uint32(length))
	return obj
}

// SetField stores target into the reference field at off.
func (h *Host) SetField(obj edge.ObjectReference, off int32, target edge.ObjectReference) {
	h.access.Store(edge.SlotAt(obj.FieldAddress(off)), target)
}

// GetField loads the reference field at off.
func (h *Host) GetField(obj edge.ObjectReference, off int32) edge.ObjectReference {
	ref, _ := h.access.Load(edge.SlotAt(obj.FieldAddress(off)))
	return ref
}

// ElementSlot returns the slot of element i of an object array.
func (h *Host) ElementSlot(arr edge.ObjectReference, i int) edge.Slot {
	base := arr.Address().Add(h.header.ArrayBaseOffset(layout.TObject))
	return edge.SlotAt(base.Add(uintptr(i) * h.Compression().BytesInReference()))
}

// SetElement stores target into element i of an object array.
func (h *Host) SetElement(arr edge.ObjectReference, i int, target edge.ObjectReference) {
	h.access.Store(h.ElementSlot(arr, i), target)
}

// StaticSlot returns the slot of static field i of a mirror.
func (h *Host) StaticSlot(mirror edge.ObjectReference, i int) edge.Slot {
	return edge.SlotAt(mirror.FieldAddress(mirrorStaticsOffset).Add(uintptr(i) * h.Compression().BytesInReference()))
}

// SetStatic stores target into static field i of a mirror.
func (h *Host) SetStatic(mirror edge.ObjectReference, i int, target edge.ObjectReference) {
	h.access.Store(h.StaticSlot(mirror, i), target)
}

// SetReferent stores target into the referent field of a Reference.
func (h *Host) SetReferent(ref edge.ObjectReference, target edge.ObjectReference) {
	h.access.Store(edge.SlotAt(h.header.ReferentAddress(ref)), target)
}

// Slots returns every reference slot of obj as the host itself enumerates
// them, referent and discovered included.
func (h *Host) Slots(obj edge.ObjectReference) []edge.Slot {
	h.mu.Lock()
	o, ok := h.objects[obj]
	k := h.klasses[o.klass]
	h.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("simhost: %v is not an object", obj))
	}

	r := h.Compression().BytesInReference()
	var slots []edge.Slot
	fields := func(start mem.Address, n int) {
		for i := 0; i < n; i++ {
			slots = append(slots, edge.SlotAt(start.Add(uintptr(i)*r)))
		}
	}
	for _, b := range k.maps {
		fields(obj.FieldAddress(b.Offset), int(b.Count))
	}
	switch k.kind {
	case layout.KindInstanceMirror:
		fields(obj.FieldAddress(mirrorStaticsOffset), o.length)
	case layout.KindInstanceRef:
		slots = append(slots,
			edge.SlotAt(h.header.ReferentAddress(obj)),
			edge.SlotAt(h.header.DiscoveredAddress(obj)))
	case layout.KindObjArray:
		fields(h.ElementSlot(obj, 0).Address(), o.length)
	}
	return slots
}
