// Package edge implements slots: memory locations holding one reference to a
// heap object.
//
// Two physical encodings coexist. Wide slots hold a native-width address.
// Narrow slots hold a 32-bit value relative to the heap base (see
// Compression). When compression is off, every slot is wide. When it is on,
// in-heap fields are narrow but roots outside the heap (for example
// references embedded in compiled code) may still be wide; the host reports
// those with bit 63 set so a single Access can handle both:
//
//	| compression | bit 63 | slot kind |
//	|-------------|--------|-----------|
//	| off         | -      | wide      |
//	| on          | 0      | narrow    |
//	| on          | 1      | wide      |
package edge

import "github.com/tinygo-org/heapscan/mem"

// ObjectReference is the address of a live heap object. The zero value is
// the null reference.
type ObjectReference mem.Address

// Null is the reference that points nowhere.
const Null ObjectReference = 0

func (r ObjectReference) IsNull() bool {
	return r == Null
}

// Address returns the object's start address.
func (r ObjectReference) Address() mem.Address {
	return mem.Address(r)
}

// FieldAddress returns the address of the field at the given byte offset.
func (r ObjectReference) FieldAddress(offset int32) mem.Address {
	return mem.Address(r).Offset(offset)
}

func (r ObjectReference) String() string {
	return mem.Address(r).String()
}

// wideTag marks a wide slot when compression is on.
const wideTag = 1 << 63

// Slot identifies one reference-holding location.
type Slot mem.Address

// SlotAt returns an untagged slot for addr.
func SlotAt(addr mem.Address) Slot {
	return Slot(addr)
}

// WideSlot returns a slot that is wide even when compression is on.
func WideSlot(addr mem.Address) Slot {
	return Slot(addr | wideTag)
}

// Address returns the location of the slot with any tag removed.
func (s Slot) Address() mem.Address {
	return mem.Address(s &^ wideTag)
}

// Tagged reports whether the slot carries the wide tag.
func (s Slot) Tagged() bool {
	return s&wideTag != 0
}

func (s Slot) String() string {
	if s.Tagged() {
		return s.Address().String() + "(wide)"
	}
	return s.Address().String()
}

// Access loads and stores references through slots. It is a small value
// meant to be captured by each scanning component.
type Access struct {
	Mem         mem.Memory
	Compression Compression
}

// Narrow reports whether s holds a compressed value.
func (a Access) Narrow(s Slot) bool {
	return a.Compression.Enabled() && !s.Tagged()
}

// Load reads the reference held in s. The second result is false for null.
func (a Access) Load(s Slot) (ObjectReference, bool) {
	var ref ObjectReference
	if a.Narrow(s) {
		ref = a.Compression.Decode(a.Mem.Load32(s.Address()))
	} else {
		ref = ObjectReference(a.Mem.Load64(s.Address()))
	}
	return ref, ref != Null
}

// Store writes ref into s, compressing it if s is narrow.
func (a Access) Store(s Slot, ref ObjectReference) {
	if a.Narrow(s) {
		a.Mem.Store32(s.Address(), a.Compression.Encode(ref))
		return
	}
	a.Mem.Store64(s.Address(), uint64(ref))
}

// StoreNull clears s.
func (a Access) StoreNull(s Slot) {
	a.Store(s, Null)
}
