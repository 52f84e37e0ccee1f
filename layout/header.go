package layout

import (
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/mem"
)

// markSize is the size of the mark word that starts every object. The klass
// field follows it.
const markSize = mem.BytesInWord

// Fields are field offsets the host reports once at startup. They depend on
// how the host laid out a few well-known classes.
type Fields struct {
	Referent            int32 // java.lang.ref.Reference.referent
	Discovered          int32 // java.lang.ref.Reference.discovered
	StaticFields        int32 // first static field in a class mirror
	StaticOopFieldCount int32 // int32 count of static reference fields in a mirror
}

// Header is the object model of the running host: the compiled-in ABI plus
// the facts only known once the host has started. It is immutable after
// construction.
type Header struct {
	abi   *ABI
	klass edge.Compression
	refs  edge.Compression
	field Fields
}

// NewHeader combines the ABI with the runtime configuration. klass describes
// compressed class pointers (Uncompressed if the klass field is a full
// word); refs describes reference fields.
func NewHeader(abi *ABI, klass, refs edge.Compression, fields Fields) Header {
	return Header{abi: abi, klass: klass, refs: refs, field: fields}
}

func (h Header) ABI() *ABI {
	return h.abi
}

func (h Header) Fields() Fields {
	return h.field
}

// References returns the reference compression in use.
func (h Header) References() edge.Compression {
	return h.refs
}

// KlassOffset is the offset of the klass field.
func (h Header) KlassOffset() uintptr {
	return markSize
}

// Klass returns the address of obj's klass.
func (h Header) Klass(m mem.Memory, obj edge.ObjectReference) mem.Address {
	addr := obj.Address().Add(markSize)
	if h.klass.Enabled() {
		return mem.Address(h.klass.Decode(m.Load32(addr)))
	}
	return mem.LoadAddress(m, addr)
}

// Describe parses the klass of obj.
func (h Header) Describe(m mem.Memory, obj edge.ObjectReference) (Descriptor, error) {
	return h.abi.Parse(m, h.Klass(m, obj))
}

// LengthOffset is the offset of the int32 length field of arrays. It
// directly follows the klass field.
func (h Header) LengthOffset() uintptr {
	if h.klass.Enabled() {
		return markSize + 4
	}
	return markSize + mem.BytesInWord
}

// ArrayLength returns the element count of an array.
func (h Header) ArrayLength(m mem.Memory, obj edge.ObjectReference) int32 {
	return mem.LoadInt32(m, obj.Address().Add(h.LengthOffset()))
}

// ArrayBaseOffset is the offset of element 0 of an array of type t. The
// header is padded to a word, and further to 8 bytes for element types that
// require it.
func (h Header) ArrayBaseOffset(t BasicType) uintptr {
	base := mem.AlignUp(h.LengthOffset()+mem.BytesInInt, mem.BytesInWord)
	if t.NeedsLongAlignment() {
		base = mem.AlignUp(base, mem.BytesInLong)
	}
	return base
}

// StaticFields returns the start and count of the static reference fields
// held by a class mirror.
func (h Header) StaticFields(m mem.Memory, mirror edge.ObjectReference) (mem.Address, int) {
	start := mirror.FieldAddress(h.field.StaticFields)
	count := mem.LoadInt32(m, mirror.FieldAddress(h.field.StaticOopFieldCount))
	return start, int(count)
}

// ReferentAddress returns the address of the referent field of a Reference.
func (h Header) ReferentAddress(ref edge.ObjectReference) mem.Address {
	return ref.FieldAddress(h.field.Referent)
}

// DiscoveredAddress returns the address of the discovered field of a
// Reference.
func (h Header) DiscoveredAddress(ref edge.ObjectReference) mem.Address {
	return ref.FieldAddress(h.field.Discovered)
}
