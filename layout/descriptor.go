// Package layout decodes the host's object and class headers.
//
// Every heap object starts with a header that points to its class (a
// "klass"). The klass carries a kind discriminant that tells the scanner how
// to find the references inside the object:
//
// | kind                | references                                         |
// |---------------------|----------------------------------------------------|
// | Instance            | oop map blocks: (offset, count) runs of fields     |
// | InstanceRef         | oop map blocks, plus referent/discovered fields    |
// | InstanceMirror      | oop map blocks, plus the class's static fields     |
// | InstanceClassLoader | oop map blocks                                     |
// | TypeArray           | none: primitive elements only                      |
// | ObjArray            | every element                                      |
//
// The oop map blocks of an instance klass are not at a fixed offset. They
// follow the vtable and itable, which directly follow the InstanceKlass
// struct:
//
//	+---------------+----------------------+----------------------+----------------+
//	| InstanceKlass | vtable (vtable_len)  | itable (itable_len)  | oop map blocks |
//	+---------------+----------------------+----------------------+----------------+
//
// Each oop map block is {offset int32, count uint32}, exactly one word.
//
// The raw klass bytes are read once by Parse into a Descriptor value. The
// scanner only ever sees the Descriptor, never the raw klass.
package layout

import (
	"fmt"

	"github.com/tinygo-org/heapscan/mem"
)

// Kind is the class category discriminant stored in every klass.
type Kind int32

const (
	KindInstance Kind = iota
	KindInstanceRef
	KindInstanceMirror
	KindInstanceClassLoader
	KindTypeArray
	KindObjArray

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindInstance:
		return "instance"
	case KindInstanceRef:
		return "instance-ref"
	case KindInstanceMirror:
		return "instance-mirror"
	case KindInstanceClassLoader:
		return "instance-class-loader"
	case KindTypeArray:
		return "type-array"
	case KindObjArray:
		return "obj-array"
	default:
		return fmt.Sprintf("kind(%d)", int32(k))
	}
}

// ReferenceType is the reference semantics of a java.lang.ref.Reference
// subclass.
type ReferenceType uint8

const (
	RefNone ReferenceType = iota
	RefOther
	RefSoft
	RefWeak
	RefFinal
	RefPhantom

	numReferenceTypes
)

func (t ReferenceType) String() string {
	switch t {
	case RefNone:
		return "none"
	case RefOther:
		return "other"
	case RefSoft:
		return "soft"
	case RefWeak:
		return "weak"
	case RefFinal:
		return "final"
	case RefPhantom:
		return "phantom"
	default:
		return fmt.Sprintf("reftype(%d)", uint8(t))
	}
}

// BasicType is the host's element type tag for arrays.
type BasicType uint8

const (
	TBoolean BasicType = 4
	TChar    BasicType = 5
	TFloat   BasicType = 6
	TDouble  BasicType = 7
	TByte    BasicType = 8
	TShort   BasicType = 9
	TInt     BasicType = 10
	TLong    BasicType = 11
	TObject  BasicType = 12
	TArray   BasicType = 13
)

// IsReference reports whether elements of this type are references.
func (t BasicType) IsReference() bool {
	return t == TObject || t == TArray
}

// NeedsLongAlignment reports whether elements of this type must start on an
// 8-byte boundary.
func (t BasicType) NeedsLongAlignment() bool {
	return t == TLong || t == TDouble
}

// Layout helper bit fields for array klasses.
const (
	lhElementTypeShift = 8
	lhElementTypeMask  = 0xff
)

// OopMapBlock is a run of Count consecutive reference fields starting at
// byte Offset from the object start.
type OopMapBlock struct {
	Offset int32
	Count  uint32
}

const oopMapBlockSize = 8

// OopMaps is a view of the oop map blocks of an instance klass.
type OopMaps struct {
	start mem.Address
	n     int
}

// Len returns the number of blocks.
func (m OopMaps) Len() int {
	return m.n
}

// At loads block i.
func (m OopMaps) At(mm mem.Memory, i int) OopMapBlock {
	addr := m.start.Add(uintptr(i) * oopMapBlockSize)
	return OopMapBlock{
		Offset: mem.LoadInt32(mm, addr),
		Count:  mm.Load32(addr.Add(4)),
	}
}

// Descriptor is a parsed klass. Only the accessors valid for its Kind may be
// called; the others panic, because calling them means the caller skipped
// the kind dispatch.
type Descriptor struct {
	kind     Kind
	klass    mem.Address
	maps     OopMaps
	refType  ReferenceType
	elemType BasicType
}

func (d Descriptor) Kind() Kind {
	return d.kind
}

// Klass returns the address of the raw klass this descriptor was parsed from.
func (d Descriptor) Klass() mem.Address {
	return d.klass
}

// IsInstance reports whether the kind has instance fields.
func (d Descriptor) IsInstance() bool {
	switch d.kind {
	case KindInstance, KindInstanceRef, KindInstanceMirror, KindInstanceClassLoader:
		return true
	}
	return false
}

// IsArray reports whether the kind is an array kind.
func (d Descriptor) IsArray() bool {
	return d.kind == KindTypeArray || d.kind == KindObjArray
}

// OopMaps returns the instance field map.
func (d Descriptor) OopMaps() OopMaps {
	if !d.IsInstance() {
		panic("layout: OopMaps on " + d.kind.String() + " klass")
	}
	return d.maps
}

// ReferenceType returns the reference semantics of an InstanceRef klass.
func (d Descriptor) ReferenceType() ReferenceType {
	if d.kind != KindInstanceRef {
		panic("layout: ReferenceType on " + d.kind.String() + " klass")
	}
	return d.refType
}

// ElementType returns the element type of an array klass.
func (d Descriptor) ElementType() BasicType {
	if !d.IsArray() {
		panic("layout: ElementType on " + d.kind.String() + " klass")
	}
	return d.elemType
}

// KindError reports a klass whose discriminant is out of range. It means the
// header was corrupted or the layout description is wrong.
type KindError struct {
	Klass mem.Address
	ID    int32
}

func (e *KindError) Error() string {
	return fmt.Sprintf("invalid klass id %#x in klass %v", e.ID, e.Klass)
}

// ReferenceTypeError reports an InstanceRef klass with an unknown reference
// type.
type ReferenceTypeError struct {
	Klass mem.Address
	Type  uint8
}

func (e *ReferenceTypeError) Error() string {
	return fmt.Sprintf("invalid reference type %d in klass %v", e.Type, e.Klass)
}

// Parse reads the klass at addr into a Descriptor.
func (abi *ABI) Parse(m mem.Memory, klass mem.Address) (Descriptor, error) {
	id := mem.LoadInt32(m, klass.Offset(abi.IDOffset))
	if id < 0 || Kind(id) >= numKinds {
		return Descriptor{}, &KindError{Klass: klass, ID: id}
	}
	d := Descriptor{kind: Kind(id), klass: klass}

	switch d.kind {
	case KindInstance, KindInstanceRef, KindInstanceMirror, KindInstanceClassLoader:
		vtableLen := uintptr(mem.LoadInt32(m, klass.Offset(abi.VtableLenOffset)))
		itableLen := uintptr(mem.LoadInt32(m, klass.Offset(abi.ItableLenOffset)))
		mapWords := mem.LoadInt32(m, klass.Offset(abi.NonstaticOopMapSizeOffset))
		start := klass.Add(mem.AlignUp(uintptr(abi.Sizes.Instance), mem.BytesInWord))
		start = start.Add((vtableLen + itableLen) * mem.BytesInWord)
		d.maps = OopMaps{
			start: start,
			n:     int(mapWords) * mem.BytesInWord / oopMapBlockSize,
		}
		if d.kind == KindInstanceRef {
			rt := m.Load8(klass.Offset(abi.ReferenceTypeOffset))
			if ReferenceType(rt) >= numReferenceTypes {
				return Descriptor{}, &ReferenceTypeError{Klass: klass, Type: rt}
			}
			d.refType = ReferenceType(rt)
		}
	case KindTypeArray, KindObjArray:
		lh := mem.LoadInt32(m, klass.Offset(abi.LayoutHelperOffset))
		d.elemType = BasicType((lh >> lhElementTypeShift) & lhElementTypeMask)
	}
	return d, nil
}
