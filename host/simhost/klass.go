package simhost

import (
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/mem"
)

var elementSizes = map[layout.BasicType]uintptr{
	layout.TBoolean: 1,
	layout.TByte:    1,
	layout.TChar:    2,
	layout.TShort:   2,
	layout.TInt:     4,
	layout.TFloat:   4,
	layout.TLong:    8,
	layout.TDouble:  8,
}

// newKlass writes an instance-style klass into the metadata region. The
// vtable and itable lengths vary between klasses so that the oop maps never
// sit at the same offset twice.
func (h *Host) newKlass(info *klassInfo) mem.Address {
	h.mu.Lock()
	defer h.mu.Unlock()

	abi := h.abi
	vtable := h.nextVT%5 + 1
	itable := h.nextVT % 3
	h.nextVT++

	size := mem.AlignUp(uintptr(abi.Sizes.Instance), mem.BytesInWord) +
		uintptr(vtable+itable+int32(len(info.maps)))*mem.BytesInWord
	klass := h.meta.alloc(size)

	a := h.arena
	a.Store32(klass.Offset(abi.IDOffset), uint32(info.kind))
	a.Store32(klass.Offset(abi.VtableLenOffset), uint32(vtable))

	switch info.kind {
	case layout.KindTypeArray, layout.KindObjArray:
		esize := h.Compression().BytesInReference()
		if info.kind == layout.KindTypeArray {
			esize = elementSizes[info.elemType]
		}
		log2 := uint32(0)
		for 1<<log2 < esize {
			log2++
		}
		lh := uint32(0x80000000) | uint32(info.elemType)<<8 | log2
		if info.kind == layout.KindTypeArray {
			lh |= 0x40000000
		}
		a.Store32(klass.Offset(abi.LayoutHelperOffset), lh)
	default:
		a.Store32(klass.Offset(abi.LayoutHelperOffset), uint32(info.size))
		a.Store32(klass.Offset(abi.ItableLenOffset), uint32(itable))
		a.Store32(klass.Offset(abi.NonstaticOopMapSizeOffset), uint32(len(info.maps)))
		a.Store8(klass.Offset(abi.ReferenceTypeOffset), uint8(info.refType))
		start := klass.Add(mem.AlignUp(uintptr(abi.Sizes.Instance), mem.BytesInWord)).
			Add(uintptr(vtable+itable) * mem.BytesInWord)
		for i, b := range info.maps {
			a.Store32(start.Add(uintptr(i)*8), uint32(b.Offset))
			a.Store32(start.Add(uintptr(i)*8+4), b.Count)
		}
	}
	h.klasses[klass] = info
	return klass
}

func (h *Host) instanceSize(maps []layout.OopMapBlock, min uintptr) uintptr {
	size := max(h.headerSize(), min)
	r := h.Compression().BytesInReference()
	for _, b := range maps {
		size = max(size, uintptr(b.Offset)+uintptr(b.Count)*r)
	}
	return max(mem.AlignUp(size, mem.BytesInWord), 2*mem.BytesInWord)
}

// InstanceKlass creates a plain class whose reference fields are described
// by maps.
func (h *Host) InstanceKlass(maps ...layout.OopMapBlock) mem.Address {
	return h.newKlass(&klassInfo{kind: layout.KindInstance, maps: maps, size: h.instanceSize(maps, 0)})
}

// ClassLoaderKlass creates a java.lang.ClassLoader subclass.
func (h *Host) ClassLoaderKlass(maps ...layout.OopMapBlock) mem.Address {
	return h.newKlass(&klassInfo{kind: layout.KindInstanceClassLoader, maps: maps, size: h.instanceSize(maps, 0)})
}

// MirrorKlass creates java.lang.Class. Instance fields must end before the
// static field area.
func (h *Host) MirrorKlass(maps ...layout.OopMapBlock) mem.Address {
	return h.newKlass(&klassInfo{kind: layout.KindInstanceMirror, maps: maps})
}

// ReferenceKlass creates a java.lang.ref.Reference subclass. The queue and
// next fields are added to the oop maps; referent and discovered are not
// part of them. Extra fields start at ReferenceField(0).
func (h *Host) ReferenceKlass(rt layout.ReferenceType, extra ...layout.OopMapBlock) mem.Address {
	r := int32(h.Compression().BytesInReference())
	maps := append([]layout.OopMapBlock{{Offset: h.header.Fields().Referent + r, Count: 2}}, extra...)
	return h.newKlass(&klassInfo{
		kind:    layout.KindInstanceRef,
		maps:    maps,
		refType: rt,
		size:    h.instanceSize(maps, uintptr(h.ReferenceField(0))),
	})
}

// ReferenceField returns the offset of the i-th field declared by a
// Reference subclass.
func (h *Host) ReferenceField(i int) int32 {
	r := int32(h.Compression().BytesInReference())
	return h.header.Fields().Discovered + r + int32(i)*r
}

// ObjArrayKlass creates an Object[] class.
func (h *Host) ObjArrayKlass() mem.Address {
	return h.newKlass(&klassInfo{kind: layout.KindObjArray, elemType: layout.TObject})
}

// TypeArrayKlass creates a primitive array class.
func (h *Host) TypeArrayKlass(t layout.BasicType) mem.Address {
	return h.newKlass(&klassInfo{kind: layout.KindTypeArray, elemType: t})
}

// CorruptKlass creates a klass with an out-of-range kind.
func (h *Host) CorruptKlass(id int32) mem.Address {
	klass := h.newKlass(&klassInfo{kind: layout.KindInstance, size: 16})
	h.arena.Store32(klass.Offset(h.abi.IDOffset), uint32(id))
	return klass
}
