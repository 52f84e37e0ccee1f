package layout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/mem"
)

const testBase = mem.Address(0x1000_0000)

// writeKlass lays out an instance klass of the given kind in a at klass.
func writeKlass(a *mem.Arena, abi *ABI, klass mem.Address, kind Kind, vtable, itable int32, maps []OopMapBlock) {
	a.Store32(klass.Offset(abi.IDOffset), uint32(kind))
	a.Store32(klass.Offset(abi.VtableLenOffset), uint32(vtable))
	a.Store32(klass.Offset(abi.ItableLenOffset), uint32(itable))
	a.Store32(klass.Offset(abi.NonstaticOopMapSizeOffset), uint32(len(maps)))
	start := klass.Add(mem.AlignUp(uintptr(abi.Sizes.Instance), 8)).Add(uintptr(vtable+itable) * 8)
	for i, b := range maps {
		a.Store32(start.Add(uintptr(i)*8), uint32(b.Offset))
		a.Store32(start.Add(uintptr(i)*8+4), b.Count)
	}
}

func TestChecksum(t *testing.T) {
	abi := HotSpot
	sum := abi.Sizes.Checksum()
	assert.NoError(t, abi.Validate(sum))

	changed := abi.Sizes
	changed.ObjArray += 8
	assert.NotEqual(t, sum, changed.Checksum())

	err := abi.Validate(changed.Checksum())
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, sum, mismatch.Binding)
	assert.Equal(t, changed.Checksum(), mismatch.Host)
}

func TestParseInstance(t *testing.T) {
	abi := &HotSpot
	a := mem.NewArena(testBase, 4096)
	maps := []OopMapBlock{{Offset: 16, Count: 2}, {Offset: 40, Count: 1}}
	writeKlass(a, abi, testBase, KindInstance, 5, 3, maps)

	d, err := abi.Parse(a, testBase)
	require.NoError(t, err)
	assert.Equal(t, KindInstance, d.Kind())
	assert.True(t, d.IsInstance())
	assert.False(t, d.IsArray())

	om := d.OopMaps()
	require.Equal(t, 2, om.Len())
	for i, want := range maps {
		assert.Equal(t, want, om.At(a, i))
	}
	assert.Panics(t, func() { d.ElementType() })
	assert.Panics(t, func() { d.ReferenceType() })
}

func TestParseReference(t *testing.T) {
	abi := &HotSpot
	a := mem.NewArena(testBase, 4096)
	writeKlass(a, abi, testBase, KindInstanceRef, 0, 0, nil)

	for rt := RefNone; rt < numReferenceTypes; rt++ {
		a.Store8(testBase.Offset(abi.ReferenceTypeOffset), uint8(rt))
		d, err := abi.Parse(a, testBase)
		require.NoError(t, err)
		assert.Equal(t, rt, d.ReferenceType())
		assert.Equal(t, 0, d.OopMaps().Len())
	}

	a.Store8(testBase.Offset(abi.ReferenceTypeOffset), 42)
	_, err := abi.Parse(a, testBase)
	var rtErr *ReferenceTypeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, uint8(42), rtErr.Type)
}

func TestParseArrays(t *testing.T) {
	abi := &HotSpot
	a := mem.NewArena(testBase, 4096)

	a.Store32(testBase.Offset(abi.IDOffset), uint32(KindObjArray))
	a.Store32(testBase.Offset(abi.LayoutHelperOffset), uint32(0x80000000|uint32(TObject)<<lhElementTypeShift|3))
	d, err := abi.Parse(a, testBase)
	require.NoError(t, err)
	assert.Equal(t, KindObjArray, d.Kind())
	assert.Equal(t, TObject, d.ElementType())
	assert.Panics(t, func() { d.OopMaps() })

	a.Store32(testBase.Offset(abi.IDOffset), uint32(KindTypeArray))
	a.Store32(testBase.Offset(abi.LayoutHelperOffset), uint32(0xc0000000|uint32(TLong)<<lhElementTypeShift|3))
	d, err = abi.Parse(a, testBase)
	require.NoError(t, err)
	assert.Equal(t, TLong, d.ElementType())
	assert.True(t, d.IsArray())
}

func TestParseInvalidKind(t *testing.T) {
	abi := &HotSpot
	a := mem.NewArena(testBase, 4096)
	for _, id := range []int32{-1, int32(numKinds), 1000} {
		a.Store32(testBase.Offset(abi.IDOffset), uint32(id))
		_, err := abi.Parse(a, testBase)
		var kindErr *KindError
		require.ErrorAs(t, err, &kindErr)
		assert.Equal(t, id, kindErr.ID)
		assert.Equal(t, testBase, kindErr.Klass)
	}
}

func TestHeaderKlass(t *testing.T) {
	abi := &HotSpot
	a := mem.NewArena(testBase, 8192)
	klass := testBase.Add(4096)
	obj := edge.ObjectReference(testBase.Add(256))

	wide := NewHeader(abi, edge.Uncompressed(), edge.Uncompressed(), Fields{})
	mem.StoreAddress(a, obj.Address().Add(8), klass)
	assert.Equal(t, klass, wide.Klass(a, obj))
	assert.Equal(t, uintptr(16), wide.LengthOffset())

	kc := edge.CompressionWith(testBase, 3)
	narrow := NewHeader(abi, kc, edge.Uncompressed(), Fields{})
	a.Store32(obj.Address().Add(8), kc.Encode(edge.ObjectReference(klass)))
	assert.Equal(t, klass, narrow.Klass(a, obj))
	assert.Equal(t, uintptr(12), narrow.LengthOffset())
}

func TestArrayBaseOffset(t *testing.T) {
	abi := &HotSpot
	wide := NewHeader(abi, edge.Uncompressed(), edge.Uncompressed(), Fields{})
	narrow := NewHeader(abi, edge.CompressionWith(0, 3), edge.CompressionWith(0, 3), Fields{})

	// Length at 16, elements padded to the next word.
	assert.Equal(t, uintptr(24), wide.ArrayBaseOffset(TObject))
	assert.Equal(t, uintptr(24), wide.ArrayBaseOffset(TLong))
	// Length at 12, so the header ends exactly on a word.
	assert.Equal(t, uintptr(16), narrow.ArrayBaseOffset(TObject))
	assert.Equal(t, uintptr(16), narrow.ArrayBaseOffset(TDouble))
	assert.Equal(t, uintptr(16), narrow.ArrayBaseOffset(TByte))
}

func TestStaticFields(t *testing.T) {
	a := mem.NewArena(testBase, 4096)
	h := NewHeader(&HotSpot, edge.Uncompressed(), edge.Uncompressed(), Fields{StaticFields: 104, StaticOopFieldCount: 96})
	mirror := edge.ObjectReference(testBase.Add(64))
	a.Store32(mirror.Address().Add(96), 3)

	start, n := h.StaticFields(a, mirror)
	assert.Equal(t, mirror.Address().Add(104), start)
	assert.Equal(t, 3, n)
}
