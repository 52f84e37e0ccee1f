package edge

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygo-org/heapscan/mem"
)

const gb = 1 << 30

func TestCompressionTiers(t *testing.T) {
	tests := []struct {
		name       string
		start, end mem.Address
		mode       Mode
		base       mem.Address
		shift      uint
	}{
		{"unscaled", 0x1000_0000, 0x8000_0000, ModeUnscaled, 0, 0},
		{"unscaled-limit", 0x1000_0000, 4 * gb, ModeUnscaled, 0, 0},
		{"zero-based", 0x1_0000_0000, 0x4_0000_0000, ModeZeroBased, 0, 3},
		{"heap-based", 0x10_0000_0000, 0x10_0000_0000 + 8*gb, ModeHeapBased, 0x10_0000_0000 - mem.BytesInPage, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewCompression(tc.start, tc.end)
			require.NoError(t, err)
			assert.Equal(t, tc.mode, c.Mode())
			assert.Equal(t, tc.base, c.Base())
			assert.Equal(t, tc.shift, c.Shift())
			assert.True(t, c.Enabled())
			assert.Equal(t, uintptr(4), c.BytesInReference())
		})
	}
}

func TestCompressionErrors(t *testing.T) {
	_, err := NewCompression(0x10_0000_0000, 0x10_0000_0000+40*gb)
	assert.ErrorIs(t, err, ErrHeapTooLarge)

	_, err = NewCompression(0x2000, 0x1000)
	assert.Error(t, err)
}

func TestCompressionRoundTrip(t *testing.T) {
	ranges := [][2]mem.Address{
		{0x1000_0000, 0x8000_0000},
		{0x1_0000_0000, 0x7_0000_0000},
		{0x20_0000_0000, 0x20_0000_0000 + 16*gb},
	}
	rng := rand.New(rand.NewSource(1))
	for _, r := range ranges {
		c, err := NewCompression(r[0], r[1])
		require.NoError(t, err)
		span := uint64(r[1] - r[0])
		for i := 0; i < 10000; i++ {
			// Objects are aligned to the minimum object alignment.
			off := (rng.Uint64() % span) &^ (1<<LogMinObjAlignment - 1)
			ref := ObjectReference(r[0]) + ObjectReference(off)
			v := c.Encode(ref)
			require.NotZero(t, v, "%v encoded as null in %v", ref, c)
			require.Equal(t, ref, c.Decode(v), "round trip of %v in %v", ref, c)
		}
		assert.Equal(t, uint32(0), c.Encode(Null))
		assert.Equal(t, Null, c.Decode(0))
	}
}

func TestCompressionWith(t *testing.T) {
	assert.Equal(t, ModeUnscaled, CompressionWith(0, 0).Mode())
	assert.Equal(t, ModeZeroBased, CompressionWith(0, 3).Mode())
	assert.Equal(t, ModeHeapBased, CompressionWith(0x1000, 3).Mode())
	assert.False(t, Uncompressed().Enabled())
	assert.Equal(t, uintptr(8), Uncompressed().BytesInReference())
}

func TestSlotTag(t *testing.T) {
	s := WideSlot(0x1234)
	assert.True(t, s.Tagged())
	assert.Equal(t, mem.Address(0x1234), s.Address())
	assert.False(t, SlotAt(0x1234).Tagged())
	assert.Equal(t, "0x1234(wide)", s.String())
}

func TestAccessUncompressed(t *testing.T) {
	arena := mem.NewArena(0x10000, 256)
	a := Access{Mem: arena, Compression: Uncompressed()}

	s := SlotAt(0x10008)
	_, ok := a.Load(s)
	assert.False(t, ok)

	a.Store(s, 0x10080)
	ref, ok := a.Load(s)
	require.True(t, ok)
	assert.Equal(t, ObjectReference(0x10080), ref)

	// Storing what was loaded leaves the slot unchanged.
	a.Store(s, ref)
	assert.Equal(t, uint64(0x10080), arena.Load64(0x10008))

	a.StoreNull(s)
	assert.Equal(t, uint64(0), arena.Load64(0x10008))
}

func TestAccessMixedSlots(t *testing.T) {
	arena := mem.NewArena(0x1_0000_0000, 4096)
	c, err := NewCompression(arena.Start(), 0x4_0000_0000)
	require.NoError(t, err)
	a := Access{Mem: arena, Compression: c}

	target := ObjectReference(0x1_0000_0800)

	narrow := SlotAt(0x1_0000_0010)
	a.Store(narrow, target)
	assert.Equal(t, c.Encode(target), arena.Load32(0x1_0000_0010))
	assert.Equal(t, uint32(0), arena.Load32(0x1_0000_0014), "narrow store must not touch the next field")

	// A wide root at an odd address, as found inside machine code.
	wide := WideSlot(0x1_0000_0021)
	a.Store(wide, target)
	assert.Equal(t, uint64(target), arena.Load64(0x1_0000_0021))

	for _, s := range []Slot{narrow, wide} {
		ref, ok := a.Load(s)
		require.True(t, ok)
		assert.Equal(t, target, ref)
		a.Store(s, ref)
		again, _ := a.Load(s)
		assert.Equal(t, ref, again)
	}

	a.StoreNull(narrow)
	_, ok := a.Load(narrow)
	assert.False(t, ok)
}
