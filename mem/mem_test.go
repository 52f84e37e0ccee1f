package mem

import (
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v, align, want uintptr
	}{
		{0, 8, 0},
		{1, 8, 8},
		{8, 8, 8},
		{12, 8, 16},
		{20, 4, 20},
		{21, 4, 24},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, AlignUp(tc.v, tc.align), "AlignUp(%d, %d)", tc.v, tc.align)
	}
}

func TestAddressOffset(t *testing.T) {
	a := Address(0x1000)
	assert.Equal(t, Address(0x1010), a.Offset(16))
	assert.Equal(t, Address(0xff0), a.Offset(-16))
	assert.Equal(t, uintptr(0x10), a.Offset(16).Sub(a))
	assert.Equal(t, "0x1000", a.String())
}

func TestArenaUnaligned(t *testing.T) {
	a := NewArena(0x10000, 64)
	// Every offset from 0 to 7 must work for every width.
	for off := uintptr(0); off < 8; off++ {
		addr := a.Start().Add(off)
		a.Store64(addr, 0x1122334455667788)
		require.Equal(t, uint64(0x1122334455667788), a.Load64(addr), "offset %d", off)
		a.Store32(addr.Add(16), 0xdeadbeef)
		require.Equal(t, uint32(0xdeadbeef), a.Load32(addr.Add(16)), "offset %d", off)
		require.Equal(t, int32(-559038737), LoadInt32(a, addr.Add(16)))
	}
}

func TestArenaBounds(t *testing.T) {
	a := NewArena(0x10000, 16)
	assert.True(t, a.Contains(0x10000, 16))
	assert.False(t, a.Contains(0x10000, 17))
	assert.False(t, a.Contains(0xfff8, 8))
	assert.Panics(t, func() { a.Load64(0x1000c) })
	assert.Panics(t, func() { NewArena(0, 16) })
}

func TestRawUnaligned(t *testing.T) {
	buf := make([]byte, 32)
	base := Address(unsafe.Pointer(&buf[0]))
	var m Memory = Raw{}
	m.Store64(base.Add(3), 0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), m.Load64(base.Add(3)))
	m.Store32(base.Add(13), 42)
	assert.Equal(t, uint32(42), m.Load32(base.Add(13)))
	StoreAddress(m, base.Add(17), 0xabc)
	assert.Equal(t, Address(0xabc), LoadAddress(m, base.Add(17)))
	runtime.KeepAlive(buf)
}
