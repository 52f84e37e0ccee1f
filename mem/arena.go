package mem

import "fmt"

// Arena is a simulated address space: a contiguous range of host addresses
// backed by a Go byte slice. It is used by the simulated host and in tests,
// where the scanner must not dereference real pointers.
type Arena struct {
	start Address
	buf   []byte
}

// NewArena creates a zeroed arena covering [start, start+size).
func NewArena(start Address, size uintptr) *Arena {
	if start == 0 {
		panic("mem: arena must not start at the null address")
	}
	return &Arena{
		start: start,
		buf:   make([]byte, size),
	}
}

// Start returns the first address of the arena.
func (a *Arena) Start() Address {
	return a.start
}

// End returns the address just past the arena.
func (a *Arena) End() Address {
	return a.start.Add(uintptr(len(a.buf)))
}

// Contains reports whether [addr, addr+n) lies inside the arena.
func (a *Arena) Contains(addr Address, n uintptr) bool {
	return addr >= a.start && addr.Add(n) <= a.End()
}

// Bytes returns the backing bytes of [addr, addr+n). Writes through the
// returned slice are visible to later loads.
func (a *Arena) Bytes(addr Address, n uintptr) []byte {
	if !a.Contains(addr, n) {
		panic(fmt.Sprintf("mem: access %v+%d outside arena [%v, %v)", addr, n, a.start, a.End()))
	}
	off := addr.Sub(a.start)
	return a.buf[off : off+n : off+n]
}

func (a *Arena) Load8(addr Address) uint8 {
	return a.Bytes(addr, 1)[0]
}

func (a *Arena) Load16(addr Address) uint16 {
	return NativeOrder.Uint16(a.Bytes(addr, 2))
}

func (a *Arena) Load32(addr Address) uint32 {
	return NativeOrder.Uint32(a.Bytes(addr, 4))
}

func (a *Arena) Load64(addr Address) uint64 {
	return NativeOrder.Uint64(a.Bytes(addr, 8))
}

func (a *Arena) Store8(addr Address, v uint8) {
	a.Bytes(addr, 1)[0] = v
}

func (a *Arena) Store16(addr Address, v uint16) {
	NativeOrder.PutUint16(a.Bytes(addr, 2), v)
}

func (a *Arena) Store32(addr Address, v uint32) {
	NativeOrder.PutUint32(a.Bytes(addr, 4), v)
}

func (a *Arena) Store64(addr Address, v uint64) {
	NativeOrder.PutUint64(a.Bytes(addr, 8), v)
}
