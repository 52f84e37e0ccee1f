package mem

import "unsafe"

// Raw accesses the memory of the current process directly. It is used when
// the host runtime shares the address space with the binding. Nothing is
// validated: the host guarantees that every address it reports is mapped.
type Raw struct{}

// raw views n bytes at addr. Going through a byte slice (instead of a typed
// dereference) keeps every access legal at any alignment.
func raw(addr Address, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), n)
}

func (Raw) Load8(addr Address) uint8 {
	return raw(addr, 1)[0]
}

func (Raw) Load16(addr Address) uint16 {
	return NativeOrder.Uint16(raw(addr, 2))
}

func (Raw) Load32(addr Address) uint32 {
	return NativeOrder.Uint32(raw(addr, 4))
}

func (Raw) Load64(addr Address) uint64 {
	return NativeOrder.Uint64(raw(addr, 8))
}

func (Raw) Store32(addr Address, v uint32) {
	NativeOrder.PutUint32(raw(addr, 4), v)
}

func (Raw) Store64(addr Address, v uint64) {
	NativeOrder.PutUint64(raw(addr, 8), v)
}
