// Package mem provides address arithmetic and byte-exact access to the memory
// of the host runtime.
//
// Every access goes through the Memory interface and is performed byte-wise,
// so loads and stores are safe at any alignment. This matters for references
// embedded in compiled code, which may sit at arbitrary byte offsets inside an
// instruction encoding.
package mem

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/cpu"
)

// Sizes of the host's primitive types. The host is always a 64-bit process:
// compressed references only exist on 64-bit targets.
const (
	BytesInWord    = 8
	LogBytesInWord = 3
	BytesInInt     = 4
	BytesInLong    = 8
	BytesInPage    = 4096
)

// NativeOrder is the byte order of the host process.
var NativeOrder binary.ByteOrder = binary.LittleEndian

func init() {
	if cpu.IsBigEndian {
		NativeOrder = binary.BigEndian
	}
}

// Address is a raw address in the host process.
type Address uintptr

// Add returns the address n bytes past a.
func (a Address) Add(n uintptr) Address {
	return a + Address(n)
}

// Offset returns a displaced by a signed byte offset, as used for field
// offsets reported by the host.
func (a Address) Offset(off int32) Address {
	return Address(int64(a) + int64(off))
}

// Sub returns the number of bytes between b and a (a must not be below b).
func (a Address) Sub(b Address) uintptr {
	return uintptr(a - b)
}

func (a Address) IsZero() bool {
	return a == 0
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}

// Memory is byte-exact access to host memory. Implementations must tolerate
// unaligned addresses.
type Memory interface {
	Load8(addr Address) uint8
	Load16(addr Address) uint16
	Load32(addr Address) uint32
	Load64(addr Address) uint64
	Store32(addr Address, v uint32)
	Store64(addr Address, v uint64)
}

// LoadInt32 loads a signed 32-bit value, the representation the host uses
// for lengths, counts and offsets.
func LoadInt32(m Memory, addr Address) int32 {
	return int32(m.Load32(addr))
}

// LoadAddress loads a native-width address.
func LoadAddress(m Memory, addr Address) Address {
	return Address(m.Load64(addr))
}

// StoreAddress stores a native-width address.
func StoreAddress(m Memory, addr Address, v Address) {
	m.Store64(addr, uint64(v))
}
