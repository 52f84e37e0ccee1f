package edge

import (
	"errors"
	"fmt"

	"github.com/inhies/go-bytesize"

	"github.com/tinygo-org/heapscan/mem"
)

// LogMinObjAlignment is log2 of the host's minimum object alignment. It is
// the shift used by the scaled compression modes.
const LogMinObjAlignment = 3

// Heap-end thresholds of the compression policy tiers.
var (
	unscaledOopHeapMax = uint64(4 * bytesize.GB)
	oopEncodingHeapMax = uint64(32 * bytesize.GB)
)

// ErrHeapTooLarge is returned when a heap range cannot be encoded in 32 bits.
var ErrHeapTooLarge = errors.New("heap range cannot be addressed with compressed references")

// Mode is one of the compressed-reference policy tiers.
type Mode uint8

const (
	// Wide references, no compression.
	ModeNone Mode = iota

	// The heap ends below 4GB: encoded values are plain addresses.
	ModeUnscaled

	// The heap ends below 32GB: base is zero, values are scaled by the
	// object alignment.
	ModeZeroBased

	// Anything else: values are scaled offsets from a base just below the
	// heap start.
	ModeHeapBased
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeUnscaled:
		return "unscaled"
	case ModeZeroBased:
		return "zero-based"
	case ModeHeapBased:
		return "heap-based"
	default:
		return "!err"
	}
}

// Compression describes how references are encoded. It is computed once
// before the heap is used and is immutable afterwards, so it can be shared
// between workers without synchronization.
type Compression struct {
	mode  Mode
	base  mem.Address
	shift uint
}

// Uncompressed returns the configuration where every slot is native width.
func Uncompressed() Compression {
	return Compression{mode: ModeNone}
}

// NewCompression picks the compression tier for the heap range
// [heapStart, heapEnd). Heaps that end below 4GB need neither base nor
// shift, heaps below 32GB only a shift.
func NewCompression(heapStart, heapEnd mem.Address) (Compression, error) {
	if heapEnd <= heapStart || heapStart == 0 {
		return Compression{}, fmt.Errorf("invalid heap range [%v, %v)", heapStart, heapEnd)
	}
	end := uint64(heapEnd)
	switch {
	case end <= unscaledOopHeapMax:
		return Compression{mode: ModeUnscaled}, nil
	case end <= oopEncodingHeapMax:
		return Compression{mode: ModeZeroBased, shift: LogMinObjAlignment}, nil
	}

	// Keep a page below the heap so that no object is encoded as 0.
	base := heapStart - mem.BytesInPage
	if uint64(heapEnd.Sub(base)) > oopEncodingHeapMax {
		return Compression{}, fmt.Errorf("%w: %v of heap", ErrHeapTooLarge, bytesize.ByteSize(heapEnd.Sub(heapStart)))
	}
	return Compression{mode: ModeHeapBased, base: base, shift: LogMinObjAlignment}, nil
}

// CompressionWith builds a compressed configuration from a base and shift
// reported elsewhere, for example by the host.
func CompressionWith(base mem.Address, shift uint) Compression {
	c := Compression{base: base, shift: shift}
	switch {
	case base != 0:
		c.mode = ModeHeapBased
	case shift != 0:
		c.mode = ModeZeroBased
	default:
		c.mode = ModeUnscaled
	}
	return c
}

func (c Compression) Enabled() bool {
	return c.mode != ModeNone
}

func (c Compression) Mode() Mode {
	return c.mode
}

func (c Compression) Base() mem.Address {
	return c.base
}

func (c Compression) Shift() uint {
	return c.shift
}

// BytesInReference is the distance between two consecutive reference fields.
func (c Compression) BytesInReference() uintptr {
	if c.Enabled() {
		return 4
	}
	return mem.BytesInWord
}

// Encode compresses a reference. The null reference encodes to 0.
func (c Compression) Encode(ref ObjectReference) uint32 {
	if ref == Null {
		return 0
	}
	return uint32(uintptr(ref-ObjectReference(c.base)) >> c.shift)
}

// Decode expands a compressed value. 0 decodes to the null reference.
func (c Compression) Decode(v uint32) ObjectReference {
	if v == 0 {
		return Null
	}
	return ObjectReference(c.base) + ObjectReference(uintptr(v)<<c.shift)
}

func (c Compression) String() string {
	if !c.Enabled() {
		return "uncompressed"
	}
	return fmt.Sprintf("%v (base %v, shift %d)", c.mode, c.base, c.shift)
}
