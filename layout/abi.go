package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc16"
)

// ABI is the binding's compiled-in knowledge of the host's class header
// layout. Only the fields the scanner reads are described; the struct sizes
// exist so that the layout can be checked against the host at startup.
type ABI struct {
	Sizes KlassSizes

	// Klass
	LayoutHelperOffset int32 // int32
	IDOffset           int32 // int32, the Kind
	VtableLenOffset    int32 // int32, in words

	// InstanceKlass
	NonstaticOopMapSizeOffset int32 // int32, in words
	ItableLenOffset           int32 // int32, in words
	ReferenceTypeOffset       int32 // uint8
}

// KlassSizes are the byte sizes of the host's class header structs.
type KlassSizes struct {
	Klass               uint32
	Instance            uint32
	InstanceRef         uint32
	InstanceMirror      uint32
	InstanceClassLoader uint32
	TypeArray           uint32
	ObjArray            uint32
}

var checksumTable = crc16.MakeTable(crc16.CRC16_XMODEM)

// Checksum condenses the sizes into one value. The host computes the same
// value from its own struct definitions; any disagreement means the binding
// was built against a different header layout.
func (s KlassSizes) Checksum() uint16 {
	var buf [7 * 4]byte
	for i, v := range []uint32{s.Klass, s.Instance, s.InstanceRef, s.InstanceMirror, s.InstanceClassLoader, s.TypeArray, s.ObjArray} {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return crc16.Checksum(buf[:], checksumTable)
}

// MismatchError reports that the host's layout checksum differs from the
// binding's.
type MismatchError struct {
	Binding uint16
	Host    uint16
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("class header layout mismatch: binding checksum %#04x, host checksum %#04x", e.Binding, e.Host)
}

// Validate compares the binding's checksum with the one computed by the host.
func (abi *ABI) Validate(hostChecksum uint16) error {
	if sum := abi.Sizes.Checksum(); sum != hostChecksum {
		return &MismatchError{Binding: sum, Host: hostChecksum}
	}
	return nil
}

// HotSpot is the layout of a 64-bit HotSpot product build.
var HotSpot = ABI{
	Sizes: KlassSizes{
		Klass:               208,
		Instance:            440,
		InstanceRef:         440,
		InstanceMirror:      440,
		InstanceClassLoader: 440,
		TypeArray:           240,
		ObjArray:            248,
	},
	LayoutHelperOffset:        8,
	IDOffset:                  12,
	VtableLenOffset:           196,
	NonstaticOopMapSizeOffset: 288,
	ItableLenOffset:           292,
	ReferenceTypeOffset:       371,
}
