// Package host declares the boundary between the binding and the host
// runtime: the upcalls the binding makes into the host and the closure types
// the host calls back through.
package host

import (
	"fmt"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/mem"
)

// Thread is the host's opaque thread-local-storage handle.
type Thread uintptr

// Mutator is a paused application thread whose stack can be scanned.
type Mutator struct {
	TLS Thread
	ID  int
}

// Source is one host subsystem that holds roots.
type Source uint8

const (
	Universe Source = iota
	JNIHandles
	ObjectSynchronizer
	Management
	JvmtiExport
	AOTLoader
	SystemDictionary
	StringTable
	ClassLoaderDataGraph
	WeakProcessor
	VMThread
	OopStorageSet
	CodeCache

	NumSources
)

var sourceNames = [NumSources]string{
	Universe:             "universe",
	JNIHandles:           "jni-handles",
	ObjectSynchronizer:   "object-synchronizer",
	Management:           "management",
	JvmtiExport:          "jvmti-export",
	AOTLoader:            "aot-loader",
	SystemDictionary:     "system-dictionary",
	StringTable:          "string-table",
	ClassLoaderDataGraph: "class-loader-data-graph",
	WeakProcessor:        "weak-processor",
	VMThread:             "vm-thread",
	OopStorageSet:        "oop-storage-set",
	CodeCache:            "code-cache",
}

func (s Source) String() string {
	if s < NumSources {
		return sourceNames[s]
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// SlotFunc is the per-item callback. It deliberately carries no context: it
// mirrors a plain C function pointer, which is all some host entry points
// accept.
type SlotFunc func(slot edge.Slot)

// Closure is the batch-return callback used for roots. It is passed to the
// host by value.
//
// The host calls Renew(nil) first to obtain an empty buffer, appends slots
// until the buffer is full, then calls Renew with the filled buffer. The
// binding takes ownership of every non-empty buffer it receives and answers
// with a fresh one. A nil or empty buffer carries no data.
type Closure struct {
	Func func(buf []edge.Slot, data any) []edge.Slot
	Data any
}

// Renew hands buf to the binding and returns the next buffer to fill.
func (c Closure) Renew(buf []edge.Slot) []edge.Slot {
	return c.Func(buf, c.Data)
}

// Upcalls is everything the binding asks of the host.
type Upcalls interface {
	// LayoutChecksum returns the host's checksum of its class header sizes.
	LayoutChecksum() uint16

	// Field offsets of well-known classes.
	ReferentOffset() int32
	DiscoveredOffset() int32
	OffsetOfStaticFields() int32
	StaticOopFieldCountOffset() int32

	// ScanObject reports every reference slot of obj through fn. It is the
	// slow path for objects the binding cannot decode itself.
	ScanObject(obj edge.ObjectReference, fn SlotFunc, tls Thread)

	// ScanRoots reports the roots held by one host subsystem.
	ScanRoots(src Source, c Closure)

	// ScanAllThreadRoots reports the stack roots of every mutator.
	ScanAllThreadRoots(c Closure)

	// ScanThreadRoots reports the stack roots of a single mutator.
	ScanThreadRoots(c Closure, m Mutator)

	// Mutators lists the paused mutators.
	Mutators() []Mutator

	// FixOopRelocations copies the (possibly moved) references held in a
	// compiled method's slots back into its instruction stream.
	FixOopRelocations(nmethod mem.Address)
}
