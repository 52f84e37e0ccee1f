// Package scan enumerates the reference slots of heap objects.
//
// ScanObject visits each reference-holding slot of an object exactly once,
// according to the object's class kind. The slots themselves are not loaded
// or followed: that is left to the visitor.
package scan

import (
	"fmt"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/mem"
	"github.com/tinygo-org/heapscan/scan/bridge"
)

// Visitor receives the slots of scanned objects.
type Visitor interface {
	VisitSlot(slot edge.Slot)
}

// VisitorFunc adapts a function to the Visitor interface.
type VisitorFunc func(slot edge.Slot)

func (f VisitorFunc) VisitSlot(slot edge.Slot) {
	f(slot)
}

// ReferenceSink collects java.lang.ref.Reference objects whose referent was
// not reported as a strong slot. The collector decides later what happens to
// their referents.
type ReferenceSink interface {
	AddSoftCandidate(ref edge.ObjectReference)
	AddWeakCandidate(ref edge.ObjectReference)
	AddPhantomCandidate(ref edge.ObjectReference)
}

// Policy reports collector settings that can change between scans.
type Policy interface {
	// NoReferenceTypes reports whether Reference objects are treated like
	// ordinary objects, reporting their referent as a strong slot.
	NoReferenceTypes() bool
}

// InvariantError is the panic value used when an object cannot be scanned
// because the heap or the layout description is corrupt. Scanning cannot
// continue safely after one.
type InvariantError struct {
	Object edge.ObjectReference
	Err    error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("scanning object %v: %v", e.Object, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return e.Err
}

// Scanner scans objects laid out according to a Header. It holds no mutable
// state, so one Scanner can be shared by all workers.
type Scanner struct {
	mem    mem.Memory
	header layout.Header
	refs   ReferenceSink
	policy Policy
}

// New returns a Scanner reading the heap through m.
func New(m mem.Memory, header layout.Header, refs ReferenceSink, policy Policy) *Scanner {
	return &Scanner{mem: m, header: header, refs: refs, policy: policy}
}

// Header returns the object model the scanner decodes.
func (s *Scanner) Header() layout.Header {
	return s.header
}

// ScanObject visits every reference slot of obj.
func (s *Scanner) ScanObject(obj edge.ObjectReference, v Visitor) {
	d, err := s.header.Describe(s.mem, obj)
	if err != nil {
		panic(&InvariantError{Object: obj, Err: err})
	}

	switch d.Kind() {
	case layout.KindInstance, layout.KindInstanceClassLoader:
		s.scanFields(obj, d.OopMaps(), v)
	case layout.KindInstanceMirror:
		s.scanFields(obj, d.OopMaps(), v)
		start, n := s.header.StaticFields(s.mem, obj)
		s.scanRange(start, n, v)
	case layout.KindInstanceRef:
		s.scanFields(obj, d.OopMaps(), v)
		s.scanReference(obj, d.ReferenceType(), v)
	case layout.KindObjArray:
		start := obj.Address().Add(s.header.ArrayBaseOffset(layout.TObject))
		s.scanRange(start, int(s.header.ArrayLength(s.mem, obj)), v)
	case layout.KindTypeArray:
		// Primitive elements only.
	default:
		panic(&InvariantError{Object: obj, Err: fmt.Errorf("unhandled klass kind %v", d.Kind())})
	}
}

func (s *Scanner) scanFields(obj edge.ObjectReference, maps layout.OopMaps, v Visitor) {
	for i := 0; i < maps.Len(); i++ {
		b := maps.At(s.mem, i)
		s.scanRange(obj.FieldAddress(b.Offset), int(b.Count), v)
	}
}

// scanRange visits n consecutive reference fields starting at start.
func (s *Scanner) scanRange(start mem.Address, n int, v Visitor) {
	step := s.header.References().BytesInReference()
	for i := 0; i < n; i++ {
		v.VisitSlot(edge.SlotAt(start.Add(uintptr(i) * step)))
	}
}

func (s *Scanner) scanReference(obj edge.ObjectReference, rt layout.ReferenceType, v Visitor) {
	if s.policy.NoReferenceTypes() {
		s.scanReferenceFields(obj, v)
		return
	}
	switch rt {
	case layout.RefNone:
		panic(&InvariantError{Object: obj, Err: fmt.Errorf("reference object with reference type %v", rt)})
	case layout.RefSoft:
		s.refs.AddSoftCandidate(obj)
	case layout.RefWeak:
		s.refs.AddWeakCandidate(obj)
	case layout.RefPhantom:
		s.refs.AddPhantomCandidate(obj)
	default:
		// Final and other references keep their referent alive. Finalizable
		// objects are handled after tracing.
		s.scanReferenceFields(obj, v)
	}
}

func (s *Scanner) scanReferenceFields(obj edge.ObjectReference, v Visitor) {
	v.VisitSlot(edge.SlotAt(s.header.ReferentAddress(obj)))
	v.VisitSlot(edge.SlotAt(s.header.DiscoveredAddress(obj)))
}

// ScanObjectSlow asks the host to scan obj and routes the reported slots to
// v. It is used for objects the host knows how to scan best, and to check
// ScanObject against the host.
func (s *Scanner) ScanObjectSlow(obj edge.ObjectReference, v Visitor, up host.Upcalls, tls host.Thread) {
	bridge.Run(v.VisitSlot, func(fn host.SlotFunc) {
		up.ScanObject(obj, fn, tls)
	})
}
