package trace

import (
	"math"
	"time"
)

// Description describes a metric the tracer can report.
type Description struct {
	Name        string
	Description string
	Kind        ValueKind
	Cumulative  bool
}

var descriptions = []Description{
	{Name: "/gc/cycles/total:gc-cycles", Description: "Completed collection cycles.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/marked:objects", Description: "Objects marked by the last cycle.", Kind: KindUint64},
	{Name: "/gc/heap/marked-total:objects", Description: "Objects marked by all cycles.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/scan/slots:slots", Description: "Slots processed by the last cycle.", Kind: KindUint64},
	{Name: "/gc/scan/slots-total:slots", Description: "Slots processed by all cycles.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/scan/packets:packets", Description: "Tracing packets run by the last cycle.", Kind: KindUint64},
	{Name: "/gc/refs/soft:objects", Description: "Soft reference candidates of the last cycle.", Kind: KindUint64},
	{Name: "/gc/refs/weak:objects", Description: "Weak reference candidates of the last cycle.", Kind: KindUint64},
	{Name: "/gc/refs/phantom:objects", Description: "Phantom reference candidates of the last cycle.", Kind: KindUint64},
	{Name: "/gc/pauses/last:seconds", Description: "Duration of the last cycle.", Kind: KindFloat64},
}

// All returns the metrics supported by Read.
func All() []Description {
	return append([]Description(nil), descriptions...)
}

// Sample is one metric value.
type Sample struct {
	Name  string
	Value Value
}

// Read fills in the value of each sample. Unknown names get a KindBad
// value.
func (t *Tracer) Read(m []Sample) {
	last := t.LastStats()
	for i := range m {
		v := &m[i].Value
		switch m[i].Name {
		case "/gc/cycles/total:gc-cycles":
			v.setUint64(t.cycles.Load())
		case "/gc/heap/marked:objects":
			v.setUint64(uint64(last.Marked))
		case "/gc/heap/marked-total:objects":
			v.setUint64(t.totalMarked.Load())
		case "/gc/scan/slots:slots":
			v.setUint64(uint64(last.Slots))
		case "/gc/scan/slots-total:slots":
			v.setUint64(t.totalSlots.Load())
		case "/gc/scan/packets:packets":
			v.setUint64(uint64(last.Packets))
		case "/gc/refs/soft:objects":
			v.setUint64(uint64(last.Soft))
		case "/gc/refs/weak:objects":
			v.setUint64(uint64(last.Weak))
		case "/gc/refs/phantom:objects":
			v.setUint64(uint64(last.Phantom))
		case "/gc/pauses/last:seconds":
			v.setFloat64(time.Duration(t.lastPause.Load()).Seconds())
		default:
			*v = Value{}
		}
	}
}

// Value is the value of a sample.
type Value struct {
	kind   ValueKind
	scalar uint64
}

func (v *Value) setUint64(x uint64) {
	v.kind = KindUint64
	v.scalar = x
}

func (v *Value) setFloat64(x float64) {
	v.kind = KindFloat64
	v.scalar = math.Float64bits(x)
}

// Kind returns the kind of the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Uint64 returns the value of a KindUint64 sample. It panics for other
// kinds.
func (v Value) Uint64() uint64 {
	if v.kind != KindUint64 {
		panic("called Uint64 on non-uint64 metric value")
	}
	return v.scalar
}

// Float64 returns the value of a KindFloat64 sample. It panics for other
// kinds.
func (v Value) Float64() float64 {
	if v.kind != KindFloat64 {
		panic("called Float64 on non-float64 metric value")
	}
	return math.Float64frombits(v.scalar)
}

type ValueKind int

const (
	KindBad ValueKind = iota
	KindUint64
	KindFloat64
)
