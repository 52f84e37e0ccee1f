package trace

import (
	"math/bits"
	"sync/atomic"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/mem"
)

// Objects start on a granule boundary. The mark table keeps one bit per
// granule.
const (
	bytesPerGranule = 8
	granulesPerWord = 64
)

// MarkTable is a side bitmap of marked objects covering one heap range.
// Marking is safe for concurrent use.
type MarkTable struct {
	start, end mem.Address
	words      []atomic.Uint64
	marked     atomic.Int64
}

// NewMarkTable returns an empty table for the heap [start, end).
func NewMarkTable(start, end mem.Address) *MarkTable {
	granules := (end.Sub(start) + bytesPerGranule - 1) / bytesPerGranule
	return &MarkTable{
		start: start,
		end:   end,
		words: make([]atomic.Uint64, (granules+granulesPerWord-1)/granulesPerWord),
	}
}

// granule returns the word index and bit of obj.
func (t *MarkTable) granule(obj edge.ObjectReference) (int, uint64, bool) {
	addr := obj.Address()
	if addr < t.start || addr >= t.end {
		return 0, 0, false
	}
	g := addr.Sub(t.start) / bytesPerGranule
	return int(g / granulesPerWord), 1 << (g % granulesPerWord), true
}

// TestAndMark marks obj and reports whether this call marked it. Objects
// outside the heap are never marked.
func (t *MarkTable) TestAndMark(obj edge.ObjectReference) bool {
	i, bit, ok := t.granule(obj)
	if !ok {
		return false
	}
	w := &t.words[i]
	for {
		old := w.Load()
		if old&bit != 0 {
			return false
		}
		if w.CompareAndSwap(old, old|bit) {
			t.marked.Add(1)
			return true
		}
	}
}

// IsMarked reports whether obj is marked.
func (t *MarkTable) IsMarked(obj edge.ObjectReference) bool {
	i, bit, ok := t.granule(obj)
	return ok && t.words[i].Load()&bit != 0
}

// Marked returns the number of marked objects.
func (t *MarkTable) Marked() int {
	return int(t.marked.Load())
}

// Count recomputes the number of marked objects from the bitmap. It must
// not run concurrently with marking.
func (t *MarkTable) Count() int {
	n := 0
	for i := range t.words {
		n += bits.OnesCount64(t.words[i].Load())
	}
	return n
}

// Each calls fn for every marked object in address order. It must not run
// concurrently with marking.
func (t *MarkTable) Each(fn func(obj edge.ObjectReference)) {
	for i := range t.words {
		w := t.words[i].Load()
		for w != 0 {
			b := bits.TrailingZeros64(w)
			w &^= 1 << b
			g := uintptr(i*granulesPerWord + b)
			fn(edge.ObjectReference(t.start.Add(g * bytesPerGranule)))
		}
	}
}

// Clear unmarks every object.
func (t *MarkTable) Clear() {
	for i := range t.words {
		t.words[i].Store(0)
	}
	t.marked.Store(0)
}
