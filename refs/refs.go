// Package refs holds the reference objects discovered during tracing whose
// referents were not traced strongly.
package refs

import (
	"sync"

	"github.com/tinygo-org/heapscan/edge"
)

// Strength is the kind of a discovered reference.
type Strength uint8

const (
	Soft Strength = iota
	Weak
	Phantom

	numStrengths
)

func (s Strength) String() string {
	switch s {
	case Soft:
		return "soft"
	case Weak:
		return "weak"
	case Phantom:
		return "phantom"
	}
	return "unknown"
}

// Table is a concurrent side table of reference candidates. Each reference
// object is recorded at most once per strength, however often it is scanned.
type Table struct {
	mu   sync.Mutex
	seen [numStrengths]map[edge.ObjectReference]struct{}
	list [numStrengths][]edge.ObjectReference
}

func NewTable() *Table {
	t := &Table{}
	for i := range t.seen {
		t.seen[i] = make(map[edge.ObjectReference]struct{})
	}
	return t
}

func (t *Table) add(s Strength, ref edge.ObjectReference) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.seen[s][ref]; ok {
		return
	}
	t.seen[s][ref] = struct{}{}
	t.list[s] = append(t.list[s], ref)
}

func (t *Table) AddSoftCandidate(ref edge.ObjectReference)    { t.add(Soft, ref) }
func (t *Table) AddWeakCandidate(ref edge.ObjectReference)    { t.add(Weak, ref) }
func (t *Table) AddPhantomCandidate(ref edge.ObjectReference) { t.add(Phantom, ref) }

// Candidates returns a copy of the candidates of one strength in discovery
// order.
func (t *Table) Candidates(s Strength) []edge.ObjectReference {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]edge.ObjectReference(nil), t.list[s]...)
}

// Len returns the number of candidates of one strength.
func (t *Table) Len(s Strength) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.list[s])
}

// Reset forgets all candidates, at the end of a collection.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.seen {
		clear(t.seen[i])
		t.list[i] = nil
	}
}
