// Package codecache tracks the reference slots embedded in compiled methods
// ("nmethods").
//
// Registered methods start in the nursery generation. A collection takes the
// nursery, and the mature generation too for full-heap collections, and
// promotes the nursery into mature. A method is in at most one generation.
package codecache

import (
	"sync"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/mem"
)

// Entry is one compiled method and its reference slots.
type Entry struct {
	NMethod mem.Address
	Slots   []edge.Slot
}

// Table is the compiled-code root table.
type Table interface {
	// Register records the slots of nmethod in the nursery. A method that
	// was registered before is replaced.
	Register(nmethod mem.Address, slots []edge.Slot)
	// Unregister forgets nmethod. Unknown methods are ignored.
	Unregister(nmethod mem.Address)
	// Collect returns the methods whose roots must be reported in a
	// collection and promotes the nursery into the mature generation, as
	// one atomic step. Mature methods are only returned if full is set.
	Collect(full bool) Roots
	// Len returns the number of methods per generation.
	Len() (nursery, mature int)
}

// Roots is the result of Table.Collect.
type Roots struct {
	Nursery []Entry
	Mature  []Entry
}

// Slots returns the number of slots per generation.
func (r Roots) Slots() (nursery, mature int) {
	for _, e := range r.Nursery {
		nursery += len(e.Slots)
	}
	for _, e := range r.Mature {
		mature += len(e.Slots)
	}
	return nursery, mature
}

// MutexTable is a Table guarded by a single mutex.
type MutexTable struct {
	mu      sync.Mutex
	nursery map[mem.Address][]edge.Slot
	mature  map[mem.Address][]edge.Slot
}

var _ Table = (*MutexTable)(nil)

func NewMutexTable() *MutexTable {
	return &MutexTable{
		nursery: make(map[mem.Address][]edge.Slot),
		mature:  make(map[mem.Address][]edge.Slot),
	}
}

func (t *MutexTable) Register(nmethod mem.Address, slots []edge.Slot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.mature, nmethod)
	t.nursery[nmethod] = slots
}

func (t *MutexTable) Unregister(nmethod mem.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nursery, nmethod)
	delete(t.mature, nmethod)
}

func (t *MutexTable) Collect(full bool) Roots {
	t.mu.Lock()
	defer t.mu.Unlock()

	var r Roots
	if full {
		for nm, slots := range t.mature {
			r.Mature = append(r.Mature, Entry{NMethod: nm, Slots: slots})
		}
	}
	for nm, slots := range t.nursery {
		r.Nursery = append(r.Nursery, Entry{NMethod: nm, Slots: slots})
		t.mature[nm] = slots
	}
	clear(t.nursery)
	return r
}

func (t *MutexTable) Len() (nursery, mature int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nursery), len(t.mature)
}
