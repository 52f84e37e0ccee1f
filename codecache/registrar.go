package codecache

import (
	"sync"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/mem"
)

// Registrar collects the slots of a method while the host reports them one
// by one, and registers them with the table once the method is complete.
// Each host thread has its own pending list.
type Registrar struct {
	table   Table
	pending sync.Map // host.Thread -> *[]edge.Slot
}

func NewRegistrar(t Table) *Registrar {
	return &Registrar{table: t}
}

// Table returns the table methods are registered with.
func (r *Registrar) Table() Table {
	return r.table
}

// AddRoot records one slot of the method tls is currently registering.
func (r *Registrar) AddRoot(tls host.Thread, slot edge.Slot) {
	v, ok := r.pending.Load(tls)
	if !ok {
		v, _ = r.pending.LoadOrStore(tls, new([]edge.Slot))
	}
	p := v.(*[]edge.Slot)
	*p = append(*p, slot)
}

// Register moves the slots recorded by tls to the table under nmethod,
// replacing any earlier entry. A method without reference slots has no
// entry, so registering it drops the earlier one.
func (r *Registrar) Register(tls host.Thread, nmethod mem.Address) {
	var slots []edge.Slot
	if v, ok := r.pending.LoadAndDelete(tls); ok {
		slots = *v.(*[]edge.Slot)
	}
	if len(slots) == 0 {
		r.table.Unregister(nmethod)
		return
	}
	r.table.Register(nmethod, slots)
}

// Unregister removes nmethod from the table.
func (r *Registrar) Unregister(nmethod mem.Address) {
	r.table.Unregister(nmethod)
}
