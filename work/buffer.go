package work

import (
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
)

// DefaultCapacity is the default number of slots per work packet.
const DefaultCapacity = 4096

// SlotBuffer accumulates slots and hands them to flush in batches of at most
// capacity. A full buffer is only flushed when another slot arrives, so
// exactly capacity slots produce a single batch on Flush and none before.
//
// A SlotBuffer is owned by one goroutine.
type SlotBuffer struct {
	slots    []edge.Slot
	capacity int
	flush    func(slots []edge.Slot)
}

// NewSlotBuffer returns an empty buffer. flush takes ownership of each
// batch.
func NewSlotBuffer(capacity int, flush func(slots []edge.Slot)) *SlotBuffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &SlotBuffer{capacity: capacity, flush: flush}
}

// VisitSlot adds slot to the buffer.
func (b *SlotBuffer) VisitSlot(slot edge.Slot) {
	if len(b.slots) >= b.capacity {
		b.flush(b.slots)
		b.slots = nil
	}
	if b.slots == nil {
		b.slots = make([]edge.Slot, 0, b.capacity)
	}
	b.slots = append(b.slots, slot)
}

// Len returns the number of buffered slots.
func (b *SlotBuffer) Len() int {
	return len(b.slots)
}

// Flush hands over the buffered slots, if any. Every buffer must be flushed
// when its producer is done with it.
func (b *SlotBuffer) Flush() {
	if len(b.slots) > 0 {
		b.flush(b.slots)
		b.slots = nil
	}
}

type rootsClosure struct {
	factory  RootsFactory
	capacity int
}

// NewRootsClosure returns the closure passed to host root iterators. Every
// non-empty buffer the host returns becomes one packet through factory, with
// no copying.
func NewRootsClosure(factory RootsFactory, capacity int) host.Closure {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return host.Closure{
		Func: renewRootsBuffer,
		Data: &rootsClosure{factory: factory, capacity: capacity},
	}
}

func renewRootsBuffer(buf []edge.Slot, data any) []edge.Slot {
	c := data.(*rootsClosure)
	if len(buf) > 0 {
		c.factory.CreateProcessRootsWork(buf)
	}
	return make([]edge.Slot, 0, c.capacity)
}
