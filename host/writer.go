package host

import "github.com/tinygo-org/heapscan/edge"

// SlotWriter is the host side of the Closure protocol. A host written in Go
// uses it to report root slots: it asks for a buffer up front, renews it
// whenever it fills up and hands over the remainder on Close.
type SlotWriter struct {
	c   Closure
	buf []edge.Slot
}

// NewSlotWriter obtains the first buffer from c.
func NewSlotWriter(c Closure) *SlotWriter {
	return &SlotWriter{c: c, buf: c.Renew(nil)}
}

// Add reports one slot.
func (w *SlotWriter) Add(slot edge.Slot) {
	w.buf = append(w.buf, slot)
	if len(w.buf) >= cap(w.buf) {
		w.flush()
	}
}

func (w *SlotWriter) flush() {
	if len(w.buf) > 0 {
		w.buf = w.c.Renew(w.buf)
	}
}

// Close hands over any remaining slots. The writer must not be used
// afterwards.
func (w *SlotWriter) Close() {
	w.flush()
	w.buf = nil
}
