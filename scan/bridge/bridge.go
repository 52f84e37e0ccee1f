// Package bridge connects the context-free per-slot callback expected by some
// host entry points to the visitor of the scan that is currently running on
// the calling thread.
//
// It is the only place in the binding with ambient state. Everything else
// passes the visitor explicitly.
package bridge

import (
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
)

// Visit is the host.SlotFunc handed to the host while Run is active. Calling
// it from a thread with no active scan is a programming error and panics.
var Visit host.SlotFunc = visit

// Run installs v as the active visitor of the calling thread, calls call
// with Visit and restores the previous visitor afterwards.
//
// On Linux the visitor is keyed by OS thread and runs may nest. Elsewhere
// runs are serialized by one lock, so a nested Run deadlocks.
func Run(v func(edge.Slot), call func(fn host.SlotFunc)) {
	restore := install(v)
	defer restore()
	call(Visit)
}
