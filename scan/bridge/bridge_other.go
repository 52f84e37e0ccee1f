//go:build !linux

package bridge

import (
	"sync"
	"sync/atomic"

	"github.com/tinygo-org/heapscan/edge"
)

// Without a portable thread id, slow-path scans are serialized and share a
// single active visitor. Runs must not nest on these platforms.
var (
	mu      sync.Mutex
	current atomic.Pointer[func(edge.Slot)]
)

func install(v func(edge.Slot)) func() {
	mu.Lock()
	current.Store(&v)
	return func() {
		current.Store(nil)
		mu.Unlock()
	}
}

func visit(slot edge.Slot) {
	v := current.Load()
	if v == nil {
		panic("bridge: slot reported outside of an active scan")
	}
	(*v)(slot)
}
