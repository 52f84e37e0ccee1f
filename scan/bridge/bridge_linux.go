//go:build linux

package bridge

import (
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/tinygo-org/heapscan/edge"
)

// active maps an OS thread id to the visitor of the scan running on it.
var active sync.Map

func install(v func(edge.Slot)) func() {
	runtime.LockOSThread()
	tid := unix.Gettid()
	prev, nested := active.Load(tid)
	active.Store(tid, v)
	return func() {
		if nested {
			active.Store(tid, prev)
		} else {
			active.Delete(tid)
		}
		runtime.UnlockOSThread()
	}
}

func visit(slot edge.Slot) {
	v, ok := active.Load(unix.Gettid())
	if !ok {
		panic("bridge: slot reported outside of an active scan")
	}
	v.(func(edge.Slot))(slot)
}
