//go:build linux

package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
)

func TestRunNested(t *testing.T) {
	var outer, inner []edge.Slot
	Run(func(s edge.Slot) { outer = append(outer, s) }, func(fn host.SlotFunc) {
		fn(edge.SlotAt(0x1000))
		Run(func(s edge.Slot) { inner = append(inner, s) }, func(fn host.SlotFunc) {
			fn(edge.SlotAt(0x2000))
		})
		fn(edge.SlotAt(0x1008))
	})
	assert.Equal(t, []edge.Slot{edge.SlotAt(0x1000), edge.SlotAt(0x1008)}, outer)
	assert.Equal(t, []edge.Slot{edge.SlotAt(0x2000)}, inner)
	assert.Panics(t, func() { Visit(edge.SlotAt(0x3000)) })
}
