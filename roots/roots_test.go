package roots

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinygo-org/heapscan/codecache"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/host/simhost"
	"github.com/tinygo-org/heapscan/mem"
	"github.com/tinygo-org/heapscan/work"
)

// queue is a single-threaded scheduler that records what was added where.
type queue struct {
	stages [work.NumStages][]work.Packet
}

func (q *queue) Add(stage work.Stage, p work.Packet) {
	q.stages[stage] = append(q.stages[stage], p)
}

func (q *queue) BulkAdd(stage work.Stage, ps []work.Packet) {
	q.stages[stage] = append(q.stages[stage], ps...)
}

// drain runs every packet of stage, including packets added while running.
func (q *queue) drain(stage work.Stage) int {
	w := &work.Worker{Scheduler: q}
	n := 0
	for len(q.stages[stage]) > 0 {
		p := q.stages[stage][0]
		q.stages[stage] = q.stages[stage][1:]
		p.Do(context.Background(), w)
		n++
	}
	return n
}

type batches [][]edge.Slot

func (b *batches) CreateProcessRootsWork(slots []edge.Slot) {
	*b = append(*b, slots)
}

func (b batches) all() []edge.Slot {
	var s []edge.Slot
	for _, batch := range b {
		s = append(s, batch...)
	}
	return s
}

func newHost(t *testing.T) *simhost.Host {
	t.Helper()
	h, err := simhost.New(simhost.Config{CompressedOops: true})
	require.NoError(t, err)
	return h
}

func TestScanVMSpecificRoots(t *testing.T) {
	h := newHost(t)
	obj := h.New(h.InstanceKlass())
	var want []edge.Slot
	for src := host.Source(0); src < host.NumSources; src++ {
		for i := 0; i <= int(src); i++ {
			want = append(want, h.AddRoot(src, obj))
		}
	}

	s := New(h, nil, Options{Capacity: 4}, nil)
	q := &queue{}
	var got batches
	s.ScanVMSpecificRoots(q, &got, work.Cycle{})

	assert.Len(t, q.stages[work.Prepare], int(host.NumSources))
	q.drain(work.Prepare)
	assert.ElementsMatch(t, want, got.all())
	for _, b := range got {
		assert.LessOrEqual(t, len(b), 4)
	}
	for src := host.Source(0); src < host.NumSources; src++ {
		assert.Equal(t, 1, h.RootScans(src), "source %v", src)
	}
}

func TestThreadRoots(t *testing.T) {
	h := newHost(t)
	obj := h.New(h.InstanceKlass())
	var want []edge.Slot
	for i := 0; i < 3; i++ {
		m := h.NewMutator()
		for j := 0; j < 5; j++ {
			want = append(want, m.Push(obj))
		}
	}

	for _, perMutator := range []bool{false, true} {
		s := New(h, nil, Options{Capacity: 8, SingleThreadMutatorScanning: !perMutator}, nil)
		q := &queue{}
		var got batches
		s.ScanThreadRoots(q, &got)
		packets := q.drain(work.Prepare)
		if perMutator {
			assert.Equal(t, 3, packets)
		} else {
			assert.Equal(t, 1, packets)
		}
		assert.ElementsMatch(t, want, got.all())
		for _, slot := range got.all() {
			assert.True(t, slot.Tagged())
		}
	}
}

func TestVMThreadWithMutators(t *testing.T) {
	h := newHost(t)
	obj := h.New(h.InstanceKlass())
	vm := h.AddRoot(host.VMThread, obj)
	m := h.NewMutator()
	stack := m.Push(obj)

	for _, tc := range []struct {
		name        string
		opts        Options
		vmPackets   int
		threadSlots []edge.Slot
	}{
		{"per-mutator", Options{ScanMutatorsInSafepoint: true}, int(host.NumSources), []edge.Slot{stack}},
		{"single-thread", Options{SingleThreadMutatorScanning: true}, int(host.NumSources), []edge.Slot{stack}},
		{"both", Options{ScanMutatorsInSafepoint: true, SingleThreadMutatorScanning: true}, int(host.NumSources) - 1, []edge.Slot{stack, vm}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := New(h, nil, tc.opts, nil)
			q := &queue{}
			var got batches
			s.ScanVMSpecificRoots(q, &got, work.Cycle{})
			assert.Len(t, q.stages[work.Prepare], tc.vmPackets)

			q = &queue{}
			got = nil
			s.ScanThreadRoots(q, &got)
			assert.Equal(t, 1, q.drain(work.Prepare))
			assert.ElementsMatch(t, tc.threadSlots, got.all())
		})
	}
}

type registry struct {
	*codecache.Registrar
	compressed bool
}

func (r registry) AddNMethodOop(tls host.Thread, slot edge.Slot) {
	if r.compressed {
		slot = edge.WideSlot(slot.Address())
	}
	r.AddRoot(tls, slot)
}
func (r registry) RegisterNMethod(tls host.Thread, nm mem.Address) { r.Register(tls, nm) }
func (r registry) UnregisterNMethod(nm mem.Address)                { r.Unregister(nm) }

func TestCodeCacheRoots(t *testing.T) {
	h := newHost(t)
	obj := h.New(h.InstanceKlass())
	table := codecache.NewMutexTable()
	reg := registry{codecache.NewRegistrar(table), true}

	var methods []*simhost.NMethod
	for i := 0; i < NMethodsPerPacket+6; i++ {
		methods = append(methods, h.Compile(reg, 1, obj, obj))
	}
	s := New(h, table, Options{Capacity: 16, UseCodeCacheTable: true}, nil)

	// Nursery, moving, scavenging: every method is new.
	q := &queue{}
	var got batches
	s.ScanVMSpecificRoots(q, &got, work.Cycle{Nursery: true, MayMove: true})
	q.drain(work.Prepare)
	assert.Len(t, got.all(), 2*len(methods))
	assert.Zero(t, h.RootScans(host.CodeCache))
	require.Len(t, q.stages[work.SoftRefClosure], 2)
	assert.Empty(t, q.stages[work.RefForwarding])
	q.drain(work.SoftRefClosure)
	assert.Equal(t, len(methods), h.FixedMethods())

	// A second nursery collection has nothing to report.
	q = &queue{}
	got = nil
	s.ScanVMSpecificRoots(q, &got, work.Cycle{Nursery: true, MayMove: true})
	q.drain(work.Prepare)
	assert.Empty(t, got)

	// Full, forwarding after liveness: mature methods are reported and
	// fixed in RefForwarding.
	h.Compile(reg, 1, obj)
	q = &queue{}
	got = nil
	s.ScanVMSpecificRoots(q, &got, work.Cycle{MayMove: true, ForwardAfterLiveness: true})
	q.drain(work.Prepare)
	assert.Len(t, got.all(), 2*len(methods)+1)
	assert.Empty(t, q.stages[work.SoftRefClosure])
	assert.Len(t, q.stages[work.RefForwarding], 2)

	// Non-moving collections never fix relocations.
	q = &queue{}
	got = nil
	s.ScanVMSpecificRoots(q, &got, work.Cycle{})
	q.drain(work.Prepare)
	assert.NotEmpty(t, got)
	for st := work.Stage(0); st < work.NumStages; st++ {
		assert.Empty(t, q.stages[st], "stage %v", st)
	}
}

func TestCodeCacheFromHost(t *testing.T) {
	h := newHost(t)
	obj := h.New(h.InstanceKlass())
	table := codecache.NewMutexTable()
	nm := h.Compile(registry{codecache.NewRegistrar(table), true}, 1, obj)

	s := New(h, table, Options{}, nil)
	q := &queue{}
	var got batches
	s.ScanVMSpecificRoots(q, &got, work.Cycle{})
	q.drain(work.Prepare)
	assert.Equal(t, 1, h.RootScans(host.CodeCache))
	assert.Equal(t, []edge.Slot{edge.WideSlot(nm.Slots[0].Address())}, got.all())

	// The table was not consulted.
	nursery, _ := table.Len()
	assert.Equal(t, 1, nursery)
}
