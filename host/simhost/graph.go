package simhost

import (
	"math/rand/v2"

	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host"
	"github.com/tinygo-org/heapscan/layout"
	"github.com/tinygo-org/heapscan/mem"
)

// GraphConfig shapes a random object graph.
type GraphConfig struct {
	Objects    int
	Roots      int
	Mutators   int
	StackDepth int
	NMethods   int
	Seed       uint64
}

// Graph is a random object graph built by BuildGraph.
type Graph struct {
	Objects  []edge.ObjectReference
	Mutators []*Mutator
	Methods  []*NMethod
}

// BuildGraph allocates cfg.Objects objects of every kind and links them at
// random. Roots, stack slots and compiled methods point into the graph, so
// some objects are reachable and the rest are garbage. reg is used to
// register compiled methods and may be nil if cfg.NMethods is zero.
func (h *Host) BuildGraph(cfg GraphConfig, reg CodeRegistry) *Graph {
	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	node := h.InstanceKlass(layout.OopMapBlock{Offset: h.Field(0), Count: 1})
	pair := h.InstanceKlass(layout.OopMapBlock{Offset: h.Field(0), Count: 1},
		layout.OopMapBlock{Offset: h.Field(2), Count: 1})
	loader := h.ClassLoaderKlass(layout.OopMapBlock{Offset: h.Field(0), Count: 2})
	mirror := h.MirrorKlass(layout.OopMapBlock{Offset: h.Field(0), Count: 1})
	objArray := h.ObjArrayKlass()
	longArray := h.TypeArrayKlass(layout.TLong)
	refTypes := []layout.ReferenceType{layout.RefSoft, layout.RefWeak, layout.RefPhantom, layout.RefFinal, layout.RefOther}
	refKlasses := make(map[layout.ReferenceType]mem.Address, len(refTypes))
	for _, rt := range refTypes {
		refKlasses[rt] = h.ReferenceKlass(rt, layout.OopMapBlock{Offset: h.ReferenceField(0), Count: 1})
	}

	g := &Graph{}
	type outgoing struct {
		obj  edge.ObjectReference
		link func(target edge.ObjectReference)
	}
	var links []outgoing
	addLink := func(obj edge.ObjectReference, link func(edge.ObjectReference)) {
		links = append(links, outgoing{obj, link})
	}
	for range cfg.Objects {
		var obj edge.ObjectReference
		switch k := r.IntN(20); {
		case k < 8:
			obj = h.New(node)
			addLink(obj, func(t edge.ObjectReference) { h.SetField(obj, h.Field(0), t) })
		case k < 11:
			obj = h.New(pair)
			addLink(obj, func(t edge.ObjectReference) { h.SetField(obj, h.Field(0), t) })
			addLink(obj, func(t edge.ObjectReference) { h.SetField(obj, h.Field(2), t) })
		case k < 12:
			obj = h.New(loader)
			addLink(obj, func(t edge.ObjectReference) { h.SetField(obj, h.Field(1), t) })
		case k < 13:
			statics := r.IntN(4)
			obj = h.NewMirror(mirror, statics)
			addLink(obj, func(t edge.ObjectReference) { h.SetField(obj, h.Field(0), t) })
			for i := range statics {
				addLink(obj, func(t edge.ObjectReference) { h.SetStatic(obj, i, t) })
			}
		case k < 15:
			n := r.IntN(6)
			obj = h.NewArray(objArray, n)
			for i := range n {
				addLink(obj, func(t edge.ObjectReference) { h.SetElement(obj, i, t) })
			}
		case k < 16:
			obj = h.NewArray(longArray, r.IntN(8))
		default:
			rt := refTypes[r.IntN(len(refTypes))]
			obj = h.New(refKlasses[rt])
			addLink(obj, func(t edge.ObjectReference) { h.SetReferent(obj, t) })
			addLink(obj, func(t edge.ObjectReference) { h.SetField(obj, h.ReferenceField(0), t) })
		}
		g.Objects = append(g.Objects, obj)
	}
	if len(g.Objects) == 0 {
		return g
	}
	pick := func() edge.ObjectReference { return g.Objects[r.IntN(len(g.Objects))] }

	for _, l := range links {
		// Leave a fifth of the fields null.
		if r.IntN(5) > 0 {
			l.link(pick())
		}
	}
	sources := rootSources()
	for i := range cfg.Roots {
		src := sources[i%len(sources)]
		if h.Compression().Enabled() && r.IntN(4) == 0 {
			h.AddNarrowRoot(src, pick())
		} else {
			h.AddRoot(src, pick())
		}
	}
	for range cfg.Mutators {
		m := h.NewMutator()
		for range cfg.StackDepth {
			m.Push(pick())
		}
		g.Mutators = append(g.Mutators, m)
	}
	for i := range cfg.NMethods {
		targets := make([]edge.ObjectReference, 1+r.IntN(3))
		for j := range targets {
			targets[j] = pick()
		}
		tls := host.Thread(0x7f00_0000 + uintptr(i%4)*0x1000)
		g.Methods = append(g.Methods, h.Compile(reg, tls, targets...))
	}
	return g
}

// rootSources lists the sources BuildGraph puts roots in. Code cache roots
// are the oop tables of compiled methods, which the binding may track in its
// own table instead of asking the host.
func rootSources() []host.Source {
	sources := make([]host.Source, 0, host.NumSources-1)
	for src := host.Source(0); src < host.NumSources; src++ {
		if src != host.CodeCache {
			sources = append(sources, src)
		}
	}
	return sources
}
