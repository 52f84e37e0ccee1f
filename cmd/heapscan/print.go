package main

import (
	"fmt"
	"io"
	"time"

	"github.com/tinygo-org/heapscan/config"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/trace"
	"github.com/tinygo-org/heapscan/work"
)

const (
	colorReset  = "\x1b[0m"
	colorBold   = "\x1b[1m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorRed    = "\x1b[31m"
	colorCyan   = "\x1b[36m"
)

type printer struct {
	w     io.Writer
	color bool
}

func newPrinter(w io.Writer, color bool) *printer {
	return &printer{w: w, color: color}
}

func (p *printer) paint(color, s string) string {
	if !p.color {
		return s
	}
	return color + s + colorReset
}

func (p *printer) header(opts config.Options, c edge.Compression, objects int) {
	fmt.Fprintf(p.w, "%s %d objects, heap %v at %#x, %s, %d threads\n",
		p.paint(colorBold, "heapscan:"), objects, opts.HeapSize, opts.HeapStart, c, opts.Threads)
}

func (p *printer) cycle(i int, cycle work.Cycle, st trace.Stats, verified, ok bool) {
	kind := p.paint(colorCyan, "full   ")
	if cycle.Nursery {
		kind = p.paint(colorYellow, "nursery")
	}
	fmt.Fprintf(p.w, "cycle %-3d %s marked %-8d slots %-8d packets %-6d refs %d/%d/%d  %v",
		i, kind, st.Marked, st.Slots, st.Packets, st.Soft, st.Weak, st.Phantom, st.Duration.Round(time.Microsecond))
	switch {
	case !verified:
	case ok:
		fmt.Fprint(p.w, " ", p.paint(colorGreen, "ok"))
	default:
		fmt.Fprint(p.w, " ", p.paint(colorRed, "MISMATCH"))
	}
	fmt.Fprintln(p.w)
}

func (p *printer) metrics(tr *trace.Tracer) {
	all := trace.All()
	samples := make([]trace.Sample, len(all))
	for i, d := range all {
		samples[i].Name = d.Name
	}
	tr.Read(samples)
	fmt.Fprintln(p.w, p.paint(colorBold, "metrics:"))
	for _, s := range samples {
		switch s.Value.Kind() {
		case trace.KindUint64:
			fmt.Fprintf(p.w, "  %-34s %d\n", s.Name, s.Value.Uint64())
		case trace.KindFloat64:
			fmt.Fprintf(p.w, "  %-34s %g\n", s.Name, s.Value.Float64())
		}
	}
}
