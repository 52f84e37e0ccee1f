// Command heapscan builds a simulated host heap, attaches a binding to it
// and runs marking cycles over it, printing what each cycle found.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/tinygo-org/heapscan/binding"
	"github.com/tinygo-org/heapscan/config"
	"github.com/tinygo-org/heapscan/diagnostics"
	"github.com/tinygo-org/heapscan/edge"
	"github.com/tinygo-org/heapscan/host/simhost"
	"github.com/tinygo-org/heapscan/mem"
	"github.com/tinygo-org/heapscan/sched"
	"github.com/tinygo-org/heapscan/trace"
	"github.com/tinygo-org/heapscan/work"
)

// errVerify is returned when a cycle marks a different set of objects than
// the host considers reachable.
var errVerify = errors.New("marked objects differ from reachable objects")

type options struct {
	configFile string
	bulk       string
	cycles     int
	graph      simhost.GraphConfig
	verbose    bool
	verify     bool
	color      bool
	statsFile  string
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: heapscan [flags]")
	fmt.Fprintln(os.Stderr, "\nRuns marking cycles over a randomly generated heap.")
	fmt.Fprintln(os.Stderr, "\nflags:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nbinding options (-o, -config, HEAPSCAN_<NAME>):")
	for _, name := range config.Names() {
		fmt.Fprintln(os.Stderr, "  "+name)
	}
}

func main() {
	var o options
	flag.Usage = usage
	flag.StringVar(&o.configFile, "config", "", "YAML file with binding options")
	flag.StringVar(&o.bulk, "o", "", "binding options as name=value pairs, e.g. \"threads=8 compressed_oops=true\"")
	flag.IntVar(&o.cycles, "cycles", 3, "number of collection cycles")
	flag.IntVar(&o.graph.Objects, "objects", 10000, "number of heap objects")
	flag.IntVar(&o.graph.Roots, "roots", 200, "number of VM roots")
	flag.IntVar(&o.graph.Mutators, "mutators", 4, "number of mutator threads")
	flag.IntVar(&o.graph.StackDepth, "stack", 16, "stack slots per mutator")
	flag.IntVar(&o.graph.NMethods, "nmethods", 100, "number of compiled methods")
	flag.Uint64Var(&o.graph.Seed, "seed", 1, "random seed for the heap")
	flag.BoolVar(&o.verbose, "v", false, "log debug messages")
	flag.BoolVar(&o.verify, "verify", false, "check every cycle against the host's own reachability")
	flag.StringVar(&o.statsFile, "stats", "", "append per-cycle statistics as JSON lines to this file")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()
	if flag.NArg() != 0 {
		usage()
		os.Exit(2)
	}
	o.color = !*noColor && (isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

	if err := run(context.Background(), o, colorable.NewColorableStdout()); err != nil {
		handleError(err)
	}
}

// handleError prints the diagnostics for err and exits.
func handleError(err error) {
	diagnostics.CreateDiagnostics(err).WriteTo(os.Stderr)
	os.Exit(1)
}

func run(ctx context.Context, o options, stdout io.Writer) (err error) {
	opts, err := config.Load(o.configFile, o.bulk)
	if err != nil {
		return err
	}
	if o.verbose {
		opts.LogLevel = "debug"
	}
	level, err := opts.Level()
	if err != nil {
		return err
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	h, err := simhost.New(simhost.Config{
		HeapStart:       mem.Address(opts.HeapStart),
		HeapSize:        uintptr(opts.HeapSize),
		CompressedOops:  opts.CompressedOops,
		CompressedKlass: opts.CompressedOops,
	})
	if err != nil {
		return err
	}
	b, err := binding.New(h, h.Memory(), opts, log)
	if err != nil {
		return err
	}
	if kc := h.KlassCompression(); kc.Enabled() {
		b.SetCompressedKlassBaseAndShift(kc.Base(), kc.Shift())
	}
	if c := h.Compression(); c.Enabled() {
		if err := b.CheckNarrowOop(c.Base(), c.Shift()); err != nil {
			return err
		}
	}

	// Scanning panics on a corrupt heap; report it like any other error.
	defer diagnostics.Recover(&err)

	g := h.BuildGraph(o.graph, b)
	p := newPrinter(stdout, o.color)
	p.header(opts, b.Compression(), len(g.Objects))

	var stats *statsFile
	if o.statsFile != "" {
		stats, err = openStats(o.statsFile)
		if err != nil {
			return err
		}
		defer stats.Close()
	}

	s := sched.New(opts.Threads, log)
	tr := trace.New(b, opts.WorkPacketCapacity, log)
	for i := range o.cycles {
		cycle := cycleKind(i)
		st := tr.Collect(ctx, s, cycle)
		ok := true
		if o.verify {
			ok = verify(tr.Marks(), h.Reachable(b.NoReferenceTypes()), !cycle.Nursery)
		}
		p.cycle(i, cycle, st, o.verify, ok)
		if stats != nil {
			if err := stats.Append(i, cycle, st); err != nil {
				return err
			}
		}
		if !ok {
			return fmt.Errorf("cycle %d: %w", i, errVerify)
		}
	}
	p.metrics(tr)
	return nil
}

// cycleKind alternates nursery and full collections. Every third cycle
// computes forwarding addresses after liveness.
func cycleKind(i int) work.Cycle {
	return work.Cycle{
		Nursery:              i%2 == 0,
		MayMove:              true,
		ForwardAfterLiveness: i%3 == 2,
	}
}

// verify checks that only reachable objects were marked. Nursery cycles do
// not report the roots of mature compiled methods, so only full cycles must
// mark every reachable object.
func verify(marks *trace.MarkTable, want map[edge.ObjectReference]bool, exact bool) bool {
	if exact && marks.Marked() != len(want) {
		return false
	}
	ok := true
	marks.Each(func(obj edge.ObjectReference) {
		if !want[obj] {
			ok = false
		}
	})
	return ok
}
