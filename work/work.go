// Package work defines the units of work the binding hands to the
// collector's scheduler, and the buffers that turn streams of slots into
// bounded work packets.
package work

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinygo-org/heapscan/edge"
)

// Stage is a scheduler bucket. A stage opens once every earlier stage has
// drained and all workers are idle.
type Stage uint8

const (
	Unconstrained Stage = iota
	Prepare
	Closure
	SoftRefClosure
	WeakRefClosure
	FinalRefClosure
	PhantomRefClosure
	CalculateForwarding
	SecondRoots
	RefForwarding
	FinalizableForwarding
	Compact
	Release
	Final

	NumStages
)

var stageNames = [NumStages]string{
	"unconstrained",
	"prepare",
	"closure",
	"soft-ref-closure",
	"weak-ref-closure",
	"final-ref-closure",
	"phantom-ref-closure",
	"calculate-forwarding",
	"second-roots",
	"ref-forwarding",
	"finalizable-forwarding",
	"compact",
	"release",
	"final",
}

func (s Stage) String() string {
	if s < NumStages {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// Packet is one schedulable unit of work.
type Packet interface {
	Do(ctx context.Context, w *Worker)
}

// PacketFunc adapts a function to the Packet interface.
type PacketFunc func(ctx context.Context, w *Worker)

func (f PacketFunc) Do(ctx context.Context, w *Worker) {
	f(ctx, w)
}

// Scheduler accepts packets into stage buckets.
type Scheduler interface {
	Add(stage Stage, p Packet)
	BulkAdd(stage Stage, ps []Packet)
}

// Worker is the execution context passed to a running packet.
type Worker struct {
	ID        int
	Scheduler Scheduler
	Log       *slog.Logger
}

// Logger returns the worker's logger, or the default logger if it has none.
func (w *Worker) Logger() *slog.Logger {
	if w.Log == nil {
		return slog.Default()
	}
	return w.Log
}

// Cycle describes the collection in progress.
type Cycle struct {
	// Nursery is set for collections that only trace young objects.
	Nursery bool
	// MayMove is set if objects may be moved during this collection.
	MayMove bool
	// ForwardAfterLiveness is set for plans that compute forwarding
	// addresses in a separate pass after tracing.
	ForwardAfterLiveness bool
}

// RootsFactory turns root slot batches into tracing packets.
type RootsFactory interface {
	// CreateProcessRootsWork schedules slots for tracing. It takes
	// ownership of the slice.
	CreateProcessRootsWork(slots []edge.Slot)
}

// RootsFactoryFunc adapts a function to the RootsFactory interface.
type RootsFactoryFunc func(slots []edge.Slot)

func (f RootsFactoryFunc) CreateProcessRootsWork(slots []edge.Slot) {
	f(slots)
}
