// Package sched is a stage-based work scheduler with a fixed pool of
// workers. Packets wait in one bucket per stage. Unconstrained packets may
// run at any time; every other stage opens once all earlier stages have
// drained and every worker is idle.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tinygo-org/heapscan/work"
)

// Scheduler implements work.Scheduler.
type Scheduler struct {
	workers int
	log     *slog.Logger

	mu      sync.Mutex
	cond    sync.Cond
	buckets [work.NumStages]queue
	open    work.Stage
	active  int
	running bool
	done    bool
	failure any

	executed [work.NumStages]uint64
}

// New returns a scheduler that runs packets on the given number of
// workers.
func New(workers int, log *slog.Logger) *Scheduler {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{workers: workers, log: log}
	s.cond.L = &s.mu
	return s
}

// Workers returns the size of the worker pool.
func (s *Scheduler) Workers() int {
	return s.workers
}

// Add queues p in stage.
func (s *Scheduler) Add(stage work.Stage, p work.Packet) {
	s.mu.Lock()
	s.buckets[stage].push(p)
	s.mu.Unlock()
	s.cond.Signal()
}

// BulkAdd queues every packet of ps in stage.
func (s *Scheduler) BulkAdd(stage work.Stage, ps []work.Packet) {
	if len(ps) == 0 {
		return
	}
	var q queue
	for _, p := range ps {
		q.push(p)
	}
	s.mu.Lock()
	s.buckets[stage].append(&q)
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Len returns the number of packets waiting in stage.
func (s *Scheduler) Len(stage work.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[stage].len
}

// Executed returns the number of packets run from each stage since the
// scheduler was created.
func (s *Scheduler) Executed() [work.NumStages]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}

// Run opens the stages in order, starting with Prepare, and returns once
// Final has drained. Packets may add more packets to any stage while the
// run is in progress. If a packet panics, the remaining workers stop
// picking up packets and Run panics with the same value on the calling
// goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		panic("sched: Run called while already running")
	}
	s.running = true
	s.done = false
	s.failure = nil
	s.open = work.Prepare
	s.mu.Unlock()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		w := &work.Worker{ID: i, Scheduler: s, Log: s.log.With("worker", i)}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.work(ctx, w)
		}()
	}
	wg.Wait()

	s.mu.Lock()
	s.running = false
	failure := s.failure
	if failure != nil {
		// The cycle is abandoned; its leftover packets must not run in the
		// next one.
		dropped := 0
		for i := range s.buckets {
			dropped += s.buckets[i].len
			s.buckets[i] = queue{}
		}
		s.log.Debug("dropped packets of failed run", "gc", "sched", "packets", dropped)
	}
	s.mu.Unlock()
	if failure != nil {
		panic(failure)
	}
}

// work is the loop of one worker. It is entered and left without the lock.
func (s *Scheduler) work(ctx context.Context, w *work.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.done {
		if stage, p := s.next(); p != nil {
			s.active++
			s.executed[stage]++
			s.mu.Unlock()
			r := do(ctx, w, p)
			s.mu.Lock()
			s.active--
			if r != nil && s.failure == nil {
				s.failure = r
				s.done = true
			}
			if s.active == 0 || s.done {
				s.cond.Broadcast()
			}
			continue
		}
		if s.active > 0 {
			s.cond.Wait()
			continue
		}
		// Nothing runnable and nobody running: every open stage is
		// drained.
		if s.open == work.Final {
			s.done = true
			s.cond.Broadcast()
			break
		}
		s.open++
		s.log.Debug("stage opened", "gc", "sched", "stage", s.open.String())
		s.cond.Broadcast()
	}
}

// next pops the first packet of the earliest open stage.
func (s *Scheduler) next() (work.Stage, work.Packet) {
	for stage := work.Unconstrained; stage <= s.open; stage++ {
		if p := s.buckets[stage].pop(); p != nil {
			return stage, p
		}
	}
	return 0, nil
}

func do(ctx context.Context, w *work.Worker, p work.Packet) (failure any) {
	defer func() {
		if r := recover(); r != nil {
			failure = r
		}
	}()
	p.Do(ctx, w)
	return nil
}

// String describes the state of the scheduler for debugging.
func (s *Scheduler) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("sched{workers: %d, open: %v, active: %d}", s.workers, s.open, s.active)
}
