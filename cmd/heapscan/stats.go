package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/tinygo-org/heapscan/trace"
	"github.com/tinygo-org/heapscan/work"
)

// statsFile appends one JSON record per cycle. Several heapscan processes
// may share a file; each record is written under an exclusive file lock so
// records never interleave.
type statsFile struct {
	f    *os.File
	lock *flock.Flock
}

type statsRecord struct {
	Time     time.Time `json:"time"`
	PID      int       `json:"pid"`
	Cycle    int       `json:"cycle"`
	Nursery  bool      `json:"nursery"`
	Marked   int       `json:"marked"`
	Slots    int64     `json:"slots"`
	Packets  int64     `json:"packets"`
	Soft     int       `json:"soft"`
	Weak     int       `json:"weak"`
	Phantom  int       `json:"phantom"`
	Duration float64   `json:"duration_seconds"`
}

func openStats(path string) (*statsFile, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	return &statsFile{f: f, lock: flock.New(path + ".lock")}, nil
}

func (s *statsFile) Append(i int, cycle work.Cycle, st trace.Stats) error {
	line, err := json.Marshal(statsRecord{
		Time:     time.Now().UTC(),
		PID:      os.Getpid(),
		Cycle:    i,
		Nursery:  cycle.Nursery,
		Marked:   st.Marked,
		Slots:    st.Slots,
		Packets:  st.Packets,
		Soft:     st.Soft,
		Weak:     st.Weak,
		Phantom:  st.Phantom,
		Duration: st.Duration.Seconds(),
	})
	if err != nil {
		return err
	}
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", s.lock.Path(), err)
	}
	defer s.lock.Unlock()
	_, err = s.f.Write(append(line, '\n'))
	return err
}

func (s *statsFile) Close() error {
	s.lock.Close()
	return s.f.Close()
}
