// ABOUTME: One-slot run supervisor for a duplex connection
// ABOUTME: Last-write-wins replacement, explicit cancel, and emit gating after abort

// Package supervisor owns the single active run of a duplex connection.
//
// A new run replaces the active one (the old run is aborted, never queued).
// Cancel aborts the active run and reports a status event followed by a
// done event. All events reach the connection through one serialized
// writer, and an aborted run can no longer write: its emit function fails
// once the abort has happened, so nothing it produces afterwards is seen.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
)

// Event types sent to the client.
const (
	EventChunk  = "chunk"
	EventDone   = "done"
	EventError  = "error"
	EventStatus = "status"
)

// CancelledStatus is the status content sent after an explicit cancel.
const CancelledStatus = "Generation cancelled"

// Event is one outbound frame.
type Event struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Emitter delivers an event to the client.
type Emitter func(Event) error

// RunFunc is the body of a run. It must stop promptly when ctx is cancelled.
type RunFunc func(ctx context.Context, emit Emitter)

type run struct {
	id     uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor tracks at most one active run.
type Supervisor struct {
	send   Emitter
	logger *slog.Logger

	mu     sync.Mutex // guards active, nextID and closed
	active *run
	nextID uint64
	closed bool

	writeMu sync.Mutex // serializes send
	wg      sync.WaitGroup
}

// New creates a Supervisor writing through send.
func New(send Emitter, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{send: send, logger: logger.With("component", "supervisor")}
}

// Start aborts any active run and launches fn as the new active run.
// It returns false if the supervisor is closed.
func (s *Supervisor) Start(parent context.Context, fn RunFunc) bool {
	ctx, cancel := context.WithCancel(parent)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return false
	}
	previous := s.active
	s.nextID++
	r := &run{id: s.nextID, cancel: cancel, done: make(chan struct{})}
	s.active = r
	s.wg.Add(1)
	s.mu.Unlock()

	if previous != nil {
		s.logger.Info("replacing active run", "previous_run", previous.id, "run", r.id)
		previous.cancel()
	}

	emit := func(ev Event) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		if err := ctx.Err(); err != nil {
			return err
		}
		return s.send(ev)
	}

	go func() {
		defer s.wg.Done()
		defer close(r.done)
		defer cancel()
		defer s.clear(r)
		fn(ctx, emit)
	}()
	return true
}

func (s *Supervisor) clear(r *run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == r {
		s.active = nil
	}
}

// Cancel aborts the active run, then sends a status event and a done event.
// It returns false, sending nothing, when no run is active.
func (s *Supervisor) Cancel() bool {
	s.mu.Lock()
	r := s.active
	s.active = nil
	s.mu.Unlock()

	if r == nil {
		return false
	}
	r.cancel()
	s.logger.Info("run cancelled", "run", r.id)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.send(Event{Type: EventStatus, Content: CancelledStatus}); err != nil {
		return true
	}
	_ = s.send(Event{Type: EventDone})
	return true
}

// Send writes an event outside any run, serialized with run output.
func (s *Supervisor) Send(ev Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.send(ev)
}

// Active reports whether a run is in progress.
func (s *Supervisor) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Close aborts the active run, refuses new ones and waits for every run goroutine to exit.
func (s *Supervisor) Close() {
	s.mu.Lock()
	s.closed = true
	r := s.active
	s.active = nil
	s.mu.Unlock()

	if r != nil {
		r.cancel()
	}
	s.wg.Wait()
}
