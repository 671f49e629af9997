// Package mock provides a test double for recognizer.Source.
//
// Tests push events with Emit and inspect StartCalls / StopCalls:
//
//	src := mock.New()
//	ctrl := session.New(session.Options{Source: src, ...})
//	ctrl.Start(ctx)
//	src.Emit(recognizer.Event{Kind: recognizer.KindEnd})
package mock

import (
	"context"
	"sync"

	"github.com/jwulff/callnotes/internal/recognizer"
)

// Source is a mock implementation of recognizer.Source.
type Source struct {
	mu sync.Mutex

	events chan recognizer.Event
	closed bool

	// StartErr, if non-nil, is returned by Start.
	StartErr error
	// StopErr, if non-nil, is returned by Stop.
	StopErr error

	// StartCalls records the config of every Start call.
	StartCalls []recognizer.Config
	// StopCalls is the number of Stop calls.
	StopCalls int
	// Running is true between a successful Start and the next Stop.
	Running bool
}

// New returns a Source with a buffered event channel.
func New() *Source {
	return &Source{events: make(chan recognizer.Event, 64)}
}

// Start records the call and returns StartErr.
func (s *Source) Start(_ context.Context, cfg recognizer.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartCalls = append(s.StartCalls, cfg)
	if s.closed {
		return recognizer.ErrClosed
	}
	if s.StartErr != nil {
		return s.StartErr
	}
	s.Running = true
	return nil
}

// Stop records the call and returns StopErr.
func (s *Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StopCalls++
	s.Running = false
	return s.StopErr
}

// Events returns the event channel.
func (s *Source) Events() <-chan recognizer.Event { return s.events }

// Emit queues ev for delivery.
func (s *Source) Emit(ev recognizer.Event) {
	s.events <- ev
}

// EmitResult queues a result event built from entries.
func (s *Source) EmitResult(index int, entries ...recognizer.Entry) {
	s.Emit(recognizer.Event{Kind: recognizer.KindResult, Result: recognizer.Result{Index: index, Entries: entries}})
}

// EmitEnd queues an end notification.
func (s *Source) EmitEnd() {
	s.Emit(recognizer.Event{Kind: recognizer.KindEnd})
}

// StartCount returns the number of Start calls. Thread-safe.
func (s *Source) StartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.StartCalls)
}

// SetStartErr replaces StartErr. Thread-safe.
func (s *Source) SetStartErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.StartErr = err
}

// Close closes the event channel. Safe to call more than once.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// Ensure Source implements recognizer.Source at compile time.
var _ recognizer.Source = (*Source)(nil)
