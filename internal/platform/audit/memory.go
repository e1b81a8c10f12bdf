package audit

import (
	"context"
	"errors"
	"sync"
)

var errSinkUnavailable = errors.New("sink unavailable")

// InMemorySink is a thread-safe Sink for tests and development mode.
type InMemorySink struct {
	mu             sync.Mutex
	events         []*Event
	workflowEvents []*WorkflowEvent
	FailAppend     bool
}

func NewInMemorySink() *InMemorySink {
	return &InMemorySink{}
}

func (s *InMemorySink) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend {
		return errSinkUnavailable
	}
	s.events = append(s.events, e)
	return nil
}

func (s *InMemorySink) AppendWorkflowEvent(_ context.Context, e *WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend {
		return errSinkUnavailable
	}
	s.workflowEvents = append(s.workflowEvents, e)
	return nil
}

// Events returns a copy of recorded audit events.
func (s *InMemorySink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// WorkflowEvents returns a copy of recorded workflow events.
func (s *InMemorySink) WorkflowEvents() []*WorkflowEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*WorkflowEvent, len(s.workflowEvents))
	copy(out, s.workflowEvents)
	return out
}
