package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func TestEmitter_StampsIDAndTimestamp(t *testing.T) {
	sink := NewInMemorySink()
	e := NewEmitter(sink, zerolog.Nop())

	e.Record(context.Background(), Event{
		Action:     "referral.create",
		EntityType: "referral",
		EntityID:   uuid.New(),
		Actor:      "dr-jones",
	})

	events := sink.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ID == uuid.Nil {
		t.Error("expected event id to be stamped")
	}
	if events[0].Timestamp.IsZero() {
		t.Error("expected timestamp to be stamped")
	}
}

func TestEmitter_SinkFailureIsContained(t *testing.T) {
	sink := NewInMemorySink()
	sink.FailAppend = true
	e := NewEmitter(sink, zerolog.Nop())

	// Must not panic or propagate the sink error.
	e.Record(context.Background(), Event{Action: "referral.transition", EntityID: uuid.New()})
	e.RecordWorkflow(context.Background(), WorkflowEvent{Type: WorkflowEventFailed, ReferralID: uuid.New()})

	if len(sink.Events()) != 0 || len(sink.WorkflowEvents()) != 0 {
		t.Error("expected nothing recorded on failing sink")
	}
}

func TestEmitter_RecordWorkflow(t *testing.T) {
	sink := NewInMemorySink()
	e := NewEmitter(sink, zerolog.Nop())
	rid := uuid.New()

	e.RecordWorkflow(context.Background(), WorkflowEvent{
		Type:       WorkflowEventFailed,
		ReferralID: rid,
		Action:     "generate-letter",
		Detail:     "template not found",
	})

	events := sink.WorkflowEvents()
	if len(events) != 1 {
		t.Fatalf("expected 1 workflow event, got %d", len(events))
	}
	if events[0].Type != WorkflowEventFailed {
		t.Errorf("unexpected type %q", events[0].Type)
	}
	if events[0].ReferralID != rid {
		t.Errorf("unexpected referral id %s", events[0].ReferralID)
	}
}

func TestMultiSink_FansOut(t *testing.T) {
	a := NewInMemorySink()
	b := NewInMemorySink()
	m := MultiSink{a, b}

	if err := m.AppendEvent(context.Background(), &Event{ID: uuid.New()}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Events()) != 1 || len(b.Events()) != 1 {
		t.Error("expected event recorded in both sinks")
	}
}
