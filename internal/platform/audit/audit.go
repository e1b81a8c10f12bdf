// Package audit records immutable history events for every mutating referral
// workflow call. Events go to an append-only sink; emission failures are
// logged locally and never abort the primary operation.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WorkflowEventFailed marks a recovered automated-action failure.
const WorkflowEventFailed = "AUTOMATED_ACTION_FAILED"

// Event captures a single mutating call against a workflow entity.
type Event struct {
	ID         uuid.UUID              `json:"id"`
	Action     string                 `json:"action"`
	EntityType string                 `json:"entity_type"`
	EntityID   uuid.UUID              `json:"entity_id"`
	OldValues  map[string]interface{} `json:"old_values,omitempty"`
	NewValues  map[string]interface{} `json:"new_values,omitempty"`
	Actor      string                 `json:"actor"`
	IP         string                 `json:"ip,omitempty"`
	UserAgent  string                 `json:"user_agent,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// WorkflowEvent records a pipeline-level occurrence, most notably a recovered
// automated-action failure.
type WorkflowEvent struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	ReferralID uuid.UUID `json:"referral_id"`
	Action     string    `json:"action,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sink is the append-only store accepting audit and workflow events.
type Sink interface {
	AppendEvent(ctx context.Context, e *Event) error
	AppendWorkflowEvent(ctx context.Context, e *WorkflowEvent) error
}

// Emitter wraps a Sink, stamping ids/timestamps and containing sink failures.
type Emitter struct {
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewEmitter(sink Sink, logger zerolog.Logger) *Emitter {
	return &Emitter{sink: sink, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends an audit event. Failures are logged and swallowed.
func (e *Emitter) Record(ctx context.Context, evt Event) {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	if err := e.sink.AppendEvent(ctx, &evt); err != nil {
		e.logger.Error().Err(err).
			Str("action", evt.Action).
			Str("entity_type", evt.EntityType).
			Str("entity_id", evt.EntityID.String()).
			Msg("audit event emission failed")
	}
}

// RecordWorkflow appends a workflow event. Failures are logged and swallowed.
func (e *Emitter) RecordWorkflow(ctx context.Context, evt WorkflowEvent) {
	if evt.ID == uuid.Nil {
		evt.ID = uuid.New()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = e.now()
	}
	if err := e.sink.AppendWorkflowEvent(ctx, &evt); err != nil {
		e.logger.Error().Err(err).
			Str("type", evt.Type).
			Str("referral_id", evt.ReferralID.String()).
			Msg("workflow event emission failed")
	}
}
