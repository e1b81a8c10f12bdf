package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

type sinkPG struct{ pool *pgxpool.Pool }

// NewSinkPG returns a Sink that appends events to the audit_event and
// workflow_event tables.
func NewSinkPG(pool *pgxpool.Pool) Sink {
	return &sinkPG{pool: pool}
}

func (s *sinkPG) AppendEvent(ctx context.Context, e *Event) error {
	oldValues, err := json.Marshal(e.OldValues)
	if err != nil {
		return err
	}
	newValues, err := json.Marshal(e.NewValues)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_event (id, action, entity_type, entity_id, old_values, new_values, actor, ip, user_agent, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		e.ID, e.Action, e.EntityType, e.EntityID, oldValues, newValues, e.Actor, e.IP, e.UserAgent, e.Timestamp)
	return err
}

func (s *sinkPG) AppendWorkflowEvent(ctx context.Context, e *WorkflowEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO workflow_event (id, event_type, referral_id, action, detail, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		e.ID, e.Type, e.ReferralID, e.Action, e.Detail, e.Timestamp)
	return err
}
