package referral

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/carelink/referral/internal/domain/escalation"
	"github.com/carelink/referral/internal/platform/audit"
	"github.com/carelink/referral/internal/platform/db"
)

// Service is the exposed referral workflow interface. All status mutation
// funnels through Transition; the state machine is the sole status authority.
type Service struct {
	pool        *pgxpool.Pool
	repo        Repository
	sm          *StateMachine
	validator   *Validator
	pipeline    *Pipeline
	monitor     *Monitor
	escalations *escalation.Service
	audit       *audit.Emitter
	logger      zerolog.Logger
	now         func() time.Time
	runInTx     func(ctx context.Context, fn func(context.Context) error) error
}

func NewService(pool *pgxpool.Pool, repo Repository, sm *StateMachine, validator *Validator,
	pipeline *Pipeline, monitor *Monitor, escalations *escalation.Service,
	emitter *audit.Emitter, logger zerolog.Logger) *Service {
	s := &Service{
		pool:        pool,
		repo:        repo,
		sm:          sm,
		validator:   validator,
		pipeline:    pipeline,
		monitor:     monitor,
		escalations: escalations,
		audit:       emitter,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
	s.runInTx = func(ctx context.Context, fn func(context.Context) error) error {
		return db.RunInTx(ctx, s.pool, fn)
	}
	return s
}

// CreateReferral validates the payload, assigns the sequential referral
// number, and persists the referral with its creation history row in one
// transaction. New referrals always start in draft.
func (s *Service) CreateReferral(ctx context.Context, r *Referral, actor string) (*Referral, error) {
	r.Status = StatusDraft
	if r.UrgencyLevel == "" {
		r.UrgencyLevel = UrgencyRoutine
	}
	r.CreatedBy = actor

	result, err := s.validator.Validate(ctx, r, ValidateCreate)
	if err != nil {
		return nil, &PersistenceError{Op: "validate referral", Err: err}
	}
	if !result.Valid {
		return nil, &ValidationError{Result: result}
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		number, err := s.repo.NextReferralNumber(txCtx)
		if err != nil {
			return &PersistenceError{Op: "assign referral number", Err: err}
		}
		r.ReferralNumber = number
		if err := s.repo.Create(txCtx, r); err != nil {
			return &PersistenceError{Op: "insert referral", Err: err}
		}
		return s.wrapStorage("append creation history", s.repo.AppendHistory(txCtx, &StatusHistory{
			ReferralID: r.ID,
			NewStatus:  StatusDraft,
			Reason:     "referral created",
			ChangedBy:  actor,
		}))
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "referral.create",
		EntityType: "referral",
		EntityID:   r.ID,
		NewValues:  auditValues(r),
		Actor:      actor,
	})
	return r, nil
}

// Transition moves the referral to target. Guard evaluation and both writes
// happen inside one transaction against a fresh read, so concurrent writers
// serialize at the storage layer. Pipeline and SLA checks run after commit
// and cannot roll the transition back.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, target Status, notes string, actor string, opts TransitionOptions) (*Referral, error) {
	var (
		updated *Referral
		prev    Status
	)
	err := s.runInTx(ctx, func(txCtx context.Context) error {
		r, err := s.repo.GetByID(txCtx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return err
			}
			return &PersistenceError{Op: "load referral", Err: err}
		}
		prev = r.Status

		if opts.ScheduledAt != nil {
			r.ScheduledAt = opts.ScheduledAt
		}
		if opts.FollowUpNotes != "" {
			r.FollowUpNotes = &opts.FollowUpNotes
		}

		if err := s.sm.Check(r, target); err != nil {
			return err
		}
		s.sm.Apply(r, target)

		if err := s.repo.Update(txCtx, r); err != nil {
			return &PersistenceError{Op: "update referral", Err: err}
		}
		if err := s.repo.AppendHistory(txCtx, &StatusHistory{
			ReferralID:     r.ID,
			PreviousStatus: &prev,
			NewStatus:      target,
			Reason:         notes,
			ChangedBy:      actor,
		}); err != nil {
			return &PersistenceError{Op: "append status history", Err: err}
		}
		updated = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "referral.transition",
		EntityType: "referral",
		EntityID:   updated.ID,
		OldValues:  map[string]interface{}{"status": prev},
		NewValues:  map[string]interface{}{"status": updated.Status},
		Actor:      actor,
	})

	if _, err := s.monitor.Check(ctx, updated); err != nil {
		s.logger.Error().Err(err).Str("referral_id", updated.ID.String()).Msg("sla check failed after transition")
	}
	s.pipeline.Dispatch(ctx, updated)

	return updated, nil
}

// ValidateForAction runs the validator against the referral as it would look
// for the named action. Actions matching a lifecycle status validate that
// status's requirements; anything else validates the current state.
func (s *Service) ValidateForAction(ctx context.Context, id uuid.UUID, action string) (*ValidationResult, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load referral", Err: err}
	}

	target := Status(action)
	if target.Valid() {
		projected := *r
		projected.Status = target
		r = &projected
	}
	result, err := s.validator.Validate(ctx, r, ValidateTransition)
	if err != nil {
		return nil, &PersistenceError{Op: "validate referral", Err: err}
	}
	return result, nil
}

// Escalate raises a manual escalation for a referral.
func (s *Service) Escalate(ctx context.Context, id uuid.UUID, reason string, actor string) (*escalation.Escalation, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load referral", Err: err}
	}

	esc, created, err := s.escalations.Raise(ctx, r.ID, reason, 1)
	if err != nil {
		return nil, &PersistenceError{Op: "raise escalation", Err: err}
	}
	if !created {
		return nil, &ValidationError{Result: &ValidationResult{
			Errors: []string{"an open escalation with this reason already exists"},
		}}
	}

	s.audit.Record(ctx, audit.Event{
		Action:     "referral.escalate",
		EntityType: "escalation",
		EntityID:   esc.ID,
		NewValues:  map[string]interface{}{"referral_id": r.ID, "reason": reason},
		Actor:      actor,
	})
	return esc, nil
}

// GetReferral loads a referral by id.
func (s *Service) GetReferral(ctx context.Context, id uuid.UUID) (*Referral, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, &PersistenceError{Op: "load referral", Err: err}
	}
	return r, nil
}

// History returns the referral's status history, ordered by changed_at.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	if _, err := s.GetReferral(ctx, id); err != nil {
		return nil, err
	}
	history, err := s.repo.HistoryByReferral(ctx, id)
	if err != nil {
		return nil, &PersistenceError{Op: "load status history", Err: err}
	}
	return history, nil
}

// ListReferrals returns referrals matching the filter.
func (s *Service) ListReferrals(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error) {
	refs, total, err := s.repo.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list referrals", Err: err}
	}
	return refs, total, nil
}

// AllowedTransitions reports which statuses the referral can move to next.
func (s *Service) AllowedTransitions(ctx context.Context, id uuid.UUID) ([]Status, error) {
	r, err := s.GetReferral(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.sm.AllowedNext(r.Status), nil
}

func (s *Service) wrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

func auditValues(r *Referral) map[string]interface{} {
	return map[string]interface{}{
		"referral_number": r.ReferralNumber,
		"patient_id":      r.PatientID,
		"provider_id":     r.ProviderID,
		"specialty_type":  r.SpecialtyType,
		"urgency_level":   r.UrgencyLevel,
		"status":          r.Status,
	}
}
