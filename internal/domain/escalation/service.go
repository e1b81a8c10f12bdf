package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// Raise opens an escalation for a referral. Raising the same reason twice
// while the first is still open is a no-op returning the existing record's
// semantics: callers get a fresh record only when none is open.
func (s *Service) Raise(ctx context.Context, referralID uuid.UUID, reason string, level int) (*Escalation, bool, error) {
	if referralID == uuid.Nil {
		return nil, false, fmt.Errorf("referral_id is required")
	}
	if reason == "" {
		return nil, false, fmt.Errorf("reason is required")
	}
	if level < 1 {
		level = 1
	}

	exists, err := s.repo.OpenExistsForReferral(ctx, referralID, reason)
	if err != nil {
		return nil, false, err
	}
	if exists {
		return nil, false, nil
	}

	esc := &Escalation{
		ReferralID: referralID,
		Reason:     reason,
		Level:      level,
		Status:     StatusOpen,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, esc); err != nil {
		return nil, false, err
	}
	return esc, true, nil
}

// Acknowledge marks an open escalation as being worked.
func (s *Service) Acknowledge(ctx context.Context, id uuid.UUID, assignee string) (*Escalation, error) {
	esc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status != StatusOpen {
		return nil, fmt.Errorf("escalation is %s, only open escalations can be acknowledged", esc.Status)
	}
	now := s.now()
	esc.Status = StatusAcknowledged
	esc.AcknowledgedAt = &now
	if assignee != "" {
		esc.AssignedTo = &assignee
	}
	if err := s.repo.Update(ctx, esc); err != nil {
		return nil, err
	}
	return esc, nil
}

// Resolve closes an escalation.
func (s *Service) Resolve(ctx context.Context, id uuid.UUID) (*Escalation, error) {
	esc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if esc.Status == StatusResolved {
		return nil, fmt.Errorf("escalation already resolved")
	}
	now := s.now()
	esc.Status = StatusResolved
	esc.ResolvedAt = &now
	if err := s.repo.Update(ctx, esc); err != nil {
		return nil, err
	}
	return esc, nil
}

func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Escalation, error) {
	return s.repo.ListByReferral(ctx, referralID)
}

func (s *Service) ListOpen(ctx context.Context, limit, offset int) ([]*Escalation, int, error) {
	return s.repo.ListOpen(ctx, limit, offset)
}
