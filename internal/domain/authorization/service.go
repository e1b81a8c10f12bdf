package authorization

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

// Request opens a pending authorization for a referral. Re-requesting while
// a pending or active authorization exists returns the existing record.
func (s *Service) Request(ctx context.Context, referralID uuid.UUID, services []string, justification string) (*Authorization, error) {
	if referralID == uuid.Nil {
		return nil, fmt.Errorf("referral_id is required")
	}

	existing, err := s.repo.ListByReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, a := range existing {
		if a.Status == StatusPending || a.Active(now) {
			return a, nil
		}
	}

	a := &Authorization{
		ReferralID:            referralID,
		Status:                StatusPending,
		RequestedServices:     services,
		ClinicalJustification: justification,
	}
	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Approve marks a pending authorization as approved, assigns its payer
// number, and sets the visit allowance and expiry window.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approvedVisits int, validDays int) (*Authorization, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPending {
		return nil, fmt.Errorf("authorization is %s, only pending authorizations can be approved", a.Status)
	}
	if approvedVisits < 1 {
		approvedVisits = 1
	}
	if validDays < 1 {
		validDays = 90
	}

	number := fmt.Sprintf("AUTH-%s", a.ID.String()[:8])
	expires := s.now().AddDate(0, 0, validDays)
	a.Status = StatusApproved
	a.AuthorizationNumber = &number
	a.ApprovedVisits = &approvedVisits
	a.ExpiresAt = &expires
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Deny marks a pending authorization as denied with a reason.
func (s *Service) Deny(ctx context.Context, id uuid.UUID, reason string) (*Authorization, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusPending {
		return nil, fmt.Errorf("authorization is %s, only pending authorizations can be denied", a.Status)
	}
	a.Status = StatusDenied
	if reason != "" {
		a.DenialReason = &reason
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// GetByNumber resolves a payer authorization number. Returns (nil, nil) when
// no record carries the number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Authorization, error) {
	return s.repo.GetByNumber(ctx, number)
}

// ActiveForReferral returns the referral's currently usable authorization,
// or nil when none is approved and unexpired.
func (s *Service) ActiveForReferral(ctx context.Context, referralID uuid.UUID) (*Authorization, error) {
	auths, err := s.repo.ListByReferral(ctx, referralID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	for _, a := range auths {
		if a.Active(now) {
			return a, nil
		}
	}
	return nil, nil
}

func (s *Service) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Authorization, error) {
	return s.repo.ListByReferral(ctx, referralID)
}
