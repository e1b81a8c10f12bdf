package referral

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows List queries.
type ListFilter struct {
	PatientID  *uuid.UUID
	ProviderID *uuid.UUID
	Status     *Status
	Urgency    *UrgencyLevel
}

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	Update(ctx context.Context, r *Referral) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error)

	// NextReferralNumber draws from an atomic sequence.
	NextReferralNumber(ctx context.Context) (string, error)

	AppendHistory(ctx context.Context, h *StatusHistory) error
	HistoryByReferral(ctx context.Context, referralID uuid.UUID) ([]*StatusHistory, error)

	// Quota counts for the validator.
	CountByPatientSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error)
	CountByProviderUrgencySince(ctx context.Context, providerID uuid.UUID, urgency UrgencyLevel, since time.Time) (int, error)
	CountSameSpecialtySince(ctx context.Context, patientID uuid.UUID, specialty string, since time.Time) (int, error)

	// Targeted writes used by automated actions and the SLA monitor.
	SetFollowUp(ctx context.Context, id uuid.UUID, date time.Time, notes *string) error
	SetUrgency(ctx context.Context, id uuid.UUID, urgency UrgencyLevel) error
	SetAuthorizationStatus(ctx context.Context, id uuid.UUID, status string) error

	// ListUnresolved returns referrals still inside the active lifecycle,
	// oldest first, for the SLA sweep.
	ListUnresolved(ctx context.Context, limit int) ([]*Referral, error)

	// Specialist metrics; counters mutate via atomic upserts only.
	IncrementSpecialistReceived(ctx context.Context, specialistID uuid.UUID) error
	IncrementSpecialistCompleted(ctx context.Context, specialistID uuid.UUID) error
	IncrementSpecialistCancelled(ctx context.Context, specialistID uuid.UUID) error
	AddSpecialistRating(ctx context.Context, specialistID uuid.UUID, rating int) error
	GetSpecialistMetric(ctx context.Context, specialistID uuid.UUID) (*SpecialistMetric, error)
}
