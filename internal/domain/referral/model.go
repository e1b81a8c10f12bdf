package referral

import (
	"time"

	"github.com/google/uuid"
)

// Status is the referral lifecycle state. Only the state machine mutates it.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusScheduled Status = "scheduled"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// AllStatuses lists every lifecycle state.
var AllStatuses = []Status{
	StatusDraft, StatusPending, StatusSent, StatusScheduled,
	StatusCompleted, StatusCancelled, StatusExpired,
}

// Valid reports whether s is a member of the lifecycle state set.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusSent, StatusScheduled,
		StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// UrgencyLevel classifies how quickly a referral must be processed.
type UrgencyLevel string

const (
	UrgencyRoutine UrgencyLevel = "routine"
	UrgencyUrgent  UrgencyLevel = "urgent"
	UrgencyStat    UrgencyLevel = "stat"
)

func (u UrgencyLevel) Valid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyStat:
		return true
	}
	return false
}

// Appointment types accepted on a referral.
var validAppointmentTypes = map[string]bool{
	"consultation": true,
	"treatment":    true,
	"diagnostic":   true,
	"follow_up":    true,
	"procedure":    true,
}

// Referral maps to the referral table. Rows are never deleted; terminal
// referrals stay queryable for audit and reporting.
type Referral struct {
	ID                    uuid.UUID    `db:"id" json:"id"`
	ReferralNumber        string       `db:"referral_number" json:"referral_number"`
	PatientID             uuid.UUID    `db:"patient_id" json:"patient_id"`
	ProviderID            uuid.UUID    `db:"provider_id" json:"provider_id"`
	SpecialistID          *uuid.UUID   `db:"specialist_id" json:"specialist_id,omitempty"`
	EncounterID           *uuid.UUID   `db:"encounter_id" json:"encounter_id,omitempty"`
	SpecialtyType         string       `db:"specialty_type" json:"specialty_type"`
	Reason                string       `db:"reason" json:"reason"`
	ClinicalNotes         *string      `db:"clinical_notes" json:"clinical_notes,omitempty"`
	UrgencyLevel          UrgencyLevel `db:"urgency_level" json:"urgency_level"`
	AppointmentType       string       `db:"appointment_type" json:"appointment_type"`
	Status                Status       `db:"status" json:"status"`
	AuthorizationRequired bool         `db:"authorization_required" json:"authorization_required"`
	AuthorizationStatus   *string      `db:"authorization_status" json:"authorization_status,omitempty"`
	AuthorizationNumber   *string      `db:"authorization_number" json:"authorization_number,omitempty"`
	ICD10Codes            []string     `db:"icd10_codes" json:"icd10_codes,omitempty"`
	CPTCodes              []string     `db:"cpt_codes" json:"cpt_codes,omitempty"`
	SentAt                *time.Time   `db:"sent_at" json:"sent_at,omitempty"`
	ScheduledAt           *time.Time   `db:"scheduled_at" json:"scheduled_at,omitempty"`
	CompletedAt           *time.Time   `db:"completed_at" json:"completed_at,omitempty"`
	FollowUpDate          *time.Time   `db:"follow_up_date" json:"follow_up_date,omitempty"`
	FollowUpNotes         *string      `db:"follow_up_notes" json:"follow_up_notes,omitempty"`
	CreatedBy             string       `db:"created_by" json:"created_by"`
	CreatedAt             time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time    `db:"updated_at" json:"updated_at"`
}

// StatusHistory maps to the referral_status_history table. Append-only; one
// row per successful transition plus the creation row (nil previous status).
type StatusHistory struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ReferralID     uuid.UUID `db:"referral_id" json:"referral_id"`
	PreviousStatus *Status   `db:"previous_status" json:"previous_status,omitempty"`
	NewStatus      Status    `db:"new_status" json:"new_status"`
	Reason         string    `db:"reason" json:"reason,omitempty"`
	ChangedBy      string    `db:"changed_by" json:"changed_by"`
	ChangedAt      time.Time `db:"changed_at" json:"changed_at"`
}

// SpecialistMetric maps to the specialist_metric table. Counters are mutated
// only through atomic upserts, never read-modify-write.
type SpecialistMetric struct {
	SpecialistID       uuid.UUID `db:"specialist_id" json:"specialist_id"`
	ReferralsReceived  int       `db:"referrals_received" json:"referrals_received"`
	ReferralsCompleted int       `db:"referrals_completed" json:"referrals_completed"`
	ReferralsCancelled int       `db:"referrals_cancelled" json:"referrals_cancelled"`
	RatingSum          int       `db:"rating_sum" json:"rating_sum"`
	RatingCount        int       `db:"rating_count" json:"rating_count"`
}

// AverageRating returns the specialist's mean rating, or 0 with no ratings.
func (m *SpecialistMetric) AverageRating() float64 {
	if m.RatingCount == 0 {
		return 0
	}
	return float64(m.RatingSum) / float64(m.RatingCount)
}

// TransitionOptions carries per-transition inputs applied to the referral
// before guards are evaluated.
type TransitionOptions struct {
	ScheduledAt   *time.Time `json:"scheduled_at,omitempty"`
	FollowUpNotes string     `json:"follow_up_notes,omitempty"`
}
