package authorization

import (
	"time"

	"github.com/google/uuid"
)

// Authorization statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusExpired  = "expired"
)

// Authorization maps to the authorization table. One row per prior
// authorization request raised for a referral.
type Authorization struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	ReferralID            uuid.UUID  `db:"referral_id" json:"referral_id"`
	Status                string     `db:"status" json:"status"`
	AuthorizationNumber   *string    `db:"authorization_number" json:"authorization_number,omitempty"`
	RequestedServices     []string   `db:"requested_services" json:"requested_services"`
	ClinicalJustification string     `db:"clinical_justification" json:"clinical_justification"`
	ApprovedVisits        *int       `db:"approved_visits" json:"approved_visits,omitempty"`
	DenialReason          *string    `db:"denial_reason" json:"denial_reason,omitempty"`
	ExpiresAt             *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Active reports whether the authorization is approved and not past expiry.
func (a *Authorization) Active(now time.Time) bool {
	if a.Status != StatusApproved {
		return false
	}
	if a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		return false
	}
	return true
}
