package escalation

import (
	"time"

	"github.com/google/uuid"
)

// Escalation statuses.
const (
	StatusOpen         = "open"
	StatusAcknowledged = "acknowledged"
	StatusResolved     = "resolved"
)

// Escalation maps to the escalation table. One row per raised breach or
// manual escalation; referrals can accumulate several over their lifetime.
type Escalation struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	ReferralID     uuid.UUID  `db:"referral_id" json:"referral_id"`
	Reason         string     `db:"reason" json:"reason"`
	Level          int        `db:"level" json:"level"`
	AssignedTo     *string    `db:"assigned_to" json:"assigned_to,omitempty"`
	Status         string     `db:"status" json:"status"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	ResolvedAt     *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}
