package referral

import (
	"time"

	"github.com/google/uuid"
)

// Guard is a named boolean precondition gating a transition. Check returns
// a human-readable reason when the precondition does not hold.
type Guard struct {
	Name  string
	Check func(r *Referral, now time.Time) (bool, string)
}

type transitionRule struct {
	target Status
	guard  *Guard
}

// StateMachine holds the immutable transition table. Build it once with
// NewStateMachine and inject it; it carries no per-referral state.
type StateMachine struct {
	table map[Status][]transitionRule
	now   func() time.Time
}

func NewStateMachine() *StateMachine {
	guardComplete := &Guard{
		Name: "guard_complete",
		Check: func(r *Referral, _ time.Time) (bool, string) {
			if r.PatientID == uuid.Nil {
				return false, "patient_id is required"
			}
			if r.ProviderID == uuid.Nil {
				return false, "provider_id is required"
			}
			if r.SpecialtyType == "" {
				return false, "specialty_type is required"
			}
			if r.Reason == "" {
				return false, "reason is required"
			}
			if r.AuthorizationRequired {
				if r.AuthorizationStatus == nil || *r.AuthorizationStatus != "approved" {
					return false, "authorization must be approved before submission"
				}
			}
			return true, ""
		},
	}

	guardReadyToSend := &Guard{
		Name: "guard_ready_to_send",
		Check: func(r *Referral, now time.Time) (bool, string) {
			if ok, reason := guardComplete.Check(r, now); !ok {
				return false, reason
			}
			if r.SpecialistID == nil && r.SpecialtyType == "" {
				return false, "a specialist or specialty must be set before sending"
			}
			return true, ""
		},
	}

	guardHasScheduleInfo := &Guard{
		Name: "guard_has_schedule_info",
		Check: func(r *Referral, _ time.Time) (bool, string) {
			if r.ScheduledAt == nil {
				return false, "a scheduled appointment date is required"
			}
			return true, ""
		},
	}

	guard30DaysUnscheduled := &Guard{
		Name: "guard_30_days_unscheduled",
		Check: func(r *Referral, now time.Time) (bool, string) {
			if r.SentAt == nil {
				return false, "referral has not been sent"
			}
			if now.Sub(*r.SentAt) < 30*24*time.Hour {
				return false, "referral has been sent for fewer than 30 days"
			}
			return true, ""
		},
	}

	guardHasScheduledDate := &Guard{
		Name: "guard_has_scheduled_date",
		Check: func(r *Referral, _ time.Time) (bool, string) {
			if r.ScheduledAt == nil {
				return false, "referral has no scheduled appointment"
			}
			return true, ""
		},
	}

	guardReactivationAllowed := &Guard{
		Name: "guard_reactivation_allowed",
		Check: func(r *Referral, _ time.Time) (bool, string) {
			if r.Status != StatusCancelled {
				return false, "only cancelled referrals can be reactivated"
			}
			return true, ""
		},
	}

	guardResendAllowed := &Guard{
		Name: "guard_resend_allowed",
		Check: func(r *Referral, _ time.Time) (bool, string) {
			if r.Status != StatusExpired {
				return false, "only expired referrals can be resent"
			}
			return true, ""
		},
	}

	return &StateMachine{
		now: func() time.Time { return time.Now().UTC() },
		table: map[Status][]transitionRule{
			StatusDraft: {
				{target: StatusPending, guard: guardComplete},
				{target: StatusCancelled},
			},
			StatusPending: {
				{target: StatusSent, guard: guardReadyToSend},
				{target: StatusCancelled},
			},
			StatusSent: {
				{target: StatusScheduled, guard: guardHasScheduleInfo},
				{target: StatusCancelled},
				{target: StatusExpired, guard: guard30DaysUnscheduled},
			},
			StatusScheduled: {
				{target: StatusCompleted, guard: guardHasScheduledDate},
				{target: StatusCancelled},
			},
			StatusCompleted: {},
			StatusCancelled: {
				{target: StatusDraft, guard: guardReactivationAllowed},
			},
			StatusExpired: {
				{target: StatusSent, guard: guardResendAllowed},
				{target: StatusCancelled},
			},
		},
	}
}

// AllowedNext returns the statuses reachable from the given status.
func (sm *StateMachine) AllowedNext(from Status) []Status {
	rules := sm.table[from]
	out := make([]Status, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.target)
	}
	return out
}

// Check verifies that the referral may move to target. It returns an
// InvalidTransitionError when target is not in the allowed-next set (this
// includes target == current status) and a GuardError when the rule's guard
// rejects the referral.
func (sm *StateMachine) Check(r *Referral, target Status) error {
	for _, rule := range sm.table[r.Status] {
		if rule.target != target {
			continue
		}
		if rule.guard != nil {
			if ok, reason := rule.guard.Check(r, sm.now()); !ok {
				return &GuardError{Guard: rule.guard.Name, Reason: reason}
			}
		}
		return nil
	}
	return &InvalidTransitionError{From: r.Status, To: target}
}

// Apply mutates the referral to the target status and stamps the stage
// timestamp the target implies. Callers must have passed Check first.
func (sm *StateMachine) Apply(r *Referral, target Status) {
	now := sm.now()
	r.Status = target
	r.UpdatedAt = now

	switch target {
	case StatusSent:
		r.SentAt = &now
	case StatusCompleted:
		if r.CompletedAt == nil {
			r.CompletedAt = &now
		}
	case StatusDraft:
		// Reactivation clears stage timestamps so the lifecycle restarts.
		r.SentAt = nil
		r.ScheduledAt = nil
		r.CompletedAt = nil
	}
}
