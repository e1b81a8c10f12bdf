package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/referral/internal/domain/authorization"
	"github.com/carelink/referral/internal/platform/audit"
	"github.com/carelink/referral/internal/platform/directory"
	"github.com/carelink/referral/internal/platform/letters"
	"github.com/carelink/referral/internal/platform/notification"
	"github.com/carelink/referral/internal/platform/workqueue"
)

// Action is a single best-effort side effect run after a committed
// transition. A returned error is recorded and never reverses the transition.
type Action interface {
	Name() string
	Run(ctx context.Context, r *Referral) error
}

type actionFunc struct {
	name string
	fn   func(ctx context.Context, r *Referral) error
}

func (a actionFunc) Name() string { return a.name }
func (a actionFunc) Run(ctx context.Context, r *Referral) error { return a.fn(ctx, r) }

// NewAction wraps a function as a named Action.
func NewAction(name string, fn func(ctx context.Context, r *Referral) error) Action {
	return actionFunc{name: name, fn: fn}
}

// Pipeline executes the ordered action list for a referral's status. The
// status-to-actions map is built once and never mutated afterwards.
type Pipeline struct {
	actions map[Status][]Action
	audit   *audit.Emitter
	queue   *workqueue.Queue
	logger  zerolog.Logger
}

// NewPipeline builds a pipeline over an immutable action map. A nil queue
// makes Dispatch run synchronously, which tests rely on.
func NewPipeline(actions map[Status][]Action, emitter *audit.Emitter, queue *workqueue.Queue, logger zerolog.Logger) *Pipeline {
	return &Pipeline{actions: actions, audit: emitter, queue: queue, logger: logger}
}

// Run executes the actions registered for the referral's current status in
// order. Each failure is recorded as a workflow event and execution moves on
// to the next action.
func (p *Pipeline) Run(ctx context.Context, r *Referral) {
	for _, action := range p.actions[r.Status] {
		if err := action.Run(ctx, r); err != nil {
			p.logger.Warn().Err(err).
				Str("action", action.Name()).
				Str("referral_id", r.ID.String()).
				Str("status", string(r.Status)).
				Msg("automated action failed")
			p.audit.RecordWorkflow(ctx, audit.WorkflowEvent{
				Type:       audit.WorkflowEventFailed,
				ReferralID: r.ID,
				Action:     action.Name(),
				Detail:     err.Error(),
			})
		}
	}
}

// Dispatch hands the pipeline run to the work queue. When the queue is full
// or absent the run happens inline; a committed transition never loses its
// actions silently.
func (p *Pipeline) Dispatch(ctx context.Context, r *Referral) {
	if p.queue == nil {
		p.Run(ctx, r)
		return
	}
	snapshot := *r
	name := fmt.Sprintf("pipeline:%s:%s", r.Status, r.ID)
	err := p.queue.Submit(name, func(taskCtx context.Context) error {
		p.Run(taskCtx, &snapshot)
		return nil
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("task", name).Msg("work queue rejected pipeline, running inline")
		p.Run(ctx, r)
	}
}

// ActionDeps carries the collaborators the default actions need.
type ActionDeps struct {
	Repo           Repository
	Directory      directory.Directory
	Letters        letters.Renderer
	Notifier       *notification.Dispatcher
	Authorizations *authorization.Service
	Logger         zerolog.Logger
}

// DefaultActions builds the production status-to-actions map.
func DefaultActions(deps ActionDeps) map[Status][]Action {
	return map[Status][]Action{
		StatusPending: {
			NewAction("check-authorization-requirement", deps.checkAuthorizationRequirement),
			NewAction("validate-insurance-eligibility", deps.validateInsuranceEligibility),
			NewAction("assign-to-priority-queue", deps.assignToPriorityQueue),
		},
		StatusSent: {
			NewAction("generate-letter", deps.generateLetter),
			NewAction("send-notifications", deps.sendNotifications),
			NewAction("schedule-follow-up", deps.scheduleFollowUp),
			NewAction("update-specialist-received-metric", deps.updateSpecialistReceivedMetric),
		},
		StatusScheduled: {
			NewAction("send-appointment-confirmation", deps.sendAppointmentConfirmation),
			NewAction("create-calendar-event", deps.createCalendarEvent),
			NewAction("notify-provider", deps.notifyProvider),
		},
		StatusCompleted: {
			NewAction("request-outcome-report", deps.requestOutcomeReport),
			NewAction("update-quality-metrics", deps.updateQualityMetrics),
			NewAction("process-follow-up", deps.processFollowUp),
			NewAction("update-specialist-rating", deps.updateSpecialistRating),
		},
		StatusCancelled: {
			NewAction("notify-cancellation", deps.notifyCancellation),
			NewAction("update-metrics", deps.updateCancellationMetrics),
			NewAction("process-refunds", deps.processRefunds),
		},
		StatusExpired: {
			NewAction("notify-expiration", deps.notifyExpiration),
			NewAction("suggest-alternatives", deps.suggestAlternatives),
			NewAction("update-metrics", deps.updateExpirationMetrics),
		},
	}
}

func (d ActionDeps) checkAuthorizationRequirement(ctx context.Context, r *Referral) error {
	if !r.AuthorizationRequired {
		return nil
	}
	if r.AuthorizationStatus != nil && *r.AuthorizationStatus != "" {
		return nil
	}
	auth, err := d.Authorizations.Request(ctx, r.ID, r.CPTCodes, r.Reason)
	if err != nil {
		return fmt.Errorf("request authorization: %w", err)
	}
	if err := d.Repo.SetAuthorizationStatus(ctx, r.ID, auth.Status); err != nil {
		return fmt.Errorf("record authorization status: %w", err)
	}
	r.AuthorizationStatus = &auth.Status
	return nil
}

func (d ActionDeps) validateInsuranceEligibility(ctx context.Context, r *Referral) error {
	patient, err := d.Directory.Patient(ctx, r.PatientID)
	if err != nil {
		return fmt.Errorf("patient lookup: %w", err)
	}
	if patient == nil {
		return fmt.Errorf("patient %s not found for eligibility check", r.PatientID)
	}
	if !patient.HasActiveInsurance {
		return fmt.Errorf("patient %s has no active insurance", r.PatientID)
	}
	return nil
}

func (d ActionDeps) assignToPriorityQueue(_ context.Context, r *Referral) error {
	priority := 3
	switch r.UrgencyLevel {
	case UrgencyStat:
		priority = 1
	case UrgencyUrgent:
		priority = 2
	}
	d.Logger.Info().
		Str("referral_id", r.ID.String()).
		Int("priority", priority).
		Msg("referral assigned to priority queue")
	return nil
}

func (d ActionDeps) generateLetter(ctx context.Context, r *Referral) error {
	letter, err := d.Letters.Render("referral-letter", map[string]string{
		"referral_number": r.ReferralNumber,
		"specialty":       r.SpecialtyType,
		"urgency":         string(r.UrgencyLevel),
		"reason":          r.Reason,
		"provider":        r.ProviderID.String(),
	})
	if err != nil {
		return fmt.Errorf("render referral letter: %w", err)
	}
	if r.SpecialistID == nil {
		return nil
	}
	specialist, err := d.Directory.Specialist(ctx, *r.SpecialistID)
	if err != nil || specialist == nil || specialist.Email == "" {
		return nil
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: specialist.Email,
		Subject:   letter.Subject,
		Body:      letter.Body,
	})
}

func (d ActionDeps) sendNotifications(ctx context.Context, r *Referral) error {
	patient, err := d.Directory.Patient(ctx, r.PatientID)
	if err != nil {
		return fmt.Errorf("patient lookup: %w", err)
	}
	if patient == nil || patient.Email == "" {
		return nil
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: patient.Email,
		Subject:   fmt.Sprintf("Your referral %s has been sent", r.ReferralNumber),
		Body: fmt.Sprintf("Your %s referral (%s) has been sent to the specialist's office. "+
			"They will contact you to schedule an appointment.", r.SpecialtyType, r.ReferralNumber),
	})
}

func (d ActionDeps) scheduleFollowUp(ctx context.Context, r *Referral) error {
	followUp := time.Now().UTC().AddDate(0, 0, 14)
	if err := d.Repo.SetFollowUp(ctx, r.ID, followUp, nil); err != nil {
		return fmt.Errorf("set follow-up date: %w", err)
	}
	r.FollowUpDate = &followUp
	return nil
}

func (d ActionDeps) updateSpecialistReceivedMetric(ctx context.Context, r *Referral) error {
	if r.SpecialistID == nil {
		return nil
	}
	return d.Repo.IncrementSpecialistReceived(ctx, *r.SpecialistID)
}

func (d ActionDeps) sendAppointmentConfirmation(ctx context.Context, r *Referral) error {
	patient, err := d.Directory.Patient(ctx, r.PatientID)
	if err != nil {
		return fmt.Errorf("patient lookup: %w", err)
	}
	if patient == nil || patient.Email == "" || r.ScheduledAt == nil {
		return nil
	}
	letter, err := d.Letters.Render("appointment-confirmation", map[string]string{
		"referral_number": r.ReferralNumber,
		"scheduled_at":    r.ScheduledAt.Format(time.RFC1123),
	})
	if err != nil {
		return fmt.Errorf("render confirmation: %w", err)
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: patient.Email,
		Subject:   letter.Subject,
		Body:      letter.Body,
	})
}

func (d ActionDeps) createCalendarEvent(_ context.Context, r *Referral) error {
	if r.ScheduledAt == nil {
		return fmt.Errorf("no scheduled date to create calendar event from")
	}
	d.Logger.Info().
		Str("referral_id", r.ID.String()).
		Time("scheduled_at", *r.ScheduledAt).
		Msg("calendar event created")
	return nil
}

func (d ActionDeps) notifyProvider(ctx context.Context, r *Referral) error {
	provider, err := d.Directory.Provider(ctx, r.ProviderID)
	if err != nil {
		return fmt.Errorf("provider lookup: %w", err)
	}
	if provider == nil || provider.Email == "" {
		return nil
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: provider.Email,
		Subject:   fmt.Sprintf("Referral %s scheduled", r.ReferralNumber),
		Body:      fmt.Sprintf("Referral %s for your patient has been scheduled.", r.ReferralNumber),
	})
}

func (d ActionDeps) requestOutcomeReport(ctx context.Context, r *Referral) error {
	if r.SpecialistID == nil {
		return nil
	}
	specialist, err := d.Directory.Specialist(ctx, *r.SpecialistID)
	if err != nil {
		return fmt.Errorf("specialist lookup: %w", err)
	}
	if specialist == nil || specialist.Email == "" {
		return nil
	}
	letter, err := d.Letters.Render("outcome-report-request", map[string]string{
		"referral_number": r.ReferralNumber,
		"specialty":       r.SpecialtyType,
	})
	if err != nil {
		return fmt.Errorf("render outcome report request: %w", err)
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: specialist.Email,
		Subject:   letter.Subject,
		Body:      letter.Body,
	})
}

func (d ActionDeps) updateQualityMetrics(ctx context.Context, r *Referral) error {
	if r.SpecialistID == nil {
		return nil
	}
	return d.Repo.IncrementSpecialistCompleted(ctx, *r.SpecialistID)
}

func (d ActionDeps) processFollowUp(ctx context.Context, r *Referral) error {
	if r.FollowUpDate == nil {
		return nil
	}
	notes := fmt.Sprintf("completed %s, follow-up due %s",
		time.Now().UTC().Format("2006-01-02"), r.FollowUpDate.Format("2006-01-02"))
	return d.Repo.SetFollowUp(ctx, r.ID, *r.FollowUpDate, &notes)
}

// updateSpecialistRating derives a turnaround-based rating: same-week
// completion scores 5, each extra week costs a point, floor 1.
func (d ActionDeps) updateSpecialistRating(ctx context.Context, r *Referral) error {
	if r.SpecialistID == nil || r.SentAt == nil || r.CompletedAt == nil {
		return nil
	}
	weeks := int(r.CompletedAt.Sub(*r.SentAt) / (7 * 24 * time.Hour))
	rating := 5 - weeks
	if rating < 1 {
		rating = 1
	}
	return d.Repo.AddSpecialistRating(ctx, *r.SpecialistID, rating)
}

func (d ActionDeps) notifyCancellation(ctx context.Context, r *Referral) error {
	patient, err := d.Directory.Patient(ctx, r.PatientID)
	if err != nil {
		return fmt.Errorf("patient lookup: %w", err)
	}
	if patient == nil || patient.Email == "" {
		return nil
	}
	letter, err := d.Letters.Render("cancellation-notice", map[string]string{
		"referral_number": r.ReferralNumber,
		"reason":          r.Reason,
	})
	if err != nil {
		return fmt.Errorf("render cancellation notice: %w", err)
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: patient.Email,
		Subject:   letter.Subject,
		Body:      letter.Body,
	})
}

func (d ActionDeps) updateCancellationMetrics(ctx context.Context, r *Referral) error {
	if r.SpecialistID == nil {
		return nil
	}
	return d.Repo.IncrementSpecialistCancelled(ctx, *r.SpecialistID)
}

func (d ActionDeps) processRefunds(_ context.Context, r *Referral) error {
	// Billing integration is handled by the claims system; this records the
	// refund trigger for reconciliation.
	d.Logger.Info().
		Str("referral_id", r.ID.String()).
		Str("referral_number", r.ReferralNumber).
		Msg("refund processing triggered")
	return nil
}

func (d ActionDeps) notifyExpiration(ctx context.Context, r *Referral) error {
	patient, err := d.Directory.Patient(ctx, r.PatientID)
	if err != nil {
		return fmt.Errorf("patient lookup: %w", err)
	}
	if patient == nil || patient.Email == "" {
		return nil
	}
	letter, err := d.Letters.Render("expiration-notice", map[string]string{
		"referral_number": r.ReferralNumber,
	})
	if err != nil {
		return fmt.Errorf("render expiration notice: %w", err)
	}
	return d.Notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: patient.Email,
		Subject:   letter.Subject,
		Body:      letter.Body,
	})
}

func (d ActionDeps) suggestAlternatives(_ context.Context, r *Referral) error {
	d.Logger.Info().
		Str("referral_id", r.ID.String()).
		Str("specialty", r.SpecialtyType).
		Msg("alternative specialist suggestions queued")
	return nil
}

func (d ActionDeps) updateExpirationMetrics(ctx context.Context, r *Referral) error {
	if r.SpecialistID == nil {
		return nil
	}
	return d.Repo.IncrementSpecialistCancelled(ctx, *r.SpecialistID)
}
