package referral

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/referral/internal/domain/escalation"
	"github.com/carelink/referral/internal/platform/directory"
	"github.com/carelink/referral/internal/platform/letters"
	"github.com/carelink/referral/internal/platform/notification"
)

// SLAPolicy is the processing window for one urgency tier.
type SLAPolicy struct {
	MaxProcessing time.Duration
	AutoEscalate  bool
}

// DefaultSLAPolicies returns the standard per-urgency policy table.
func DefaultSLAPolicies() map[UrgencyLevel]SLAPolicy {
	return map[UrgencyLevel]SLAPolicy{
		UrgencyStat:    {MaxProcessing: 2 * time.Hour, AutoEscalate: true},
		UrgencyUrgent:  {MaxProcessing: 24 * time.Hour, AutoEscalate: true},
		UrgencyRoutine: {MaxProcessing: 72 * time.Hour, AutoEscalate: false},
	}
}

// Monitor evaluates SLA breaches on transitions and on periodic sweeps. It
// escalates best-effort: a breach raises an Escalation record, bumps routine
// urgency one tier, and notifies the referring provider.
type Monitor struct {
	policies    map[UrgencyLevel]SLAPolicy
	repo        Repository
	escalations *escalation.Service
	notifier    *notification.Dispatcher
	dir         directory.Directory
	renderer    letters.Renderer
	logger      zerolog.Logger
	now         func() time.Time
	sweepLimit  int
}

func NewMonitor(policies map[UrgencyLevel]SLAPolicy, repo Repository, escalations *escalation.Service,
	notifier *notification.Dispatcher, dir directory.Directory, renderer letters.Renderer, logger zerolog.Logger) *Monitor {
	return &Monitor{
		policies:    policies,
		repo:        repo,
		escalations: escalations,
		notifier:    notifier,
		dir:         dir,
		renderer:    renderer,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		sweepLimit:  500,
	}
}

// Check evaluates the referral against its urgency tier's SLA. It returns
// the escalation it raised, or nil when the referral is within policy,
// completed, or its tier does not auto-escalate.
func (m *Monitor) Check(ctx context.Context, r *Referral) (*escalation.Escalation, error) {
	policy, ok := m.policies[r.UrgencyLevel]
	if !ok {
		return nil, nil
	}
	if r.Status == StatusCompleted {
		return nil, nil
	}
	elapsed := m.now().Sub(r.CreatedAt)
	if elapsed <= policy.MaxProcessing {
		return nil, nil
	}
	if !policy.AutoEscalate {
		return nil, nil
	}

	reason := fmt.Sprintf("sla_breach:%s", r.UrgencyLevel)
	level := 1
	if r.UrgencyLevel == UrgencyStat {
		level = 2
	}
	esc, created, err := m.escalations.Raise(ctx, r.ID, reason, level)
	if err != nil {
		return nil, fmt.Errorf("raise escalation: %w", err)
	}
	if !created {
		return nil, nil
	}

	if r.UrgencyLevel == UrgencyRoutine {
		if err := m.repo.SetUrgency(ctx, r.ID, UrgencyUrgent); err != nil {
			m.logger.Error().Err(err).Str("referral_id", r.ID.String()).Msg("failed to raise urgency tier")
		} else {
			r.UrgencyLevel = UrgencyUrgent
		}
	}

	m.notifyBreach(ctx, r, elapsed)
	m.logger.Warn().
		Str("referral_id", r.ID.String()).
		Str("urgency", string(r.UrgencyLevel)).
		Dur("elapsed", elapsed).
		Msg("sla breach escalated")
	return esc, nil
}

func (m *Monitor) notifyBreach(ctx context.Context, r *Referral, elapsed time.Duration) {
	provider, err := m.dir.Provider(ctx, r.ProviderID)
	if err != nil || provider == nil || provider.Email == "" {
		return
	}
	letter, err := m.renderer.Render("escalation-alert", map[string]string{
		"referral_number": r.ReferralNumber,
		"urgency":         string(r.UrgencyLevel),
		"reason":          fmt.Sprintf("processing time %s exceeds the %s window", elapsed.Round(time.Minute), r.UrgencyLevel),
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to render escalation alert")
		return
	}
	if err := m.notifier.Send(ctx, &notification.Notification{
		Type:      notification.TypeEmail,
		Recipient: provider.Email,
		Subject:   letter.Subject,
		Body:      letter.Body,
	}); err != nil {
		m.logger.Warn().Err(err).Str("referral_id", r.ID.String()).Msg("escalation notification failed")
	}
}

// Sweep checks every unresolved referral and returns how many breached.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	refs, err := m.repo.ListUnresolved(ctx, m.sweepLimit)
	if err != nil {
		return 0, fmt.Errorf("list unresolved referrals: %w", err)
	}
	breached := 0
	for _, r := range refs {
		esc, err := m.Check(ctx, r)
		if err != nil {
			m.logger.Error().Err(err).Str("referral_id", r.ID.String()).Msg("sla check failed during sweep")
			continue
		}
		if esc != nil {
			breached++
		}
	}
	return breached, nil
}
