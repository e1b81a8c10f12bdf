package integration

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/carelink/referral/internal/domain/authorization"
	"github.com/carelink/referral/internal/domain/escalation"
	"github.com/carelink/referral/internal/domain/referral"
	"github.com/carelink/referral/internal/platform/audit"
	"github.com/carelink/referral/internal/platform/directory"
	"github.com/carelink/referral/internal/platform/letters"
	"github.com/carelink/referral/internal/platform/notification"
)

// newStack wires the full referral service against the shared test database.
func newStack(t *testing.T) (*referral.Service, referral.Repository, *escalation.Service) {
	t.Helper()
	logger := zerolog.Nop()
	pool := globalDB.Pool

	dir := directory.NewDirectoryPG(pool)
	renderer := letters.NewTemplateRenderer()
	notifier := notification.NewDispatcher(&notification.MockEmailSender{}, &notification.MockSMSSender{})
	emitter := audit.NewEmitter(audit.NewSinkPG(pool), logger)

	escalationSvc := escalation.NewService(escalation.NewRepo(pool))
	authSvc := authorization.NewService(authorization.NewRepo(pool))

	repo := referral.NewRepo(pool)
	validator := referral.NewValidator(dir, repo, authSvc)
	sm := referral.NewStateMachine()
	pipeline := referral.NewPipeline(referral.DefaultActions(referral.ActionDeps{
		Repo:           repo,
		Directory:      dir,
		Letters:        renderer,
		Notifier:       notifier,
		Authorizations: authSvc,
		Logger:         logger,
	}), emitter, nil, logger)
	monitor := referral.NewMonitor(referral.DefaultSLAPolicies(), repo, escalationSvc, notifier, dir, renderer, logger)

	return referral.NewService(pool, repo, sm, validator, pipeline, monitor, escalationSvc, emitter, logger), repo, escalationSvc
}

func TestReferralLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newStack(t)

	patientID := seedPatient(t, ctx, true, true)
	providerID := seedProvider(t, ctx)
	specialistID := seedSpecialist(t, ctx, "cardiology")

	created, err := svc.CreateReferral(ctx, &referral.Referral{
		PatientID:       patientID,
		ProviderID:      providerID,
		SpecialistID:    &specialistID,
		SpecialtyType:   "cardiology",
		Reason:          "chest pain on exertion",
		UrgencyLevel:    referral.UrgencyRoutine,
		AppointmentType: "consultation",
	}, "dr-house")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != referral.StatusDraft {
		t.Fatalf("expected draft, got %s", created.Status)
	}
	if created.ReferralNumber == "" {
		t.Fatal("expected assigned referral number")
	}

	if _, err := svc.Transition(ctx, created.ID, referral.StatusPending, "", "dr-house", referral.TransitionOptions{}); err != nil {
		t.Fatalf("to pending: %v", err)
	}
	if _, err := svc.Transition(ctx, created.ID, referral.StatusSent, "", "dr-house", referral.TransitionOptions{}); err != nil {
		t.Fatalf("to sent: %v", err)
	}
	when := time.Now().UTC().Add(72 * time.Hour)
	if _, err := svc.Transition(ctx, created.ID, referral.StatusScheduled, "", "scheduler", referral.TransitionOptions{ScheduledAt: &when}); err != nil {
		t.Fatalf("to scheduled: %v", err)
	}
	final, err := svc.Transition(ctx, created.ID, referral.StatusCompleted, "visit done", "specialist", referral.TransitionOptions{})
	if err != nil {
		t.Fatalf("to completed: %v", err)
	}
	if final.SentAt == nil || final.CompletedAt == nil {
		t.Error("expected stage timestamps persisted")
	}

	history, err := svc.History(ctx, created.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Errorf("expected 5 history rows, got %d", len(history))
	}
	if history[0].PreviousStatus != nil {
		t.Error("creation row must have nil previous status")
	}
}

func TestReferralInvalidTransitionPersistsNothing(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newStack(t)

	patientID := seedPatient(t, ctx, true, true)
	providerID := seedProvider(t, ctx)

	created, err := svc.CreateReferral(ctx, &referral.Referral{
		PatientID:       patientID,
		ProviderID:      providerID,
		SpecialtyType:   "dermatology",
		Reason:          "persistent rash",
		UrgencyLevel:    referral.UrgencyRoutine,
		AppointmentType: "consultation",
	}, "dr-house")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.Transition(ctx, created.ID, referral.StatusCompleted, "", "dr-house", referral.TransitionOptions{}); err == nil {
		t.Fatal("draft -> completed should fail")
	}

	stored, err := svc.GetReferral(ctx, created.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.Status != referral.StatusDraft {
		t.Errorf("failed transition must not change status, got %s", stored.Status)
	}
	history, _ := svc.History(ctx, created.ID)
	if len(history) != 1 {
		t.Errorf("failed transition must not append history, got %d", len(history))
	}
}

func TestEscalationRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc, _, escalations := newStack(t)

	patientID := seedPatient(t, ctx, true, true)
	providerID := seedProvider(t, ctx)

	created, err := svc.CreateReferral(ctx, &referral.Referral{
		PatientID:       patientID,
		ProviderID:      providerID,
		SpecialtyType:   "neurology",
		Reason:          "recurring migraines",
		UrgencyLevel:    referral.UrgencyUrgent,
		AppointmentType: "consultation",
	}, "dr-house")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	esc, err := svc.Escalate(ctx, created.ID, "no response from specialist office", "coordinator")
	if err != nil {
		t.Fatalf("escalate: %v", err)
	}

	// Duplicate open escalation with the same reason is rejected.
	if _, err := svc.Escalate(ctx, created.ID, "no response from specialist office", "coordinator"); err == nil {
		t.Error("duplicate open escalation should fail")
	}

	if _, err := escalations.Acknowledge(ctx, esc.ID, "supervisor"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := escalations.Resolve(ctx, esc.ID); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	listed, err := escalations.ListByReferral(ctx, created.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Status != escalation.StatusResolved {
		t.Errorf("expected one resolved escalation, got %+v", listed)
	}
}

func TestAuthorizationApprovalUnblocksTransition(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newStack(t)
	authSvc := authorization.NewService(authorization.NewRepo(globalDB.Pool))

	patientID := seedPatient(t, ctx, true, true)
	providerID := seedProvider(t, ctx)

	notes := "documented medical necessity: imaging required ahead of surgical consult for meniscus tear"
	created, err := svc.CreateReferral(ctx, &referral.Referral{
		PatientID:             patientID,
		ProviderID:            providerID,
		SpecialtyType:         "orthopedic_surgery",
		Reason:                "meniscus tear",
		ClinicalNotes:         &notes,
		UrgencyLevel:          referral.UrgencyRoutine,
		AppointmentType:       "procedure",
		AuthorizationRequired: true,
	}, "dr-house")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Pending authorization blocks guard_complete.
	if _, err := svc.Transition(ctx, created.ID, referral.StatusPending, "", "dr-house", referral.TransitionOptions{}); err == nil {
		t.Fatal("transition should fail while authorization is outstanding")
	}

	auth, err := authSvc.Request(ctx, created.ID, []string{"29881"}, notes)
	if err != nil {
		t.Fatalf("request authorization: %v", err)
	}
	approved, err := authSvc.Approve(ctx, auth.ID, 2, 90)
	if err != nil {
		t.Fatalf("approve authorization: %v", err)
	}
	if approved.AuthorizationNumber == nil {
		t.Fatal("expected authorization number assigned")
	}
	if err := repo.SetAuthorizationStatus(ctx, created.ID, string(authorization.StatusApproved)); err != nil {
		t.Fatalf("set authorization status: %v", err)
	}

	if _, err := svc.Transition(ctx, created.ID, referral.StatusPending, "", "dr-house", referral.TransitionOptions{}); err != nil {
		t.Fatalf("transition after approval: %v", err)
	}
}
