package referral

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/carelink/referral/internal/domain/authorization"
	"github.com/carelink/referral/internal/domain/escalation"
	"github.com/carelink/referral/internal/platform/audit"
	"github.com/carelink/referral/internal/platform/directory"
	"github.com/carelink/referral/internal/platform/letters"
	"github.com/carelink/referral/internal/platform/notification"
)

// mockRepo is an in-memory Repository.
type mockRepo struct {
	mu        sync.Mutex
	referrals map[uuid.UUID]*Referral
	history   []*StatusHistory
	metrics   map[uuid.UUID]*SpecialistMetric
	seq       int64

	failUpdate        error
	failAppendHistory error
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		referrals: make(map[uuid.UUID]*Referral),
		metrics:   make(map[uuid.UUID]*SpecialistMetric),
	}
}

func (m *mockRepo) Create(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	cp := *r
	m.referrals[r.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpdate != nil {
		return m.failUpdate
	}
	if _, ok := m.referrals[r.ID]; !ok {
		return ErrNotFound
	}
	cp := *r
	m.referrals[r.ID] = &cp
	return nil
}

func (m *mockRepo) List(_ context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Referral
	for _, r := range m.referrals {
		if filter.PatientID != nil && r.PatientID != *filter.PatientID {
			continue
		}
		if filter.ProviderID != nil && r.ProviderID != *filter.ProviderID {
			continue
		}
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.Urgency != nil && r.UrgencyLevel != *filter.Urgency {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) NextReferralNumber(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return fmt.Sprintf("REF-%d-%06d", time.Now().UTC().Year(), m.seq), nil
}

func (m *mockRepo) AppendHistory(_ context.Context, h *StatusHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppendHistory != nil {
		return m.failAppendHistory
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.ChangedAt.IsZero() {
		h.ChangedAt = time.Now().UTC()
	}
	cp := *h
	m.history = append(m.history, &cp)
	return nil
}

func (m *mockRepo) HistoryByReferral(_ context.Context, referralID uuid.UUID) ([]*StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*StatusHistory
	for _, h := range m.history {
		if h.ReferralID == referralID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out, nil
}

func (m *mockRepo) CountByPatientSince(_ context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.referrals {
		if r.PatientID == patientID && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) CountByProviderUrgencySince(_ context.Context, providerID uuid.UUID, urgency UrgencyLevel, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.referrals {
		if r.ProviderID == providerID && r.UrgencyLevel == urgency && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) CountSameSpecialtySince(_ context.Context, patientID uuid.UUID, specialty string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.referrals {
		if r.PatientID == patientID && normalizeSpecialty(r.SpecialtyType) == normalizeSpecialty(specialty) && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *mockRepo) SetFollowUp(_ context.Context, id uuid.UUID, date time.Time, notes *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return ErrNotFound
	}
	r.FollowUpDate = &date
	if notes != nil {
		r.FollowUpNotes = notes
	}
	return nil
}

func (m *mockRepo) SetUrgency(_ context.Context, id uuid.UUID, urgency UrgencyLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return ErrNotFound
	}
	r.UrgencyLevel = urgency
	return nil
}

func (m *mockRepo) SetAuthorizationStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.referrals[id]
	if !ok {
		return ErrNotFound
	}
	r.AuthorizationStatus = &status
	return nil
}

func (m *mockRepo) ListUnresolved(_ context.Context, limit int) ([]*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Referral
	for _, r := range m.referrals {
		switch r.Status {
		case StatusCompleted, StatusCancelled, StatusExpired:
			continue
		}
		cp := *r
		out = append(out, &cp)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *mockRepo) metric(specialistID uuid.UUID) *SpecialistMetric {
	metric, ok := m.metrics[specialistID]
	if !ok {
		metric = &SpecialistMetric{SpecialistID: specialistID}
		m.metrics[specialistID] = metric
	}
	return metric
}

func (m *mockRepo) IncrementSpecialistReceived(_ context.Context, specialistID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metric(specialistID).ReferralsReceived++
	return nil
}

func (m *mockRepo) IncrementSpecialistCompleted(_ context.Context, specialistID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metric(specialistID).ReferralsCompleted++
	return nil
}

func (m *mockRepo) IncrementSpecialistCancelled(_ context.Context, specialistID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metric(specialistID).ReferralsCancelled++
	return nil
}

func (m *mockRepo) AddSpecialistRating(_ context.Context, specialistID uuid.UUID, rating int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	metric := m.metric(specialistID)
	metric.RatingSum += rating
	metric.RatingCount++
	return nil
}

func (m *mockRepo) GetSpecialistMetric(_ context.Context, specialistID uuid.UUID) (*SpecialistMetric, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.metric(specialistID)
	return &cp, nil
}

// mockEscalationRepo is an in-memory escalation.Repository.
type mockEscalationRepo struct {
	mu          sync.Mutex
	escalations map[uuid.UUID]*escalation.Escalation
}

func newMockEscalationRepo() *mockEscalationRepo {
	return &mockEscalationRepo{escalations: make(map[uuid.UUID]*escalation.Escalation)}
}

func (m *mockEscalationRepo) Create(_ context.Context, esc *escalation.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if esc.ID == uuid.Nil {
		esc.ID = uuid.New()
	}
	cp := *esc
	m.escalations[esc.ID] = &cp
	return nil
}

func (m *mockEscalationRepo) GetByID(_ context.Context, id uuid.UUID) (*escalation.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc, ok := m.escalations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *esc
	return &cp, nil
}

func (m *mockEscalationRepo) Update(_ context.Context, esc *escalation.Escalation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *esc
	m.escalations[esc.ID] = &cp
	return nil
}

func (m *mockEscalationRepo) ListByReferral(_ context.Context, referralID uuid.UUID) ([]*escalation.Escalation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*escalation.Escalation
	for _, esc := range m.escalations {
		if esc.ReferralID == referralID {
			cp := *esc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockEscalationRepo) ListOpen(_ context.Context, limit, offset int) ([]*escalation.Escalation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*escalation.Escalation
	for _, esc := range m.escalations {
		if esc.Status == escalation.StatusOpen {
			cp := *esc
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockEscalationRepo) OpenExistsForReferral(_ context.Context, referralID uuid.UUID, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, esc := range m.escalations {
		if esc.ReferralID == referralID && esc.Reason == reason && esc.Status == escalation.StatusOpen {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockEscalationRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.escalations)
}

// mockAuthResolver resolves authorization numbers from a fixed map.
type mockAuthResolver struct {
	byNumber map[string]*authorization.Authorization
}

func (m *mockAuthResolver) GetByNumber(_ context.Context, number string) (*authorization.Authorization, error) {
	return m.byNumber[number], nil
}

// fixture bundles the wired-together collaborators most tests need.
type fixture struct {
	repo         *mockRepo
	escRepo      *mockEscalationRepo
	dir          *directory.InMemoryDirectory
	sink         *audit.InMemorySink
	email        *notification.MockEmailSender
	notifier     *notification.Dispatcher
	authResolver *mockAuthResolver
	escalations  *escalation.Service
	validator    *Validator
	sm           *StateMachine
	monitor      *Monitor
	pipeline     *Pipeline
	svc          *Service

	patientID    uuid.UUID
	providerID   uuid.UUID
	specialistID uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		repo:         newMockRepo(),
		escRepo:      newMockEscalationRepo(),
		dir:          directory.NewInMemoryDirectory(),
		sink:         audit.NewInMemorySink(),
		email:        &notification.MockEmailSender{},
		authResolver: &mockAuthResolver{byNumber: make(map[string]*authorization.Authorization)},
		patientID:    uuid.New(),
		providerID:   uuid.New(),
		specialistID: uuid.New(),
	}

	f.dir.AddPatient(&directory.Patient{
		ID: f.patientID, Active: true, HasActiveInsurance: true, ConsentOnFile: true,
		Email: "patient@example.com",
	})
	f.dir.AddProvider(&directory.Provider{
		ID: f.providerID, Active: true, CredentialsValid: true,
		Email: "provider@example.com",
	})
	f.dir.AddSpecialist(&directory.Specialist{
		ID: f.specialistID, Active: true, Specialties: []string{"cardiology"},
		Email: "specialist@example.com",
	})

	logger := zerolog.Nop()
	f.notifier = notification.NewDispatcher(f.email, &notification.MockSMSSender{})
	f.escalations = escalation.NewService(f.escRepo)
	f.validator = NewValidator(f.dir, f.repo, f.authResolver)
	f.sm = NewStateMachine()
	emitter := audit.NewEmitter(f.sink, logger)
	renderer := letters.NewTemplateRenderer()

	deps := ActionDeps{
		Repo:           f.repo,
		Directory:      f.dir,
		Letters:        renderer,
		Notifier:       f.notifier,
		Authorizations: authorization.NewService(newAuthMemRepo()),
		Logger:         logger,
	}
	f.pipeline = NewPipeline(DefaultActions(deps), emitter, nil, logger)
	f.monitor = NewMonitor(DefaultSLAPolicies(), f.repo, f.escalations, f.notifier, f.dir, renderer, logger)
	f.svc = NewService(nil, f.repo, f.sm, f.validator, f.pipeline, f.monitor, f.escalations, emitter, logger)
	f.svc.runInTx = func(ctx context.Context, fn func(context.Context) error) error { return fn(ctx) }
	return f
}

// draft returns a valid draft referral for the fixture's directory entries.
func (f *fixture) draft() *Referral {
	return &Referral{
		PatientID:       f.patientID,
		ProviderID:      f.providerID,
		SpecialtyType:   "cardiology",
		Reason:          "chest pain",
		UrgencyLevel:    UrgencyRoutine,
		AppointmentType: "consultation",
		Status:          StatusDraft,
	}
}

// authMemRepo is a minimal in-memory authorization.Repository for actions.
type authMemRepo struct {
	mu    sync.Mutex
	auths map[uuid.UUID]*authorization.Authorization
}

func newAuthMemRepo() *authMemRepo {
	return &authMemRepo{auths: make(map[uuid.UUID]*authorization.Authorization)}
}

func (m *authMemRepo) Create(_ context.Context, a *authorization.Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	cp := *a
	m.auths[a.ID] = &cp
	return nil
}

func (m *authMemRepo) GetByID(_ context.Context, id uuid.UUID) (*authorization.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auths[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *a
	return &cp, nil
}

func (m *authMemRepo) GetByNumber(_ context.Context, number string) (*authorization.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.auths {
		if a.AuthorizationNumber != nil && *a.AuthorizationNumber == number {
			cp := *a
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *authMemRepo) Update(_ context.Context, a *authorization.Authorization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.auths[a.ID] = &cp
	return nil
}

func (m *authMemRepo) ListByReferral(_ context.Context, referralID uuid.UUID) ([]*authorization.Authorization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*authorization.Authorization
	for _, a := range m.auths {
		if a.ReferralID == referralID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}
