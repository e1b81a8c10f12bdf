package referral

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/referral/internal/domain/authorization"
	"github.com/carelink/referral/internal/platform/directory"
)

// ValidationType selects which checks apply to a validation run.
type ValidationType string

const (
	// ValidateCreate runs before a referral number is assigned.
	ValidateCreate ValidationType = "create"
	// ValidateTransition runs against a persisted referral.
	ValidateTransition ValidationType = "transition"
)

// ValidationResult is the full outcome of a validation run. Errors block the
// caller's mutation; warnings and compliance issues are advisory.
type ValidationResult struct {
	Valid            bool     `json:"valid"`
	Errors           []string `json:"errors"`
	Warnings         []string `json:"warnings"`
	ComplianceIssues []string `json:"compliance_issues"`
}

func (vr *ValidationResult) addError(format string, args ...interface{}) {
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
	vr.Valid = false
}

func (vr *ValidationResult) addWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

func (vr *ValidationResult) addCompliance(format string, args ...interface{}) {
	vr.ComplianceIssues = append(vr.ComplianceIssues, fmt.Sprintf(format, args...))
}

// Daily quota limits.
const (
	maxReferralsPerPatientPerDay = 5
	maxUrgentPerProviderPerDay   = 10
	maxStatPerProviderPerDay     = 3
	specialtyCooldown            = 24 * time.Hour
)

// Clinical note length bounds; the minimum is advisory only.
const (
	clinicalNotesMinLen = 50
	clinicalNotesMaxLen = 5000
)

var (
	referralNumberRe = regexp.MustCompile(`^REF-\d{4}-\d{6}$`)
	icd10Re          = regexp.MustCompile(`^[A-Z]\d{2}(\.\d{1,3})?$`)
	cptRe            = regexp.MustCompile(`^\d{5}$`)
)

// Specialties that need payer pre-approval before a referral can be sent.
var authorizationRequiredSpecialties = map[string]bool{
	"surgery":            true,
	"orthopedic_surgery": true,
	"neurosurgery":       true,
	"cardiac_surgery":    true,
	"mri":                true,
	"ct_scan":            true,
	"pet_scan":           true,
	"nuclear_medicine":   true,
}

// CountsReader is the read-only slice of the repository the validator uses
// for quota checks.
type CountsReader interface {
	CountByPatientSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error)
	CountByProviderUrgencySince(ctx context.Context, providerID uuid.UUID, urgency UrgencyLevel, since time.Time) (int, error)
	CountSameSpecialtySince(ctx context.Context, patientID uuid.UUID, specialty string, since time.Time) (int, error)
}

// AuthorizationResolver resolves payer authorization numbers.
type AuthorizationResolver interface {
	GetByNumber(ctx context.Context, number string) (*authorization.Authorization, error)
}

// Validator runs the ordered business and clinical rule checks. It holds no
// mutable state: calling Validate twice on an unchanged referral yields an
// identical result.
type Validator struct {
	dir    directory.Directory
	counts CountsReader
	auths  AuthorizationResolver
	now    func() time.Time
}

func NewValidator(dir directory.Directory, counts CountsReader, auths AuthorizationResolver) *Validator {
	return &Validator{
		dir:    dir,
		counts: counts,
		auths:  auths,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Validate runs every check group in order and returns the combined result.
// The error return is reserved for collaborator failures (directory or
// storage); rule violations land in the result.
func (v *Validator) Validate(ctx context.Context, r *Referral, vt ValidationType) (*ValidationResult, error) {
	result := &ValidationResult{
		Valid:            true,
		Errors:           []string{},
		Warnings:         []string{},
		ComplianceIssues: []string{},
	}

	v.checkRequiredFields(r, result)
	v.checkFormats(r, vt, result)
	if err := v.checkQuotas(ctx, r, result); err != nil {
		return nil, err
	}
	v.checkClinical(r, result)

	patient, err := v.dir.Patient(ctx, r.PatientID)
	if err != nil {
		return nil, fmt.Errorf("patient lookup: %w", err)
	}
	if err := v.checkAuthorization(ctx, r, patient, result); err != nil {
		return nil, err
	}
	provider, err := v.dir.Provider(ctx, r.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("provider lookup: %w", err)
	}
	v.checkCompliance(r, patient, provider, result)
	if err := v.checkCrossReferences(ctx, r, patient, provider, result); err != nil {
		return nil, err
	}

	return result, nil
}

// requiredFieldsFor returns the progressive required-field list for a
// status. Later lifecycle stages require everything earlier ones do.
func requiredFieldsFor(status Status) []string {
	fields := []string{"patient_id", "provider_id", "specialty_type", "reason"}
	switch status {
	case StatusDraft, StatusCancelled, StatusExpired:
		return fields
	case StatusPending:
		return append(fields, "urgency_level")
	case StatusSent:
		return append(fields, "urgency_level", "appointment_type")
	case StatusScheduled:
		return append(fields, "urgency_level", "appointment_type", "scheduled_at")
	case StatusCompleted:
		return append(fields, "urgency_level", "appointment_type", "scheduled_at", "completed_at")
	}
	return fields
}

func (v *Validator) checkRequiredFields(r *Referral, result *ValidationResult) {
	for _, field := range requiredFieldsFor(r.Status) {
		present := true
		switch field {
		case "patient_id":
			present = r.PatientID != uuid.Nil
		case "provider_id":
			present = r.ProviderID != uuid.Nil
		case "specialty_type":
			present = r.SpecialtyType != ""
		case "reason":
			present = r.Reason != ""
		case "urgency_level":
			present = r.UrgencyLevel != ""
		case "appointment_type":
			present = r.AppointmentType != ""
		case "scheduled_at":
			present = r.ScheduledAt != nil
		case "completed_at":
			present = r.CompletedAt != nil
		}
		if !present {
			result.addError("%s is required for status %s", field, r.Status)
		}
	}
}

func (v *Validator) checkFormats(r *Referral, vt ValidationType, result *ValidationResult) {
	if vt != ValidateCreate || r.ReferralNumber != "" {
		if !referralNumberRe.MatchString(r.ReferralNumber) {
			result.addError("referral_number %q does not match REF-YYYY-NNNNNN", r.ReferralNumber)
		}
	}
	if r.UrgencyLevel != "" && !r.UrgencyLevel.Valid() {
		result.addError("urgency_level %q is not one of routine, urgent, stat", r.UrgencyLevel)
	}
	if r.AppointmentType != "" && !validAppointmentTypes[r.AppointmentType] {
		result.addError("appointment_type %q is not recognized", r.AppointmentType)
	}
	if !r.Status.Valid() {
		result.addError("status %q is not a valid lifecycle state", r.Status)
	}
	if r.ClinicalNotes != nil {
		n := len(*r.ClinicalNotes)
		if n > clinicalNotesMaxLen {
			result.addError("clinical_notes exceed %d characters", clinicalNotesMaxLen)
		} else if n > 0 && n < clinicalNotesMinLen {
			result.addWarning("clinical_notes shorter than %d characters", clinicalNotesMinLen)
		}
	}
}

func (v *Validator) checkQuotas(ctx context.Context, r *Referral, result *ValidationResult) error {
	now := v.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	patientToday, err := v.counts.CountByPatientSince(ctx, r.PatientID, startOfDay)
	if err != nil {
		return fmt.Errorf("patient quota count: %w", err)
	}
	if patientToday >= maxReferralsPerPatientPerDay {
		result.addError("daily referral limit (%d) reached for patient", maxReferralsPerPatientPerDay)
	}

	switch r.UrgencyLevel {
	case UrgencyUrgent:
		urgentToday, err := v.counts.CountByProviderUrgencySince(ctx, r.ProviderID, UrgencyUrgent, startOfDay)
		if err != nil {
			return fmt.Errorf("provider urgent quota count: %w", err)
		}
		if urgentToday >= maxUrgentPerProviderPerDay {
			result.addError("daily urgent referral limit (%d) reached for provider", maxUrgentPerProviderPerDay)
		}
	case UrgencyStat:
		statToday, err := v.counts.CountByProviderUrgencySince(ctx, r.ProviderID, UrgencyStat, startOfDay)
		if err != nil {
			return fmt.Errorf("provider stat quota count: %w", err)
		}
		if statToday >= maxStatPerProviderPerDay {
			result.addError("daily stat referral limit (%d) reached for provider", maxStatPerProviderPerDay)
		}
	}

	recentSameSpecialty, err := v.counts.CountSameSpecialtySince(ctx, r.PatientID, r.SpecialtyType, now.Add(-specialtyCooldown))
	if err != nil {
		return fmt.Errorf("specialty cooldown count: %w", err)
	}
	if recentSameSpecialty > 0 {
		result.addWarning("patient already has a %s referral within the last 24 hours", r.SpecialtyType)
	}

	if authorizationRequiredSpecialties[normalizeSpecialty(r.SpecialtyType)] && !r.AuthorizationRequired {
		result.addWarning("specialty %s usually requires prior authorization", r.SpecialtyType)
	}

	return nil
}

func (v *Validator) checkClinical(r *Referral, result *ValidationResult) {
	for _, code := range r.ICD10Codes {
		if !icd10Re.MatchString(code) {
			result.addError("ICD-10 code %q is not valid", code)
		}
	}
	for _, code := range r.CPTCodes {
		if !cptRe.MatchString(code) {
			result.addError("CPT code %q is not valid", code)
		}
	}

	specialty := normalizeSpecialty(r.SpecialtyType)
	if strings.Contains(specialty, "cardio") && r.ClinicalNotes != nil {
		notes := strings.ToLower(*r.ClinicalNotes)
		if !strings.Contains(notes, "cardiac") && !strings.Contains(notes, "heart") {
			result.addWarning("cardiology clinical notes do not mention cardiac findings")
		}
	}

	if strings.Contains(specialty, "surgery") && !r.AuthorizationRequired {
		result.addError("Surgical referrals require prior authorization")
	}
}

func (v *Validator) checkAuthorization(ctx context.Context, r *Referral, patient *directory.Patient, result *ValidationResult) error {
	if !r.AuthorizationRequired {
		return nil
	}

	if patient != nil && !patient.HasActiveInsurance {
		result.addError("patient has no active insurance for an authorization-required referral")
	}

	if r.AuthorizationNumber != nil && *r.AuthorizationNumber != "" {
		auth, err := v.auths.GetByNumber(ctx, *r.AuthorizationNumber)
		if err != nil {
			return fmt.Errorf("authorization lookup: %w", err)
		}
		switch {
		case auth == nil:
			result.addError("authorization_number %s does not exist", *r.AuthorizationNumber)
		case !auth.Active(v.now()):
			result.addError("authorization_number %s is not approved and unexpired", *r.AuthorizationNumber)
		}
	}
	return nil
}

func (v *Validator) checkCompliance(r *Referral, patient *directory.Patient, provider *directory.Provider, result *ValidationResult) {
	if patient != nil && !patient.ConsentOnFile {
		result.addCompliance("patient consent is not on file")
	}
	if provider != nil && !provider.CredentialsValid {
		result.addCompliance("referring provider credentials are not current")
	}
	if r.AuthorizationRequired && (r.ClinicalNotes == nil || *r.ClinicalNotes == "") {
		result.addCompliance("medical necessity must be documented in clinical notes")
	}
}

func (v *Validator) checkCrossReferences(ctx context.Context, r *Referral, patient *directory.Patient, provider *directory.Provider, result *ValidationResult) error {
	if patient == nil {
		result.addError("patient %s does not exist", r.PatientID)
	} else if !patient.Active {
		result.addError("patient %s is inactive", r.PatientID)
	}

	if provider == nil {
		result.addError("provider %s does not exist", r.ProviderID)
	} else if !provider.Active {
		result.addError("provider %s is inactive", r.ProviderID)
	}

	if r.SpecialistID != nil {
		specialist, err := v.dir.Specialist(ctx, *r.SpecialistID)
		if err != nil {
			return fmt.Errorf("specialist lookup: %w", err)
		}
		switch {
		case specialist == nil:
			result.addError("specialist %s does not exist", *r.SpecialistID)
		case !specialist.Active:
			result.addError("specialist %s is inactive", *r.SpecialistID)
		case !specialist.HasSpecialty(normalizeSpecialty(r.SpecialtyType)):
			result.addWarning("specialist %s does not list specialty %s", *r.SpecialistID, r.SpecialtyType)
		}
	}

	if r.EncounterID != nil {
		enc, err := v.dir.Encounter(ctx, *r.EncounterID)
		if err != nil {
			return fmt.Errorf("encounter lookup: %w", err)
		}
		switch {
		case enc == nil:
			result.addError("encounter %s does not exist", *r.EncounterID)
		case !enc.Active:
			result.addError("encounter %s is not active", *r.EncounterID)
		}
	}
	return nil
}

func normalizeSpecialty(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}
