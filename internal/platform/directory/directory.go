// Package directory exposes read-only lookups against the organization's
// patient, provider, and specialist registries. The referral validator uses
// it for existence, active-status, insurance, consent, and credential checks.
package directory

import (
	"context"

	"github.com/google/uuid"
)

type Patient struct {
	ID                 uuid.UUID `json:"id"`
	Active             bool      `json:"active"`
	HasActiveInsurance bool      `json:"has_active_insurance"`
	ConsentOnFile      bool      `json:"consent_on_file"`
	Email              string    `json:"email,omitempty"`
}

type Provider struct {
	ID               uuid.UUID `json:"id"`
	Active           bool      `json:"active"`
	CredentialsValid bool      `json:"credentials_valid"`
	Email            string    `json:"email,omitempty"`
}

type Specialist struct {
	ID          uuid.UUID `json:"id"`
	Active      bool      `json:"active"`
	Specialties []string  `json:"specialties"`
	Email       string    `json:"email,omitempty"`
}

type Encounter struct {
	ID     uuid.UUID `json:"id"`
	Active bool      `json:"active"`
}

// Directory is the read-only lookup port. Lookups return (nil, nil) when the
// entity does not exist; errors are reserved for storage failures.
type Directory interface {
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
	Provider(ctx context.Context, id uuid.UUID) (*Provider, error)
	Specialist(ctx context.Context, id uuid.UUID) (*Specialist, error)
	Encounter(ctx context.Context, id uuid.UUID) (*Encounter, error)
}

// HasSpecialty reports whether the specialist lists the given specialty.
func (s *Specialist) HasSpecialty(specialty string) bool {
	for _, sp := range s.Specialties {
		if sp == specialty {
			return true
		}
	}
	return false
}
