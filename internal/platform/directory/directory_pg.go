package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory {
	return &directoryPG{pool: pool}
}

func (d *directoryPG) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := d.pool.QueryRow(ctx, `
		SELECT id, active, has_active_insurance, consent_on_file, COALESCE(email, '')
		FROM patient WHERE id = $1`, id).
		Scan(&p.ID, &p.Active, &p.HasActiveInsurance, &p.ConsentOnFile, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *directoryPG) Provider(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var p Provider
	err := d.pool.QueryRow(ctx, `
		SELECT id, active, credentials_valid, COALESCE(email, '')
		FROM provider WHERE id = $1`, id).
		Scan(&p.ID, &p.Active, &p.CredentialsValid, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *directoryPG) Specialist(ctx context.Context, id uuid.UUID) (*Specialist, error) {
	var s Specialist
	err := d.pool.QueryRow(ctx, `
		SELECT id, active, specialties, COALESCE(email, '')
		FROM specialist WHERE id = $1`, id).
		Scan(&s.ID, &s.Active, &s.Specialties, &s.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (d *directoryPG) Encounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	var e Encounter
	err := d.pool.QueryRow(ctx, `
		SELECT id, status NOT IN ('finished', 'cancelled', 'entered-in-error')
		FROM encounter WHERE id = $1`, id).
		Scan(&e.ID, &e.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}
