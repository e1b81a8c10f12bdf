package authorization

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/referral/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const authCols = `id, referral_id, status, authorization_number, requested_services,
	clinical_justification, approved_visits, denial_reason, expires_at,
	created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, a *Authorization) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO prior_authorization (
			id, referral_id, status, authorization_number, requested_services,
			clinical_justification, approved_visits, denial_reason, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		a.ID, a.ReferralID, a.Status, a.AuthorizationNumber, a.RequestedServices,
		a.ClinicalJustification, a.ApprovedVisits, a.DenialReason, a.ExpiresAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Authorization, error) {
	return scanAuth(r.conn(ctx).QueryRow(ctx,
		`SELECT `+authCols+` FROM prior_authorization WHERE id = $1`, id))
}

func (r *repoPG) GetByNumber(ctx context.Context, number string) (*Authorization, error) {
	a, err := scanAuth(r.conn(ctx).QueryRow(ctx,
		`SELECT `+authCols+` FROM prior_authorization WHERE authorization_number = $1`, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *repoPG) Update(ctx context.Context, a *Authorization) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE prior_authorization SET
			status=$2, authorization_number=$3, requested_services=$4,
			clinical_justification=$5, approved_visits=$6, denial_reason=$7,
			expires_at=$8, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Status, a.AuthorizationNumber, a.RequestedServices,
		a.ClinicalJustification, a.ApprovedVisits, a.DenialReason, a.ExpiresAt,
	)
	return err
}

func (r *repoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Authorization, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+authCols+` FROM prior_authorization WHERE referral_id = $1 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auths []*Authorization
	for rows.Next() {
		var a Authorization
		if err := rows.Scan(&a.ID, &a.ReferralID, &a.Status, &a.AuthorizationNumber, &a.RequestedServices,
			&a.ClinicalJustification, &a.ApprovedVisits, &a.DenialReason, &a.ExpiresAt,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		auths = append(auths, &a)
	}
	return auths, rows.Err()
}

func scanAuth(row pgx.Row) (*Authorization, error) {
	var a Authorization
	err := row.Scan(&a.ID, &a.ReferralID, &a.Status, &a.AuthorizationNumber, &a.RequestedServices,
		&a.ClinicalJustification, &a.ApprovedVisits, &a.DenialReason, &a.ExpiresAt,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
