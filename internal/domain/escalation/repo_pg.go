package escalation

import (
	"context"

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

const escCols = `id, referral_id, reason, level, assigned_to, status,
	created_at, acknowledged_at, resolved_at`

func (r *repoPG) Create(ctx context.Context, esc *Escalation) error {
	if esc.ID == uuid.Nil {
		esc.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO escalation (id, referral_id, reason, level, assigned_to, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		esc.ID, esc.ReferralID, esc.Reason, esc.Level, esc.AssignedTo, esc.Status, esc.CreatedAt,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Escalation, error) {
	return scanEsc(r.conn(ctx).QueryRow(ctx, `SELECT `+escCols+` FROM escalation WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, esc *Escalation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE escalation SET
			reason=$2, level=$3, assigned_to=$4, status=$5,
			acknowledged_at=$6, resolved_at=$7
		WHERE id = $1`,
		esc.ID, esc.Reason, esc.Level, esc.AssignedTo, esc.Status,
		esc.AcknowledgedAt, esc.ResolvedAt,
	)
	return err
}

func (r *repoPG) ListByReferral(ctx context.Context, referralID uuid.UUID) ([]*Escalation, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+escCols+` FROM escalation WHERE referral_id = $1 ORDER BY created_at`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escs []*Escalation
	for rows.Next() {
		esc, err := scanEscRow(rows)
		if err != nil {
			return nil, err
		}
		escs = append(escs, esc)
	}
	return escs, rows.Err()
}

func (r *repoPG) ListOpen(ctx context.Context, limit, offset int) ([]*Escalation, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM escalation WHERE status = $1`, StatusOpen).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+escCols+` FROM escalation WHERE status = $1 ORDER BY created_at LIMIT $2 OFFSET $3`,
		StatusOpen, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var escs []*Escalation
	for rows.Next() {
		esc, err := scanEscRow(rows)
		if err != nil {
			return nil, 0, err
		}
		escs = append(escs, esc)
	}
	return escs, total, rows.Err()
}

func (r *repoPG) OpenExistsForReferral(ctx context.Context, referralID uuid.UUID, reason string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM escalation
			WHERE referral_id = $1 AND reason = $2 AND status = $3
		)`, referralID, reason, StatusOpen).Scan(&exists)
	return exists, err
}

func scanEsc(row pgx.Row) (*Escalation, error) {
	var e Escalation
	err := row.Scan(&e.ID, &e.ReferralID, &e.Reason, &e.Level, &e.AssignedTo, &e.Status,
		&e.CreatedAt, &e.AcknowledgedAt, &e.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEscRow(rows pgx.Rows) (*Escalation, error) {
	var e Escalation
	err := rows.Scan(&e.ID, &e.ReferralID, &e.Reason, &e.Level, &e.AssignedTo, &e.Status,
		&e.CreatedAt, &e.AcknowledgedAt, &e.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
