package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/referral/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool, now: func() time.Time { return time.Now().UTC() }}
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

const refCols = `id, referral_number, patient_id, provider_id, specialist_id, encounter_id,
	specialty_type, reason, clinical_notes, urgency_level, appointment_type, status,
	authorization_required, authorization_status, authorization_number,
	icd10_codes, cpt_codes,
	sent_at, scheduled_at, completed_at, follow_up_date, follow_up_notes,
	created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, ref *Referral) error {
	if ref.ID == uuid.Nil {
		ref.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO referral (
			id, referral_number, patient_id, provider_id, specialist_id, encounter_id,
			specialty_type, reason, clinical_notes, urgency_level, appointment_type, status,
			authorization_required, authorization_status, authorization_number,
			icd10_codes, cpt_codes,
			sent_at, scheduled_at, completed_at, follow_up_date, follow_up_notes,
			created_by
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,
			$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23
		)`,
		ref.ID, ref.ReferralNumber, ref.PatientID, ref.ProviderID, ref.SpecialistID, ref.EncounterID,
		ref.SpecialtyType, ref.Reason, ref.ClinicalNotes, ref.UrgencyLevel, ref.AppointmentType, ref.Status,
		ref.AuthorizationRequired, ref.AuthorizationStatus, ref.AuthorizationNumber,
		ref.ICD10Codes, ref.CPTCodes,
		ref.SentAt, ref.ScheduledAt, ref.CompletedAt, ref.FollowUpDate, ref.FollowUpNotes,
		ref.CreatedBy,
	)
	return err
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := scanRef(r.conn(ctx).QueryRow(ctx, `SELECT `+refCols+` FROM referral WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return ref, err
}

func (r *repoPG) Update(ctx context.Context, ref *Referral) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE referral SET
			specialist_id=$2, encounter_id=$3, specialty_type=$4, reason=$5,
			clinical_notes=$6, urgency_level=$7, appointment_type=$8, status=$9,
			authorization_required=$10, authorization_status=$11, authorization_number=$12,
			icd10_codes=$13, cpt_codes=$14,
			sent_at=$15, scheduled_at=$16, completed_at=$17,
			follow_up_date=$18, follow_up_notes=$19, updated_at=NOW()
		WHERE id = $1`,
		ref.ID, ref.SpecialistID, ref.EncounterID, ref.SpecialtyType, ref.Reason,
		ref.ClinicalNotes, ref.UrgencyLevel, ref.AppointmentType, ref.Status,
		ref.AuthorizationRequired, ref.AuthorizationStatus, ref.AuthorizationNumber,
		ref.ICD10Codes, ref.CPTCodes,
		ref.SentAt, ref.ScheduledAt, ref.CompletedAt,
		ref.FollowUpDate, ref.FollowUpNotes,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, filter ListFilter, limit, offset int) ([]*Referral, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, val interface{}) {
		n++
		where += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, val)
	}
	if filter.PatientID != nil {
		add("patient_id", *filter.PatientID)
	}
	if filter.ProviderID != nil {
		add("provider_id", *filter.ProviderID)
	}
	if filter.Status != nil {
		add("status", *filter.Status)
	}
	if filter.Urgency != nil {
		add("urgency_level", *filter.Urgency)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM referral `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+refCols+` FROM referral %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		where, n+1, n+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var refs []*Referral
	for rows.Next() {
		ref, err := scanRefRow(rows)
		if err != nil {
			return nil, 0, err
		}
		refs = append(refs, ref)
	}
	return refs, total, rows.Err()
}

func (r *repoPG) NextReferralNumber(ctx context.Context) (string, error) {
	var seq int64
	if err := r.conn(ctx).QueryRow(ctx, `SELECT nextval('referral_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return fmt.Sprintf("REF-%d-%06d", r.now().Year(), seq), nil
}

func (r *repoPG) AppendHistory(ctx context.Context, h *StatusHistory) error {
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	if h.ChangedAt.IsZero() {
		h.ChangedAt = r.now()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO referral_status_history (id, referral_id, previous_status, new_status, reason, changed_by, changed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.ReferralID, h.PreviousStatus, h.NewStatus, h.Reason, h.ChangedBy, h.ChangedAt,
	)
	return err
}

func (r *repoPG) HistoryByReferral(ctx context.Context, referralID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, referral_id, previous_status, new_status, reason, changed_by, changed_at
		FROM referral_status_history WHERE referral_id = $1 ORDER BY changed_at`, referralID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.ReferralID, &h.PreviousStatus, &h.NewStatus, &h.Reason, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (r *repoPG) CountByPatientSince(ctx context.Context, patientID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM referral WHERE patient_id = $1 AND created_at >= $2`,
		patientID, since).Scan(&count)
	return count, err
}

func (r *repoPG) CountByProviderUrgencySince(ctx context.Context, providerID uuid.UUID, urgency UrgencyLevel, since time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM referral WHERE provider_id = $1 AND urgency_level = $2 AND created_at >= $3`,
		providerID, urgency, since).Scan(&count)
	return count, err
}

func (r *repoPG) CountSameSpecialtySince(ctx context.Context, patientID uuid.UUID, specialty string, since time.Time) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM referral WHERE patient_id = $1 AND LOWER(specialty_type) = LOWER($2) AND created_at >= $3`,
		patientID, specialty, since).Scan(&count)
	return count, err
}

func (r *repoPG) SetFollowUp(ctx context.Context, id uuid.UUID, date time.Time, notes *string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE referral SET follow_up_date=$2, follow_up_notes=COALESCE($3, follow_up_notes), updated_at=NOW() WHERE id = $1`,
		id, date, notes)
	return err
}

func (r *repoPG) SetUrgency(ctx context.Context, id uuid.UUID, urgency UrgencyLevel) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE referral SET urgency_level=$2, updated_at=NOW() WHERE id = $1`, id, urgency)
	return err
}

func (r *repoPG) SetAuthorizationStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE referral SET authorization_status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return err
}

func (r *repoPG) ListUnresolved(ctx context.Context, limit int) ([]*Referral, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+refCols+` FROM referral
		WHERE status NOT IN ($1, $2, $3)
		ORDER BY created_at LIMIT $4`,
		StatusCompleted, StatusCancelled, StatusExpired, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []*Referral
	for rows.Next() {
		ref, err := scanRefRow(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *repoPG) IncrementSpecialistReceived(ctx context.Context, specialistID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO specialist_metric (specialist_id, referrals_received)
		VALUES ($1, 1)
		ON CONFLICT (specialist_id)
		DO UPDATE SET referrals_received = specialist_metric.referrals_received + 1`,
		specialistID)
	return err
}

func (r *repoPG) IncrementSpecialistCompleted(ctx context.Context, specialistID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO specialist_metric (specialist_id, referrals_completed)
		VALUES ($1, 1)
		ON CONFLICT (specialist_id)
		DO UPDATE SET referrals_completed = specialist_metric.referrals_completed + 1`,
		specialistID)
	return err
}

func (r *repoPG) IncrementSpecialistCancelled(ctx context.Context, specialistID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO specialist_metric (specialist_id, referrals_cancelled)
		VALUES ($1, 1)
		ON CONFLICT (specialist_id)
		DO UPDATE SET referrals_cancelled = specialist_metric.referrals_cancelled + 1`,
		specialistID)
	return err
}

func (r *repoPG) AddSpecialistRating(ctx context.Context, specialistID uuid.UUID, rating int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO specialist_metric (specialist_id, rating_sum, rating_count)
		VALUES ($1, $2, 1)
		ON CONFLICT (specialist_id)
		DO UPDATE SET rating_sum = specialist_metric.rating_sum + $2,
		              rating_count = specialist_metric.rating_count + 1`,
		specialistID, rating)
	return err
}

func (r *repoPG) GetSpecialistMetric(ctx context.Context, specialistID uuid.UUID) (*SpecialistMetric, error) {
	var m SpecialistMetric
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT specialist_id, referrals_received, referrals_completed, referrals_cancelled, rating_sum, rating_count
		FROM specialist_metric WHERE specialist_id = $1`, specialistID).
		Scan(&m.SpecialistID, &m.ReferralsReceived, &m.ReferralsCompleted, &m.ReferralsCancelled, &m.RatingSum, &m.RatingCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return &SpecialistMetric{SpecialistID: specialistID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func scanRef(row pgx.Row) (*Referral, error) {
	var ref Referral
	err := row.Scan(
		&ref.ID, &ref.ReferralNumber, &ref.PatientID, &ref.ProviderID, &ref.SpecialistID, &ref.EncounterID,
		&ref.SpecialtyType, &ref.Reason, &ref.ClinicalNotes, &ref.UrgencyLevel, &ref.AppointmentType, &ref.Status,
		&ref.AuthorizationRequired, &ref.AuthorizationStatus, &ref.AuthorizationNumber,
		&ref.ICD10Codes, &ref.CPTCodes,
		&ref.SentAt, &ref.ScheduledAt, &ref.CompletedAt, &ref.FollowUpDate, &ref.FollowUpNotes,
		&ref.CreatedBy, &ref.CreatedAt, &ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

func scanRefRow(rows pgx.Rows) (*Referral, error) {
	var ref Referral
	err := rows.Scan(
		&ref.ID, &ref.ReferralNumber, &ref.PatientID, &ref.ProviderID, &ref.SpecialistID, &ref.EncounterID,
		&ref.SpecialtyType, &ref.Reason, &ref.ClinicalNotes, &ref.UrgencyLevel, &ref.AppointmentType, &ref.Status,
		&ref.AuthorizationRequired, &ref.AuthorizationStatus, &ref.AuthorizationNumber,
		&ref.ICD10Codes, &ref.CPTCodes,
		&ref.SentAt, &ref.ScheduledAt, &ref.CompletedAt, &ref.FollowUpDate, &ref.FollowUpNotes,
		&ref.CreatedBy, &ref.CreatedAt, &ref.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &ref, nil
}
