package triage

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, appointment_id, patient_id, recorded_by, vitals, payment_amount, payment_mode,
	payment_status, payment_reference, notes, created_at, updated_at`

func scan(row pgx.Row) (*Triage, error) {
	var t Triage
	err := row.Scan(&t.ID, &t.AppointmentID, &t.PatientID, &t.RecordedBy, &t.Vitals,
		&t.Payment.Amount, &t.Payment.Mode, &t.Payment.Status, &t.Payment.Reference,
		&t.Notes, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "triage")
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Triage) error {
	t.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO triage (id, appointment_id, patient_id, recorded_by, vitals, payment_amount,
			payment_mode, payment_status, payment_reference, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		t.ID, t.AppointmentID, t.PatientID, t.RecordedBy, t.Vitals, t.Payment.Amount,
		t.Payment.Mode, t.Payment.Status, t.Payment.Reference, t.Notes,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	return apperr.FromDB(err, "triage")
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Triage, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM triage WHERE appointment_id = $1`, appointmentID))
}

func (r *repoPG) Update(ctx context.Context, t *Triage) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE triage SET vitals=$2, payment_amount=$3, payment_mode=$4, payment_status=$5,
			payment_reference=$6, notes=$7, recorded_by=$8, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Vitals, t.Payment.Amount, t.Payment.Mode, t.Payment.Status,
		t.Payment.Reference, t.Notes, t.RecordedBy,
	).Scan(&t.UpdatedAt)
	return apperr.FromDB(err, "triage")
}
