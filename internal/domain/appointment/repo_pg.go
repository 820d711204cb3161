package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

const slotIndex = "appointment_doctor_slot_uq"

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, patient_id, doctor_id, start_time, end_time, status, reason, token_number,
	booked_by, cancel_reason, checked_in_at, created_at, updated_at`

func scan(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.StartTime, &a.EndTime, &a.Status, &a.Reason,
		&a.TokenNumber, &a.BookedBy, &a.CancelReason, &a.CheckedInAt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "appointment")
	}
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Appointment, error) {
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, start_time, end_time, status, reason, booked_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.DoctorID, a.StartTime, a.EndTime, a.Status, a.Reason, a.BookedBy,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if apperr.IsUniqueViolation(err, slotIndex) {
		return ErrSlotTaken
	}
	return apperr.FromDB(err, "appointment")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM appointment WHERE id = $1`, id))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE appointment SET start_time=$2, end_time=$3, status=$4, token_number=$5,
			cancel_reason=$6, checked_in_at=$7, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.StartTime, a.EndTime, a.Status, a.TokenNumber, a.CancelReason, a.CheckedInAt,
	).Scan(&a.UpdatedAt)
	if apperr.IsUniqueViolation(err, slotIndex) {
		return ErrSlotTaken
	}
	return apperr.FromDB(err, "appointment")
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Appointment, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, f.Limit, f.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		fmt.Sprintf(`SELECT `+cols+` FROM appointment`+clause+
			` ORDER BY start_time, token_number NULLS LAST LIMIT $%d OFFSET $%d`, len(args)-1, len(args)),
		args...)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, upcoming bool, now time.Time, limit, offset int) ([]*Appointment, int, error) {
	cond := `patient_id = $1 AND start_time >= $2 AND status = ANY($3)`
	order := `start_time ASC`
	if !upcoming {
		cond = `patient_id = $1 AND NOT (start_time >= $2 AND status = ANY($3))`
		order = `start_time DESC`
	}
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointment WHERE `+cond,
		patientID, now, ActiveStatuses).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+cols+` FROM appointment WHERE `+cond+` ORDER BY `+order+` LIMIT $4 OFFSET $5`,
		patientID, now, ActiveStatuses, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) HasActiveOnDay(ctx context.Context, patientID, doctorID uuid.UUID, from, to time.Time, exclude uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment
			WHERE patient_id = $1 AND doctor_id = $2 AND start_time >= $3 AND start_time < $4
				AND status = ANY($5) AND id <> $6)`,
		patientID, doctorID, from, to, ActiveStatuses, exclude,
	).Scan(&exists)
	return exists, err
}

func (r *repoPG) LockPatientDay(ctx context.Context, patientID, doctorID uuid.UUID, day time.Time) error {
	lock := "book:" + patientID.String() + ":" + doctorID.String() + ":" + day.Format(time.DateOnly)
	if _, err := db.Conn(ctx, r.pool).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lock); err != nil {
		return fmt.Errorf("lock patient day: %w", err)
	}
	return nil
}

func (r *repoPG) BookedStarts(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT start_time FROM appointment
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3 AND status = ANY($4)`,
		doctorID, from, to, ActiveStatuses)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

func (r *repoPG) NextToken(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error) {
	q := db.Conn(ctx, r.pool)
	lock := "token:" + doctorID.String() + ":" + from.Format(time.DateOnly)
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lock); err != nil {
		return 0, fmt.Errorf("lock token sequence: %w", err)
	}
	var next int
	err := q.QueryRow(ctx, `
		SELECT COALESCE(MAX(token_number), 0) + 1 FROM appointment
		WHERE doctor_id = $1 AND start_time >= $2 AND start_time < $3`,
		doctorID, from, to,
	).Scan(&next)
	return next, err
}
