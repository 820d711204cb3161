package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) StatusCounts(ctx context.Context, from, to time.Time, doctorID *uuid.UUID) (map[string]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT status, COUNT(*) FROM appointment
		WHERE start_time >= $1 AND start_time < $2 AND ($3::uuid IS NULL OR doctor_id = $3)
		GROUP BY status`, from, to, doctorID)
	if err != nil {
		return nil, fmt.Errorf("count appointments: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

func (r *repoPG) CollectedPayments(ctx context.Context, from, to time.Time) (int64, error) {
	var total int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COALESCE(SUM(t.payment_amount), 0)
		FROM triage t JOIN appointment a ON a.id = t.appointment_id
		WHERE t.payment_status = 'paid' AND a.start_time >= $1 AND a.start_time < $2`,
		from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}

func (r *repoPG) DoctorQueues(ctx context.Context, from, to time.Time) ([]DoctorQueue, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT d.id, d.first_name || ' ' || d.last_name,
			COUNT(*) FILTER (WHERE a.status = 'checked_in'),
			COUNT(*) FILTER (WHERE a.status = 'triaged'),
			MIN(a.token_number) FILTER (WHERE a.status IN ('checked_in', 'triaged'))
		FROM doctor d JOIN appointment a ON a.doctor_id = d.id
		WHERE a.start_time >= $1 AND a.start_time < $2
		GROUP BY d.id, d.first_name, d.last_name
		ORDER BY d.first_name, d.last_name`, from, to)
	if err != nil {
		return nil, fmt.Errorf("doctor queues: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (DoctorQueue, error) {
		var q DoctorQueue
		err := row.Scan(&q.DoctorID, &q.DoctorName, &q.CheckedIn, &q.Triaged, &q.NextToken)
		return q, err
	})
}

func (r *repoPG) Waiting(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]QueueEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, p.id, p.first_name || ' ' || p.last_name, p.uhid, a.token_number, a.start_time, a.status
		FROM appointment a JOIN patient p ON p.id = a.patient_id
		WHERE a.doctor_id = $1 AND a.status = 'triaged' AND a.start_time >= $2 AND a.start_time < $3
		ORDER BY a.token_number NULLS LAST, a.start_time`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("waiting queue: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (QueueEntry, error) {
		var q QueueEntry
		err := row.Scan(&q.AppointmentID, &q.PatientID, &q.PatientName, &q.UHID, &q.TokenNumber, &q.StartTime, &q.Status)
		return q, err
	})
}

func (r *repoPG) OpenDrafts(ctx context.Context, doctorID uuid.UUID) ([]OpenDraft, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT e.id, e.appointment_id, p.first_name || ' ' || p.last_name, e.started_at
		FROM encounter e JOIN patient p ON p.id = e.patient_id
		WHERE e.doctor_id = $1 AND e.status = 'draft'
		ORDER BY e.started_at`, doctorID)
	if err != nil {
		return nil, fmt.Errorf("open drafts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (OpenDraft, error) {
		var d OpenDraft
		err := row.Scan(&d.EncounterID, &d.AppointmentID, &d.PatientName, &d.StartedAt)
		return d, err
	})
}

func (r *repoPG) Upcoming(ctx context.Context, patientID uuid.UUID, now time.Time, limit int) ([]UpcomingVisit, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, d.id, d.first_name || ' ' || d.last_name, d.specialty, a.start_time, a.status, a.token_number
		FROM appointment a JOIN doctor d ON d.id = a.doctor_id
		WHERE a.patient_id = $1 AND a.start_time >= $2 AND a.status IN ('booked', 'checked_in', 'triaged')
		ORDER BY a.start_time LIMIT $3`, patientID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("upcoming visits: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (UpcomingVisit, error) {
		var v UpcomingVisit
		err := row.Scan(&v.AppointmentID, &v.DoctorID, &v.DoctorName, &v.Specialty, &v.StartTime, &v.Status, &v.TokenNumber)
		return v, err
	})
}

func (r *repoPG) Recent(ctx context.Context, patientID uuid.UUID, limit int) ([]RecentVisit, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT e.id, d.first_name || ' ' || d.last_name, e.diagnoses, e.finalized_at,
			(SELECT COUNT(*) FROM encounter_medication m WHERE m.encounter_id = e.id)
		FROM encounter e JOIN doctor d ON d.id = e.doctor_id
		WHERE e.patient_id = $1 AND e.status = 'final'
		ORDER BY e.finalized_at DESC LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent visits: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RecentVisit, error) {
		var v RecentVisit
		err := row.Scan(&v.EncounterID, &v.DoctorName, &v.Diagnoses, &v.FinalizedAt, &v.MedicationCount)
		return v, err
	})
}
