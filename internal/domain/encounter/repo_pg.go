package encounter

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, appointment_id, patient_id, doctor_id, status, chief_complaint, history,
	examination, diagnoses, advice, to_char(follow_up_date, 'YYYY-MM-DD'), vitals, notes,
	started_at, finalized_at, created_at, updated_at`

func scanInto(row pgx.Row, e *Encounter, extra ...any) error {
	dest := []any{&e.ID, &e.AppointmentID, &e.PatientID, &e.DoctorID, &e.Status,
		&e.ChiefComplaint, &e.History, &e.Examination, &e.Diagnoses, &e.Advice,
		&e.FollowUpDate, &e.Vitals, &e.Notes, &e.StartedAt, &e.FinalizedAt,
		&e.CreatedAt, &e.UpdatedAt}
	return row.Scan(append(dest, extra...)...)
}

func scan(row pgx.Row) (*Encounter, error) {
	var e Encounter
	if err := scanInto(row, &e); err != nil {
		return nil, apperr.FromDB(err, "encounter")
	}
	if e.Diagnoses == nil {
		e.Diagnoses = []string{}
	}
	return &e, nil
}

func (r *repoPG) Create(ctx context.Context, e *Encounter) error {
	e.ID = uuid.New()
	if e.Diagnoses == nil {
		e.Diagnoses = []string{}
	}
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO encounter (id, appointment_id, patient_id, doctor_id, status, diagnoses, vitals)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING started_at, created_at, updated_at`,
		e.ID, e.AppointmentID, e.PatientID, e.DoctorID, e.Status, e.Diagnoses, e.Vitals,
	).Scan(&e.StartedAt, &e.CreatedAt, &e.UpdatedAt)
	return apperr.FromDB(err, "encounter")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM encounter WHERE id = $1`, id))
}

func (r *repoPG) GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Encounter, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM encounter WHERE appointment_id = $1`, appointmentID))
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cols+` FROM encounter WHERE id = $1 FOR UPDATE`, id))
}

func (r *repoPG) Update(ctx context.Context, e *Encounter) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE encounter SET chief_complaint=$2, history=$3, examination=$4, diagnoses=$5,
			advice=$6, follow_up_date=$7::date, vitals=$8, notes=$9, updated_at=NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING updated_at`,
		e.ID, e.ChiefComplaint, e.History, e.Examination, e.Diagnoses,
		e.Advice, e.FollowUpDate, e.Vitals, e.Notes,
	).Scan(&e.UpdatedAt)
	return apperr.FromDB(err, "encounter")
}

func (r *repoPG) MarkFinal(ctx context.Context, e *Encounter) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE encounter SET status='final', finalized_at=NOW(), updated_at=NOW()
		WHERE id = $1 AND status = 'draft'
		RETURNING status, finalized_at, updated_at`, e.ID,
	).Scan(&e.Status, &e.FinalizedAt, &e.UpdatedAt)
	return apperr.FromDB(err, "encounter")
}

func (r *repoPG) ReplaceMedications(ctx context.Context, encounterID uuid.UUID, meds []Medication) error {
	conn := db.Conn(ctx, r.pool)
	if _, err := conn.Exec(ctx, `DELETE FROM encounter_medication WHERE encounter_id = $1`, encounterID); err != nil {
		return fmt.Errorf("clear medications: %w", err)
	}
	if len(meds) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i := range meds {
		m := &meds[i]
		batch.Queue(`
			INSERT INTO encounter_medication (id, encounter_id, position, name, medication_id, dosage,
				frequency, route, duration_days, instructions, quantity)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			m.ID, encounterID, m.Position, m.Name, m.MedicationID, m.Dosage,
			m.Frequency, m.Route, m.DurationDays, m.Instructions, m.Quantity)
	}
	br := conn.SendBatch(ctx, batch)
	defer br.Close()
	for range meds {
		if _, err := br.Exec(); err != nil {
			return apperr.FromDB(err, "medication")
		}
	}
	return nil
}

func (r *repoPG) Medications(ctx context.Context, encounterID uuid.UUID) ([]Medication, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, encounter_id, position, name, medication_id, dosage, frequency, route,
			duration_days, instructions, quantity
		FROM encounter_medication WHERE encounter_id = $1 ORDER BY position`, encounterID)
	if err != nil {
		return nil, fmt.Errorf("list medications: %w", err)
	}
	meds, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Medication, error) {
		var m Medication
		err := row.Scan(&m.ID, &m.EncounterID, &m.Position, &m.Name, &m.MedicationID, &m.Dosage,
			&m.Frequency, &m.Route, &m.DurationDays, &m.Instructions, &m.Quantity)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan medications: %w", err)
	}
	return meds, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter) ([]*Summary, int, error) {
	where := `patient_id = $1`
	args := []any{f.PatientID}
	if f.FinalOnly {
		if f.DraftsOf != nil {
			args = append(args, *f.DraftsOf)
			where += fmt.Sprintf(` AND (status = 'final' OR doctor_id = $%d)`, len(args))
		} else {
			where += ` AND status = 'final'`
		}
	}
	conn := db.Conn(ctx, r.pool)

	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM encounter WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count encounters: %w", err)
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := conn.Query(ctx, fmt.Sprintf(`
		SELECT %s, (SELECT COUNT(*) FROM encounter_medication m WHERE m.encounter_id = encounter.id)
		FROM encounter WHERE %s
		ORDER BY started_at DESC LIMIT $%d OFFSET $%d`, cols, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list encounters: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*Summary, error) {
		s := &Summary{Encounter: &Encounter{}}
		err := scanInto(row, s.Encounter, &s.MedicationCount)
		return s, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("scan encounters: %w", err)
	}
	return out, total, nil
}
