package staff

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

// =========== Doctor Repository ===========

type doctorRepoPG struct{ pool *pgxpool.Pool }

func NewDoctorRepoPG(pool *pgxpool.Pool) DoctorRepository { return &doctorRepoPG{pool: pool} }

const doctorCols = `id, first_name, last_name, specialty, qualification, registration_number,
	consultation_fee, phone, email, active, created_at, updated_at`

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(&d.ID, &d.FirstName, &d.LastName, &d.Specialty, &d.Qualification,
		&d.RegistrationNumber, &d.ConsultationFee, &d.Phone, &d.Email, &d.Active, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "doctor")
	}
	return &d, nil
}

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	d.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor (id, first_name, last_name, specialty, qualification, registration_number,
			consultation_fee, phone, email, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		d.ID, d.FirstName, d.LastName, d.Specialty, d.Qualification, d.RegistrationNumber,
		d.ConsultationFee, d.Phone, d.Email, d.Active,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	return apperr.FromDB(err, "doctor")
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return scanDoctor(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+doctorCols+` FROM doctor WHERE id = $1`, id))
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE doctor SET first_name=$2, last_name=$3, specialty=$4, qualification=$5,
			registration_number=$6, consultation_fee=$7, phone=$8, email=$9, active=$10, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		d.ID, d.FirstName, d.LastName, d.Specialty, d.Qualification, d.RegistrationNumber,
		d.ConsultationFee, d.Phone, d.Email, d.Active,
	).Scan(&d.UpdatedAt)
	return apperr.FromDB(err, "doctor")
}

func (r *doctorRepoPG) List(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	where := ` WHERE active`
	var args []interface{}
	idx := 1
	if specialty != "" {
		where += fmt.Sprintf(` AND lower(specialty) = lower($%d)`, idx)
		args = append(args, specialty)
		idx++
	}
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM doctor`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+doctorCols+` FROM doctor`+where+fmt.Sprintf(` ORDER BY last_name, first_name LIMIT $%d OFFSET $%d`, idx, idx+1),
		args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Doctor
	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, d)
	}
	return items, total, rows.Err()
}

// =========== Coordinator Repository ===========

type coordinatorRepoPG struct{ pool *pgxpool.Pool }

func NewCoordinatorRepoPG(pool *pgxpool.Pool) CoordinatorRepository {
	return &coordinatorRepoPG{pool: pool}
}

const coordinatorCols = `id, first_name, last_name, phone, email, active, created_at, updated_at`

func scanCoordinator(row pgx.Row) (*Coordinator, error) {
	var c Coordinator
	err := row.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Phone, &c.Email, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "coordinator")
	}
	return &c, nil
}

func (r *coordinatorRepoPG) Create(ctx context.Context, c *Coordinator) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO coordinator (id, first_name, last_name, phone, email, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		c.ID, c.FirstName, c.LastName, c.Phone, c.Email, c.Active,
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	return apperr.FromDB(err, "coordinator")
}

func (r *coordinatorRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Coordinator, error) {
	return scanCoordinator(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+coordinatorCols+` FROM coordinator WHERE id = $1`, id))
}

func (r *coordinatorRepoPG) List(ctx context.Context, limit, offset int) ([]*Coordinator, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM coordinator`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+coordinatorCols+` FROM coordinator ORDER BY last_name, first_name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Coordinator
	for rows.Next() {
		c, err := scanCoordinator(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Preferences Repository ===========

type preferencesRepoPG struct{ pool *pgxpool.Pool }

func NewPreferencesRepoPG(pool *pgxpool.Pool) PreferencesRepository {
	return &preferencesRepoPG{pool: pool}
}

func (r *preferencesRepoPG) Get(ctx context.Context, doctorID uuid.UUID) (*Preferences, error) {
	p := &Preferences{DoctorID: doctorID}
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT section_order, updated_at FROM doctor_preferences WHERE doctor_id = $1`, doctorID,
	).Scan(&p.SectionOrder, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *preferencesRepoPG) Upsert(ctx context.Context, p *Preferences) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO doctor_preferences (doctor_id, section_order, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (doctor_id) DO UPDATE SET section_order = EXCLUDED.section_order, updated_at = NOW()
		RETURNING updated_at`,
		p.DoctorID, p.SectionOrder,
	).Scan(&p.UpdatedAt)
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool *pgxpool.Pool }

func NewAvailabilityRepoPG(pool *pgxpool.Pool) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

func (r *availabilityRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, doctor_id, weekday, to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'), slot_minutes
		FROM availability_rule WHERE doctor_id = $1 ORDER BY weekday, start_time`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []AvailabilityRule
	for rows.Next() {
		var ar AvailabilityRule
		if err := rows.Scan(&ar.ID, &ar.DoctorID, &ar.Weekday, &ar.StartTime, &ar.EndTime, &ar.SlotMinutes); err != nil {
			return nil, err
		}
		rules = append(rules, ar)
	}
	return rules, rows.Err()
}

// Replace swaps the doctor's whole rule set. Callers run it in a transaction.
func (r *availabilityRepoPG) Replace(ctx context.Context, doctorID uuid.UUID, rules []AvailabilityRule) error {
	q := db.Conn(ctx, r.pool)
	if _, err := q.Exec(ctx, `DELETE FROM availability_rule WHERE doctor_id = $1`, doctorID); err != nil {
		return err
	}
	for i := range rules {
		rules[i].ID = uuid.New()
		rules[i].DoctorID = doctorID
		if _, err := q.Exec(ctx, `
			INSERT INTO availability_rule (id, doctor_id, weekday, start_time, end_time, slot_minutes)
			VALUES ($1, $2, $3, $4::time, $5::time, $6)`,
			rules[i].ID, doctorID, rules[i].Weekday, rules[i].StartTime, rules[i].EndTime, rules[i].SlotMinutes); err != nil {
			return apperr.FromDB(err, "availability rule")
		}
	}
	return nil
}
