package patient

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

type patientRepoPG struct{ pool *pgxpool.Pool }

func NewPatientRepoPG(pool *pgxpool.Pool) PatientRepository { return &patientRepoPG{pool: pool} }

const patientCols = `id, uhid, mid, first_name, last_name, birth_date, gender, phone, email,
	blood_group, address_line, city, state, postal_code, emergency_contact_name,
	emergency_contact_phone, allergies, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.UHID, &p.MID, &p.FirstName, &p.LastName, &p.BirthDate, &p.Gender,
		&p.Phone, &p.Email, &p.BloodGroup, &p.AddressLine, &p.City, &p.State, &p.PostalCode,
		&p.EmergencyContactName, &p.EmergencyContactPhone, &p.Allergies, &p.Active,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "patient")
	}
	return &p, nil
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient (id, uhid, mid, first_name, last_name, birth_date, gender, phone, email,
			blood_group, address_line, city, state, postal_code, emergency_contact_name,
			emergency_contact_phone, allergies, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		RETURNING created_at, updated_at`,
		p.ID, p.UHID, p.MID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email,
		p.BloodGroup, p.AddressLine, p.City, p.State, p.PostalCode, p.EmergencyContactName,
		p.EmergencyContactPhone, p.Allergies, p.Active,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE id = $1`, id))
}

func (r *patientRepoPG) GetByUHID(ctx context.Context, uhid string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE uhid = $1`, uhid))
}

func (r *patientRepoPG) GetByMID(ctx context.Context, mid string) (*Patient, error) {
	return scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+patientCols+` FROM patient WHERE mid = $1`, mid))
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient SET first_name=$2, last_name=$3, birth_date=$4, gender=$5, phone=$6, email=$7,
			blood_group=$8, address_line=$9, city=$10, state=$11, postal_code=$12,
			emergency_contact_name=$13, emergency_contact_phone=$14, allergies=$15, active=$16,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		p.ID, p.FirstName, p.LastName, p.BirthDate, p.Gender, p.Phone, p.Email,
		p.BloodGroup, p.AddressLine, p.City, p.State, p.PostalCode,
		p.EmergencyContactName, p.EmergencyContactPhone, p.Allergies, p.Active,
	).Scan(&p.UpdatedAt)
	return apperr.FromDB(err, "patient")
}

const searchWhere = `
	WHERE ($1 = '' OR (first_name || ' ' || last_name) ILIKE '%' || $1 || '%'
		OR uhid = upper($1) OR mid = upper($1)
		OR (length($1) >= 4 AND phone LIKE '%' || $1))`

func (r *patientRepoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	q = strings.TrimSpace(q)
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM patient`+searchWhere, q).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+patientCols+` FROM patient`+searchWhere+` ORDER BY last_name, first_name LIMIT $2 OFFSET $3`,
		q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *patientRepoPG) FindDuplicate(ctx context.Context, phone string, birthDate time.Time) (*Patient, error) {
	p, err := scanPatient(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patient WHERE phone = $1 AND birth_date = $2 AND active LIMIT 1`,
		phone, birthDate))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return p, err
}

func (r *patientRepoPG) NextUHIDSequence(ctx context.Context) (int64, error) {
	var n int64
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT nextval('uhid_seq')`).Scan(&n)
	return n, err
}

type registryRepoPG struct{ pool *pgxpool.Pool }

func NewRegistryRepoPG(pool *pgxpool.Pool) RegistryRepository { return &registryRepoPG{pool: pool} }

const registryCols = `mid, hospital_code, patient_id, uhid, first_name, last_name, birth_date, gender, phone_last4, created_at`

func (r *registryRepoPG) Insert(ctx context.Context, rec *MIDRecord) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO shared.mid_registry (mid, hospital_code, patient_id, uhid, first_name, last_name,
			birth_date, gender, phone_last4)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at`,
		rec.MID, rec.HospitalCode, rec.PatientID, rec.UHID, rec.FirstName, rec.LastName,
		rec.BirthDate, rec.Gender, rec.PhoneLast4,
	).Scan(&rec.CreatedAt)
	return apperr.FromDB(err, "mid registry entry")
}

func (r *registryRepoPG) Update(ctx context.Context, rec *MIDRecord) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE shared.mid_registry SET first_name=$3, last_name=$4, birth_date=$5, gender=$6, phone_last4=$7
		WHERE mid = $1 AND hospital_code = $2`,
		rec.MID, rec.HospitalCode, rec.FirstName, rec.LastName, rec.BirthDate, rec.Gender, rec.PhoneLast4)
	return err
}

func (r *registryRepoPG) MIDExists(ctx context.Context, mid string) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM shared.mid_registry WHERE mid = $1)`, mid).Scan(&exists)
	return exists, err
}

func (r *registryRepoPG) ListByMID(ctx context.Context, mid string) ([]*MIDRecord, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+registryCols+` FROM shared.mid_registry WHERE mid = $1 ORDER BY created_at`, mid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*MIDRecord
	for rows.Next() {
		var rec MIDRecord
		if err := rows.Scan(&rec.MID, &rec.HospitalCode, &rec.PatientID, &rec.UHID, &rec.FirstName,
			&rec.LastName, &rec.BirthDate, &rec.Gender, &rec.PhoneLast4, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
