package documents

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

const cols = `id, patient_id, encounter_id, uploaded_by, file_name, content_type, size_bytes,
	sha256, object_key, category, created_at`

func scan(row pgx.Row) (*Attachment, error) {
	var a Attachment
	err := row.Scan(&a.ID, &a.PatientID, &a.EncounterID, &a.UploadedBy, &a.FileName, &a.ContentType,
		&a.SizeBytes, &a.SHA256, &a.ObjectKey, &a.Category, &a.CreatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "attachment")
	}
	return &a, nil
}

func collect(rows pgx.Rows) ([]*Attachment, error) {
	defer rows.Close()
	var items []*Attachment
	for rows.Next() {
		a, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *repoPG) Create(ctx context.Context, a *Attachment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO attachment (id, patient_id, encounter_id, uploaded_by, file_name, content_type,
			size_bytes, sha256, object_key, category)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at`,
		a.ID, a.PatientID, a.EncounterID, a.UploadedBy, a.FileName, a.ContentType,
		a.SizeBytes, a.SHA256, a.ObjectKey, a.Category,
	).Scan(&a.CreatedAt)
	return apperr.FromDB(err, "attachment")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM attachment WHERE id = $1`, id))
}

func (r *repoPG) ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+cols+` FROM attachment WHERE encounter_id = $1 ORDER BY created_at`, encounterID)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Attachment, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COUNT(*) FROM attachment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+cols+` FROM attachment WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collect(rows)
	return items, total, err
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM attachment WHERE id = $1`, id)
	if err != nil {
		return apperr.FromDB(err, "attachment")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("attachment")
	}
	return nil
}
