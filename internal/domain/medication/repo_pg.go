package medication

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

const uniqueIndex = "medication_catalog_identity_uq"

var errDuplicate = apperr.Conflict("a medication with this name, strength and form already exists")

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

const cols = `id, name, generic_name, form, strength, active, created_at, updated_at`

func scan(row pgx.Row) (*CatalogItem, error) {
	var m CatalogItem
	err := row.Scan(&m.ID, &m.Name, &m.GenericName, &m.Form, &m.Strength, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, apperr.FromDB(err, "medication")
	}
	return &m, nil
}

func (r *repoPG) Create(ctx context.Context, m *CatalogItem) error {
	m.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO medication_catalog (id, name, generic_name, form, strength, active)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at`,
		m.ID, m.Name, m.GenericName, m.Form, m.Strength, m.Active,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
	if apperr.IsUniqueViolation(err, uniqueIndex) {
		return errDuplicate
	}
	return apperr.FromDB(err, "medication")
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*CatalogItem, error) {
	return scan(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+cols+` FROM medication_catalog WHERE id = $1`, id))
}

func (r *repoPG) Update(ctx context.Context, m *CatalogItem) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE medication_catalog SET name=$2, generic_name=$3, form=$4, strength=$5, active=$6, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		m.ID, m.Name, m.GenericName, m.Form, m.Strength, m.Active,
	).Scan(&m.UpdatedAt)
	if apperr.IsUniqueViolation(err, uniqueIndex) {
		return errDuplicate
	}
	return apperr.FromDB(err, "medication")
}

func (r *repoPG) SearchPrefix(ctx context.Context, prefix string, limit int) ([]*CatalogItem, error) {
	pattern := escapeLike(prefix) + "%"
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+cols+` FROM medication_catalog
		WHERE active AND (name ILIKE $1 OR generic_name ILIKE $1)
		ORDER BY lower(name), strength NULLS FIRST
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CatalogItem
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
