package db

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrUnknownHospital is returned when a hospital code is not registered.
var ErrUnknownHospital = errors.New("unknown hospital")

// Hospital is a tenant registered in shared.hospital.
type Hospital struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Timezone  string    `json:"timezone"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Location returns the hospital's timezone, falling back to UTC if the stored
// name cannot be loaded.
func (h *Hospital) Location() *time.Location {
	if h == nil || h.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HospitalLookup resolves hospital codes.
type HospitalLookup interface {
	Get(ctx context.Context, code string) (*Hospital, error)
}

// Querier is the subset of pgx shared by pools, connections and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var (
	_ Querier = (*pgxpool.Pool)(nil)
	_ Querier = (*pgxpool.Conn)(nil)
	_ Querier = (pgx.Tx)(nil)
)

// Conn returns the transaction in ctx, else the request connection, else the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx := TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// HospitalStore reads and writes the shared hospital registry.
type HospitalStore struct {
	pool *pgxpool.Pool
}

func NewHospitalStore(pool *pgxpool.Pool) *HospitalStore {
	return &HospitalStore{pool: pool}
}

func (s *HospitalStore) Get(ctx context.Context, code string) (*Hospital, error) {
	h := &Hospital{}
	err := s.pool.QueryRow(ctx, `
		SELECT code, name, timezone, active, created_at
		FROM shared.hospital WHERE code = $1`, code,
	).Scan(&h.Code, &h.Name, &h.Timezone, &h.Active, &h.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUnknownHospital
	}
	if err != nil {
		return nil, fmt.Errorf("get hospital %s: %w", code, err)
	}
	return h, nil
}

func (s *HospitalStore) List(ctx context.Context) ([]*Hospital, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT code, name, timezone, active, created_at
		FROM shared.hospital ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("list hospitals: %w", err)
	}
	defer rows.Close()

	var out []*Hospital
	for rows.Next() {
		h := &Hospital{}
		if err := rows.Scan(&h.Code, &h.Name, &h.Timezone, &h.Active, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan hospital: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Register inserts or reactivates a hospital in the shared registry.
func (s *HospitalStore) Register(ctx context.Context, h *Hospital) error {
	if !ValidHospitalCode(h.Code) {
		return fmt.Errorf("invalid hospital code: %s", h.Code)
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO shared.hospital (code, name, timezone, active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name, timezone = EXCLUDED.timezone, active = TRUE`,
		h.Code, h.Name, h.Timezone)
	if err != nil {
		return fmt.Errorf("register hospital %s: %w", h.Code, err)
	}
	return nil
}

// CachedHospitals memoises lookups for ttl. Unknown codes are cached too so a
// flood of bad headers does not reach the database.
type CachedHospitals struct {
	next HospitalLookup
	ttl  time.Duration
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedHospital
}

type cachedHospital struct {
	h       *Hospital
	err     error
	expires time.Time
}

func NewCachedHospitals(next HospitalLookup, ttl time.Duration) *CachedHospitals {
	return &CachedHospitals{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cachedHospital),
	}
}

func (c *CachedHospitals) Get(ctx context.Context, code string) (*Hospital, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[code]
	c.mu.RUnlock()
	if ok && now.Before(e.expires) {
		return e.h, e.err
	}

	h, err := c.next.Get(ctx, code)
	if err != nil && !errors.Is(err, ErrUnknownHospital) {
		return nil, err
	}

	c.mu.Lock()
	c.entries[code] = cachedHospital{h: h, err: err, expires: now.Add(c.ttl)}
	c.mu.Unlock()
	return h, err
}

// Invalidate drops a cached entry, e.g. after `hospital create`.
func (c *CachedHospitals) Invalidate(code string) {
	c.mu.Lock()
	delete(c.entries, code)
	c.mu.Unlock()
}
