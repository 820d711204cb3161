package encounter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/cache"
)

// Draft is the doctor's unsaved encounter form, kept outside Postgres.
type Draft struct {
	EncounterID uuid.UUID       `json:"encounter_id"`
	DoctorID    uuid.UUID       `json:"doctor_id"`
	Revision    int64           `json:"revision"`
	Payload     json.RawMessage `json:"payload"`
	SavedAt     time.Time       `json:"saved_at"`
}

type SaveDraftRequest struct {
	BaseRevision int64           `json:"base_revision" validate:"gte=0"`
	Payload      json.RawMessage `json:"payload" validate:"required"`
}

// DraftConflictError carries the stored draft when a save was based on a
// stale revision. Current is nil when the draft no longer exists.
type DraftConflictError struct {
	Current *Draft
}

func (e *DraftConflictError) Error() string {
	rev := int64(0)
	if e.Current != nil {
		rev = e.Current.Revision
	}
	return fmt.Sprintf("draft was changed elsewhere (current revision %d)", rev)
}

func (e *DraftConflictError) Unwrap() error { return apperr.ErrConflict }

// DraftStore keeps one draft per encounter. Save stores d only when the
// stored revision equals base (0 meaning no draft yet).
type DraftStore interface {
	Get(ctx context.Context, hospital string, encounterID uuid.UUID) (*Draft, error)
	Save(ctx context.Context, hospital string, d *Draft, base int64, ttl time.Duration) error
	Delete(ctx context.Context, hospital string, encounterID uuid.UUID) error
}

func draftKey(hospital string, encounterID uuid.UUID) string {
	return cache.Key("draft", hospital, encounterID.String())
}

// saveDraftScript compares the stored revision with ARGV[1] and writes
// ARGV[2] with a PX of ARGV[3] on a match. It returns {1} on success and
// {0, current} on a mismatch.
var saveDraftScript = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
local rev = 0
if cur then
  rev = cjson.decode(cur)['revision']
end
if rev ~= tonumber(ARGV[1]) then
  if cur then
    return {0, cur}
  end
  return {0}
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return {1}
`)

type RedisDrafts struct {
	rdb redis.Cmdable
}

func NewRedisDrafts(rdb redis.Cmdable) *RedisDrafts {
	return &RedisDrafts{rdb: rdb}
}

func (r *RedisDrafts) Get(ctx context.Context, hospital string, encounterID uuid.UUID) (*Draft, error) {
	d := &Draft{}
	found, err := cache.GetJSON(ctx, r.rdb, draftKey(hospital, encounterID), d)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperr.NotFound("draft")
	}
	return d, nil
}

func (r *RedisDrafts) Save(ctx context.Context, hospital string, d *Draft, base int64, ttl time.Duration) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	res, err := saveDraftScript.Run(ctx, r.rdb, []string{draftKey(hospital, d.EncounterID)},
		base, data, ttl.Milliseconds()).Slice()
	if err != nil {
		return fmt.Errorf("save draft: %w", err)
	}
	if ok, _ := res[0].(int64); ok == 1 {
		return nil
	}
	conflict := &DraftConflictError{}
	if len(res) > 1 {
		raw, _ := res[1].(string)
		cur := &Draft{}
		if err := json.Unmarshal([]byte(raw), cur); err != nil {
			return fmt.Errorf("decode stored draft: %w", err)
		}
		conflict.Current = cur
	}
	return conflict
}

func (r *RedisDrafts) Delete(ctx context.Context, hospital string, encounterID uuid.UUID) error {
	if err := r.rdb.Del(ctx, draftKey(hospital, encounterID)).Err(); err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	return nil
}

type memDraft struct {
	d       Draft
	expires time.Time
}

// MemoryDrafts is an in-process DraftStore for development and tests.
type MemoryDrafts struct {
	mu     sync.Mutex
	drafts map[string]memDraft
	now    func() time.Time
}

func NewMemoryDrafts() *MemoryDrafts {
	return &MemoryDrafts{drafts: make(map[string]memDraft), now: time.Now}
}

func (m *MemoryDrafts) live(key string) (*Draft, bool) {
	e, ok := m.drafts[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		delete(m.drafts, key)
		return nil, false
	}
	cp := e.d
	return &cp, true
}

func (m *MemoryDrafts) Get(_ context.Context, hospital string, encounterID uuid.UUID) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.live(draftKey(hospital, encounterID))
	if !ok {
		return nil, apperr.NotFound("draft")
	}
	return d, nil
}

func (m *MemoryDrafts) Save(_ context.Context, hospital string, d *Draft, base int64, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := draftKey(hospital, d.EncounterID)
	cur, ok := m.live(key)
	rev := int64(0)
	if ok {
		rev = cur.Revision
	}
	if rev != base {
		return &DraftConflictError{Current: cur}
	}
	m.drafts[key] = memDraft{d: *d, expires: m.now().Add(ttl)}
	return nil
}

func (m *MemoryDrafts) Delete(_ context.Context, hospital string, encounterID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, draftKey(hospital, encounterID))
	return nil
}
