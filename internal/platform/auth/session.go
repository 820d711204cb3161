package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medmitra/medmitra/internal/platform/cache"
)

var (
	// ErrRefreshInvalid covers unknown, expired and already-rotated refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrRefreshReused is returned by a SessionStore when a token that was
	// already rotated is presented again.
	ErrRefreshReused = errors.New("refresh token reused")
)

// Session is one login. Its ID stays the same across refresh rotations so the
// whole family can be revoked together.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Hospital  string    `json:"hospital"`
	Role      string    `json:"role"`
	SubjectID string    `json:"subject_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionStore persists refresh sessions keyed by the refresh token hash.
type SessionStore interface {
	Save(ctx context.Context, hash string, s *Session) error
	// Consume removes and returns the session for hash. A hash that was
	// consumed before yields the old session with ErrRefreshReused.
	Consume(ctx context.Context, hash string) (*Session, error)
	// DeleteUser removes every session of a user except keepID and returns
	// the removed ones.
	DeleteUser(ctx context.Context, hospital, userID, keepID string) ([]*Session, error)
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Role         string `json:"role"`
	UserID       string `json:"user_id"`
	Hospital     string `json:"hospital"`
}

// Sessions issues, rotates and revokes token pairs.
type Sessions struct {
	store      SessionStore
	revoked    RevocationStore
	signer     *Signer
	refreshTTL time.Duration
	now        func() time.Time
}

func NewSessions(store SessionStore, revoked RevocationStore, signer *Signer, refreshTTL time.Duration) *Sessions {
	return &Sessions{store: store, revoked: revoked, signer: signer, refreshTTL: refreshTTL, now: time.Now}
}

// Issue starts a new session for p.
func (m *Sessions) Issue(ctx context.Context, p Principal) (*TokenPair, error) {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		UserID:    p.UserID,
		Hospital:  p.Hospital,
		Role:      p.Role,
		SubjectID: p.SubjectID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.refreshTTL),
	}
	return m.pairFor(ctx, s)
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated revokes every session of its user.
func (m *Sessions) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrRefreshInvalid
	}
	s, err := m.store.Consume(ctx, HashRefreshToken(refreshToken))
	if errors.Is(err, ErrRefreshReused) && s != nil {
		if _, rerr := m.RevokeUser(ctx, s.Hospital, s.UserID, ""); rerr != nil {
			return nil, rerr
		}
		return nil, ErrRefreshInvalid
	}
	if err != nil {
		return nil, err
	}
	if !m.now().Before(s.ExpiresAt) {
		return nil, ErrRefreshInvalid
	}
	if revoked, err := m.revoked.IsRevoked(ctx, sessionRevocationKey(s.ID)); err != nil {
		return nil, err
	} else if revoked {
		return nil, ErrRefreshInvalid
	}
	return m.pairFor(ctx, s)
}

// Logout revokes the caller's access token and, when given, its refresh token.
func (m *Sessions) Logout(ctx context.Context, p *Principal, refreshToken string) error {
	if p.TokenID != "" {
		if err := m.revoked.Revoke(ctx, p.TokenID, p.ExpiresAt); err != nil {
			return err
		}
	}
	if refreshToken == "" {
		return nil
	}
	_, err := m.store.Consume(ctx, HashRefreshToken(refreshToken))
	if err != nil && !errors.Is(err, ErrRefreshInvalid) && !errors.Is(err, ErrRefreshReused) {
		return err
	}
	return nil
}

// RevokeUser ends every session of a user except keepSessionID. Access tokens
// already issued to those sessions stop working immediately.
func (m *Sessions) RevokeUser(ctx context.Context, hospital, userID, keepSessionID string) (int, error) {
	removed, err := m.store.DeleteUser(ctx, hospital, userID, keepSessionID)
	if err != nil {
		return 0, err
	}
	until := m.now().Add(m.signer.TTL())
	for _, s := range removed {
		if err := m.revoked.Revoke(ctx, sessionRevocationKey(s.ID), until); err != nil {
			return 0, err
		}
	}
	return len(removed), nil
}

// SessionRevoked reports whether the session behind an access token was ended.
func (m *Sessions) SessionRevoked(ctx context.Context, sessionID string) (bool, error) {
	return m.revoked.IsRevoked(ctx, sessionRevocationKey(sessionID))
}

func (m *Sessions) pairFor(ctx context.Context, s *Session) (*TokenPair, error) {
	p := &Principal{
		UserID:    s.UserID,
		Role:      s.Role,
		Hospital:  s.Hospital,
		SessionID: s.ID,
		SubjectID: s.SubjectID,
	}
	access, err := m.signer.Sign(p)
	if err != nil {
		return nil, err
	}
	refresh, err := NewRefreshToken()
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(ctx, HashRefreshToken(refresh), s); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int(m.signer.TTL().Seconds()),
		Role:         s.Role,
		UserID:       s.UserID,
		Hospital:     s.Hospital,
	}, nil
}

func sessionRevocationKey(id string) string {
	return "sid:" + id
}

// MemorySessions is an in-process SessionStore for development and tests.
type MemorySessions struct {
	mu      sync.Mutex
	live    map[string]*Session
	rotated map[string]*Session
	now     func() time.Time
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{
		live:    make(map[string]*Session),
		rotated: make(map[string]*Session),
		now:     time.Now,
	}
}

func (m *MemorySessions) Save(_ context.Context, hash string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.live[hash] = &cp
	return nil
}

func (m *MemorySessions) Consume(_ context.Context, hash string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.live[hash]; ok {
		delete(m.live, hash)
		m.rotated[hash] = s
		return s, nil
	}
	if s, ok := m.rotated[hash]; ok && m.now().Before(s.ExpiresAt) {
		return s, ErrRefreshReused
	}
	return nil, ErrRefreshInvalid
}

func (m *MemorySessions) DeleteUser(_ context.Context, hospital, userID, keepID string) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed []*Session
	for hash, s := range m.live {
		if s.Hospital == hospital && s.UserID == userID && s.ID != keepID {
			delete(m.live, hash)
			removed = append(removed, s)
		}
	}
	return removed, nil
}

// RedisSessions stores sessions as JSON under mm:rt:<hash> with a per-user
// index set so all of a user's sessions can be found.
type RedisSessions struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisSessions(rdb redis.Cmdable) *RedisSessions {
	return &RedisSessions{rdb: rdb, now: time.Now}
}

func userIndexKey(hospital, userID string) string {
	return cache.Key("sessions", hospital, userID)
}

func (r *RedisSessions) Save(ctx context.Context, hash string, s *Session) error {
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return ErrRefreshInvalid
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	idx := userIndexKey(s.Hospital, s.UserID)
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, cache.Key("rt", hash), data, ttl)
		p.SAdd(ctx, idx, hash)
		p.Expire(ctx, idx, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *RedisSessions) Consume(ctx context.Context, hash string) (*Session, error) {
	s := &Session{}
	found, err := cache.GetDelJSON(ctx, r.rdb, cache.Key("rt", hash), s)
	if err != nil {
		return nil, err
	}
	if found {
		ttl := s.ExpiresAt.Sub(r.now())
		if ttl > 0 {
			if err := cache.SetJSON(ctx, r.rdb, cache.Key("rt-used", hash), s, ttl); err != nil {
				return nil, err
			}
		}
		r.rdb.SRem(ctx, userIndexKey(s.Hospital, s.UserID), hash)
		return s, nil
	}

	used := &Session{}
	found, err = cache.GetJSON(ctx, r.rdb, cache.Key("rt-used", hash), used)
	if err != nil {
		return nil, err
	}
	if found {
		return used, ErrRefreshReused
	}
	return nil, ErrRefreshInvalid
}

func (r *RedisSessions) DeleteUser(ctx context.Context, hospital, userID, keepID string) ([]*Session, error) {
	idx := userIndexKey(hospital, userID)
	hashes, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var removed []*Session
	for _, h := range hashes {
		s := &Session{}
		found, err := cache.GetJSON(ctx, r.rdb, cache.Key("rt", h), s)
		if err != nil {
			return nil, err
		}
		if !found {
			r.rdb.SRem(ctx, idx, h)
			continue
		}
		if s.ID == keepID {
			continue
		}
		if err := r.rdb.Del(ctx, cache.Key("rt", h)).Err(); err != nil {
			return nil, fmt.Errorf("delete session: %w", err)
		}
		r.rdb.SRem(ctx, idx, h)
		removed = append(removed, s)
	}
	return removed, nil
}
