package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in access tokens.
const (
	RolePatient     = "patient"
	RoleDoctor      = "doctor"
	RoleCoordinator = "coordinator"
	RoleAdmin       = "admin"
)

// ValidRole reports whether r is one of the portal roles.
func ValidRole(r string) bool {
	switch r {
	case RolePatient, RoleDoctor, RoleCoordinator, RoleAdmin:
		return true
	}
	return false
}

type contextKey string

const principalKey contextKey = "principal"

// Claims is the access-token payload. Subject is the user id; SubjectID is
// the patient or staff record the user acts as.
type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	Hospital  string `json:"hospital"`
	SessionID string `json:"sid"`
	SubjectID string `json:"subj,omitempty"`
}

// Principal is the authenticated caller attached to a request.
type Principal struct {
	UserID    string
	Role      string
	Hospital  string
	SessionID string
	SubjectID string
	TokenID   string
	ExpiresAt time.Time
}

func (p *Principal) Is(role string) bool {
	return p != nil && p.Role == role
}

func principalFromClaims(c *Claims) *Principal {
	p := &Principal{
		UserID:    c.Subject,
		Role:      c.Role,
		Hospital:  c.Hospital,
		SessionID: c.SessionID,
		SubjectID: c.SubjectID,
		TokenID:   c.ID,
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated caller, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// UserIDFromContext returns the authenticated user id, or "".
func UserIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.UserID
	}
	return ""
}

// RoleFromContext returns the authenticated role, or "".
func RoleFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Role
	}
	return ""
}

// SubjectIDFromContext returns the patient or staff id of the caller, or "".
func SubjectIDFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.SubjectID
	}
	return ""
}
