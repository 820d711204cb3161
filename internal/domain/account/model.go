package account

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// User is a portal login. SubjectID points at the patient, doctor or
// coordinator record the user acts as; admins have none.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        *string    `json:"email,omitempty"`
	Phone        *string    `json:"phone,omitempty"`
	PasswordHash string     `json:"-"`
	Role         string     `json:"role"`
	SubjectID    *uuid.UUID `json:"subject_id,omitempty"`
	Active       bool       `json:"active"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NewUser is the input for creating an account.
type NewUser struct {
	Email     string
	Phone     string
	Password  string
	Role      string
	SubjectID *uuid.UUID
}

type LoginRequest struct {
	Login    string `json:"login" validate:"required,max=254"`
	Password string `json:"password" validate:"required,max=128"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type SignupRequest struct {
	UHID      string `json:"uhid" validate:"required,max=64"`
	BirthDate string `json:"birth_date" validate:"required,date"`
	Login     string `json:"login" validate:"required,max=254"`
	Password  string `json:"password" validate:"required,password,max=128"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,password,max=128,nefield=CurrentPassword"`
}

// MeResponse is the current user as seen by the portals.
type MeResponse struct {
	User     *User  `json:"user"`
	Hospital string `json:"hospital"`
}

// normalizeLogin lower-cases emails and strips spaces and dashes from phones.
func normalizeLogin(login string) (email, phone string) {
	login = strings.TrimSpace(login)
	if strings.Contains(login, "@") {
		return strings.ToLower(login), ""
	}
	r := strings.NewReplacer(" ", "", "-", "")
	return "", r.Replace(login)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
