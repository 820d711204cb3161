package account

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/validate"
)

// ErrInvalidCredentials covers unknown logins, wrong passwords and inactive
// accounts alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// PatientVerifier confirms a coordinator-registered patient's identity for
// portal signup.
type PatientVerifier interface {
	VerifyIdentity(ctx context.Context, uhid string, birthDate time.Time) (uuid.UUID, error)
}

type Service struct {
	users    UserRepository
	sessions *auth.Sessions
	patients PatientVerifier
	tx       db.TxRunner
}

func NewService(users UserRepository, sessions *auth.Sessions, patients PatientVerifier, tx db.TxRunner) *Service {
	return &Service{users: users, sessions: sessions, patients: patients, tx: tx}
}

// Login checks credentials and opens a session in the caller's hospital.
func (s *Service) Login(ctx context.Context, login, password string) (*auth.TokenPair, error) {
	email, phone := normalizeLogin(login)
	u, err := s.users.GetByLogin(ctx, email, phone)
	if errors.Is(err, apperr.ErrNotFound) {
		auth.BurnPasswordCheck(password)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) || !u.Active {
		return nil, ErrInvalidCredentials
	}
	if err := s.users.TouchLogin(ctx, u.ID); err != nil {
		return nil, err
	}
	return s.issue(ctx, u)
}

func (s *Service) issue(ctx context.Context, u *User) (*auth.TokenPair, error) {
	p := auth.Principal{
		UserID:   u.ID.String(),
		Role:     u.Role,
		Hospital: db.HospitalCodeFromContext(ctx),
	}
	if u.SubjectID != nil {
		p.SubjectID = u.SubjectID.String()
	}
	return s.sessions.Issue(ctx, p)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	return s.sessions.Refresh(ctx, refreshToken)
}

func (s *Service) Logout(ctx context.Context, p *auth.Principal, refreshToken string) error {
	return s.sessions.Logout(ctx, p, refreshToken)
}

// CreateUser hashes the password and stores a new active account. Email or
// phone must be present.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	if !auth.ValidRole(in.Role) {
		return nil, apperr.Invalid("unknown role %q", in.Role)
	}
	if in.Email == "" && in.Phone == "" {
		return nil, apperr.Invalid("email or phone is required")
	}
	if in.Phone != "" && !validate.IsPhone(in.Phone) {
		return nil, apperr.Invalid("invalid phone")
	}
	if !validate.IsStrongPassword(in.Password) {
		return nil, apperr.Invalid("password must be at least 8 characters with a letter and a digit")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	email, _ := normalizeLogin(in.Email)
	u := &User{
		Email:        strPtr(email),
		Phone:        strPtr(in.Phone),
		PasswordHash: hash,
		Role:         in.Role,
		SubjectID:    in.SubjectID,
		Active:       true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, apperr.Conflict("an account with this email or phone already exists")
		}
		return nil, err
	}
	return u, nil
}

// Signup lets a registered patient claim a portal account.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (*auth.TokenPair, error) {
	birth, err := time.Parse(time.DateOnly, req.BirthDate)
	if err != nil {
		return nil, apperr.Invalid("birth_date must be YYYY-MM-DD")
	}
	var u *User
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		patientID, err := s.patients.VerifyIdentity(ctx, req.UHID, birth)
		if err != nil {
			return err
		}
		exists, err := s.users.ExistsForSubject(ctx, auth.RolePatient, patientID)
		if err != nil {
			return err
		}
		if exists {
			return apperr.Conflict("this patient already has a portal account")
		}
		email, phone := normalizeLogin(req.Login)
		u, err = s.CreateUser(ctx, NewUser{
			Email:     email,
			Phone:     phone,
			Password:  req.Password,
			Role:      auth.RolePatient,
			SubjectID: &patientID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, u)
}

func (s *Service) Me(ctx context.Context, p *auth.Principal) (*User, error) {
	id, err := uuid.Parse(p.UserID)
	if err != nil {
		return nil, apperr.NotFound("user")
	}
	return s.users.GetByID(ctx, id)
}

// ChangePassword verifies the current password, stores the new one and ends
// every other session of the user.
func (s *Service) ChangePassword(ctx context.Context, p *auth.Principal, current, next string) error {
	u, err := s.Me(ctx, p)
	if err != nil {
		return err
	}
	if !auth.CheckPassword(u.PasswordHash, current) {
		return apperr.Forbidden("current password is incorrect")
	}
	if !validate.IsStrongPassword(next) {
		return apperr.Invalid("password must be at least 8 characters with a letter and a digit")
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, u.ID, hash); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeUser(ctx, p.Hospital, p.UserID, p.SessionID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	return nil
}
