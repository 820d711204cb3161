package account

import (
	"context"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	// GetByLogin matches an email (case-insensitive) or a phone number.
	GetByLogin(ctx context.Context, email, phone string) (*User, error)
	ExistsForSubject(ctx context.Context, role string, subjectID uuid.UUID) (bool, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, hash string) error
	TouchLogin(ctx context.Context, id uuid.UUID) error
}
