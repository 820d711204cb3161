package triage

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, t *Triage) error
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Triage, error)
	Update(ctx context.Context, t *Triage) error
}
