package documents

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, a *Attachment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Attachment, error)
	ListByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*Attachment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Attachment, int, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
