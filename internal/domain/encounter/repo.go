package encounter

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, e *Encounter) error
	GetByID(ctx context.Context, id uuid.UUID) (*Encounter, error)
	GetByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Encounter, error)
	// GetForUpdate locks the encounter row until the surrounding tx ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Encounter, error)
	Update(ctx context.Context, e *Encounter) error
	MarkFinal(ctx context.Context, e *Encounter) error
	ReplaceMedications(ctx context.Context, encounterID uuid.UUID, meds []Medication) error
	Medications(ctx context.Context, encounterID uuid.UUID) ([]Medication, error)
	List(ctx context.Context, f ListFilter) ([]*Summary, int, error)
}
