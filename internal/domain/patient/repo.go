package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetByUHID(ctx context.Context, uhid string) (*Patient, error)
	GetByMID(ctx context.Context, mid string) (*Patient, error)
	Update(ctx context.Context, p *Patient) error
	// Search matches a name substring, an exact UHID or MID, or a phone suffix.
	Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)
	FindDuplicate(ctx context.Context, phone string, birthDate time.Time) (*Patient, error)
	NextUHIDSequence(ctx context.Context) (int64, error)
}

// RegistryRepository is the cross-hospital MID registry in the shared schema.
type RegistryRepository interface {
	Insert(ctx context.Context, r *MIDRecord) error
	Update(ctx context.Context, r *MIDRecord) error
	MIDExists(ctx context.Context, mid string) (bool, error)
	ListByMID(ctx context.Context, mid string) ([]*MIDRecord, error)
}
