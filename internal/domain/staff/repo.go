package staff

import (
	"context"

	"github.com/google/uuid"
)

type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	List(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error)
}

type CoordinatorRepository interface {
	Create(ctx context.Context, c *Coordinator) error
	GetByID(ctx context.Context, id uuid.UUID) (*Coordinator, error)
	List(ctx context.Context, limit, offset int) ([]*Coordinator, int, error)
}

type PreferencesRepository interface {
	// Get returns nil, nil when the doctor has not saved preferences.
	Get(ctx context.Context, doctorID uuid.UUID) (*Preferences, error)
	Upsert(ctx context.Context, p *Preferences) error
}

type AvailabilityRepository interface {
	ListByDoctor(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error)
	Replace(ctx context.Context, doctorID uuid.UUID, rules []AvailabilityRule) error
}
