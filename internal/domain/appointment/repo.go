package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/platform/apperr"
)

// ErrSlotTaken is returned when another active appointment holds the slot.
var ErrSlotTaken = apperr.Conflict("slot is already booked")

type Repository interface {
	// Create inserts a and returns ErrSlotTaken when the doctor's slot is held.
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// GetForUpdate locks the row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// Update writes status, times, token and cancellation fields.
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter) ([]*Appointment, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, upcoming bool, now time.Time, limit, offset int) ([]*Appointment, int, error)
	// HasActiveOnDay reports whether the patient holds another active
	// appointment with the doctor in [from, to).
	HasActiveOnDay(ctx context.Context, patientID, doctorID uuid.UUID, from, to time.Time, exclude uuid.UUID) (bool, error)
	// LockPatientDay serialises bookings of one patient with one doctor on the
	// day starting at day until the surrounding transaction ends.
	LockPatientDay(ctx context.Context, patientID, doctorID uuid.UUID, day time.Time) error
	BookedStarts(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)
	// NextToken returns the next queue token for the doctor in [from, to).
	// It must run inside a transaction.
	NextToken(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (int, error)
}
