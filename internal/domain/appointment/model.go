package appointment

import (
	"time"

	"github.com/google/uuid"
)

// Visit statuses.
const (
	StatusBooked         = "booked"
	StatusCheckedIn      = "checked_in"
	StatusTriaged        = "triaged"
	StatusInConsultation = "in_consultation"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusNoShow         = "no_show"
)

// ActiveStatuses hold a doctor's slot.
var ActiveStatuses = []string{StatusBooked, StatusCheckedIn, StatusTriaged, StatusInConsultation}

var validStatuses = map[string]bool{
	StatusBooked:         true,
	StatusCheckedIn:      true,
	StatusTriaged:        true,
	StatusInConsultation: true,
	StatusCompleted:      true,
	StatusCancelled:      true,
	StatusNoShow:         true,
}

// transitions lists the statuses reachable from each status. Rescheduling
// keeps an appointment booked and is handled separately.
var transitions = map[string][]string{
	StatusBooked:         {StatusCheckedIn, StatusCancelled, StatusNoShow},
	StatusCheckedIn:      {StatusTriaged, StatusInConsultation, StatusCancelled},
	StatusTriaged:        {StatusInConsultation},
	StatusInConsultation: {StatusCompleted},
}

// CanTransition reports whether an appointment in status from may move to to.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsActive reports whether status still holds the slot.
func IsActive(status string) bool {
	for _, s := range ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Appointment struct {
	ID           uuid.UUID  `json:"id"`
	PatientID    uuid.UUID  `json:"patient_id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      time.Time  `json:"end_time"`
	Status       string     `json:"status"`
	Reason       *string    `json:"reason,omitempty"`
	TokenNumber  *int       `json:"token_number,omitempty"`
	BookedBy     uuid.UUID  `json:"booked_by"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
	CheckedInAt  *time.Time `json:"checked_in_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// ListFilter narrows appointment listings. Zero values mean "any".
type ListFilter struct {
	From      time.Time
	To        time.Time
	Status    string
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Limit     int
	Offset    int
}

type BookRequest struct {
	DoctorID  uuid.UUID  `json:"doctor_id" validate:"required"`
	StartTime time.Time  `json:"start_time" validate:"required"`
	Reason    *string    `json:"reason" validate:"omitempty,max=500"`
	PatientID *uuid.UUID `json:"patient_id"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type RescheduleRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
}

// eventData is the payload of appointment events.
type eventData struct {
	AppointmentID     string     `json:"appointment_id"`
	PatientID         string     `json:"patient_id"`
	DoctorID          string     `json:"doctor_id"`
	StartTime         time.Time  `json:"start_time"`
	Status            string     `json:"status"`
	TokenNumber       *int       `json:"token_number,omitempty"`
	PreviousStartTime *time.Time `json:"previous_start_time,omitempty"`
}

func dataFor(a *Appointment) eventData {
	return eventData{
		AppointmentID: a.ID.String(),
		PatientID:     a.PatientID.String(),
		DoctorID:      a.DoctorID.String(),
		StartTime:     a.StartTime,
		Status:        a.Status,
		TokenNumber:   a.TokenNumber,
	}
}

// DayBounds returns the [start, end) of t's calendar day in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	y, m, d := t.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}
