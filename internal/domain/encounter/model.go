package encounter

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/domain/appointment"
	"github.com/medmitra/medmitra/internal/domain/documents"
	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/domain/triage"
)

const (
	StatusDraft = "draft"
	StatusFinal = "final"
)

// MaxMedications caps the lines of one prescription.
const MaxMedications = 30

type Encounter struct {
	ID             uuid.UUID      `json:"id"`
	AppointmentID  uuid.UUID      `json:"appointment_id"`
	PatientID      uuid.UUID      `json:"patient_id"`
	DoctorID       uuid.UUID      `json:"doctor_id"`
	Status         string         `json:"status"`
	ChiefComplaint *string        `json:"chief_complaint,omitempty"`
	History        *string        `json:"history,omitempty"`
	Examination    *string        `json:"examination,omitempty"`
	Diagnoses      []string       `json:"diagnoses"`
	Advice         *string        `json:"advice,omitempty"`
	FollowUpDate   *string        `json:"follow_up_date,omitempty"`
	Vitals         *triage.Vitals `json:"vitals,omitempty"`
	Notes          *string        `json:"notes,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	FinalizedAt    *time.Time     `json:"finalized_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Documented reports whether the encounter says why the patient came.
func (e *Encounter) Documented() bool {
	if e.ChiefComplaint != nil && strings.TrimSpace(*e.ChiefComplaint) != "" {
		return true
	}
	for _, d := range e.Diagnoses {
		if strings.TrimSpace(d) != "" {
			return true
		}
	}
	return false
}

// Medication is one prescription line.
type Medication struct {
	ID           uuid.UUID  `json:"id"`
	EncounterID  uuid.UUID  `json:"encounter_id"`
	Position     int        `json:"position"`
	Name         string     `json:"name"`
	MedicationID *uuid.UUID `json:"medication_id,omitempty"`
	Dosage       string     `json:"dosage"`
	Frequency    string     `json:"frequency"`
	Route        *string    `json:"route,omitempty"`
	DurationDays int        `json:"duration_days"`
	Instructions *string    `json:"instructions,omitempty"`
	Quantity     *int       `json:"quantity,omitempty"`
}

// Bundle is everything needed to render or print an encounter.
type Bundle struct {
	Encounter    *Encounter               `json:"encounter"`
	Patient      *patient.Patient         `json:"patient"`
	Doctor       *staff.Doctor            `json:"doctor"`
	Appointment  *appointment.Appointment `json:"appointment"`
	Vitals       *triage.Vitals           `json:"vitals,omitempty"`
	Medications  []Medication             `json:"medications"`
	SectionOrder []string                 `json:"section_order"`
	Attachments  []*documents.Attachment  `json:"attachments"`
}

// Summary is a list entry.
type Summary struct {
	*Encounter
	MedicationCount int `json:"medication_count"`
}

// ListFilter selects a patient's encounters. With FinalOnly, drafts are
// excluded unless they belong to DraftsOf.
type ListFilter struct {
	PatientID uuid.UUID
	FinalOnly bool
	DraftsOf  *uuid.UUID
	Limit     int
	Offset    int
}

type StartRequest struct {
	AllowUntriaged bool `json:"allow_untriaged"`
}

type UpdateRequest struct {
	ChiefComplaint *string        `json:"chief_complaint" validate:"omitempty,max=2000"`
	History        *string        `json:"history" validate:"omitempty,max=5000"`
	Examination    *string        `json:"examination" validate:"omitempty,max=5000"`
	Diagnoses      []string       `json:"diagnoses" validate:"max=20,dive,max=200"`
	Advice         *string        `json:"advice" validate:"omitempty,max=5000"`
	FollowUpDate   *string        `json:"follow_up_date" validate:"omitempty,date"`
	Vitals         *triage.Vitals `json:"vitals"`
	Notes          *string        `json:"notes" validate:"omitempty,max=5000"`
}

func (r UpdateRequest) apply(e *Encounter) {
	e.ChiefComplaint = r.ChiefComplaint
	e.History = r.History
	e.Examination = r.Examination
	e.Diagnoses = cleanList(r.Diagnoses)
	e.Advice = r.Advice
	e.FollowUpDate = r.FollowUpDate
	if r.Vitals != nil {
		e.Vitals = r.Vitals
	}
	e.Notes = r.Notes
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type MedicationInput struct {
	Name         string     `json:"name" validate:"required,max=200"`
	MedicationID *uuid.UUID `json:"medication_id"`
	Dosage       string     `json:"dosage" validate:"required,max=100"`
	Frequency    string     `json:"frequency" validate:"required,frequency"`
	Route        *string    `json:"route" validate:"omitempty,max=50"`
	DurationDays int        `json:"duration_days" validate:"gte=1,lte=365"`
	Instructions *string    `json:"instructions" validate:"omitempty,max=500"`
	Quantity     *int       `json:"quantity" validate:"omitempty,gte=1,lte=1000"`
}

type MedicationsRequest struct {
	Medications []MedicationInput `json:"medications" validate:"max=30,dive"`
}

// eventData is the payload of encounter events.
type eventData struct {
	EncounterID     string    `json:"encounter_id"`
	AppointmentID   string    `json:"appointment_id"`
	PatientID       string    `json:"patient_id"`
	DoctorID        string    `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	MedicationCount int       `json:"medication_count"`
}
