package staff

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type Doctor struct {
	ID                 uuid.UUID `json:"id"`
	FirstName          string    `json:"first_name"`
	LastName           string    `json:"last_name"`
	Specialty          string    `json:"specialty"`
	Qualification      *string   `json:"qualification,omitempty"`
	RegistrationNumber string    `json:"registration_number"`
	ConsultationFee    int64     `json:"consultation_fee"`
	Phone              string    `json:"phone"`
	Email              string    `json:"email"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (d *Doctor) DisplayName() string {
	return "Dr. " + strings.TrimSpace(d.FirstName+" "+d.LastName)
}

type Coordinator struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Encounter form sections, in default order.
const (
	SectionVitals         = "vitals"
	SectionChiefComplaint = "chief_complaint"
	SectionHistory        = "history"
	SectionExamination    = "examination"
	SectionDiagnosis      = "diagnosis"
	SectionMedications    = "medications"
	SectionAdvice         = "advice"
	SectionFollowUp       = "follow_up"
	SectionAttachments    = "attachments"
)

var DefaultSectionOrder = []string{
	SectionVitals, SectionChiefComplaint, SectionHistory, SectionExamination,
	SectionDiagnosis, SectionMedications, SectionAdvice, SectionFollowUp, SectionAttachments,
}

type Preferences struct {
	DoctorID     uuid.UUID `json:"doctor_id"`
	SectionOrder []string  `json:"section_order"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type AvailabilityRule struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Weekday     int       `json:"weekday"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	SlotMinutes int       `json:"slot_minutes"`
}

type Slot struct {
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Available bool      `json:"available"`
}

type CreateDoctorRequest struct {
	FirstName          string  `json:"first_name" validate:"required,max=100"`
	LastName           string  `json:"last_name" validate:"max=100"`
	Specialty          string  `json:"specialty" validate:"required,max=100"`
	Qualification      *string `json:"qualification" validate:"omitempty,max=200"`
	RegistrationNumber string  `json:"registration_number" validate:"required,max=50"`
	ConsultationFee    int64   `json:"consultation_fee" validate:"gte=0"`
	Phone              string  `json:"phone" validate:"required,phone"`
	Email              string  `json:"email" validate:"required,email"`
	Password           string  `json:"password" validate:"required,password"`
}

type CreateCoordinatorRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"required,phone"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,password"`
}

// DoctorProfileUpdate is what a doctor may edit about themselves.
type DoctorProfileUpdate struct {
	Qualification *string `json:"qualification" validate:"omitempty,max=200"`
	Phone         string  `json:"phone" validate:"required,phone"`
	Email         string  `json:"email" validate:"required,email"`
}

type PreferencesRequest struct {
	SectionOrder []string `json:"section_order" validate:"required,max=20"`
}

type AvailabilityRequest struct {
	Rules []AvailabilityRuleInput `json:"rules" validate:"max=50,dive"`
}

type AvailabilityRuleInput struct {
	Weekday     int    `json:"weekday" validate:"gte=0,lte=6"`
	StartTime   string `json:"start_time" validate:"required,clock"`
	EndTime     string `json:"end_time" validate:"required,clock"`
	SlotMinutes int    `json:"slot_minutes" validate:"gte=5,lte=120"`
}
