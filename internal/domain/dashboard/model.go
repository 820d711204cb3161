package dashboard

import (
	"time"

	"github.com/google/uuid"
)

// DoctorQueue is one doctor's line at the front desk.
type DoctorQueue struct {
	DoctorID   uuid.UUID `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
	CheckedIn  int       `json:"checked_in"`
	Triaged    int       `json:"triaged"`
	// NextToken is the lowest token still waiting, nil when nobody is.
	NextToken *int `json:"next_token"`
}

type CoordinatorView struct {
	Date              string         `json:"date"`
	Counts            map[string]int `json:"counts"`
	Total             int            `json:"total"`
	CollectedPayments int64          `json:"collected_payments"`
	Queues            []DoctorQueue  `json:"queues"`
}

type QueueEntry struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	PatientName   string    `json:"patient_name"`
	UHID          string    `json:"uhid"`
	TokenNumber   *int      `json:"token_number"`
	StartTime     time.Time `json:"start_time"`
	Status        string    `json:"status"`
}

type OpenDraft struct {
	EncounterID   uuid.UUID `json:"encounter_id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientName   string    `json:"patient_name"`
	StartedAt     time.Time `json:"started_at"`
}

type DoctorView struct {
	Date       string         `json:"date"`
	Counts     map[string]int `json:"counts"`
	Total      int            `json:"total"`
	Waiting    []QueueEntry   `json:"waiting"`
	OpenDrafts []OpenDraft    `json:"open_drafts"`
}

type UpcomingVisit struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	DoctorName    string    `json:"doctor_name"`
	Specialty     string    `json:"specialty"`
	StartTime     time.Time `json:"start_time"`
	Status        string    `json:"status"`
	TokenNumber   *int      `json:"token_number,omitempty"`
}

type RecentVisit struct {
	EncounterID     uuid.UUID `json:"encounter_id"`
	DoctorName      string    `json:"doctor_name"`
	Diagnoses       []string  `json:"diagnoses"`
	FinalizedAt     time.Time `json:"finalized_at"`
	MedicationCount int       `json:"medication_count"`
}

type PatientView struct {
	Upcoming []UpcomingVisit `json:"upcoming"`
	Recent   []RecentVisit   `json:"recent"`
}

// PatientListSize bounds both lists of the patient dashboard.
const PatientListSize = 5
