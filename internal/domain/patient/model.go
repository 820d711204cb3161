package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

var validGenders = map[string]bool{"male": true, "female": true, "other": true, "unknown": true}

var validBloodGroups = map[string]bool{
	"A+": true, "A-": true, "B+": true, "B-": true,
	"AB+": true, "AB-": true, "O+": true, "O-": true,
}

type Patient struct {
	ID                    uuid.UUID `json:"id"`
	UHID                  string    `json:"uhid"`
	MID                   string    `json:"mid"`
	FirstName             string    `json:"first_name"`
	LastName              string    `json:"last_name"`
	BirthDate             time.Time `json:"birth_date"`
	Gender                string    `json:"gender"`
	Phone                 string    `json:"phone"`
	Email                 *string   `json:"email,omitempty"`
	BloodGroup            *string   `json:"blood_group,omitempty"`
	AddressLine           *string   `json:"address_line,omitempty"`
	City                  *string   `json:"city,omitempty"`
	State                 *string   `json:"state,omitempty"`
	PostalCode            *string   `json:"postal_code,omitempty"`
	EmergencyContactName  *string   `json:"emergency_contact_name,omitempty"`
	EmergencyContactPhone *string   `json:"emergency_contact_phone,omitempty"`
	Allergies             *string   `json:"allergies,omitempty"`
	Active                bool      `json:"active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

func (p *Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Age in whole years on the given day.
func (p *Patient) Age(on time.Time) int {
	years := on.Year() - p.BirthDate.Year()
	if on.Month() < p.BirthDate.Month() || (on.Month() == p.BirthDate.Month() && on.Day() < p.BirthDate.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

// PhoneLast4 is the only part of the phone number shared across hospitals.
func (p *Patient) PhoneLast4() string {
	if len(p.Phone) <= 4 {
		return p.Phone
	}
	return p.Phone[len(p.Phone)-4:]
}

// MIDRecord is a row of the cross-hospital registry. It carries a
// demographic summary only.
type MIDRecord struct {
	MID          string    `json:"mid"`
	HospitalCode string    `json:"hospital_code"`
	PatientID    uuid.UUID `json:"-"`
	UHID         string    `json:"uhid"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	BirthDate    time.Time `json:"birth_date"`
	Gender       string    `json:"gender"`
	PhoneLast4   string    `json:"phone_last4"`
	CreatedAt    time.Time `json:"created_at"`
}

func recordFor(hospital string, p *Patient) *MIDRecord {
	return &MIDRecord{
		MID:          p.MID,
		HospitalCode: hospital,
		PatientID:    p.ID,
		UHID:         p.UHID,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		BirthDate:    p.BirthDate,
		Gender:       p.Gender,
		PhoneLast4:   p.PhoneLast4(),
	}
}

// MIDMatch is a universal search hit. LocalPatientID is set when the MID is
// also registered at the caller's hospital.
type MIDMatch struct {
	MID            string     `json:"mid"`
	HospitalCode   string     `json:"hospital_code"`
	UHID           string     `json:"uhid"`
	Name           string     `json:"name"`
	BirthDate      string     `json:"birth_date"`
	Gender         string     `json:"gender"`
	PhoneLast4     string     `json:"phone_last4"`
	LocalPatientID *uuid.UUID `json:"local_patient_id,omitempty"`
}

type RegisterRequest struct {
	MID                   string  `json:"mid" validate:"omitempty,max=32"`
	FirstName             string  `json:"first_name" validate:"required,max=100"`
	LastName              string  `json:"last_name" validate:"max=100"`
	BirthDate             string  `json:"birth_date" validate:"required,date"`
	Gender                string  `json:"gender" validate:"required,oneof=male female other unknown"`
	Phone                 string  `json:"phone" validate:"required,phone"`
	Email                 *string `json:"email" validate:"omitempty,email"`
	BloodGroup            *string `json:"blood_group"`
	AddressLine           *string `json:"address_line" validate:"omitempty,max=255"`
	City                  *string `json:"city" validate:"omitempty,max=100"`
	State                 *string `json:"state" validate:"omitempty,max=100"`
	PostalCode            *string `json:"postal_code" validate:"omitempty,max=12"`
	EmergencyContactName  *string `json:"emergency_contact_name" validate:"omitempty,max=200"`
	EmergencyContactPhone *string `json:"emergency_contact_phone" validate:"omitempty,phone"`
	Allergies             *string `json:"allergies" validate:"omitempty,max=2000"`
	Force                 bool    `json:"force"`
}

// UpdateRequest is the coordinator edit. Identity fields included.
type UpdateRequest struct {
	RegisterRequest
	Active *bool `json:"active"`
}

// ProfileUpdate is what a patient may change about themselves.
type ProfileUpdate struct {
	Phone                 string  `json:"phone" validate:"required,phone"`
	Email                 *string `json:"email" validate:"omitempty,email"`
	AddressLine           *string `json:"address_line" validate:"omitempty,max=255"`
	City                  *string `json:"city" validate:"omitempty,max=100"`
	State                 *string `json:"state" validate:"omitempty,max=100"`
	PostalCode            *string `json:"postal_code" validate:"omitempty,max=12"`
	EmergencyContactName  *string `json:"emergency_contact_name" validate:"omitempty,max=200"`
	EmergencyContactPhone *string `json:"emergency_contact_phone" validate:"omitempty,phone"`
}

type ImportRequest struct {
	MID string `json:"mid" validate:"required,max=32"`
}

func (r *RegisterRequest) apply(p *Patient, birth time.Time) {
	p.FirstName = strings.TrimSpace(r.FirstName)
	p.LastName = strings.TrimSpace(r.LastName)
	p.BirthDate = birth
	p.Gender = r.Gender
	p.Phone = r.Phone
	p.Email = r.Email
	p.BloodGroup = r.BloodGroup
	p.AddressLine = r.AddressLine
	p.City = r.City
	p.State = r.State
	p.PostalCode = r.PostalCode
	p.EmergencyContactName = r.EmergencyContactName
	p.EmergencyContactPhone = r.EmergencyContactPhone
	p.Allergies = r.Allergies
}

func (u *ProfileUpdate) apply(p *Patient) {
	p.Phone = u.Phone
	p.Email = u.Email
	p.AddressLine = u.AddressLine
	p.City = u.City
	p.State = u.State
	p.PostalCode = u.PostalCode
	p.EmergencyContactName = u.EmergencyContactName
	p.EmergencyContactPhone = u.EmergencyContactPhone
}
