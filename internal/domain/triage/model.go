package triage

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Vitals recorded at the front desk. Every reading is optional.
type Vitals struct {
	BPSystolic      *int     `json:"bp_systolic,omitempty"`
	BPDiastolic     *int     `json:"bp_diastolic,omitempty"`
	Pulse           *int     `json:"pulse,omitempty"`
	TemperatureC    *float64 `json:"temperature_c,omitempty"`
	SpO2            *int     `json:"spo2,omitempty"`
	RespiratoryRate *int     `json:"respiratory_rate,omitempty"`
	WeightKg        *float64 `json:"weight_kg,omitempty"`
	HeightCm        *float64 `json:"height_cm,omitempty"`
	BloodSugarMgdl  *float64 `json:"blood_sugar_mgdl,omitempty"`
	BMI             *float64 `json:"bmi,omitempty"`
}

// Empty reports whether no reading was taken.
func (v Vitals) Empty() bool {
	return v.BPSystolic == nil && v.BPDiastolic == nil && v.Pulse == nil && v.TemperatureC == nil &&
		v.SpO2 == nil && v.RespiratoryRate == nil && v.WeightKg == nil && v.HeightCm == nil &&
		v.BloodSugarMgdl == nil
}

// ComputeBMI returns weight / height² rounded to one decimal, or nil when
// either is missing.
func (v Vitals) ComputeBMI() *float64 {
	if v.WeightKg == nil || v.HeightCm == nil || *v.HeightCm <= 0 {
		return nil
	}
	m := *v.HeightCm / 100
	bmi := math.Round(*v.WeightKg/(m*m)*10) / 10
	return &bmi
}

// Payment modes and statuses.
const (
	ModeCash      = "cash"
	ModeCard      = "card"
	ModeUPI       = "upi"
	ModeInsurance = "insurance"
	ModeWaived    = "waived"

	PaymentPaid    = "paid"
	PaymentPending = "pending"
	PaymentWaived  = "waived"
)

// Payment amounts are in minor units (paise).
type Payment struct {
	Amount    int64   `json:"amount" validate:"gte=0"`
	Mode      string  `json:"mode" validate:"required,oneof=cash card upi insurance waived"`
	Status    string  `json:"status" validate:"required,oneof=paid pending waived"`
	Reference *string `json:"reference,omitempty" validate:"omitempty,max=100"`
}

type Triage struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	PatientID     uuid.UUID `json:"patient_id"`
	RecordedBy    uuid.UUID `json:"recorded_by"`
	Vitals        Vitals    `json:"vitals"`
	Payment       Payment   `json:"payment"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type Request struct {
	Vitals  Vitals  `json:"vitals"`
	Payment Payment `json:"payment"`
	Notes   *string `json:"notes" validate:"omitempty,max=2000"`
}
