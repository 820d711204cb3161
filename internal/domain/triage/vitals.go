package triage

import (
	"github.com/medmitra/medmitra/internal/platform/apperr"
)

type intBound struct {
	field    string
	v        *int
	min, max int
}

type floatBound struct {
	field    string
	v        *float64
	min, max float64
}

// Validate checks every reading against physiological bounds.
func (v Vitals) Validate() error {
	if v.Empty() {
		return apperr.Invalid("at least one vital sign is required")
	}
	for _, b := range []intBound{
		{"bp_systolic", v.BPSystolic, 50, 260},
		{"bp_diastolic", v.BPDiastolic, 30, 160},
		{"pulse", v.Pulse, 20, 250},
		{"spo2", v.SpO2, 50, 100},
		{"respiratory_rate", v.RespiratoryRate, 5, 60},
	} {
		if b.v != nil && (*b.v < b.min || *b.v > b.max) {
			return apperr.Invalid("%s must be between %d and %d", b.field, b.min, b.max)
		}
	}
	for _, b := range []floatBound{
		{"temperature_c", v.TemperatureC, 30, 45},
		{"weight_kg", v.WeightKg, 0.5, 400},
		{"height_cm", v.HeightCm, 30, 250},
		{"blood_sugar_mgdl", v.BloodSugarMgdl, 20, 800},
	} {
		if b.v != nil && (*b.v < b.min || *b.v > b.max) {
			return apperr.Invalid("%s must be between %g and %g", b.field, b.min, b.max)
		}
	}
	if (v.BPSystolic == nil) != (v.BPDiastolic == nil) {
		return apperr.Invalid("blood pressure needs both systolic and diastolic")
	}
	if v.BPSystolic != nil && *v.BPDiastolic >= *v.BPSystolic {
		return apperr.Invalid("bp_diastolic must be lower than bp_systolic")
	}
	return nil
}

// Validate enforces that a waiver is all-or-nothing.
func (p Payment) Validate() error {
	if (p.Mode == ModeWaived) != (p.Status == PaymentWaived) {
		return apperr.Invalid("payment mode and status must both be waived or neither")
	}
	if p.Mode == ModeWaived && p.Amount != 0 {
		return apperr.Invalid("waived payments must have amount 0")
	}
	return nil
}
