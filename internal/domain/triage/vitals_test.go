package triage

import (
	"errors"
	"testing"

	"github.com/medmitra/medmitra/internal/platform/apperr"
)

func intp(v int) *int           { return &v }
func floatp(v float64) *float64 { return &v }

func TestVitals_Validate(t *testing.T) {
	ok := Vitals{BPSystolic: intp(120), BPDiastolic: intp(80), Pulse: intp(72), TemperatureC: floatp(37.2), SpO2: intp(98)}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected valid vitals, got %v", err)
	}

	bad := map[string]Vitals{
		"empty":               {},
		"systolic high":       {BPSystolic: intp(300), BPDiastolic: intp(80)},
		"diastolic above":     {BPSystolic: intp(110), BPDiastolic: intp(120)},
		"systolic alone":      {BPSystolic: intp(110)},
		"diastolic alone":     {BPDiastolic: intp(70)},
		"pulse low":           {Pulse: intp(10)},
		"fever off the scale": {TemperatureC: floatp(46)},
		"spo2":                {SpO2: intp(101)},
		"respiratory":         {RespiratoryRate: intp(70)},
		"weight":              {WeightKg: floatp(0.1)},
		"height":              {HeightCm: floatp(260)},
		"sugar":               {BloodSugarMgdl: floatp(900)},
	}
	for name, v := range bad {
		if err := v.Validate(); !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}

func TestVitals_ComputeBMI(t *testing.T) {
	v := Vitals{WeightKg: floatp(70), HeightCm: floatp(175)}
	bmi := v.ComputeBMI()
	if bmi == nil || *bmi != 22.9 {
		t.Errorf("expected 22.9, got %v", bmi)
	}
	if (Vitals{WeightKg: floatp(70)}).ComputeBMI() != nil {
		t.Error("expected nil BMI without height")
	}
}

func TestPayment_Validate(t *testing.T) {
	cases := []struct {
		name string
		p    Payment
		ok   bool
	}{
		{"paid cash", Payment{Amount: 50000, Mode: ModeCash, Status: PaymentPaid}, true},
		{"pending insurance", Payment{Amount: 50000, Mode: ModeInsurance, Status: PaymentPending}, true},
		{"waived", Payment{Mode: ModeWaived, Status: PaymentWaived}, true},
		{"waived with amount", Payment{Amount: 100, Mode: ModeWaived, Status: PaymentWaived}, false},
		{"waived mode only", Payment{Mode: ModeWaived, Status: PaymentPaid}, false},
		{"waived status only", Payment{Mode: ModeUPI, Status: PaymentWaived}, false},
	}
	for _, tc := range cases {
		err := tc.p.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, apperr.ErrInvalid) {
			t.Errorf("%s: expected ErrInvalid, got %v", tc.name, err)
		}
	}
}
