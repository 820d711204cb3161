package triage

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/domain/appointment"
	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/events"
)

// Appointments is the part of the appointment service triage drives.
type Appointments interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Advance(ctx context.Context, id uuid.UUID, to string) (*appointment.Appointment, error)
}

type Service struct {
	repo         Repository
	appointments Appointments
	tx           db.TxRunner
	pub          events.Publisher
	logger       zerolog.Logger
}

func NewService(repo Repository, appointments Appointments, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, appointments: appointments, tx: tx, pub: pub, logger: logger}
}

func validateRequest(req *Request) error {
	if err := req.Vitals.Validate(); err != nil {
		return err
	}
	if err := req.Payment.Validate(); err != nil {
		return err
	}
	req.Vitals.BMI = req.Vitals.ComputeBMI()
	return nil
}

// Record stores triage for a checked-in appointment and moves it to triaged.
func (s *Service) Record(ctx context.Context, appointmentID, recordedBy uuid.UUID, req Request) (*Triage, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	t := &Triage{
		AppointmentID: appointmentID,
		RecordedBy:    recordedBy,
		Vitals:        req.Vitals,
		Payment:       req.Payment,
		Notes:         req.Notes,
	}
	var appt *appointment.Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.Advance(ctx, appointmentID, appointment.StatusTriaged)
		if err != nil {
			return err
		}
		appt = a
		t.PatientID = a.PatientID
		return s.repo.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	events.Emit(ctx, s.pub, s.logger, db.HospitalCodeFromContext(ctx), events.TriageRecorded, map[string]interface{}{
		"appointment_id": appt.ID.String(),
		"patient_id":     appt.PatientID.String(),
		"doctor_id":      appt.DoctorID.String(),
		"token_number":   appt.TokenNumber,
		"status":         appt.Status,
	})
	return t, nil
}

// Amend replaces the triage of an appointment that is still waiting for the
// doctor.
func (s *Service) Amend(ctx context.Context, appointmentID, recordedBy uuid.UUID, req Request) (*Triage, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}
	var out *Triage
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.appointments.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if a.Status != appointment.StatusTriaged {
			return apperr.Conflict("triage can only be amended before the consultation starts")
		}
		t, err := s.repo.GetByAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		t.Vitals, t.Payment, t.Notes, t.RecordedBy = req.Vitals, req.Payment, req.Notes, recordedBy
		if err := s.repo.Update(ctx, t); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (*Triage, error) {
	return s.repo.GetByAppointment(ctx, appointmentID)
}

// VitalsFor returns the triage vitals of an appointment, or nil when triage
// was skipped.
func (s *Service) VitalsFor(ctx context.Context, appointmentID uuid.UUID) (*Vitals, error) {
	t, err := s.repo.GetByAppointment(ctx, appointmentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t.Vitals, nil
}
