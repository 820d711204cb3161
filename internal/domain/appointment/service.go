package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/events"
)

// SlotChecker validates a requested start against the doctor's schedule.
type SlotChecker interface {
	SlotFor(ctx context.Context, doctorID uuid.UUID, start time.Time) (staff.Slot, error)
}

type Service struct {
	repo   Repository
	slots  SlotChecker
	tx     db.TxRunner
	pub    events.Publisher
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, slots SlotChecker, tx db.TxRunner, pub events.Publisher, logger zerolog.Logger) *Service {
	return &Service{repo: repo, slots: slots, tx: tx, pub: pub, logger: logger, now: time.Now}
}

func (s *Service) emit(ctx context.Context, typ string, data eventData) {
	events.Emit(ctx, s.pub, s.logger, db.HospitalCodeFromContext(ctx), typ, data)
}

// ParseDay resolves a YYYY-MM-DD date, or today when empty, to its bounds in
// the hospital timezone.
func (s *Service) ParseDay(ctx context.Context, date string) (time.Time, time.Time, error) {
	loc := db.HospitalFromContext(ctx).Location()
	if date == "" {
		from, to := DayBounds(s.now(), loc)
		return from, to, nil
	}
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, apperr.Invalid("date must be YYYY-MM-DD")
	}
	from, to := DayBounds(day, loc)
	return from, to, nil
}

// checkSlot validates start for a new or moved appointment.
func (s *Service) checkSlot(ctx context.Context, doctorID uuid.UUID, start time.Time) (staff.Slot, error) {
	if !start.After(s.now()) {
		return staff.Slot{}, apperr.Invalid("start_time must be in the future")
	}
	return s.slots.SlotFor(ctx, doctorID, start)
}

// checkOnePerDay must run inside the transaction that writes a.
func (s *Service) checkOnePerDay(ctx context.Context, a *Appointment) error {
	from, to := DayBounds(a.StartTime, db.HospitalFromContext(ctx).Location())
	if err := s.repo.LockPatientDay(ctx, a.PatientID, a.DoctorID, from); err != nil {
		return err
	}
	taken, err := s.repo.HasActiveOnDay(ctx, a.PatientID, a.DoctorID, from, to, a.ID)
	if err != nil {
		return err
	}
	if taken {
		return apperr.Conflict("patient already has an appointment with this doctor on that day")
	}
	return nil
}

// Book reserves a slot for patientID. bookedBy is the user making the booking.
func (s *Service) Book(ctx context.Context, patientID, bookedBy uuid.UUID, req BookRequest) (*Appointment, error) {
	slot, err := s.checkSlot(ctx, req.DoctorID, req.StartTime)
	if err != nil {
		return nil, err
	}
	a := &Appointment{
		PatientID: patientID,
		DoctorID:  req.DoctorID,
		StartTime: slot.Start,
		EndTime:   slot.End,
		Status:    StatusBooked,
		Reason:    req.Reason,
		BookedBy:  bookedBy,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.checkOnePerDay(ctx, a); err != nil {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, events.AppointmentBooked, dataFor(a))
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

// BookedStarts lists the start times of a doctor's active appointments.
func (s *Service) BookedStarts(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error) {
	return s.repo.BookedStarts(ctx, doctorID, from, to)
}

// ListForPatient returns upcoming or past appointments of a patient.
func (s *Service) ListForPatient(ctx context.Context, patientID uuid.UUID, scope string, limit, offset int) ([]*Appointment, int, error) {
	switch scope {
	case "", "upcoming":
		return s.repo.ListByPatient(ctx, patientID, true, s.now(), limit, offset)
	case "past":
		return s.repo.ListByPatient(ctx, patientID, false, s.now(), limit, offset)
	}
	return nil, 0, apperr.Invalid("scope must be upcoming or past")
}

// ListForDay lists a day's appointments, optionally narrowed by doctor and status.
func (s *Service) ListForDay(ctx context.Context, date, status string, doctorID *uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	if status != "" && !validStatuses[status] {
		return nil, 0, apperr.Invalid("unknown status %q", status)
	}
	from, to, err := s.ParseDay(ctx, date)
	if err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, ListFilter{From: from, To: to, Status: status, DoctorID: doctorID, Limit: limit, Offset: offset})
}

// Advance moves an appointment to status to inside the caller's transaction
// and returns it. Triage and encounters drive their steps through it.
func (s *Service) Advance(ctx context.Context, id uuid.UUID, to string) (*Appointment, error) {
	a, err := s.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(a.Status, to) {
		return nil, apperr.Conflict("appointment is %s and cannot become %s", a.Status, to)
	}
	a.Status = to
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// transition locks the appointment, applies mutate and saves it in one
// transaction, then publishes typ.
func (s *Service) transition(ctx context.Context, id uuid.UUID, to, typ string, mutate func(ctx context.Context, a *Appointment) error) (*Appointment, error) {
	var out *Appointment
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(a.Status, to) {
			return apperr.Conflict("appointment is %s and cannot become %s", a.Status, to)
		}
		if mutate != nil {
			if err := mutate(ctx, a); err != nil {
				return err
			}
		}
		a.Status = to
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, typ, dataFor(out))
	return out, nil
}

// CheckIn marks the patient as arrived and hands out the next queue token for
// the doctor's day.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCheckedIn, events.AppointmentCheckedIn, func(ctx context.Context, a *Appointment) error {
		loc := db.HospitalFromContext(ctx).Location()
		now := s.now()
		from, to := DayBounds(a.StartTime, loc)
		if today, _ := DayBounds(now, loc); !today.Equal(from) {
			return apperr.Invalid("appointment is not scheduled for today")
		}
		token, err := s.repo.NextToken(ctx, a.DoctorID, from, to)
		if err != nil {
			return err
		}
		a.TokenNumber = &token
		a.CheckedInAt = &now
		return nil
	})
}

// Cancel cancels a booked or checked-in appointment on behalf of the hospital.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, events.AppointmentCancelled, func(_ context.Context, a *Appointment) error {
		a.CancelReason = &reason
		return nil
	})
}

// CancelOwn lets a patient cancel their own appointment while it is booked.
func (s *Service) CancelOwn(ctx context.Context, patientID, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusCancelled, events.AppointmentCancelled, func(_ context.Context, a *Appointment) error {
		if a.PatientID != patientID {
			return apperr.NotFound("appointment")
		}
		if a.Status != StatusBooked {
			return apperr.Conflict("only booked appointments can be cancelled online")
		}
		reason := "cancelled by patient"
		a.CancelReason = &reason
		return nil
	})
}

func (s *Service) NoShow(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, StatusNoShow, events.AppointmentNoShow, nil)
}

// Reschedule moves a booked appointment to another slot of the same doctor.
func (s *Service) Reschedule(ctx context.Context, id uuid.UUID, start time.Time) (*Appointment, error) {
	var (
		out      *Appointment
		previous time.Time
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		a, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != StatusBooked {
			return apperr.Conflict("appointment is %s and cannot be rescheduled", a.Status)
		}
		slot, err := s.checkSlot(ctx, a.DoctorID, start)
		if err != nil {
			return err
		}
		previous = a.StartTime
		a.StartTime, a.EndTime = slot.Start, slot.End
		if err := s.checkOnePerDay(ctx, a); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	data := dataFor(out)
	data.PreviousStartTime = &previous
	s.emit(ctx, events.AppointmentRescheduled, data)
	return out, nil
}
