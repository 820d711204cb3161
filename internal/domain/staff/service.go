package staff

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/domain/account"
	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/db"
)

// AccountCreator opens the login for a new staff member.
type AccountCreator interface {
	CreateUser(ctx context.Context, in account.NewUser) (*account.User, error)
}

// BookingLookup reports which slot starts of a doctor are already taken.
type BookingLookup interface {
	BookedStarts(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]time.Time, error)
}

type Service struct {
	doctors      DoctorRepository
	coordinators CoordinatorRepository
	prefs        PreferencesRepository
	availability AvailabilityRepository
	accounts     AccountCreator
	bookings     BookingLookup
	tx           db.TxRunner
	now          func() time.Time
}

func NewService(doctors DoctorRepository, coordinators CoordinatorRepository, prefs PreferencesRepository,
	availability AvailabilityRepository, accounts AccountCreator, tx db.TxRunner) *Service {
	return &Service{
		doctors:      doctors,
		coordinators: coordinators,
		prefs:        prefs,
		availability: availability,
		accounts:     accounts,
		tx:           tx,
		now:          time.Now,
	}
}

// SetBookingLookup wires the appointment store after construction; the two
// services depend on each other.
func (s *Service) SetBookingLookup(b BookingLookup) {
	s.bookings = b
}

// -- Doctors --

func (s *Service) CreateDoctor(ctx context.Context, req CreateDoctorRequest) (*Doctor, error) {
	d := &Doctor{
		FirstName:          req.FirstName,
		LastName:           req.LastName,
		Specialty:          req.Specialty,
		Qualification:      req.Qualification,
		RegistrationNumber: req.RegistrationNumber,
		ConsultationFee:    req.ConsultationFee,
		Phone:              req.Phone,
		Email:              req.Email,
		Active:             true,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.doctors.Create(ctx, d); err != nil {
			return err
		}
		_, err := s.accounts.CreateUser(ctx, account.NewUser{
			Email:     req.Email,
			Phone:     req.Phone,
			Password:  req.Password,
			Role:      auth.RoleDoctor,
			SubjectID: &d.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, specialty string, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.List(ctx, specialty, limit, offset)
}

func (s *Service) UpdateDoctorProfile(ctx context.Context, id uuid.UUID, u DoctorProfileUpdate) (*Doctor, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Qualification = u.Qualification
	d.Phone = u.Phone
	d.Email = u.Email
	if err := s.doctors.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// DoctorName is the display name used in notifications.
func (s *Service) DoctorName(ctx context.Context, id uuid.UUID) (string, error) {
	d, err := s.doctors.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return d.DisplayName(), nil
}

// -- Coordinators --

func (s *Service) CreateCoordinator(ctx context.Context, req CreateCoordinatorRequest) (*Coordinator, error) {
	c := &Coordinator{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		Active:    true,
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.coordinators.Create(ctx, c); err != nil {
			return err
		}
		_, err := s.accounts.CreateUser(ctx, account.NewUser{
			Email:     req.Email,
			Phone:     req.Phone,
			Password:  req.Password,
			Role:      auth.RoleCoordinator,
			SubjectID: &c.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) ListCoordinators(ctx context.Context, limit, offset int) ([]*Coordinator, int, error) {
	return s.coordinators.List(ctx, limit, offset)
}

// -- Preferences --

// SectionOrder returns the doctor's saved order, or the default.
func (s *Service) SectionOrder(ctx context.Context, doctorID uuid.UUID) ([]string, error) {
	p, err := s.prefs.Get(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return append([]string(nil), DefaultSectionOrder...), nil
	}
	return NormalizeSectionOrder(p.SectionOrder)
}

func (s *Service) GetPreferences(ctx context.Context, doctorID uuid.UUID) (*Preferences, error) {
	order, err := s.SectionOrder(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	return &Preferences{DoctorID: doctorID, SectionOrder: order}, nil
}

func (s *Service) SavePreferences(ctx context.Context, doctorID uuid.UUID, order []string) (*Preferences, error) {
	normalized, err := NormalizeSectionOrder(order)
	if err != nil {
		return nil, err
	}
	p := &Preferences{DoctorID: doctorID, SectionOrder: normalized}
	if err := s.prefs.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// -- Availability --

func (s *Service) Availability(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityRule, error) {
	rules, err := s.availability.ListByDoctor(ctx, doctorID)
	if rules == nil && err == nil {
		rules = []AvailabilityRule{}
	}
	return rules, err
}

func (s *Service) ReplaceAvailability(ctx context.Context, doctorID uuid.UUID, in []AvailabilityRuleInput) ([]AvailabilityRule, error) {
	rules := make([]AvailabilityRule, len(in))
	for i, r := range in {
		rules[i] = AvailabilityRule{DoctorID: doctorID, Weekday: r.Weekday, StartTime: r.StartTime, EndTime: r.EndTime, SlotMinutes: r.SlotMinutes}
	}
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		return s.availability.Replace(ctx, doctorID, rules)
	})
	if err != nil {
		return nil, err
	}
	return rules, nil
}

// Slots lists a doctor's slots for a YYYY-MM-DD date in the hospital timezone.
func (s *Service) Slots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	loc := db.HospitalFromContext(ctx).Location()
	day, err := time.ParseInLocation(time.DateOnly, date, loc)
	if err != nil {
		return nil, apperr.Invalid("date must be YYYY-MM-DD")
	}
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return []Slot{}, nil
	}
	rules, err := s.availability.ListByDoctor(ctx, doctorID)
	if err != nil {
		return nil, err
	}
	booked := make(map[int64]bool)
	if s.bookings != nil {
		starts, err := s.bookings.BookedStarts(ctx, doctorID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, err
		}
		for _, t := range starts {
			booked[t.Unix()] = true
		}
	}
	slots := GenerateSlots(rules, day, loc, booked, s.now())
	if slots == nil {
		slots = []Slot{}
	}
	return slots, nil
}

// SlotFor validates that start is the beginning of one of the doctor's slots
// and returns it. Used by booking and rescheduling.
func (s *Service) SlotFor(ctx context.Context, doctorID uuid.UUID, start time.Time) (Slot, error) {
	d, err := s.doctors.GetByID(ctx, doctorID)
	if err != nil {
		return Slot{}, err
	}
	if !d.Active {
		return Slot{}, apperr.Invalid("doctor is not accepting appointments")
	}
	rules, err := s.availability.ListByDoctor(ctx, doctorID)
	if err != nil {
		return Slot{}, err
	}
	slot, ok := SlotAt(rules, start, db.HospitalFromContext(ctx).Location())
	if !ok {
		return Slot{}, apperr.Invalid("start_time does not match an available slot")
	}
	return slot, nil
}
