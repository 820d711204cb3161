package encounter

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/domain/appointment"
	"github.com/medmitra/medmitra/internal/domain/documents"
	"github.com/medmitra/medmitra/internal/domain/medication"
	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/domain/triage"
	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/assist"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/events"
)

type Appointments interface {
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Advance(ctx context.Context, id uuid.UUID, to string) (*appointment.Appointment, error)
}

type Patients interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

type Doctors interface {
	GetDoctor(ctx context.Context, id uuid.UUID) (*staff.Doctor, error)
	SectionOrder(ctx context.Context, doctorID uuid.UUID) ([]string, error)
}

type VitalsSource interface {
	VitalsFor(ctx context.Context, appointmentID uuid.UUID) (*triage.Vitals, error)
}

type Catalog interface {
	Active(ctx context.Context, id uuid.UUID) (*medication.CatalogItem, error)
}

type Attachments interface {
	ByEncounter(ctx context.Context, encounterID uuid.UUID) ([]*documents.Attachment, error)
}

// Limits are the configurable bounds on drafts and assist history.
type Limits struct {
	DraftTTL      time.Duration
	DraftMaxBytes int
	AssistHistory int
}

type Deps struct {
	Repo         Repository
	Appointments Appointments
	Patients     Patients
	Doctors      Doctors
	Vitals       VitalsSource
	Catalog      Catalog
	Attachments  Attachments
	Drafts       DraftStore
	History      HistoryStore
	// Assistant is nil when no provider is configured.
	Assistant assist.Completer
	Tx        db.TxRunner
	Publisher events.Publisher
	Logger    zerolog.Logger
}

type Service struct {
	repo         Repository
	appointments Appointments
	patients     Patients
	doctors      Doctors
	vitals       VitalsSource
	catalog      Catalog
	attachments  Attachments
	drafts       DraftStore
	history      HistoryStore
	assistant    assist.Completer
	tx           db.TxRunner
	pub          events.Publisher
	logger       zerolog.Logger
	limits       Limits
	now          func() time.Time
}

func NewService(d Deps, limits Limits) *Service {
	if limits.DraftTTL <= 0 {
		limits.DraftTTL = 72 * time.Hour
	}
	if limits.DraftMaxBytes <= 0 {
		limits.DraftMaxBytes = 256 << 10
	}
	if limits.AssistHistory <= 0 {
		limits.AssistHistory = 20
	}
	return &Service{
		repo:         d.Repo,
		appointments: d.Appointments,
		patients:     d.Patients,
		doctors:      d.Doctors,
		vitals:       d.Vitals,
		catalog:      d.Catalog,
		attachments:  d.Attachments,
		drafts:       d.Drafts,
		history:      d.History,
		assistant:    d.Assistant,
		tx:           d.Tx,
		pub:          d.Publisher,
		logger:       d.Logger,
		limits:       limits,
		now:          time.Now,
	}
}

func hospitalCode(ctx context.Context) string {
	return db.HospitalCodeFromContext(ctx)
}

func hospitalLocation(ctx context.Context) *time.Location {
	return db.HospitalFromContext(ctx).Location()
}

func subject(p *auth.Principal) uuid.UUID {
	if p == nil {
		return uuid.Nil
	}
	id, _ := uuid.Parse(p.SubjectID)
	return id
}

// requireOwner allows only the doctor the encounter belongs to.
func requireOwner(ctx context.Context, e *Encounter) error {
	p := auth.PrincipalFromContext(ctx)
	if !p.Is(auth.RoleDoctor) || subject(p) != e.DoctorID {
		return apperr.Forbidden("only the treating doctor can change this encounter")
	}
	return nil
}

func requireDraft(e *Encounter) error {
	if e.Status != StatusDraft {
		return apperr.Conflict("encounter is finalized")
	}
	return nil
}

// canRead: coordinators and admins see everything, doctors see their own
// encounters and any finalized one, patients only their own finalized ones.
func canRead(ctx context.Context, e *Encounter) error {
	p := auth.PrincipalFromContext(ctx)
	switch {
	case p.Is(auth.RoleCoordinator), p.Is(auth.RoleAdmin):
		return nil
	case p.Is(auth.RoleDoctor):
		if subject(p) == e.DoctorID || e.Status == StatusFinal {
			return nil
		}
		return apperr.Forbidden("encounter belongs to another doctor")
	case p.Is(auth.RolePatient):
		if subject(p) == e.PatientID && e.Status == StatusFinal {
			return nil
		}
		return apperr.NotFound("encounter")
	}
	return apperr.Forbidden("not allowed")
}

func (s *Service) emit(ctx context.Context, typ string, e *Encounter, a *appointment.Appointment, meds int) {
	data := eventData{
		EncounterID:     e.ID.String(),
		AppointmentID:   e.AppointmentID.String(),
		PatientID:       e.PatientID.String(),
		DoctorID:        e.DoctorID.String(),
		MedicationCount: meds,
	}
	if a != nil {
		data.StartTime = a.StartTime
	}
	events.Emit(ctx, s.pub, s.logger, hospitalCode(ctx), typ, data)
}

// Start opens the draft encounter for an appointment. The second return
// value is false when the encounter already existed.
func (s *Service) Start(ctx context.Context, doctorID, appointmentID uuid.UUID, req StartRequest) (*Encounter, bool, error) {
	a, err := s.appointments.Get(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	if a.DoctorID != doctorID {
		return nil, false, apperr.Forbidden("appointment belongs to another doctor")
	}
	if e, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
		return e, false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	switch {
	case a.Status == appointment.StatusTriaged:
	case a.Status == appointment.StatusCheckedIn && req.AllowUntriaged:
	case a.Status == appointment.StatusCheckedIn:
		return nil, false, apperr.Conflict("patient has not been triaged yet")
	default:
		return nil, false, apperr.Conflict("cannot start a consultation for a %s appointment", a.Status)
	}

	vitals, err := s.vitals.VitalsFor(ctx, appointmentID)
	if err != nil {
		return nil, false, err
	}
	e := &Encounter{
		AppointmentID: a.ID,
		PatientID:     a.PatientID,
		DoctorID:      a.DoctorID,
		Status:        StatusDraft,
		Diagnoses:     []string{},
		Vitals:        vitals,
	}
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		advanced, err := s.appointments.Advance(ctx, appointmentID, appointment.StatusInConsultation)
		if err != nil {
			return err
		}
		a = advanced
		return s.repo.Create(ctx, e)
	})
	if errors.Is(err, apperr.ErrConflict) {
		// Lost a race with a concurrent start.
		if existing, gerr := s.repo.GetByAppointment(ctx, appointmentID); gerr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	s.emit(ctx, events.EncounterStarted, e, a, 0)
	return e, true, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := canRead(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// EncounterParties returns who an encounter is between, without access checks.
func (s *Service) EncounterParties(ctx context.Context, id uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return e.PatientID, e.DoctorID, nil
}

// mutate runs fn on the locked draft encounter of the calling doctor.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(ctx context.Context, e *Encounter) error) (*Encounter, error) {
	var out *Encounter
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		e, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := requireOwner(ctx, e); err != nil {
			return err
		}
		if err := requireDraft(e); err != nil {
			return err
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	return out, err
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Encounter, error) {
	if req.Vitals != nil {
		if err := req.Vitals.Validate(); err != nil {
			return nil, err
		}
		req.Vitals.BMI = req.Vitals.ComputeBMI()
	}
	if req.FollowUpDate != nil {
		d, err := time.Parse("2006-01-02", *req.FollowUpDate)
		if err != nil {
			return nil, apperr.Invalid("follow_up_date must be YYYY-MM-DD")
		}
		today := s.now().In(hospitalLocation(ctx)).Format("2006-01-02")
		if d.Format("2006-01-02") < today {
			return nil, apperr.Invalid("follow_up_date is in the past")
		}
	}
	return s.mutate(ctx, id, func(ctx context.Context, e *Encounter) error {
		req.apply(e)
		return s.repo.Update(ctx, e)
	})
}

func (s *Service) buildMedications(ctx context.Context, encounterID uuid.UUID, in []MedicationInput) ([]Medication, error) {
	if len(in) > MaxMedications {
		return nil, apperr.Invalid("a prescription can have at most %d medications", MaxMedications)
	}
	meds := make([]Medication, 0, len(in))
	for i, m := range in {
		name := strings.TrimSpace(m.Name)
		if name == "" || strings.TrimSpace(m.Dosage) == "" {
			return nil, apperr.Invalid("medication %d: name and dosage are required", i+1)
		}
		if m.DurationDays < 1 || m.DurationDays > 365 {
			return nil, apperr.Invalid("medication %d: duration_days must be between 1 and 365", i+1)
		}
		if m.MedicationID != nil {
			if _, err := s.catalog.Active(ctx, *m.MedicationID); err != nil {
				if errors.Is(err, apperr.ErrNotFound) {
					return nil, apperr.Invalid("medication %d: unknown catalog item", i+1)
				}
				return nil, err
			}
		}
		meds = append(meds, Medication{
			ID:           uuid.New(),
			EncounterID:  encounterID,
			Position:     i + 1,
			Name:         name,
			MedicationID: m.MedicationID,
			Dosage:       strings.TrimSpace(m.Dosage),
			Frequency:    strings.TrimSpace(m.Frequency),
			Route:        m.Route,
			DurationDays: m.DurationDays,
			Instructions: m.Instructions,
			Quantity:     m.Quantity,
		})
	}
	return meds, nil
}

// SetMedications replaces the whole prescription, keeping the given order.
func (s *Service) SetMedications(ctx context.Context, id uuid.UUID, in []MedicationInput) ([]Medication, error) {
	meds, err := s.buildMedications(ctx, id, in)
	if err != nil {
		return nil, err
	}
	_, err = s.mutate(ctx, id, func(ctx context.Context, e *Encounter) error {
		return s.repo.ReplaceMedications(ctx, e.ID, meds)
	})
	if err != nil {
		return nil, err
	}
	return meds, nil
}

func (s *Service) Bundle(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	e, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	b := &Bundle{Encounter: e, Vitals: e.Vitals}
	if b.Patient, err = s.patients.Get(ctx, e.PatientID); err != nil {
		return nil, err
	}
	if b.Doctor, err = s.doctors.GetDoctor(ctx, e.DoctorID); err != nil {
		return nil, err
	}
	if b.Appointment, err = s.appointments.Get(ctx, e.AppointmentID); err != nil {
		return nil, err
	}
	if b.Medications, err = s.repo.Medications(ctx, id); err != nil {
		return nil, err
	}
	if b.SectionOrder, err = s.doctors.SectionOrder(ctx, e.DoctorID); err != nil {
		return nil, err
	}
	if b.Attachments, err = s.attachments.ByEncounter(ctx, id); err != nil {
		return nil, err
	}
	if b.Medications == nil {
		b.Medications = []Medication{}
	}
	if b.Attachments == nil {
		b.Attachments = []*documents.Attachment{}
	}
	return b, nil
}

// Finalize locks the encounter and completes the appointment. A finalized
// encounter cannot change again.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	var (
		appt  *appointment.Appointment
		count int
	)
	e, err := s.mutate(ctx, id, func(ctx context.Context, e *Encounter) error {
		if !e.Documented() {
			return apperr.Invalid("a chief complaint or at least one diagnosis is required")
		}
		meds, err := s.repo.Medications(ctx, e.ID)
		if err != nil {
			return err
		}
		count = len(meds)
		if err := s.repo.MarkFinal(ctx, e); err != nil {
			return err
		}
		appt, err = s.appointments.Advance(ctx, e.AppointmentID, appointment.StatusCompleted)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.drafts.Delete(ctx, hospitalCode(ctx), id); err != nil {
		s.logger.Error().Err(err).Str("encounter_id", id.String()).Msg("failed to clear draft")
	}
	s.emit(ctx, events.EncounterFinalized, e, appt, count)
	return e, nil
}

// List returns a patient's encounters as the caller may see them:
// patients and other doctors get finalized ones, the treating doctor also
// their own drafts, coordinators and admins everything.
func (s *Service) List(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Summary, int, error) {
	f := ListFilter{PatientID: patientID, FinalOnly: true, Limit: limit, Offset: offset}
	p := auth.PrincipalFromContext(ctx)
	switch {
	case p.Is(auth.RoleCoordinator), p.Is(auth.RoleAdmin):
		f.FinalOnly = false
	case p.Is(auth.RoleDoctor):
		id := subject(p)
		f.DraftsOf = &id
	case p.Is(auth.RolePatient):
		if subject(p) != patientID {
			return nil, 0, apperr.Forbidden("not your record")
		}
	default:
		return nil, 0, apperr.Forbidden("not allowed")
	}
	return s.repo.List(ctx, f)
}

// draftEncounter loads the encounter a draft operation targets.
func (s *Service) draftEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(ctx, e); err != nil {
		return nil, err
	}
	if err := requireDraft(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Service) GetDraft(ctx context.Context, id uuid.UUID) (*Draft, error) {
	if _, err := s.draftEncounter(ctx, id); err != nil {
		return nil, err
	}
	return s.drafts.Get(ctx, hospitalCode(ctx), id)
}

// SaveDraft stores the payload when base_revision matches the stored draft.
// A mismatch returns *DraftConflictError.
func (s *Service) SaveDraft(ctx context.Context, id uuid.UUID, req SaveDraftRequest) (*Draft, error) {
	if len(req.Payload) > s.limits.DraftMaxBytes {
		return nil, apperr.Invalid("draft exceeds %d bytes", s.limits.DraftMaxBytes)
	}
	if !json.Valid(req.Payload) {
		return nil, apperr.Invalid("draft payload must be valid JSON")
	}
	if req.BaseRevision < 0 {
		return nil, apperr.Invalid("base_revision must not be negative")
	}
	e, err := s.draftEncounter(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &Draft{
		EncounterID: id,
		DoctorID:    e.DoctorID,
		Revision:    req.BaseRevision + 1,
		Payload:     req.Payload,
		SavedAt:     s.now().UTC(),
	}
	if err := s.drafts.Save(ctx, hospitalCode(ctx), d, req.BaseRevision, s.limits.DraftTTL); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Service) DeleteDraft(ctx context.Context, id uuid.UUID) error {
	if _, err := s.draftEncounter(ctx, id); err != nil {
		return err
	}
	return s.drafts.Delete(ctx, hospitalCode(ctx), id)
}
