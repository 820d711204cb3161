package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
)

const maxMIDAttempts = 5

type Service struct {
	patients PatientRepository
	registry RegistryRepository
	tx       db.TxRunner
	newMID   func() (string, error)
}

func NewService(patients PatientRepository, registry RegistryRepository, tx db.TxRunner) *Service {
	return &Service{patients: patients, registry: registry, tx: tx, newMID: NewMID}
}

// FormatUHID renders <HOSPITALCODE>-<6-digit sequence>.
func FormatUHID(hospital string, seq int64) string {
	return fmt.Sprintf("%s-%06d", strings.ToUpper(hospital), seq)
}

func parseBirthDate(s string) (time.Time, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, apperr.Invalid("birth_date must be YYYY-MM-DD")
	}
	if t.After(time.Now()) {
		return time.Time{}, apperr.Invalid("birth_date is in the future")
	}
	return t, nil
}

func validateRequest(req *RegisterRequest) (time.Time, error) {
	birth, err := parseBirthDate(req.BirthDate)
	if err != nil {
		return birth, err
	}
	if !validGenders[req.Gender] {
		return birth, apperr.Invalid("invalid gender %q", req.Gender)
	}
	if req.BloodGroup != nil && *req.BloodGroup != "" && !validBloodGroups[strings.ToUpper(*req.BloodGroup)] {
		return birth, apperr.Invalid("invalid blood_group %q", *req.BloodGroup)
	}
	return birth, nil
}

// Register creates a patient in the current hospital, assigning a UHID and
// either linking the supplied MID or minting a new one.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Patient, error) {
	birth, err := validateRequest(&req)
	if err != nil {
		return nil, err
	}
	hospital := db.HospitalCodeFromContext(ctx)
	if hospital == "" {
		return nil, errors.New("no hospital in context")
	}

	var p *Patient
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if !req.Force {
			dup, err := s.patients.FindDuplicate(ctx, req.Phone, birth)
			if err != nil {
				return err
			}
			if dup != nil {
				return apperr.Conflict("possible duplicate of %s (same phone and birth date); resubmit with force=true to register anyway", dup.UHID)
			}
		}

		mid, err := s.resolveMID(ctx, req.MID)
		if err != nil {
			return err
		}
		p = &Patient{MID: mid, Active: true}
		req.apply(p, birth)
		return s.create(ctx, hospital, p)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// resolveMID validates a supplied MID against the registry or mints a fresh
// one that is not yet taken.
func (s *Service) resolveMID(ctx context.Context, supplied string) (string, error) {
	if supplied != "" {
		mid := NormalizeMID(supplied)
		if !ValidMID(mid) {
			return "", apperr.Invalid("invalid MID")
		}
		exists, err := s.registry.MIDExists(ctx, mid)
		if err != nil {
			return "", err
		}
		if !exists {
			return "", apperr.NotFound("MID")
		}
		if _, err := s.patients.GetByMID(ctx, mid); err == nil {
			return "", apperr.Conflict("MID %s is already registered at this hospital", mid)
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return "", err
		}
		return mid, nil
	}
	for i := 0; i < maxMIDAttempts; i++ {
		mid, err := s.newMID()
		if err != nil {
			return "", err
		}
		exists, err := s.registry.MIDExists(ctx, mid)
		if err != nil {
			return "", err
		}
		if !exists {
			return mid, nil
		}
	}
	return "", fmt.Errorf("could not allocate a unique MID after %d attempts", maxMIDAttempts)
}

// create assigns the UHID and writes the patient and registry rows. Callers
// run it inside a transaction.
func (s *Service) create(ctx context.Context, hospital string, p *Patient) error {
	seq, err := s.patients.NextUHIDSequence(ctx)
	if err != nil {
		return err
	}
	p.UHID = FormatUHID(hospital, seq)
	if err := s.patients.Create(ctx, p); err != nil {
		return err
	}
	return s.registry.Insert(ctx, recordFor(hospital, p))
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

func (s *Service) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	return s.patients.Search(ctx, q, limit, offset)
}

// Update is the coordinator edit. The registry summary is kept in step.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Patient, error) {
	birth, err := validateRequest(&req.RegisterRequest)
	if err != nil {
		return nil, err
	}
	var p *Patient
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		p, err = s.patients.GetByID(ctx, id)
		if err != nil {
			return err
		}
		req.apply(p, birth)
		if req.Active != nil {
			p.Active = *req.Active
		}
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		return s.registry.Update(ctx, recordFor(db.HospitalCodeFromContext(ctx), p))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateProfile applies a patient's own contact changes.
func (s *Service) UpdateProfile(ctx context.Context, id uuid.UUID, u ProfileUpdate) (*Patient, error) {
	var p *Patient
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		p, err = s.patients.GetByID(ctx, id)
		if err != nil {
			return err
		}
		u.apply(p)
		if err := s.patients.Update(ctx, p); err != nil {
			return err
		}
		return s.registry.Update(ctx, recordFor(db.HospitalCodeFromContext(ctx), p))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SearchMID is the universal search across hospitals.
func (s *Service) SearchMID(ctx context.Context, raw string) ([]MIDMatch, error) {
	mid := NormalizeMID(raw)
	if !ValidMID(mid) {
		return nil, apperr.Invalid("invalid MID")
	}
	records, err := s.registry.ListByMID(ctx, mid)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperr.NotFound("MID")
	}
	hospital := db.HospitalCodeFromContext(ctx)
	matches := make([]MIDMatch, 0, len(records))
	for _, r := range records {
		m := MIDMatch{
			MID:          r.MID,
			HospitalCode: r.HospitalCode,
			UHID:         r.UHID,
			Name:         strings.TrimSpace(r.FirstName + " " + r.LastName),
			BirthDate:    r.BirthDate.Format(time.DateOnly),
			Gender:       r.Gender,
			PhoneLast4:   r.PhoneLast4,
		}
		if r.HospitalCode == hospital {
			id := r.PatientID
			m.LocalPatientID = &id
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// ImportByMID creates a local patient from a registry row of another
// hospital. created is false when the MID was already registered here.
func (s *Service) ImportByMID(ctx context.Context, raw string) (p *Patient, created bool, err error) {
	mid := NormalizeMID(raw)
	if !ValidMID(mid) {
		return nil, false, apperr.Invalid("invalid MID")
	}
	hospital := db.HospitalCodeFromContext(ctx)
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		existing, err := s.patients.GetByMID(ctx, mid)
		if err == nil {
			p = existing
			return nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		records, err := s.registry.ListByMID(ctx, mid)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return apperr.NotFound("MID")
		}
		src := records[0]
		p = &Patient{
			MID:       mid,
			FirstName: src.FirstName,
			LastName:  src.LastName,
			BirthDate: src.BirthDate,
			Gender:    src.Gender,
			Active:    true,
		}
		created = true
		return s.create(ctx, hospital, p)
	})
	if err != nil {
		return nil, false, err
	}
	return p, created, nil
}

// VerifyIdentity matches a UHID and birth date for portal signup.
func (s *Service) VerifyIdentity(ctx context.Context, uhid string, birthDate time.Time) (uuid.UUID, error) {
	p, err := s.patients.GetByUHID(ctx, strings.ToUpper(strings.TrimSpace(uhid)))
	if err != nil {
		return uuid.Nil, err
	}
	if !p.Active || p.BirthDate.Format(time.DateOnly) != birthDate.Format(time.DateOnly) {
		return uuid.Nil, apperr.NotFound("patient")
	}
	return p.ID, nil
}
