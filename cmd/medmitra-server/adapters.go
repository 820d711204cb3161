package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/notification"
)

// PartiesResolver is the part of the encounter service attachments need.
type PartiesResolver interface {
	EncounterParties(ctx context.Context, encounterID uuid.UUID) (patientID, doctorID uuid.UUID, err error)
}

// lateEncounterLookup satisfies documents.EncounterLookup before the
// encounter service exists; encounter reads attachments, so documents has to
// be built first.
type lateEncounterLookup struct {
	target PartiesResolver
}

func (l *lateEncounterLookup) EncounterParties(ctx context.Context, encounterID uuid.UUID) (uuid.UUID, uuid.UUID, error) {
	if l.target == nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("encounter lookup not wired: %w", apperr.ErrUnavailable)
	}
	return l.target.EncounterParties(ctx, encounterID)
}

// HospitalGetter resolves a hospital code.
type HospitalGetter interface {
	Get(ctx context.Context, code string) (*db.Hospital, error)
}

// PatientGetter loads a patient from the hospital in ctx.
type PatientGetter interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// DoctorNamer returns a doctor's display name from the hospital in ctx.
type DoctorNamer interface {
	DoctorName(ctx context.Context, id uuid.UUID) (string, error)
}

// hospitalScope runs fn against one hospital's schema.
type hospitalScope func(ctx context.Context, h *db.Hospital, fn func(ctx context.Context) error) error

func poolScope(pool *pgxpool.Pool) hospitalScope {
	return func(ctx context.Context, h *db.Hospital, fn func(ctx context.Context) error) error {
		return db.WithHospitalConn(ctx, pool, h, fn)
	}
}

// directory implements notification.Directory over the patient and staff
// services. Worker deliveries carry no request connection, so every lookup
// opens its own hospital-scoped one.
type directory struct {
	hospitals HospitalGetter
	patients  PatientGetter
	doctors   DoctorNamer
	scope     hospitalScope
}

var _ notification.Directory = (*directory)(nil)

func (d *directory) HospitalName(ctx context.Context, code string) (string, *time.Location, error) {
	h, err := d.hospitals.Get(ctx, code)
	if err != nil {
		return "", nil, err
	}
	return h.Name, h.Location(), nil
}

func (d *directory) PatientContact(ctx context.Context, code, patientID string) (notification.Contact, error) {
	id, err := uuid.Parse(patientID)
	if err != nil {
		return notification.Contact{}, apperr.Invalid("patient id %q", patientID)
	}
	h, err := d.hospitals.Get(ctx, code)
	if err != nil {
		return notification.Contact{}, err
	}
	var contact notification.Contact
	err = d.scope(ctx, h, func(ctx context.Context) error {
		p, err := d.patients.Get(ctx, id)
		if err != nil {
			return err
		}
		contact.Name = p.FullName()
		contact.Phone = p.Phone
		if p.Email != nil {
			contact.Email = *p.Email
		}
		return nil
	})
	return contact, err
}

func (d *directory) DoctorName(ctx context.Context, code, doctorID string) (string, error) {
	id, err := uuid.Parse(doctorID)
	if err != nil {
		return "", apperr.Invalid("doctor id %q", doctorID)
	}
	h, err := d.hospitals.Get(ctx, code)
	if err != nil {
		return "", err
	}
	var name string
	err = d.scope(ctx, h, func(ctx context.Context) error {
		name, err = d.doctors.DoctorName(ctx, id)
		return err
	})
	return name, err
}

var (
	_ PatientGetter = (*patient.Service)(nil)
	_ DoctorNamer   = (*staff.Service)(nil)
)
