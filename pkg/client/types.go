package client

import (
	"github.com/medmitra/medmitra/internal/domain/account"
	"github.com/medmitra/medmitra/internal/domain/appointment"
	"github.com/medmitra/medmitra/internal/domain/documents"
	"github.com/medmitra/medmitra/internal/domain/encounter"
	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/domain/triage"
	"github.com/medmitra/medmitra/internal/platform/assist"
	"github.com/medmitra/medmitra/internal/platform/auth"
)

// Wire types of the portal API. They alias the server's own definitions so
// callers outside this module can build requests and read responses without
// importing internal packages, and the two sides cannot drift.
type (
	TokenPair = auth.TokenPair

	User       = account.User
	MeResponse = account.MeResponse

	Patient       = patient.Patient
	ProfileUpdate = patient.ProfileUpdate
	MIDMatch      = patient.MIDMatch

	Doctor = staff.Doctor
	Slot   = staff.Slot

	Appointment = appointment.Appointment
	BookRequest = appointment.BookRequest

	Vitals        = triage.Vitals
	Payment       = triage.Payment
	TriageRequest = triage.Request
	Triage        = triage.Triage

	Encounter          = encounter.Encounter
	EncounterUpdate    = encounter.UpdateRequest
	MedicationInput    = encounter.MedicationInput
	Medication         = encounter.Medication
	Bundle             = encounter.Bundle
	Draft              = encounter.Draft
	Attachment         = documents.Attachment
	AssistMessage      = assist.Message
	startRequest       = encounter.StartRequest
	medicationsRequest = encounter.MedicationsRequest
	saveDraftRequest   = encounter.SaveDraftRequest
	assistRequest      = encounter.AssistRequest
	loginRequest       = account.LoginRequest
	logoutRequest      = account.LogoutRequest
)
