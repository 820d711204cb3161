package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/medmitra/medmitra/pkg/pagination"
)

// Page selects a window of a list endpoint. Zero values use the server
// defaults.
type Page struct {
	Limit  int
	Offset int
}

func (p Page) apply(q url.Values) {
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

type dataEnvelope[T any] struct {
	Data T `json:"data"`
}

// -- Session --

// Login opens a session and stores its tokens.
func (c *Client) Login(ctx context.Context, login, password string) (*TokenPair, error) {
	var pair TokenPair
	err := c.do(ctx, http.MethodPost, apiPrefix+"/auth/login", loginRequest{Login: login, Password: password}, &pair)
	if err != nil {
		return nil, err
	}
	c.tokens.Save(Tokens{Access: pair.AccessToken, Refresh: pair.RefreshToken})
	return &pair, nil
}

// Logout ends the session on the server and forgets the local tokens even
// if the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	refresh := c.tokens.Load().Refresh
	err := c.do(ctx, http.MethodPost, apiPrefix+"/auth/logout", logoutRequest{RefreshToken: refresh}, nil)
	c.tokens.Clear()
	return err
}

func (c *Client) Me(ctx context.Context) (*MeResponse, error) {
	var me MeResponse
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/auth/me", nil, &me); err != nil {
		return nil, err
	}
	return &me, nil
}

// -- Patient portal --

func (c *Client) PatientProfile(ctx context.Context) (*Patient, error) {
	var p Patient
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/patients/me/profile", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *Client) UpdatePatientProfile(ctx context.Context, u ProfileUpdate) (*Patient, error) {
	var p Patient
	if err := c.do(ctx, http.MethodPut, apiPrefix+"/patients/me/profile", u, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MyAppointments lists the caller's appointments. scope is "upcoming" (the
// default when empty) or "past".
func (c *Client) MyAppointments(ctx context.Context, scope string, page Page) (*pagination.Response[*Appointment], error) {
	q := url.Values{}
	if scope != "" {
		q.Set("scope", scope)
	}
	page.apply(q)
	var out pagination.Response[*Appointment]
	if err := c.do(ctx, http.MethodGet, withQuery(apiPrefix+"/patients/me/appointments", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) BookAppointment(ctx context.Context, req BookRequest) (*Appointment, error) {
	var a Appointment
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/appointments", req, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// DoctorSlots returns a doctor's slots on date (YYYY-MM-DD, hospital time).
func (c *Client) DoctorSlots(ctx context.Context, doctorID uuid.UUID, date string) ([]Slot, error) {
	q := url.Values{"date": {date}}
	var out dataEnvelope[[]Slot]
	if err := c.do(ctx, http.MethodGet, withQuery(apiPrefix+"/doctors/"+doctorID.String()+"/slots", q), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// -- Coordinator portal --

// AppointmentQuery filters the coordinator's day list.
type AppointmentQuery struct {
	Date     string
	Status   string
	DoctorID *uuid.UUID
	Page     Page
}

func (c *Client) CoordinatorAppointments(ctx context.Context, f AppointmentQuery) (*pagination.Response[*Appointment], error) {
	q := url.Values{}
	if f.Date != "" {
		q.Set("date", f.Date)
	}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.DoctorID != nil {
		q.Set("doctor_id", f.DoctorID.String())
	}
	f.Page.apply(q)
	var out pagination.Response[*Appointment]
	if err := c.do(ctx, http.MethodGet, withQuery(apiPrefix+"/coordinator/appointments", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckIn(ctx context.Context, appointmentID uuid.UUID) (*Appointment, error) {
	var a Appointment
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/coordinator/appointments/"+appointmentID.String()+"/check-in", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Client) RecordTriage(ctx context.Context, appointmentID uuid.UUID, req TriageRequest) (*Triage, error) {
	var tr Triage
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/coordinator/appointments/"+appointmentID.String()+"/triage", req, &tr); err != nil {
		return nil, err
	}
	return &tr, nil
}

// SearchMID looks a MedMitra ID up across hospitals.
func (c *Client) SearchMID(ctx context.Context, mid string) ([]MIDMatch, error) {
	var out dataEnvelope[[]MIDMatch]
	if err := c.do(ctx, http.MethodGet, apiPrefix+"/coordinator/patients/mid/"+url.PathEscape(mid), nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

// -- Doctor portal --

// StartEncounter opens (or returns the existing) encounter for an
// appointment.
func (c *Client) StartEncounter(ctx context.Context, appointmentID uuid.UUID, allowUntriaged bool) (*Encounter, error) {
	var e Encounter
	req := startRequest{AllowUntriaged: allowUntriaged}
	if err := c.do(ctx, http.MethodPost, apiPrefix+"/doctors/me/appointments/"+appointmentID.String()+"/encounter", req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *Client) EncounterBundle(ctx context.Context, id uuid.UUID) (*Bundle, error) {
	var b Bundle
	if err := c.do(ctx, http.MethodGet, encounterPath(id, "/bundle"), nil, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (c *Client) SaveEncounter(ctx context.Context, id uuid.UUID, req EncounterUpdate) (*Encounter, error) {
	var e Encounter
	if err := c.do(ctx, http.MethodPut, encounterPath(id, ""), req, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// SetMedications replaces the prescription.
func (c *Client) SetMedications(ctx context.Context, id uuid.UUID, meds []MedicationInput) ([]Medication, error) {
	var out dataEnvelope[[]Medication]
	req := medicationsRequest{Medications: meds}
	if err := c.do(ctx, http.MethodPut, encounterPath(id, "/medications"), req, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) FinalizeEncounter(ctx context.Context, id uuid.UUID) (*Encounter, error) {
	var e Encounter
	if err := c.do(ctx, http.MethodPost, encounterPath(id, "/finalize"), nil, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetDraft returns the saved draft, or nil when there is none.
func (c *Client) GetDraft(ctx context.Context, id uuid.UUID) (*Draft, error) {
	var d Draft
	err := c.do(ctx, http.MethodGet, encounterPath(id, "/draft"), nil, &d)
	if IsStatus(err, http.StatusNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// DraftConflict is returned by SaveDraft when baseRevision is stale.
type DraftConflict struct {
	Revision int64
	Current  *Draft
	err      *APIError
}

func (e *DraftConflict) Error() string { return "draft conflict: server has revision " + strconv.FormatInt(e.Revision, 10) }

func (e *DraftConflict) Unwrap() error {
	if e.err == nil {
		return nil
	}
	return e.err
}

// SaveDraft stores payload on top of baseRevision.
func (c *Client) SaveDraft(ctx context.Context, id uuid.UUID, baseRevision int64, payload json.RawMessage) (*Draft, error) {
	var d Draft
	req := saveDraftRequest{BaseRevision: baseRevision, Payload: payload}
	err := c.do(ctx, http.MethodPut, encounterPath(id, "/draft"), req, &d)
	var ae *APIError
	if errors.As(err, &ae) && ae.Status == http.StatusConflict {
		conflict := &DraftConflict{err: ae}
		var body struct {
			Revision int64  `json:"revision"`
			Current  *Draft `json:"current"`
		}
		if json.Unmarshal(ae.body, &body) == nil {
			conflict.Revision = body.Revision
			conflict.Current = body.Current
		}
		return nil, conflict
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Assist sends one message to the clinical assistant for this encounter.
func (c *Client) Assist(ctx context.Context, id uuid.UUID, message string) (*AssistMessage, error) {
	var m AssistMessage
	if err := c.do(ctx, http.MethodPost, encounterPath(id, "/assist"), assistRequest{Message: message}, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func encounterPath(id uuid.UUID, suffix string) string {
	return apiPrefix + "/encounters/" + id.String() + suffix
}
