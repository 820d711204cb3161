// Package notification turns domain events into patient SMS and email
// messages rendered from {{key}} templates.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/platform/events"
)

// Channel is how a message is delivered.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Template IDs.
const (
	TplAppointmentBooked      = "appointment-booked"
	TplAppointmentCancelled   = "appointment-cancelled"
	TplAppointmentRescheduled = "appointment-rescheduled"
	TplPrescriptionReady      = "prescription-ready"
)

// EmailSender delivers email.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender delivers SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// Template is a subject/body pair with {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
}

// TemplateEngine holds the templates and renders them.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	for _, t := range []Template{
		{
			ID:      TplAppointmentBooked,
			Subject: "Appointment confirmed with {{doctor}}",
			Body:    "Hi {{patient}}, your appointment with {{doctor}} at {{hospital}} is confirmed for {{when}}.",
		},
		{
			ID:      TplAppointmentCancelled,
			Subject: "Appointment cancelled",
			Body:    "Hi {{patient}}, your appointment with {{doctor}} on {{when}} has been cancelled.",
		},
		{
			ID:      TplAppointmentRescheduled,
			Subject: "Appointment moved to {{when}}",
			Body:    "Hi {{patient}}, your appointment with {{doctor}} has been moved to {{when}}.",
		},
		{
			ID:      TplPrescriptionReady,
			Subject: "Your prescription from {{doctor}}",
			Body:    "Hi {{patient}}, your visit summary and prescription from {{doctor}} are ready in the MedMitra patient portal.",
		},
	} {
		e.templates[t.ID] = t
	}
	return e
}

// Register adds or replaces a template.
func (e *TemplateEngine) Register(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Unknown placeholders are kept.
func (e *TemplateEngine) Render(id string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[id]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}
	pairs := make([]string, 0, len(data)*2)
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// Contact is where a patient can be reached.
type Contact struct {
	Name  string
	Phone string
	Email string
}

// Directory resolves the people an event refers to. Implementations run
// against the hospital named in the event.
type Directory interface {
	HospitalName(ctx context.Context, hospital string) (string, *time.Location, error)
	PatientContact(ctx context.Context, hospital, patientID string) (Contact, error)
	DoctorName(ctx context.Context, hospital, doctorID string) (string, error)
}

// payload is the union of fields appointment and encounter events carry.
type payload struct {
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	StartTime time.Time `json:"start_time"`
}

var templateFor = map[string]string{
	events.AppointmentBooked:      TplAppointmentBooked,
	events.AppointmentCancelled:   TplAppointmentCancelled,
	events.AppointmentRescheduled: TplAppointmentRescheduled,
	events.EncounterFinalized:     TplPrescriptionReady,
}

// Bindings are the routing keys the notifier cares about.
var Bindings = []string{"appointment.*", events.EncounterFinalized}

// Notifier sends patient messages for domain events.
type Notifier struct {
	dir       Directory
	templates *TemplateEngine
	email     EmailSender
	sms       SMSSender
	logger    zerolog.Logger
}

func NewNotifier(dir Directory, templates *TemplateEngine, email EmailSender, sms SMSSender, logger zerolog.Logger) *Notifier {
	return &Notifier{dir: dir, templates: templates, email: email, sms: sms, logger: logger}
}

// Handle is an events.Handler. Events without a template are ignored. A
// patient with neither phone nor email is skipped. Delivery errors are
// returned so the consumer can retry.
func (n *Notifier) Handle(ctx context.Context, evt events.Event) error {
	tpl, ok := templateFor[evt.Type]
	if !ok {
		return nil
	}
	var p payload
	if err := evt.Decode(&p); err != nil {
		return err
	}
	if p.PatientID == "" {
		return nil
	}

	hospitalName, loc, err := n.dir.HospitalName(ctx, evt.Hospital)
	if err != nil {
		return fmt.Errorf("resolve hospital: %w", err)
	}
	contact, err := n.dir.PatientContact(ctx, evt.Hospital, p.PatientID)
	if err != nil {
		return fmt.Errorf("resolve patient: %w", err)
	}
	doctor := ""
	if p.DoctorID != "" {
		if doctor, err = n.dir.DoctorName(ctx, evt.Hospital, p.DoctorID); err != nil {
			return fmt.Errorf("resolve doctor: %w", err)
		}
	}

	data := map[string]string{
		"patient":  contact.Name,
		"doctor":   doctor,
		"hospital": hospitalName,
	}
	if !p.StartTime.IsZero() {
		if loc == nil {
			loc = time.UTC
		}
		data["when"] = p.StartTime.In(loc).Format("Mon 2 Jan 2006, 3:04 PM")
	}

	subject, body, err := n.templates.Render(tpl, data)
	if err != nil {
		return err
	}

	var errs []error
	sent := 0
	if contact.Phone != "" && n.sms != nil {
		if err := n.sms.SendSMS(ctx, contact.Phone, body); err != nil {
			errs = append(errs, fmt.Errorf("sms: %w", err))
		} else {
			sent++
		}
	}
	if contact.Email != "" && n.email != nil {
		if err := n.email.SendEmail(ctx, contact.Email, subject, body); err != nil {
			errs = append(errs, fmt.Errorf("email: %w", err))
		} else {
			sent++
		}
	}

	n.logger.Info().
		Str("event", evt.Type).
		Str("event_id", evt.ID).
		Str("hospital", evt.Hospital).
		Str("template", tpl).
		Int("sent", sent).
		Msg("notification processed")
	// Only retry when nothing went out, to avoid duplicate messages.
	if sent == 0 && len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogSender writes messages to the log instead of a provider. It is the
// default until an SMS gateway or SMTP relay is configured.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("channel", string(ChannelEmail)).Str("to", maskRecipient(to)).Str("subject", subject).Int("body_len", len(body)).Msg("email")
	return nil
}

func (s LogSender) SendSMS(_ context.Context, to, body string) error {
	s.Logger.Info().Str("channel", string(ChannelSMS)).Str("to", maskRecipient(to)).Int("body_len", len(body)).Msg("sms")
	return nil
}

// maskRecipient keeps the last four characters of a phone or email.
func maskRecipient(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
