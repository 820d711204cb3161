package encounter

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/platform/assist"
	"github.com/medmitra/medmitra/internal/platform/cache"
)

const assistSystemPrompt = `You are a clinical assistant helping a doctor during an outpatient consultation.
Answer concisely. Suggest, never decide: the doctor is responsible for every clinical choice.
Flag drug interactions and dose concerns you notice in the current prescription.`

type AssistRequest struct {
	Message string `json:"message" validate:"required,max=4000"`
}

// HistoryStore keeps the assist conversation of an encounter, newest last.
type HistoryStore interface {
	List(ctx context.Context, hospital string, encounterID uuid.UUID) ([]assist.Message, error)
	// Append adds msgs, keeps at most limit messages and resets the expiry.
	Append(ctx context.Context, hospital string, encounterID uuid.UUID, limit int, ttl time.Duration, msgs ...assist.Message) error
}

func historyKey(hospital string, encounterID uuid.UUID) string {
	return cache.Key("assist", hospital, encounterID.String())
}

type RedisHistory struct {
	rdb redis.Cmdable
}

func NewRedisHistory(rdb redis.Cmdable) *RedisHistory {
	return &RedisHistory{rdb: rdb}
}

func (r *RedisHistory) List(ctx context.Context, hospital string, encounterID uuid.UUID) ([]assist.Message, error) {
	raw, err := r.rdb.LRange(ctx, historyKey(hospital, encounterID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read assist history: %w", err)
	}
	out := make([]assist.Message, 0, len(raw))
	for _, s := range raw {
		var m assist.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil, fmt.Errorf("decode assist message: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *RedisHistory) Append(ctx context.Context, hospital string, encounterID uuid.UUID, limit int, ttl time.Duration, msgs ...assist.Message) error {
	key := historyKey(hospital, encounterID)
	vals := make([]interface{}, 0, len(msgs))
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode assist message: %w", err)
		}
		vals = append(vals, data)
	}
	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, vals...)
		p.LTrim(ctx, key, int64(-limit), -1)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append assist history: %w", err)
	}
	return nil
}

type memHistory struct {
	msgs    []assist.Message
	expires time.Time
}

// MemoryHistory is an in-process HistoryStore for development and tests.
type MemoryHistory struct {
	mu   sync.Mutex
	data map[string]*memHistory
	now  func() time.Time
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{data: make(map[string]*memHistory), now: time.Now}
}

func (m *MemoryHistory) List(_ context.Context, hospital string, encounterID uuid.UUID) ([]assist.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.data[historyKey(hospital, encounterID)]
	if !ok || !m.now().Before(h.expires) {
		return []assist.Message{}, nil
	}
	return append([]assist.Message(nil), h.msgs...), nil
}

func (m *MemoryHistory) Append(_ context.Context, hospital string, encounterID uuid.UUID, limit int, ttl time.Duration, msgs ...assist.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := historyKey(hospital, encounterID)
	h, ok := m.data[key]
	if !ok || !m.now().Before(h.expires) {
		h = &memHistory{}
		m.data[key] = h
	}
	h.msgs = append(h.msgs, msgs...)
	if len(h.msgs) > limit {
		h.msgs = h.msgs[len(h.msgs)-limit:]
	}
	h.expires = m.now().Add(ttl)
	return nil
}

// clinicalContext describes the consultation without anything that
// identifies the patient: no name, UHID, MID, phone or address.
func clinicalContext(p *patient.Patient, e *Encounter, meds []Medication, on time.Time) string {
	var b strings.Builder
	b.WriteString("Consultation context:\n")
	if p != nil {
		fmt.Fprintf(&b, "- Patient: %d years, %s\n", p.Age(on), p.Gender)
		if p.Allergies != nil && strings.TrimSpace(*p.Allergies) != "" {
			fmt.Fprintf(&b, "- Known allergies: %s\n", strings.TrimSpace(*p.Allergies))
		}
	}
	if v := e.Vitals; v != nil && !v.Empty() {
		var parts []string
		if v.BPSystolic != nil && v.BPDiastolic != nil {
			parts = append(parts, fmt.Sprintf("BP %d/%d mmHg", *v.BPSystolic, *v.BPDiastolic))
		}
		if v.Pulse != nil {
			parts = append(parts, fmt.Sprintf("pulse %d/min", *v.Pulse))
		}
		if v.TemperatureC != nil {
			parts = append(parts, fmt.Sprintf("temp %.1f C", *v.TemperatureC))
		}
		if v.SpO2 != nil {
			parts = append(parts, fmt.Sprintf("SpO2 %d%%", *v.SpO2))
		}
		if v.RespiratoryRate != nil {
			parts = append(parts, fmt.Sprintf("RR %d/min", *v.RespiratoryRate))
		}
		if v.WeightKg != nil {
			parts = append(parts, fmt.Sprintf("weight %.1f kg", *v.WeightKg))
		}
		if v.BMI != nil {
			parts = append(parts, fmt.Sprintf("BMI %.1f", *v.BMI))
		}
		if v.BloodSugarMgdl != nil {
			parts = append(parts, fmt.Sprintf("blood sugar %.0f mg/dL", *v.BloodSugarMgdl))
		}
		fmt.Fprintf(&b, "- Vitals: %s\n", strings.Join(parts, ", "))
	}
	if e.ChiefComplaint != nil && *e.ChiefComplaint != "" {
		fmt.Fprintf(&b, "- Chief complaint: %s\n", *e.ChiefComplaint)
	}
	if e.History != nil && *e.History != "" {
		fmt.Fprintf(&b, "- History: %s\n", *e.History)
	}
	if e.Examination != nil && *e.Examination != "" {
		fmt.Fprintf(&b, "- Examination: %s\n", *e.Examination)
	}
	if len(e.Diagnoses) > 0 {
		fmt.Fprintf(&b, "- Working diagnoses: %s\n", strings.Join(e.Diagnoses, "; "))
	}
	if len(meds) > 0 {
		b.WriteString("- Current prescription:\n")
		for _, m := range meds {
			fmt.Fprintf(&b, "  %d. %s %s %s for %d days\n", m.Position, m.Name, m.Dosage, m.Frequency, m.DurationDays)
		}
	}
	return b.String()
}

// Assist sends the doctor's message with the de-identified consultation
// context and the recent conversation, and records both turns.
func (s *Service) Assist(ctx context.Context, id uuid.UUID, message string) (*assist.Message, error) {
	if s.assistant == nil {
		return nil, assist.ErrNotConfigured
	}
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(ctx, e); err != nil {
		return nil, err
	}
	p, err := s.patients.Get(ctx, e.PatientID)
	if err != nil {
		return nil, err
	}
	meds, err := s.repo.Medications(ctx, id)
	if err != nil {
		return nil, err
	}
	hospital := hospitalCode(ctx)
	history, err := s.history.List(ctx, hospital, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	userMsg := assist.Message{Role: assist.RoleUser, Content: strings.TrimSpace(message), CreatedAt: now}
	history = append(history, userMsg)
	if len(history) > s.limits.AssistHistory {
		history = history[len(history)-s.limits.AssistHistory:]
	}
	system := assistSystemPrompt + "\n\n" + clinicalContext(p, e, meds, now.In(hospitalLocation(ctx)))
	reply, err := s.assistant.Complete(ctx, system, history)
	if err != nil {
		return nil, err
	}
	out := assist.Message{Role: assist.RoleAssistant, Content: reply, CreatedAt: s.now()}
	if err := s.history.Append(ctx, hospital, id, s.limits.AssistHistory, s.limits.DraftTTL, userMsg, out); err != nil {
		s.logger.Error().Err(err).Str("encounter_id", id.String()).Msg("failed to store assist history")
	}
	return &out, nil
}

func (s *Service) AssistHistory(ctx context.Context, id uuid.UUID) ([]assist.Message, error) {
	e, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(ctx, e); err != nil {
		return nil, err
	}
	return s.history.List(ctx, hospitalCode(ctx), id)
}
