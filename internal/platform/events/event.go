// Package events carries domain events between the API, the live queue board
// and the notification worker. Events go over a RabbitMQ topic exchange, or an
// in-process bus when no broker is configured.
package events

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event types double as AMQP routing keys.
const (
	AppointmentBooked      = "appointment.booked"
	AppointmentCancelled   = "appointment.cancelled"
	AppointmentRescheduled = "appointment.rescheduled"
	AppointmentCheckedIn   = "appointment.checked_in"
	AppointmentNoShow      = "appointment.no_show"
	TriageRecorded         = "triage.recorded"
	EncounterStarted       = "encounter.started"
	EncounterFinalized     = "encounter.finalized"
)

// Event is the envelope published for every state change.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Hospital   string          `json:"hospital"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// New builds an event with data marshalled as JSON.
func New(hospital, typ string, data interface{}) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s event: %w", typ, err)
	}
	return Event{
		ID:         uuid.NewString(),
		Type:       typ,
		Hospital:   hospital,
		OccurredAt: time.Now().UTC(),
		Data:       raw,
	}, nil
}

// Decode unmarshals the event payload into dst.
func (e Event) Decode(dst interface{}) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s event: %w", e.Type, err)
	}
	return nil
}

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Handler consumes events.
type Handler func(ctx context.Context, evt Event) error

// Matches reports whether routing key matches an AMQP topic pattern where
// '*' is one word and '#' is zero or more words.
func Matches(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	for len(p) > 0 {
		switch p[0] {
		case "#":
			if len(p) == 1 {
				return true
			}
			for i := 0; i <= len(k); i++ {
				if matchWords(p[1:], k[i:]) {
					return true
				}
			}
			return false
		case "*":
			if len(k) == 0 {
				return false
			}
		default:
			if len(k) == 0 || p[0] != k[0] {
				return false
			}
		}
		p, k = p[1:], k[1:]
	}
	return len(k) == 0
}

type subscription struct {
	patterns []string
	handler  Handler
}

// LocalBus delivers events synchronously to in-process handlers. Handler
// errors are logged and do not fail the publish.
type LocalBus struct {
	mu     sync.RWMutex
	subs   []subscription
	logger zerolog.Logger
}

func NewLocalBus(logger zerolog.Logger) *LocalBus {
	return &LocalBus{logger: logger}
}

// Subscribe registers h for events whose type matches any pattern.
func (b *LocalBus) Subscribe(h Handler, patterns ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{patterns: patterns, handler: h})
}

func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		for _, p := range s.patterns {
			if !Matches(p, evt.Type) {
				continue
			}
			if err := s.handler(ctx, evt); err != nil {
				b.logger.Warn().Err(err).Str("event", evt.Type).Str("event_id", evt.ID).Msg("local event handler failed")
			}
			break
		}
	}
	return nil
}

// Emit builds and publishes an event. Failures are logged, not returned, since
// callers emit after their transaction has committed.
func Emit(ctx context.Context, pub Publisher, logger zerolog.Logger, hospital, typ string, data interface{}) {
	if pub == nil {
		return
	}
	evt, err := New(hospital, typ, data)
	if err == nil {
		err = pub.Publish(ctx, evt)
	}
	if err != nil {
		logger.Error().Err(err).Str("event", typ).Str("hospital", hospital).Msg("publish event")
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }

// Fanout publishes to several publishers, returning the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evt Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
