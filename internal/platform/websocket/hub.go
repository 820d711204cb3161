// Package websocket pushes live queue updates to coordinator and doctor
// screens. Clients subscribe to topics and the hub fans events out to them.
package websocket

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/events"
)

// Message is what clients receive.
type Message struct {
	Type       string          `json:"type"`
	Topic      string          `json:"topic"`
	EventID    string          `json:"event_id,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound frame: {"action":"subscribe","topics":[...]}.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// QueueTopic is the hospital-wide queue board topic.
func QueueTopic(hospital string) string {
	return "hospital:" + hospital + ":queue"
}

// DoctorTopic carries updates for one doctor's own queue.
func DoctorTopic(hospital, doctorID string) string {
	return "hospital:" + hospital + ":doctor:" + doctorID
}

// PatientTopic carries updates about one patient's appointments.
func PatientTopic(hospital, patientID string) string {
	return "hospital:" + hospital + ":patient:" + patientID
}

// CanSubscribe decides whether a caller may listen on topic. Callers are
// confined to their own hospital; doctors and patients only see their own
// personal topic; the queue board is staff-only.
func CanSubscribe(p *auth.Principal, topic string) bool {
	if p == nil {
		return false
	}
	prefix := "hospital:" + p.Hospital + ":"
	if !strings.HasPrefix(topic, prefix) {
		return false
	}
	rest := strings.TrimPrefix(topic, prefix)
	switch {
	case rest == "queue":
		return p.Role == auth.RoleCoordinator || p.Role == auth.RoleDoctor || p.Role == auth.RoleAdmin
	case strings.HasPrefix(rest, "doctor:"):
		id := strings.TrimPrefix(rest, "doctor:")
		return p.Role == auth.RoleCoordinator || p.Role == auth.RoleAdmin ||
			p.Role == auth.RoleDoctor && id == p.SubjectID
	case strings.HasPrefix(rest, "patient:"):
		return p.Role == auth.RolePatient && strings.TrimPrefix(rest, "patient:") == p.SubjectID
	}
	return false
}

// Client is one websocket connection.
type Client struct {
	ID        string
	Principal *auth.Principal
	Topics    []string
	Send      chan []byte
}

func NewClient(id string, p *auth.Principal, buffer int) *Client {
	return &Client{ID: id, Principal: p, Send: make(chan []byte, buffer)}
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[c] = struct{}{}
}

// Unregister drops the client from every topic and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[c]; !ok {
		return
	}
	for _, topic := range c.Topics {
		h.removeLocked(topic, c)
	}
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) removeLocked(topic string, c *Client) {
	if subs, ok := h.clients[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.clients, topic)
		}
	}
}

// Subscribe adds the topics the client is allowed to see and returns them.
// Topics it may not see are dropped silently.
func (h *Hub) Subscribe(c *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	var granted []string
	for _, topic := range topics {
		if !CanSubscribe(c.Principal, topic) {
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][c]; dup {
			continue
		}
		h.clients[topic][c] = struct{}{}
		c.Topics = append(c.Topics, topic)
		granted = append(granted, topic)
	}
	return granted
}

func (h *Hub) Unsubscribe(c *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]bool, len(topics))
	for _, t := range topics {
		drop[t] = true
		h.removeLocked(t, c)
	}
	kept := c.Topics[:0]
	for _, t := range c.Topics {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	c.Topics = kept
}

// ProcessMessage applies an inbound client frame.
func (h *Hub) ProcessMessage(c *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(c, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(c, msg.Topics)
	}
}

// Broadcast sends msg to every subscriber of topic. Slow clients whose buffer
// is full miss the message.
func (h *Hub) Broadcast(topic string, msg Message) {
	msg.Topic = topic
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("marshal websocket message")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[topic] {
		select {
		case c.Send <- data:
		default:
			h.logger.Debug().Str("client", c.ID).Str("topic", topic).Msg("client buffer full, dropping message")
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// eventRefs is the part of an event payload the relay routes on.
type eventRefs struct {
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
}

// Topics returns the topics an event is delivered to.
func Topics(evt events.Event) []string {
	var refs eventRefs
	_ = json.Unmarshal(evt.Data, &refs)

	topics := []string{QueueTopic(evt.Hospital)}
	if refs.DoctorID != "" {
		topics = append(topics, DoctorTopic(evt.Hospital, refs.DoctorID))
	}
	if refs.PatientID != "" {
		topics = append(topics, PatientTopic(evt.Hospital, refs.PatientID))
	}
	return topics
}

// Relay is an events.Handler that forwards domain events to subscribers.
func (h *Hub) Relay(_ context.Context, evt events.Event) error {
	msg := Message{
		Type:       evt.Type,
		EventID:    evt.ID,
		OccurredAt: evt.OccurredAt,
		Data:       evt.Data,
	}
	for _, topic := range Topics(evt) {
		h.Broadcast(topic, msg)
	}
	return nil
}
