package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/events"
)

var (
	coordinator = &auth.Principal{UserID: "u1", Role: auth.RoleCoordinator, Hospital: "sunrise", SubjectID: "c1"}
	doctor      = &auth.Principal{UserID: "u2", Role: auth.RoleDoctor, Hospital: "sunrise", SubjectID: "d1"}
	patient     = &auth.Principal{UserID: "u3", Role: auth.RolePatient, Hospital: "sunrise", SubjectID: "p1"}
)

func TestCanSubscribe(t *testing.T) {
	cases := []struct {
		name  string
		p     *auth.Principal
		topic string
		want  bool
	}{
		{"coordinator queue", coordinator, "hospital:sunrise:queue", true},
		{"coordinator any doctor", coordinator, "hospital:sunrise:doctor:d9", true},
		{"other hospital", coordinator, "hospital:citycare:queue", false},
		{"doctor own topic", doctor, "hospital:sunrise:doctor:d1", true},
		{"doctor other doctor", doctor, "hospital:sunrise:doctor:d2", false},
		{"doctor queue", doctor, "hospital:sunrise:queue", true},
		{"patient own", patient, "hospital:sunrise:patient:p1", true},
		{"patient other", patient, "hospital:sunrise:patient:p2", false},
		{"patient queue", patient, "hospital:sunrise:queue", false},
		{"unknown topic", coordinator, "hospital:sunrise:billing", false},
		{"nil principal", nil, "hospital:sunrise:queue", false},
	}
	for _, c := range cases {
		if got := CanSubscribe(c.p, c.topic); got != c.want {
			t.Errorf("%s: CanSubscribe(%s) = %v, want %v", c.name, c.topic, got, c.want)
		}
	}
}

func TestHub_SubscribeFiltersForbiddenTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("c", doctor, 8)
	hub.Register(c)

	granted := hub.Subscribe(c, []string{
		DoctorTopic("sunrise", "d1"),
		DoctorTopic("sunrise", "d2"),
		QueueTopic("citycare"),
	})
	if len(granted) != 1 || granted[0] != DoctorTopic("sunrise", "d1") {
		t.Fatalf("unexpected grants %v", granted)
	}
	if hub.TopicCount(DoctorTopic("sunrise", "d2")) != 0 {
		t.Error("forbidden topic should have no subscribers")
	}

	hub.Subscribe(c, []string{DoctorTopic("sunrise", "d1")})
	if len(c.Topics) != 1 {
		t.Errorf("duplicate subscribe should be ignored, topics=%v", c.Topics)
	}
}

func TestHub_UnregisterCleansUp(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("c", coordinator, 8)
	hub.Register(c)
	hub.Subscribe(c, []string{QueueTopic("sunrise")})
	hub.Unregister(c)

	if hub.ClientCount() != 0 || hub.TopicCount(QueueTopic("sunrise")) != 0 {
		t.Fatal("expected hub to be empty")
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected send channel to be closed")
	}
	hub.Unregister(c)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("c", coordinator, 8)
	hub.Register(c)
	hub.ProcessMessage(c, ClientMessage{Action: "subscribe", Topics: []string{QueueTopic("sunrise"), DoctorTopic("sunrise", "d1")}})
	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{QueueTopic("sunrise")}})

	if hub.TopicCount(QueueTopic("sunrise")) != 0 {
		t.Error("expected queue topic to be empty")
	}
	if len(c.Topics) != 1 || c.Topics[0] != DoctorTopic("sunrise", "d1") {
		t.Errorf("unexpected remaining topics %v", c.Topics)
	}
}

func TestHub_BroadcastDropsWhenFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := NewClient("c", coordinator, 1)
	hub.Register(c)
	hub.Subscribe(c, []string{QueueTopic("sunrise")})

	hub.Broadcast(QueueTopic("sunrise"), Message{Type: "a"})
	hub.Broadcast(QueueTopic("sunrise"), Message{Type: "b"})

	if len(c.Send) != 1 {
		t.Fatalf("expected 1 buffered message, got %d", len(c.Send))
	}
}

func TestTopics(t *testing.T) {
	evt, _ := events.New("sunrise", events.AppointmentCheckedIn, map[string]string{"doctor_id": "d1", "patient_id": "p1"})
	got := Topics(evt)
	want := []string{"hospital:sunrise:queue", "hospital:sunrise:doctor:d1", "hospital:sunrise:patient:p1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Topics = %v, want %v", got, want)
	}
}

func TestHub_Relay(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	coord := NewClient("coord", coordinator, 8)
	doc := NewClient("doc", doctor, 8)
	pat := NewClient("pat", patient, 8)
	for _, c := range []*Client{coord, doc, pat} {
		hub.Register(c)
	}
	hub.Subscribe(coord, []string{QueueTopic("sunrise")})
	hub.Subscribe(doc, []string{DoctorTopic("sunrise", "d1")})
	hub.Subscribe(pat, []string{PatientTopic("sunrise", "p1")})

	evt, _ := events.New("sunrise", events.TriageRecorded, map[string]string{"doctor_id": "d1", "patient_id": "p1"})
	if err := hub.Relay(context.Background(), evt); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{coord, doc, pat} {
		select {
		case data := <-c.Send:
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("%s: bad frame: %v", c.ID, err)
			}
			if msg.Type != events.TriageRecorded || msg.EventID != evt.ID {
				t.Errorf("%s: unexpected message %+v", c.ID, msg)
			}
		default:
			t.Errorf("%s: expected a message", c.ID)
		}
	}
}

func TestHandler_EndToEnd(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, []string{"*"})

	e := echo.New()
	e.GET("/ws", h.Connect, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(auth.WithPrincipal(c.Request().Context(), coordinator)))
			return next(c)
		}
	})
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topic=" + QueueTopic("sunrise")
	conn, _, err := gorillawebsocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount(QueueTopic("sunrise")) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(QueueTopic("sunrise"), Message{Type: events.AppointmentCheckedIn})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), events.AppointmentCheckedIn) {
		t.Errorf("unexpected frame %s", data)
	}
}

func TestHandler_RequiresPrincipal(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ws", nil), httptest.NewRecorder())
	err := h.Connect(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}
