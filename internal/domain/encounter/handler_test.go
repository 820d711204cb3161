package encounter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/domain/appointment"
	"github.com/medmitra/medmitra/internal/platform/validate"
)

func newContext(ctx context.Context, method, body, id string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	e.Validator = validate.New()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req.WithContext(ctx), rec)
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestHandler_Start(t *testing.T) {
	f := newFixture()
	a := f.appointment(appointment.StatusTriaged)
	h := NewHandler(f.svc)

	c, rec := newContext(f.doctorCtx(), http.MethodPost, "", a.ID.String())
	if err := h.Start(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c, rec = newContext(f.doctorCtx(), http.MethodPost, "", a.ID.String())
	if err := h.Start(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("repeat start should return 200, got %d", rec.Code)
	}
}

func TestHandler_SetMedications_BadFrequency(t *testing.T) {
	f := newFixture()
	e := f.started(t)
	body := `{"medications":[{"name":"Paracetamol","dosage":"500 mg","frequency":"twice","duration_days":3}]}`
	c, _ := newContext(f.doctorCtx(), http.MethodPut, body, e.ID.String())

	err := NewHandler(f.svc).SetMedications(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Finalize_Undocumented(t *testing.T) {
	f := newFixture()
	e := f.started(t)
	c, _ := newContext(f.doctorCtx(), http.MethodPost, "", e.ID.String())

	err := NewHandler(f.svc).Finalize(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_SaveDraft_Conflict(t *testing.T) {
	f := newFixture()
	e := f.started(t)
	h := NewHandler(f.svc)

	c, rec := newContext(f.doctorCtx(), http.MethodPut, `{"base_revision":0,"payload":{"cc":"fever"}}`, e.ID.String())
	if err := h.SaveDraft(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	c, rec = newContext(f.doctorCtx(), http.MethodPut, `{"base_revision":0,"payload":{"cc":"cough"}}`, e.ID.String())
	if err := h.SaveDraft(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body struct {
		Revision int64  `json:"revision"`
		Current  *Draft `json:"current"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Revision != 1 || body.Current == nil || !strings.Contains(string(body.Current.Payload), "fever") {
		t.Errorf("conflict body should carry the stored draft, got %s", rec.Body.String())
	}
}

func TestHandler_Assist_Unconfigured(t *testing.T) {
	f := newFixture()
	e := f.started(t)
	f.svc.assistant = nil
	c, _ := newContext(f.doctorCtx(), http.MethodPost, `{"message":"hi"}`, e.ID.String())

	err := NewHandler(f.svc).Assist(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %v", err)
	}
}

func TestHandler_Get_BadID(t *testing.T) {
	f := newFixture()
	c, _ := newContext(f.doctorCtx(), http.MethodGet, "", "nope")
	err := NewHandler(f.svc).Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Get_OtherDoctor(t *testing.T) {
	f := newFixture()
	e := f.started(t)
	c, _ := newContext(ctxAs("doctor", uuid.New()), http.MethodGet, "", e.ID.String())
	err := NewHandler(f.svc).Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}
