package staff

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/validate"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	e := echo.New()
	e.Validator = validate.New()
	return NewHandler(svc), e
}

func doctorRequestCtx(method, body string, doctorID uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	ctx := auth.WithPrincipal(hospitalCtx(), &auth.Principal{Role: auth.RoleDoctor, SubjectID: doctorID.String()})
	return req.WithContext(ctx)
}

func TestHandler_CreateDoctor(t *testing.T) {
	h, e := newTestHandler()
	body := `{"first_name":"Ravi","specialty":"ENT","registration_number":"R1","phone":"9876500000","email":"ravi@example.com","password":"secret123"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.CreateDoctor(e.NewContext(req.WithContext(hospitalCtx()), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "secret123") {
		t.Error("password must not be echoed")
	}
}

func TestHandler_SavePreferences_UnknownSection(t *testing.T) {
	h, e := newTestHandler()
	c := e.NewContext(doctorRequestCtx(http.MethodPut, `{"section_order":["vitals","billing"]}`, uuid.New()), httptest.NewRecorder())
	err := h.SavePreferences(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_ReplaceAvailability(t *testing.T) {
	h, e := newTestHandler()
	rec := httptest.NewRecorder()
	body := `{"rules":[{"weekday":1,"start_time":"09:00","end_time":"12:00","slot_minutes":15}]}`
	if err := h.ReplaceAvailability(e.NewContext(doctorRequestCtx(http.MethodPut, body, uuid.New()), rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"slot_minutes":15`) {
		t.Errorf("unexpected response %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_ReplaceAvailability_BadClock(t *testing.T) {
	h, e := newTestHandler()
	body := `{"rules":[{"weekday":1,"start_time":"9am","end_time":"12:00","slot_minutes":15}]}`
	err := h.ReplaceAvailability(e.NewContext(doctorRequestCtx(http.MethodPut, body, uuid.New()), httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Slots_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/?date=2026-03-02", nil).WithContext(hospitalCtx())
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.Slots(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
