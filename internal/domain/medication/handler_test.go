package medication

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/validate"
)

func TestHandler_CreateAndSearch(t *testing.T) {
	h := NewHandler(NewService(newMockRepo()))
	e := echo.New()
	e.Validator = validate.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Montek LC","form":"tablet"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.Create(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	if err := h.Search(e.NewContext(httptest.NewRequest(http.MethodGet, "/?q=mon", nil), rec)); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !strings.Contains(rec.Body.String(), "Montek LC") {
		t.Errorf("expected match, got %s", rec.Body.String())
	}
}

func TestHandler_Create_BadForm(t *testing.T) {
	h := NewHandler(NewService(newMockRepo()))
	e := echo.New()
	e.Validator = validate.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"X","form":"powder"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	err := h.Create(e.NewContext(req, httptest.NewRecorder()))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}
