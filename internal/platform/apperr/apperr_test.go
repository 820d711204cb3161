package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
)

func TestStatus(t *testing.T) {
	cases := map[error]int{
		NotFound("patient"):                      http.StatusNotFound,
		Conflict("slot taken"):                   http.StatusConflict,
		Invalid("bad date %q", "x"):              http.StatusBadRequest,
		Forbidden("not yours"):                   http.StatusForbidden,
		fmt.Errorf("assist: %w", ErrUnavailable): http.StatusServiceUnavailable,
		errors.New("boom"):                       http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := Status(err); got != want {
			t.Errorf("Status(%v) = %d, want %d", err, got, want)
		}
	}
}

func TestToHTTP_HidesInternalErrors(t *testing.T) {
	err := ToHTTP(errors.New("connection refused to 10.0.0.3"))
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T", err)
	}
	if he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", he.Code)
	}
	if he.Message != "internal server error" {
		t.Errorf("expected generic message, got %v", he.Message)
	}
	if he.Internal == nil {
		t.Error("expected internal error to be preserved")
	}
}

func TestToHTTP_PassesThroughHTTPError(t *testing.T) {
	orig := echo.NewHTTPError(http.StatusTeapot, "tea")
	if got := ToHTTP(orig); got != orig {
		t.Errorf("expected original error back, got %v", got)
	}
}

func TestFromDB(t *testing.T) {
	if err := FromDB(pgx.ErrNoRows, "encounter"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "uq_appointment_slot"}
	if err := FromDB(dup, "appointment"); !errors.Is(err, ErrConflict) {
		t.Errorf("expected conflict, got %v", err)
	}
	if !IsUniqueViolation(dup, "uq_appointment_slot") {
		t.Error("expected unique violation on named constraint")
	}
	if IsUniqueViolation(dup, "other") {
		t.Error("expected no match for other constraint")
	}

	fk := &pgconn.PgError{Code: "23503"}
	if err := FromDB(fk, "appointment"); !errors.Is(err, ErrInvalid) {
		t.Errorf("expected invalid, got %v", err)
	}

	if FromDB(nil, "x") != nil {
		t.Error("expected nil for nil error")
	}
}
