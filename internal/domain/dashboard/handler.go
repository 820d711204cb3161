package dashboard

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/coordinator/dashboard", h.Coordinator, auth.RequireRole(auth.RoleCoordinator, auth.RoleAdmin))
	api.GET("/doctors/me/dashboard", h.Doctor, auth.RequireRole(auth.RoleDoctor), auth.RequireSubject())
	api.GET("/patients/me/dashboard", h.Patient, auth.RequireRole(auth.RolePatient), auth.RequireSubject())
}

func subjectID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.SubjectIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no record linked to this account")
	}
	return id, nil
}

func (h *Handler) Coordinator(c echo.Context) error {
	v, err := h.svc.Coordinator(c.Request().Context(), c.QueryParam("date"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Doctor(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Doctor(c.Request().Context(), id, c.QueryParam("date"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) Patient(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}
	v, err := h.svc.Patient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, v)
}
