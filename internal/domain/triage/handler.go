package triage

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/coordinator/appointments/:id/triage", auth.RequireRole(auth.RoleCoordinator, auth.RoleAdmin))
	g.POST("", h.Record)
	g.PUT("", h.Amend)
	g.GET("", h.Get)
}

func parseRequest(c echo.Context) (uuid.UUID, uuid.UUID, *Request, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	by, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, uuid.Nil, nil, echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req Request
	if err := validate.BindAndValidate(c, &req); err != nil {
		return uuid.Nil, uuid.Nil, nil, err
	}
	return id, by, &req, nil
}

func (h *Handler) Record(c echo.Context) error {
	id, by, req, err := parseRequest(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Record(c.Request().Context(), id, by, *req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Amend(c echo.Context) error {
	id, by, req, err := parseRequest(c)
	if err != nil {
		return err
	}
	t, err := h.svc.Amend(c.Request().Context(), id, by, *req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	t, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}
