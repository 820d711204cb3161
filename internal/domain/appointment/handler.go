package appointment

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/validate"
	"github.com/medmitra/medmitra/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/appointments", h.Book, auth.RequireRole(auth.RolePatient, auth.RoleCoordinator, auth.RoleAdmin))

	patient := api.Group("/patients/me/appointments", auth.RequireRole(auth.RolePatient), auth.RequireSubject())
	patient.GET("", h.ListMine)
	patient.POST("/:id/cancel", h.CancelMine)

	api.GET("/doctors/me/appointments", h.ListForDoctor, auth.RequireRole(auth.RoleDoctor), auth.RequireSubject())

	coord := api.Group("/coordinator/appointments", auth.RequireRole(auth.RoleCoordinator, auth.RoleAdmin))
	coord.GET("", h.ListForCoordinator)
	coord.GET("/:id", h.Get)
	coord.POST("/:id/check-in", h.CheckIn)
	coord.POST("/:id/cancel", h.Cancel)
	coord.POST("/:id/no-show", h.NoShow)
	coord.POST("/:id/reschedule", h.Reschedule)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func subjectID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.SubjectIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no record linked to this account")
	}
	return id, nil
}

func (h *Handler) Book(c echo.Context) error {
	var req BookRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	ctx := c.Request().Context()
	p := auth.PrincipalFromContext(ctx)
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	bookedBy, err := uuid.Parse(p.UserID)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
	}

	var patientID uuid.UUID
	if p.Is(auth.RolePatient) {
		if patientID, err = subjectID(c); err != nil {
			return err
		}
	} else {
		if req.PatientID == nil {
			return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
		}
		patientID = *req.PatientID
	}

	a, err := h.svc.Book(ctx, patientID, bookedBy, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListMine(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), id, c.QueryParam("scope"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) CancelMine(c echo.Context) error {
	patientID, err := subjectID(c)
	if err != nil {
		return err
	}
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CancelOwn(c.Request().Context(), patientID, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListForDoctor(c echo.Context) error {
	doctorID, err := subjectID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForDay(c.Request().Context(), c.QueryParam("date"), c.QueryParam("status"), &doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListForCoordinator(c echo.Context) error {
	var doctorID *uuid.UUID
	if raw := c.QueryParam("doctor_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		doctorID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForDay(c.Request().Context(), c.QueryParam("date"), c.QueryParam("status"), doctorID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CheckIn(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.CheckIn(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req CancelRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Cancel(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) NoShow(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.NoShow(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Reschedule(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req RescheduleRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	a, err := h.svc.Reschedule(c.Request().Context(), id, req.StartTime)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}
