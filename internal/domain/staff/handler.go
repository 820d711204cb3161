package staff

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
	admin := api.Group("/admin", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/doctors", h.CreateDoctor)
	admin.POST("/coordinators", h.CreateCoordinator)

	api.GET("/coordinator/coordinators", h.ListCoordinators, auth.RequireRole(auth.RoleCoordinator, auth.RoleAdmin))

	me := api.Group("/doctors/me", auth.RequireRole(auth.RoleDoctor), auth.RequireSubject())
	me.GET("/profile", h.GetProfile)
	me.PUT("/profile", h.UpdateProfile)
	me.GET("/preferences", h.GetPreferences)
	me.PUT("/preferences", h.SavePreferences)
	me.GET("/availability", h.GetAvailability)
	me.PUT("/availability", h.ReplaceAvailability)

	anyRole := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleCoordinator, auth.RoleAdmin)
	api.GET("/doctors", h.ListDoctors, anyRole)
	api.GET("/doctors/:id", h.GetDoctor, anyRole)
	api.GET("/doctors/:id/slots", h.Slots, anyRole)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func doctorID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.SubjectIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no doctor record linked to this account")
	}
	return id, nil
}

func (h *Handler) CreateDoctor(c echo.Context) error {
	var req CreateDoctorRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.CreateDoctor(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) CreateCoordinator(c echo.Context) error {
	var req CreateCoordinatorRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	co, err := h.svc.CreateCoordinator(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, co)
}

func (h *Handler) ListCoordinators(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCoordinators(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListDoctors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListDoctors(c.Request().Context(), c.QueryParam("specialty"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDoctor(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) Slots(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	slots, err := h.svc.Slots(c.Request().Context(), id, c.QueryParam("date"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": slots})
}

func (h *Handler) GetProfile(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDoctor(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	var req DoctorProfileUpdate
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.UpdateDoctorProfile(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetPreferences(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.GetPreferences(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SavePreferences(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	var req PreferencesRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.SavePreferences(c.Request().Context(), id, req.SectionOrder)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) GetAvailability(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	rules, err := h.svc.Availability(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}

func (h *Handler) ReplaceAvailability(c echo.Context) error {
	id, err := doctorID(c)
	if err != nil {
		return err
	}
	var req AvailabilityRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	rules, err := h.svc.ReplaceAvailability(c.Request().Context(), id, req.Rules)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"rules": rules})
}
