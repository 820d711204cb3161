package patient

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
	coord := api.Group("/coordinator/patients", auth.RequireRole(auth.RoleCoordinator, auth.RoleAdmin))
	coord.POST("", h.Register)
	coord.GET("", h.Search)
	coord.GET("/mid/:mid", h.SearchMID)
	coord.POST("/import", h.Import)
	coord.GET("/:id", h.Get)
	coord.PUT("/:id", h.Update)

	me := api.Group("/patients/me", auth.RequireRole(auth.RolePatient), auth.RequireSubject())
	me.GET("/profile", h.GetProfile)
	me.PUT("/profile", h.UpdateProfile)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// subjectID is the patient record behind the caller's token.
func subjectID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(auth.SubjectIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusForbidden, "no patient record linked to this account")
	}
	return id, nil
}

func (h *Handler) Register(c echo.Context) error {
	var req RegisterRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Register(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) Search(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Search(c.Request().Context(), c.QueryParam("q"), pg.Limit, pg.Offset)
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
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req UpdateRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) SearchMID(c echo.Context) error {
	matches, err := h.svc.SearchMID(c.Request().Context(), c.Param("mid"))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": matches})
}

func (h *Handler) Import(c echo.Context) error {
	var req ImportRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, created, err := h.svc.ImportByMID(c.Request().Context(), req.MID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, p)
}

func (h *Handler) GetProfile(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) UpdateProfile(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}
	var req ProfileUpdate
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	p, err := h.svc.UpdateProfile(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}
