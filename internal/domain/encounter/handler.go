package encounter

import (
	"errors"
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
	doctor := []echo.MiddlewareFunc{auth.RequireRole(auth.RoleDoctor), auth.RequireSubject()}
	anyone := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleCoordinator, auth.RoleAdmin)

	api.POST("/doctors/me/appointments/:id/encounter", h.Start, doctor...)
	api.GET("/doctors/me/patients/:id/encounters", h.ListForPatient, doctor...)
	api.GET("/coordinator/patients/:id/encounters", h.ListForPatient, auth.RequireRole(auth.RoleCoordinator, auth.RoleAdmin))

	me := api.Group("/patients/me/encounters", auth.RequireRole(auth.RolePatient), auth.RequireSubject())
	me.GET("", h.ListMine)
	me.GET("/:id/bundle", h.Bundle)

	g := api.Group("/encounters/:id")
	g.GET("", h.Get, anyone)
	g.GET("/bundle", h.Bundle, anyone)
	g.PUT("", h.Update, doctor...)
	g.PUT("/medications", h.SetMedications, doctor...)
	g.POST("/finalize", h.Finalize, doctor...)
	g.GET("/draft", h.GetDraft, doctor...)
	g.PUT("/draft", h.SaveDraft, doctor...)
	g.DELETE("/draft", h.DeleteDraft, doctor...)
	g.GET("/assist", h.AssistHistory, doctor...)
	g.POST("/assist", h.Assist, doctor...)
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

func (h *Handler) Start(c echo.Context) error {
	doctorID, err := subjectID(c)
	if err != nil {
		return err
	}
	apptID, err := parseID(c)
	if err != nil {
		return err
	}
	var req StartRequest
	if c.Request().ContentLength != 0 {
		if err := validate.BindAndValidate(c, &req); err != nil {
			return err
		}
	}
	e, created, err := h.svc.Start(c.Request().Context(), doctorID, apptID, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, e)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) Bundle(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.Bundle(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
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
	e, err := h.svc.Update(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) SetMedications(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req MedicationsRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	meds, err := h.svc.SetMedications(c.Request().Context(), id, req.Medications)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": meds})
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	e, err := h.svc.Finalize(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListMine(c echo.Context) error {
	id, err := subjectID(c)
	if err != nil {
		return err
	}
	return h.list(c, id)
}

func (h *Handler) ListForPatient(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	return h.list(c, id)
}

func (h *Handler) list(c echo.Context, patientID uuid.UUID) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) GetDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := h.svc.GetDraft(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) SaveDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req SaveDraftRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	d, err := h.svc.SaveDraft(c.Request().Context(), id, req)
	var conflict *DraftConflictError
	if errors.As(err, &conflict) {
		body := map[string]any{"message": conflict.Error(), "revision": int64(0), "current": conflict.Current}
		if conflict.Current != nil {
			body["revision"] = conflict.Current.Revision
		}
		return c.JSON(http.StatusConflict, body)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) DeleteDraft(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteDraft(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Assist(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var req AssistRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	msg, err := h.svc.Assist(c.Request().Context(), id, req.Message)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, msg)
}

func (h *Handler) AssistHistory(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	msgs, err := h.svc.AssistHistory(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": msgs})
}
