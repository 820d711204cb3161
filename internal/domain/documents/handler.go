package documents

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/blobstore"
	"github.com/medmitra/medmitra/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	staff := auth.RequireRole(auth.RoleDoctor, auth.RoleCoordinator, auth.RoleAdmin)
	api.POST("/encounters/:id/attachments", h.Upload, staff)
	api.GET("/encounters/:id/attachments", h.ListForEncounter, staff)
	api.GET("/patients/me/attachments", h.ListMine, auth.RequireRole(auth.RolePatient), auth.RequireSubject())

	anyRole := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleCoordinator, auth.RoleAdmin)
	api.GET("/attachments/:id/download", h.Download, anyRole)
	api.DELETE("/attachments/:id", h.Delete, staff)
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func toHTTP(err error) error {
	if errors.Is(err, blobstore.ErrFileTooLarge) {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "file exceeds 20 MiB")
	}
	return apperr.ToHTTP(err)
}

func (h *Handler) Upload(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart field 'file' is required")
	}
	f, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable upload")
	}
	defer f.Close()

	a, err := h.svc.Upload(c.Request().Context(), id, Upload{
		FileName: fh.Filename,
		Category: c.FormValue("category"),
		Size:     fh.Size,
	}, f)
	if err != nil {
		return toHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListForEncounter(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListForEncounter(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) ListMine(c echo.Context) error {
	patientID, err := uuid.Parse(auth.SubjectIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusForbidden, "no patient record linked to this account")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListForPatient(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Download(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	url, err := h.svc.DownloadURL(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.Redirect(http.StatusFound, url)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
