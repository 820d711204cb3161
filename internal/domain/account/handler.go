package account

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medmitra/medmitra/internal/platform/apperr"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/validate"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the auth endpoints. loginLimit throttles the
// credential-checking routes.
func (h *Handler) RegisterRoutes(api *echo.Group, loginLimit echo.MiddlewareFunc) {
	g := api.Group("/auth")
	g.POST("/login", h.Login, loginLimit)
	g.POST("/refresh", h.Refresh)
	g.POST("/patients/signup", h.Signup, loginLimit)
	g.POST("/logout", h.Logout)
	g.GET("/me", h.Me)
	g.POST("/password", h.ChangePassword, loginLimit)
}

func unauthorized(err error) error {
	return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
}

func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	pair, err := h.svc.Login(c.Request().Context(), req.Login, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		return unauthorized(err)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) Refresh(c echo.Context) error {
	var req RefreshRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	pair, err := h.svc.Refresh(c.Request().Context(), req.RefreshToken)
	if errors.Is(err, auth.ErrRefreshInvalid) || errors.Is(err, auth.ErrRefreshReused) {
		return unauthorized(auth.ErrRefreshInvalid)
	}
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pair)
}

func (h *Handler) Signup(c echo.Context) error {
	var req SignupRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	pair, err := h.svc.Signup(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, pair)
}

func (h *Handler) Logout(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req LogoutRequest
	if err := c.Bind(&req); err != nil && c.Request().ContentLength > 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.Logout(c.Request().Context(), p, req.RefreshToken); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Me(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	u, err := h.svc.Me(c.Request().Context(), p)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, MeResponse{User: u, Hospital: db.HospitalCodeFromContext(c.Request().Context())})
}

func (h *Handler) ChangePassword(c echo.Context) error {
	p := auth.PrincipalFromContext(c.Request().Context())
	if p == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	var req ChangePasswordRequest
	if err := validate.BindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.Request().Context(), p, req.CurrentPassword, req.NewPassword); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
