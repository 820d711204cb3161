package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// JWTMiddleware authenticates bearer access tokens. A valid token puts a
// Principal in the request context and its hospital claim in "jwt_hospital"
// for the hospital middleware. Tokens whose JTI or session was revoked are
// rejected with 401 so clients fall back to their refresh flow.
func JWTMiddleware(signer *Signer, revoked RevocationStore, skipper func(echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}

			raw, err := bearerToken(c.Request().Header.Get("Authorization"))
			if err != nil {
				// Browsers cannot set headers on websocket handshakes.
				qt := c.QueryParam("access_token")
				if qt == "" || !c.IsWebSocket() {
					return err
				}
				raw = qt
			}

			p, err := signer.Verify(raw)
			if err != nil {
				if errors.Is(err, ErrTokenExpired) {
					return echo.NewHTTPError(http.StatusUnauthorized, "token expired")
				}
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			for _, key := range []string{p.TokenID, sessionRevocationKey(p.SessionID)} {
				gone, err := revoked.IsRevoked(ctx, key)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "session store unavailable")
				}
				if gone {
					return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
				}
			}

			if h := c.Request().Header.Get("X-Hospital-ID"); h != "" && h != p.Hospital {
				return echo.NewHTTPError(http.StatusForbidden, "token not valid for this hospital")
			}

			c.SetRequest(c.Request().WithContext(WithPrincipal(ctx, p)))
			c.Set("jwt_hospital", p.Hospital)
			c.Set("user_id", p.UserID)
			return next(c)
		}
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(token), nil
}
