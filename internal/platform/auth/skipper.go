package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication and, apart from the auth endpoints,
// hospital resolution. Matched against the registered route path.
var publicPaths = map[string]bool{
	"/health":                      true,
	"/health/db":                   true,
	"/api/v1/auth/login":           true,
	"/api/v1/auth/refresh":         true,
	"/api/v1/auth/patients/signup": true,
}

// AuthSkipper reports whether the request's route is public.
func AuthSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public route.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// IsInfraPath reports whether path is a health endpoint that needs neither
// authentication nor a hospital.
func IsInfraPath(path string) bool {
	return path == "/health" || path == "/health/db"
}
