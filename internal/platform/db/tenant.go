package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	HospitalKey contextKey = "hospital"
	DBConnKey   contextKey = "db_conn"
	TxKey       contextKey = "db_tx"
)

var hospitalCodePattern = regexp.MustCompile(`^[a-z0-9_]{2,32}$`)

// ValidHospitalCode reports whether code is usable as a schema suffix.
func ValidHospitalCode(code string) bool {
	return hospitalCodePattern.MatchString(code)
}

// SchemaName returns the tenant schema for a hospital code.
func SchemaName(code string) string {
	return "tenant_" + code
}

// HospitalMiddleware resolves the hospital for the request, checks it is a
// registered active hospital, and pins a pooled connection whose search_path
// points at the hospital schema. Repositories pick the connection up through
// ConnFromContext.
func HospitalMiddleware(pool *pgxpool.Pool, hospitals HospitalLookup, defaultHospital string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			code := extractHospital(c, defaultHospital)

			if !ValidHospitalCode(code) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid hospital identifier")
			}

			ctx := c.Request().Context()
			h, err := hospitals.Get(ctx, code)
			if err != nil {
				if errors.Is(err, ErrUnknownHospital) {
					return echo.NewHTTPError(http.StatusBadRequest, "unknown hospital")
				}
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			if !h.Active {
				return echo.NewHTTPError(http.StatusBadRequest, "hospital is inactive")
			}

			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()
			defer conn.Exec(context.Background(), "RESET search_path")

			_, err = conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", SchemaName(code)))
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "hospital resolution failed")
			}

			ctx = WithHospital(ctx, h)
			ctx = context.WithValue(ctx, DBConnKey, conn)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("hospital", code)

			return next(c)
		}
	}
}

func extractHospital(c echo.Context, defaultHospital string) string {
	// 1. JWT claim (set by auth middleware)
	if code, ok := c.Get("jwt_hospital").(string); ok && code != "" {
		return code
	}

	// 2. X-Hospital-ID header
	if code := c.Request().Header.Get("X-Hospital-ID"); code != "" {
		return code
	}

	// 3. Query parameter
	if code := c.QueryParam("hospital"); code != "" {
		return code
	}

	return defaultHospital
}

// WithHospital stores the resolved hospital in ctx.
func WithHospital(ctx context.Context, h *Hospital) context.Context {
	return context.WithValue(ctx, HospitalKey, h)
}

// HospitalFromContext retrieves the resolved hospital from context.
func HospitalFromContext(ctx context.Context) *Hospital {
	h, _ := ctx.Value(HospitalKey).(*Hospital)
	return h
}

// HospitalCodeFromContext retrieves the hospital code, or "" when unresolved.
func HospitalCodeFromContext(ctx context.Context) string {
	if h := HospitalFromContext(ctx); h != nil {
		return h.Code
	}
	return ""
}

// ConnFromContext retrieves the hospital-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// CreateHospitalSchema creates the schema for a hospital and runs the tenant
// migrations in migrationsDir against it. An empty migrationsDir skips
// migrations.
func CreateHospitalSchema(ctx context.Context, pool *pgxpool.Pool, code string, migrationsDir string) error {
	if !ValidHospitalCode(code) {
		return fmt.Errorf("invalid hospital code: %s", code)
	}

	schema := SchemaName(code)

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}

	if migrationsDir != "" {
		migrator := NewMigrator(pool, migrationsDir)
		if _, err := migrator.Up(ctx, schema); err != nil {
			return fmt.Errorf("run migrations for %s: %w", schema, err)
		}
	}

	return nil
}

// WithHospitalConn runs fn with a connection scoped to the hospital schema,
// for work that happens outside an HTTP request (workers, CLI).
func WithHospitalConn(ctx context.Context, pool *pgxpool.Pool, h *Hospital, fn func(ctx context.Context) error) error {
	if !ValidHospitalCode(h.Code) {
		return fmt.Errorf("invalid hospital code: %s", h.Code)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()
	defer conn.Exec(context.Background(), "RESET search_path")

	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", SchemaName(h.Code))); err != nil {
		return fmt.Errorf("set search_path: %w", err)
	}
	ctx = WithHospital(ctx, h)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return fn(ctx)
}
