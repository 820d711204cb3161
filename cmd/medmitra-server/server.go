package main

import (
	"context"
	crypto_rand "crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medmitra/medmitra/internal/config"
	"github.com/medmitra/medmitra/internal/domain/account"
	"github.com/medmitra/medmitra/internal/domain/appointment"
	"github.com/medmitra/medmitra/internal/domain/dashboard"
	"github.com/medmitra/medmitra/internal/domain/documents"
	"github.com/medmitra/medmitra/internal/domain/encounter"
	"github.com/medmitra/medmitra/internal/domain/medication"
	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/domain/triage"
	"github.com/medmitra/medmitra/internal/platform/assist"
	"github.com/medmitra/medmitra/internal/platform/auth"
	"github.com/medmitra/medmitra/internal/platform/blobstore"
	"github.com/medmitra/medmitra/internal/platform/cache"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/events"
	"github.com/medmitra/medmitra/internal/platform/middleware"
	"github.com/medmitra/medmitra/internal/platform/notification"
	"github.com/medmitra/medmitra/internal/platform/validate"
	"github.com/medmitra/medmitra/internal/platform/websocket"
)

const (
	hospitalCacheTTL = time.Minute
	requestTimeout   = 60 * time.Second
	loginPerMinute   = 10
	shutdownTimeout  = 10 * time.Second
)

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.BurstSize = cfg.RateLimitBurst
	}
	return rl
}

// signingSecret returns the configured JWT secret. Development without one
// gets a random per-process secret, so tokens do not survive a restart.
func signingSecret(cfg *config.Config, logger zerolog.Logger) ([]byte, error) {
	if cfg.JWTSecret != "" {
		return []byte(cfg.JWTSecret), nil
	}
	if !cfg.IsDev() {
		return nil, errors.New("JWT_SECRET is required outside development")
	}
	secret := make([]byte, 32)
	if _, err := crypto_rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	logger.Warn().Msg("JWT_SECRET not set; using an ephemeral signing key")
	return secret, nil
}

// stores are the Redis-backed state holders, or in-memory ones in
// development.
type stores struct {
	sessions    auth.SessionStore
	revocations auth.RevocationStore
	drafts      encounter.DraftStore
	history     encounter.HistoryStore
	close       func()
}

func newStores(rdb *redis.Client) stores {
	if rdb != nil {
		return stores{
			sessions:    auth.NewRedisSessions(rdb),
			revocations: auth.NewRedisRevocations(rdb),
			drafts:      encounter.NewRedisDrafts(rdb),
			history:     encounter.NewRedisHistory(rdb),
			close:       func() {},
		}
	}
	revoked := auth.NewMemoryRevocations(time.Minute)
	return stores{
		sessions:    auth.NewMemorySessions(),
		revocations: revoked,
		drafts:      encounter.NewMemoryDrafts(),
		history:     encounter.NewMemoryHistory(),
		close:       revoked.Close,
	}
}

func runServer() error {
	// Logger
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	var checks []db.Check

	// Redis
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		checks = append(checks, db.Check{Name: "redis", Probe: cache.Probe(rdb)})
		logger.Info().Msg("connected to redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set; sessions, drafts and assist history are kept in memory")
	}
	st := newStores(rdb)
	defer st.close()

	secret, err := signingSecret(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("jwt signing key")
	}
	signer := auth.NewSigner(secret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	sessions := auth.NewSessions(st.sessions, st.revocations, signer, cfg.RefreshTokenTTL)

	hospitals := db.NewCachedHospitals(db.NewHospitalStore(pool), hospitalCacheTTL)

	// Realtime
	hub := websocket.NewHub(logger)
	var pub events.Publisher
	var bus *events.LocalBus
	if cfg.AMQPURL != "" {
		conn, err := events.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to rabbitmq")
		}
		defer conn.Close()
		amqpPub, err := events.NewAMQPPublisher(conn)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open event publisher")
		}
		defer amqpPub.Close()
		pub = amqpPub

		instance := uuid.NewString()[:8]
		relay := events.NewConsumer(conn, realtimeQueue(instance), logger)
		go func() {
			if err := relay.Run(runCtx, hub.Relay); err != nil {
				logger.Error().Err(err).Msg("realtime consumer stopped")
			}
		}()
		logger.Info().Str("instance", instance).Msg("publishing events to rabbitmq")
	} else {
		bus = events.NewLocalBus(logger)
		bus.Subscribe(hub.Relay, "#")
		pub = bus
		logger.Warn().Msg("AMQP_URL not set; events are delivered in process")
	}

	// Object storage
	var store blobstore.Store
	if cfg.MinioEndpoint != "" {
		ms, err := blobstore.NewMinioStore(ctx, blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to open object storage")
		}
		store = ms
		checks = append(checks, db.Check{Name: "minio", Probe: ms.Probe})
	} else {
		store = blobstore.NewMemoryStore(fmt.Sprintf("http://localhost:%s/blobs", cfg.Port))
		logger.Warn().Msg("MINIO_ENDPOINT not set; attachments are kept in memory")
	}

	var assistant assist.Completer
	if cfg.AssistEnabled() {
		assistant = assist.New(cfg.AssistURL, cfg.AssistAPIKey, cfg.AssistModel)
	}

	// Services
	tx := db.RequestTx{}
	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool), patient.NewRegistryRepoPG(pool), tx)
	accountSvc := account.NewService(account.NewUserRepoPG(pool), sessions, patientSvc, tx)
	staffSvc := staff.NewService(
		staff.NewDoctorRepoPG(pool), staff.NewCoordinatorRepoPG(pool),
		staff.NewPreferencesRepoPG(pool), staff.NewAvailabilityRepoPG(pool),
		accountSvc, tx,
	)
	appointmentSvc := appointment.NewService(appointment.NewRepoPG(pool), staffSvc, tx, pub, logger)
	staffSvc.SetBookingLookup(appointmentSvc)
	triageSvc := triage.NewService(triage.NewRepoPG(pool), appointmentSvc, tx, pub, logger)
	medicationSvc := medication.NewService(medication.NewRepoPG(pool))

	encounters := &lateEncounterLookup{}
	documentSvc := documents.NewService(documents.NewRepoPG(pool), store, encounters, logger)
	encounterSvc := encounter.NewService(encounter.Deps{
		Repo:         encounter.NewRepoPG(pool),
		Appointments: appointmentSvc,
		Patients:     patientSvc,
		Doctors:      staffSvc,
		Vitals:       triageSvc,
		Catalog:      medicationSvc,
		Attachments:  documentSvc,
		Drafts:       st.drafts,
		History:      st.history,
		Assistant:    assistant,
		Tx:           tx,
		Publisher:    pub,
		Logger:       logger,
	}, encounter.Limits{
		DraftTTL:      cfg.DraftTTL,
		DraftMaxBytes: cfg.DraftMaxBytes,
		AssistHistory: cfg.AssistHistory,
	})
	encounters.target = encounterSvc
	dashboardSvc := dashboard.NewService(dashboard.NewRepoPG(pool))

	if bus != nil {
		dir := &directory{hospitals: hospitals, patients: patientSvc, doctors: staffSvc, scope: poolScope(pool)}
		sender := notification.LogSender{Logger: logger}
		notifier := notification.NewNotifier(dir, notification.NewTemplateEngine(), sender, sender, logger)
		bus.Subscribe(notifier.Handle, notificationQueue().Bindings...)
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(echomw.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Hospital-ID"},
	}))
	e.Use(middleware.RequestTimeout(requestTimeout, "/api/v1/ws"))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, checks...))

	jwt := auth.JWTMiddleware(signer, st.revocations, auth.AuthSkipper)

	// The websocket group skips hospital resolution, which would pin a
	// pooled connection for the life of the socket.
	wsGroup := e.Group("/api/v1", jwt)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(wsGroup)

	apiV1 := e.Group("/api/v1")
	apiV1.Use(jwt)
	apiV1.Use(db.HospitalMiddleware(pool, hospitals, cfg.DefaultHospital))
	apiV1.Use(middleware.RateLimit(rateLimitConfig(cfg)))

	account.NewHandler(accountSvc).RegisterRoutes(apiV1, middleware.LoginRateLimit(loginPerMinute))
	patient.NewHandler(patientSvc).RegisterRoutes(apiV1)
	staff.NewHandler(staffSvc).RegisterRoutes(apiV1)
	appointment.NewHandler(appointmentSvc).RegisterRoutes(apiV1)
	triage.NewHandler(triageSvc).RegisterRoutes(apiV1)
	medication.NewHandler(medicationSvc).RegisterRoutes(apiV1)
	documents.NewHandler(documentSvc).RegisterRoutes(apiV1)
	encounter.NewHandler(encounterSvc).RegisterRoutes(apiV1)
	dashboard.NewHandler(dashboardSvc).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stopBackground()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
