package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medmitra/medmitra/internal/config"
	"github.com/medmitra/medmitra/internal/domain/patient"
	"github.com/medmitra/medmitra/internal/domain/staff"
	"github.com/medmitra/medmitra/internal/platform/db"
	"github.com/medmitra/medmitra/internal/platform/events"
	"github.com/medmitra/medmitra/internal/platform/notification"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medmitra-server",
		Short: "MedMitra hospital portal API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(hospitalCmd())
	rootCmd.AddCommand(workerCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// migrationTarget is one schema and the directory migrated into it.
type migrationTarget struct {
	Schema string
	Dir    string
}

// migrationTargets lists the schemas a migrate command touches: shared first,
// then each selected hospital.
func migrationTargets(root, scope, only string, hospitals []*db.Hospital) ([]migrationTarget, error) {
	var targets []migrationTarget
	if scope == "" || scope == db.ScopeShared {
		targets = append(targets, migrationTarget{Schema: "shared", Dir: db.ScopeDir(root, db.ScopeShared)})
	}
	if scope != "" && scope != db.ScopeShared && scope != db.ScopeTenant {
		return nil, fmt.Errorf("unknown scope %q (want shared or tenant)", scope)
	}
	if scope == db.ScopeShared {
		return targets, nil
	}
	matched := false
	for _, h := range hospitals {
		if only != "" && h.Code != only {
			continue
		}
		matched = true
		targets = append(targets, migrationTarget{Schema: db.SchemaName(h.Code), Dir: db.ScopeDir(root, db.ScopeTenant)})
	}
	if only != "" && !matched {
		return nil, fmt.Errorf("hospital %q is not registered", only)
	}
	return targets, nil
}

// listHospitals returns the registered hospitals unless only the shared scope
// was asked for.
func listHospitals(ctx context.Context, pool *pgxpool.Pool, scope string) ([]*db.Hospital, error) {
	if scope == db.ScopeShared {
		return nil, nil
	}
	return db.NewHospitalStore(pool).List(ctx)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to the shared schema and every hospital",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			only, _ := cmd.Flags().GetString("hospital")
			dir, _ := cmd.Flags().GetString("dir")
			if scope != "" && scope != db.ScopeShared && scope != db.ScopeTenant {
				return fmt.Errorf("unknown scope %q (want shared or tenant)", scope)
			}

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			if scope == "" || scope == db.ScopeShared {
				n, err := db.NewMigrator(pool, db.ScopeDir(dir, db.ScopeShared)).Up(ctx, "shared")
				if err != nil {
					return fmt.Errorf("migrate shared: %w", err)
				}
				fmt.Printf("%-24s applied %d migration(s)\n", "shared", n)
			}
			if scope == db.ScopeShared {
				return nil
			}

			hospitals, err := listHospitals(ctx, pool, scope)
			if err != nil {
				return err
			}
			targets, err := migrationTargets(dir, db.ScopeTenant, only, hospitals)
			if err != nil {
				return err
			}
			for _, t := range targets {
				n, err := db.NewMigrator(pool, t.Dir).Up(ctx, t.Schema)
				if err != nil {
					return fmt.Errorf("migrate %s: %w", t.Schema, err)
				}
				fmt.Printf("%-24s applied %d migration(s)\n", t.Schema, n)
			}
			return nil
		},
	}
	addMigrateFlags(upCmd)
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, _ := cmd.Flags().GetString("scope")
			only, _ := cmd.Flags().GetString("hospital")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			hospitals, err := listHospitals(ctx, pool, scope)
			if err != nil {
				return err
			}
			targets, err := migrationTargets(dir, scope, only, hospitals)
			if err != nil {
				return err
			}
			for _, t := range targets {
				statuses, err := db.NewMigrator(pool, t.Dir).Status(ctx, t.Schema)
				if err != nil {
					return fmt.Errorf("status %s: %w", t.Schema, err)
				}
				fmt.Printf("\nMigration status for schema: %s\n", t.Schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, statusLabel(s), appliedAt(s))
				}
			}
			return nil
		},
	}
	addMigrateFlags(statusCmd)
	cmd.AddCommand(statusCmd)

	return cmd
}

func addMigrateFlags(cmd *cobra.Command) {
	cmd.Flags().String("scope", "", "Limit to one scope: shared or tenant")
	cmd.Flags().String("hospital", "", "Limit tenant migrations to one hospital code")
	cmd.Flags().String("dir", "./migrations", "Path to the migrations root")
}

func statusLabel(s db.MigrationStatus) string {
	switch {
	case s.Modified:
		return "modified"
	case s.Applied:
		return "applied"
	default:
		return "pending"
	}
}

func appliedAt(s db.MigrationStatus) string {
	if s.AppliedAt == nil {
		return ""
	}
	return s.AppliedAt.Format("2006-01-02 15:04:05")
}

func hospitalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hospital",
		Short: "Manage hospitals",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a hospital schema, migrate it and register it",
		RunE: func(cmd *cobra.Command, args []string) error {
			code, _ := cmd.Flags().GetString("code")
			name, _ := cmd.Flags().GetString("name")
			tz, _ := cmd.Flags().GetString("timezone")
			dir, _ := cmd.Flags().GetString("dir")
			if code == "" || name == "" {
				return fmt.Errorf("--code and --name are required")
			}
			if !db.ValidHospitalCode(code) {
				return fmt.Errorf("invalid hospital code %q: use 2-32 of a-z, 0-9, _", code)
			}

			ctx := context.Background()
			cfg, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if tz == "" {
				tz = cfg.Timezone
			}

			fmt.Printf("Creating schema %s\n", db.SchemaName(code))
			if err := db.CreateHospitalSchema(ctx, pool, code, db.ScopeDir(dir, db.ScopeTenant)); err != nil {
				return err
			}
			h := &db.Hospital{Code: code, Name: name, Timezone: tz, Active: true}
			if err := db.NewHospitalStore(pool).Register(ctx, h); err != nil {
				return err
			}
			fmt.Printf("Hospital %s registered (%s)\n", code, tz)
			return nil
		},
	}
	createCmd.Flags().String("code", "", "Hospital code (a-z, 0-9, _)")
	createCmd.Flags().String("name", "", "Display name")
	createCmd.Flags().String("timezone", "", "IANA timezone (defaults to TIMEZONE)")
	createCmd.Flags().String("dir", "./migrations", "Path to the migrations root")
	cmd.AddCommand(createCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered hospitals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			hospitals, err := db.NewHospitalStore(pool).List(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%-20s %-32s %-20s %s\n", "CODE", "NAME", "TIMEZONE", "ACTIVE")
			for _, h := range hospitals {
				fmt.Printf("%-20s %-32s %-20s %t\n", h.Code, h.Name, h.Timezone, h.Active)
			}
			return nil
		},
	})

	return cmd
}

// notificationQueue is the durable queue the notify worker drains.
func notificationQueue() events.QueueSpec {
	return events.QueueSpec{
		Name:        "medmitra.notifications",
		Bindings:    []string{"appointment.*", events.EncounterFinalized},
		Durable:     true,
		DeadLetter:  "medmitra.notifications.dlq",
		// One delivery plus three retries.
		MaxAttempts: 4,
		Prefetch:    20,
	}
}

// realtimeQueue is this instance's private feed for the websocket hub.
func realtimeQueue(instance string) events.QueueSpec {
	return events.QueueSpec{
		Name:       "medmitra.realtime." + instance,
		Bindings:   []string{"#"},
		AutoDelete: true,
		Exclusive:  true,
		Prefetch:   50,
	}
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run background workers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "notify",
		Short: "Send patient notifications for appointment and prescription events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNotifyWorker()
		},
	})
	return cmd
}

func runNotifyWorker() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env).With().Str("component", "notify").Logger()
	if cfg.AMQPURL == "" {
		return fmt.Errorf("AMQP_URL is required for the notification worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	conn, err := events.Dial(cfg.AMQPURL)
	if err != nil {
		return err
	}
	defer conn.Close()

	patientSvc := patient.NewService(patient.NewPatientRepoPG(pool), patient.NewRegistryRepoPG(pool), db.NoTx{})
	staffSvc := staff.NewService(
		staff.NewDoctorRepoPG(pool), staff.NewCoordinatorRepoPG(pool),
		staff.NewPreferencesRepoPG(pool), staff.NewAvailabilityRepoPG(pool),
		nil, db.NoTx{},
	)
	dir := &directory{
		hospitals: db.NewCachedHospitals(db.NewHospitalStore(pool), hospitalCacheTTL),
		patients:  patientSvc,
		doctors:   staffSvc,
		scope:     poolScope(pool),
	}
	sender := notification.LogSender{Logger: logger}
	notifier := notification.NewNotifier(dir, notification.NewTemplateEngine(), sender, sender, logger)

	logger.Info().Msg("notification worker started")
	return events.NewConsumer(conn, notificationQueue(), logger).Run(ctx, notifier.Handle)
}
