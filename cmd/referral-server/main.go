package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/referral/internal/config"
	"github.com/carelink/referral/internal/domain/authorization"
	"github.com/carelink/referral/internal/domain/escalation"
	"github.com/carelink/referral/internal/domain/referral"
	"github.com/carelink/referral/internal/platform/audit"
	"github.com/carelink/referral/internal/platform/auth"
	"github.com/carelink/referral/internal/platform/db"
	"github.com/carelink/referral/internal/platform/directory"
	"github.com/carelink/referral/internal/platform/letters"
	"github.com/carelink/referral/internal/platform/middleware"
	"github.com/carelink/referral/internal/platform/notification"
	"github.com/carelink/referral/internal/platform/workqueue"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "referral-server",
		Short: "Clinical referral workflow API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the referral API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func runServer() error {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Audit events always land in postgres; a Kafka sink fans them out to
	// downstream consumers when brokers are configured.
	var sink audit.Sink = audit.NewSinkPG(pool)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := audit.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaSink.Close()
		sink = audit.MultiSink{sink, kafkaSink}
		logger.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("kafka audit sink enabled")
	}
	emitter := audit.NewEmitter(sink, logger)

	// Post-transition actions run on a bounded worker pool so slow
	// notifications never hold up API responses.
	queue := workqueue.New(logger, cfg.QueueSize, cfg.QueueWorkers)
	queueCtx, queueCancel := context.WithCancel(ctx)
	defer queueCancel()
	queue.Start(queueCtx)

	dir := directory.NewDirectoryPG(pool)
	renderer := letters.NewTemplateRenderer()
	notifier := notification.NewDispatcher(
		&notification.LogEmailSender{Logger: logger},
		&notification.LogSMSSender{Logger: logger},
	)

	escalationRepo := escalation.NewRepo(pool)
	escalationSvc := escalation.NewService(escalationRepo)
	escalationHandler := escalation.NewHandler(escalationSvc)

	authRepo := authorization.NewRepo(pool)
	authSvc := authorization.NewService(authRepo)
	authHandler := authorization.NewHandler(authSvc)

	referralRepo := referral.NewRepo(pool)
	validator := referral.NewValidator(dir, referralRepo, authSvc)
	sm := referral.NewStateMachine()
	pipeline := referral.NewPipeline(referral.DefaultActions(referral.ActionDeps{
		Repo:           referralRepo,
		Directory:      dir,
		Letters:        renderer,
		Notifier:       notifier,
		Authorizations: authSvc,
		Logger:         logger,
	}), emitter, queue, logger)
	monitor := referral.NewMonitor(referral.DefaultSLAPolicies(), referralRepo, escalationSvc, notifier, dir, renderer, logger)
	referralSvc := referral.NewService(pool, referralRepo, sm, validator, pipeline, monitor, escalationSvc, emitter, logger)
	referralHandler := referral.NewHandler(referralSvc)

	// Periodic SLA sweep catches referrals that breach while idle, without
	// waiting for the next transition to trigger a check.
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(cfg.SLASweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				count, err := monitor.Sweep(sweepCtx)
				if err != nil {
					logger.Error().Err(err).Msg("sla sweep failed")
					continue
				}
				if count > 0 {
					logger.Info().Int("breaches", count).Msg("sla sweep raised escalations")
				}
			}
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevMiddleware())
	} else {
		e.Use(auth.Middleware(auth.Config{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	apiV1 := e.Group("/api/v1")
	referralHandler.RegisterRoutes(apiV1)
	escalationHandler.RegisterRoutes(apiV1)
	authHandler.RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting referral server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	sweepCancel()
	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("work queue drain timed out")
	}
	return nil
}
