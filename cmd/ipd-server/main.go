package main

import (
	"context"
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
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ipd/ipd/internal/config"
	"github.com/ipd/ipd/internal/domain/admission"
	"github.com/ipd/ipd/internal/domain/journal"
	"github.com/ipd/ipd/internal/domain/theatre"
	"github.com/ipd/ipd/internal/platform/auth"
	"github.com/ipd/ipd/internal/platform/db"
	"github.com/ipd/ipd/internal/platform/dictation"
	"github.com/ipd/ipd/internal/platform/docgen"
	"github.com/ipd/ipd/internal/platform/events"
	"github.com/ipd/ipd/internal/platform/middleware"
	"github.com/ipd/ipd/internal/platform/notification"
	"github.com/ipd/ipd/internal/platform/telemetry"
	"github.com/ipd/ipd/internal/platform/websocket"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ipd-server",
		Short: "Inpatient department API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the IPD API server",
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

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
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
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default from MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("ipd-server", version)
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit("1M", "25M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Emergency override sits after auth so it can elevate roles, and before
	// audit so overridden requests land in the audit trail.
	e.Use(middleware.BreakGlass(logger))

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Metrics
	tel := telemetry.NewProvider("ipd-server")
	e.Use(tel.MetricsMiddleware())
	e.GET("/metrics", tel.Handler())

	// Health checks
	e.GET("/health", db.LivenessHandler(version))
	e.GET("/health/ready", db.ReadinessHandler(pool))

	// API group. Request timeouts stay off the websocket routes, which are
	// registered on the root Echo instance.
	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))

	// Live change feed
	hub := websocket.NewHub()
	hub.SetLogger(logger)
	wsHandler := websocket.NewWebSocketHandler(hub)
	wsHandler.RegisterRoutes(e)

	// Notices
	notices := notification.NewManager(notification.NewTemplateEngine())
	notices.SetMetrics(tel)
	notification.NewHandler(notices).RegisterRoutes(apiV1)

	// Journal event outbox
	outbox := events.NewOutboxPG(pool)

	// Admission directory
	admRepo := admission.NewRepo(pool)
	admSvc := admission.NewService(admRepo)
	admSvc.SetNotices(notices)

	// Journal
	jRepo := journal.NewRepo(pool)
	jSvc := journal.NewService(jRepo, journal.DirectoryFunc(func(ctx context.Context, id uuid.UUID) (string, error) {
		ref, err := admSvc.ResolveCrossReference(ctx, id)
		if errors.Is(err, admission.ErrNotFound) {
			return "", journal.ErrReferenceNotFound
		}
		return ref, err
	}))
	jSvc.SetLogger(logger)
	jSvc.SetTxRunner(func(ctx context.Context, fn func(context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	})
	jSvc.SetEvents(outbox, hub)
	jSvc.SetNotices(notices)
	jSvc.SetMetrics(tel)

	jHandler := journal.NewHandler(jSvc)
	jHandler.SetNotices(notices)
	if cfg.TranscribeURL != "" {
		apiKey := os.Getenv("DICTATION_API_KEY")
		transcriber := dictation.NewHTTPTranscriber(cfg.TranscribeURL, apiKey)
		var extractor dictation.Extractor
		if cfg.ExtractURL != "" {
			extractor = dictation.NewHTTPExtractor(cfg.ExtractURL, apiKey)
		}
		jHandler.SetDictation(dictation.NewPipeline(transcriber, extractor, logger))
		logger.Info().Str("transcribe_url", cfg.TranscribeURL).Msg("dictation pipeline enabled")
	} else {
		logger.Warn().Msg("DICTATION_TRANSCRIBE_URL not set; dictation endpoint reports unavailable")
	}
	jHandler.RegisterRoutes(apiV1)

	// Admission routes need the journal service for discharge summary entries.
	gen := docgen.NewGenerator(cfg.HospitalName, os.Getenv("HOSPITAL_ADDRESS"))
	admission.NewHandler(admSvc, gen, jSvc).RegisterRoutes(apiV1)

	// Theatre bookings
	thRepo := theatre.NewRepo(pool)
	thSvc := theatre.NewService(thRepo, theatre.DirectoryFunc(func(ctx context.Context, id uuid.UUID) (string, error) {
		ref, err := admSvc.ResolveCrossReference(ctx, id)
		if errors.Is(err, admission.ErrNotFound) {
			return "", theatre.ErrAdmissionNotFound
		}
		return ref, err
	}))
	theatre.NewHandler(thSvc).RegisterRoutes(apiV1)

	// Outbox relay publishes journal events to Kafka when brokers are
	// configured. Without brokers events accumulate in the outbox table and
	// the live hub still serves in-process watchers.
	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()
	if cfg.KafkaEnabled() {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create kafka publisher")
		}
		defer publisher.Close()

		relay := events.NewRelay(outbox, publisher, logger)
		relay.SetMetrics(tel)
		go func() {
			if err := relay.Start(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("outbox relay stopped")
			}
		}()
		logger.Info().Str("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("outbox relay started")
	} else {
		logger.Warn().Msg("KAFKA_BROKERS not set; journal events stay in the outbox table")
	}

	// Sample pool stats into the metrics registry.
	go func() {
		t := time.NewTicker(15 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-t.C:
				st := db.GetPoolStats(pool)
				tel.SetDBPoolStats(int64(st.TotalConns), int64(st.IdleConns))
			}
		}
	}()

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
