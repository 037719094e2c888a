package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medbook/medbook/internal/config"
	"github.com/medbook/medbook/internal/domain/audit"
	"github.com/medbook/medbook/internal/domain/billing"
	"github.com/medbook/medbook/internal/domain/identity"
	"github.com/medbook/medbook/internal/domain/reminder"
	"github.com/medbook/medbook/internal/domain/scheduling"
	"github.com/medbook/medbook/internal/platform/auth"
	"github.com/medbook/medbook/internal/platform/db"
	"github.com/medbook/medbook/internal/platform/metrics"
	"github.com/medbook/medbook/internal/platform/middleware"
	"github.com/medbook/medbook/internal/platform/notification"
	"github.com/medbook/medbook/internal/platform/response"
	"github.com/medbook/medbook/internal/platform/validate"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "medbook-server",
		Short:        "Medical appointment booking API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(remindersCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(usersCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the wired services shared by the server and the one-shot
// commands.
type app struct {
	cfg           *config.Config
	pool          *pgxpool.Pool
	logger        zerolog.Logger
	loc           *time.Location
	identity      *identity.Service
	audit         *audit.Service
	notifications *notification.Manager
	scheduling    *scheduling.Service
	billing       *billing.Service
	reminders     *reminder.Scheduler
}

func newApp(cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger, rec metrics.Recorder) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	senders := []notification.Sender{notification.NewLogSender(logger)}
	if cfg.TelegramBotToken != "" {
		tg, err := notification.NewTelegramSender(cfg.TelegramBotToken, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram: %w", err)
		}
		senders = append(senders, tg)
		logger.Info().Msg("telegram notifications enabled")
	}

	tx := db.NewTxRunner(pool)
	identitySvc := identity.NewService(identity.NewUserRepoPG(pool))
	auditSvc := audit.NewService(audit.NewRepoPG(pool))
	notifyMgr := notification.NewManager(notification.NewRepoPG(pool), identitySvc,
		notification.NewTemplateEngine(), rec, logger, senders...)

	schedSvc := scheduling.NewService(
		scheduling.NewAppointmentRepoPG(pool),
		scheduling.NewCalendarRepoPG(pool),
		identitySvc, auditSvc, notifyMgr, tx, rec, loc, logger,
	)
	billingSvc := billing.NewService(billing.NewRepoPG(pool), schedSvc, auditSvc, notifyMgr, tx, loc, logger)

	reminders := reminder.NewScheduler(
		reminder.NewRepoPG(pool), notifyMgr, notifyMgr, identitySvc, reminder.PoolScope(pool),
		reminder.Config{
			Tenants:       cfg.Tenants,
			Leads:         reminder.DefaultLeads,
			Window:        cfg.ReminderWindow,
			Interval:      cfg.ReminderInterval,
			PurgeInterval: cfg.PurgeInterval,
			Retention:     cfg.NotificationRetention(),
		},
		loc, rec, logger,
	)

	return &app{
		cfg:           cfg,
		pool:          pool,
		logger:        logger,
		loc:           loc,
		identity:      identitySvc,
		audit:         auditSvc,
		notifications: notifyMgr,
		scheduling:    schedSvc,
		billing:       billingSvc,
		reminders:     reminders,
	}, nil
}

// openApp loads config, connects and wires everything for a CLI command.
func openApp(ctx context.Context) (*app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg.Env)
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	a, err := newApp(cfg, pool, logger, metrics.Nop{})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return a, pool.Close, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the reminder scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	a, err := newApp(cfg, pool, logger, collector)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to wire services")
	}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()
	e.HTTPErrorHandler = response.ErrorHandler(logger, !cfg.IsProduction())

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Metrics(collector))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.BodyLimit("1M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))

	// Health and metrics sit outside auth and tenancy
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", echo.WrapHandler(metrics.Handler(reg)))

	// API group: auth, rate limit, then tenant connection
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() {
		logger.Warn().Msg("development auth: identity taken from X-Dev-User-* headers")
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	limiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	})
	go limiter.Run(ctx)
	apiV1.Use(limiter.Middleware())
	apiV1.Use(middleware.RequestTimeout(30 * time.Second))
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))

	// Domain routes
	identity.NewHandler(a.identity).RegisterRoutes(apiV1)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)
	billing.NewHandler(a.billing).RegisterRoutes(apiV1)
	notification.NewHandler(a.notifications).RegisterRoutes(apiV1)
	audit.NewHandler(a.audit).RegisterRoutes(apiV1)

	// Reminder scheduler
	go a.reminders.Start(ctx)
	logger.Info().
		Strs("tenants", cfg.Tenants).
		Dur("interval", cfg.ReminderInterval).
		Dur("window", cfg.ReminderWindow).
		Msg("reminder scheduler started")

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
