// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/app"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/catalog"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/database"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/handler"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/jobs"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/repository"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/selection"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/service"
	"github.com/Shivanand-hulikatti/fdp-course-registration/internal/session"
	"github.com/Shivanand-hulikatti/fdp-course-registration/migrations"
)

func main() {
	if err := run(); err != nil {
		slog.Default().Error("fatal", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	// ── 1. Connect to PostgreSQL and apply migrations ─────────────────────
	pool, err := database.NewPool(ctx, database.Config{
		DSN:      cfg.PGDSN,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	}, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := migrations.Up(ctx, pool); err != nil {
		return err
	}
	logger.Info("connected to postgres")

	// ── 2. Connect to Redis (selections + task queue) ─────────────────────
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	queue := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer queue.Close()

	// ── 3. Wire up layers ─────────────────────────────────────────────────
	courseRepo := repository.NewCourseRepository(pool)
	regRepo := repository.NewRegistrationRepository(pool, cfg.CourseCapacity)

	// The CSV file seeds the courses table; seat counts are always read back
	// from Postgres so they follow committed registrations.
	if cfg.CatalogCSV != "" {
		logger.Info("seeding catalog", slog.String("csv", cfg.CatalogCSV))
		if _, err := catalog.Seed(ctx, catalog.NewCSVSource(cfg.CatalogCSV, logger), cfg.Format(), courseRepo, logger); err != nil {
			return err
		}
	}
	provider := catalog.NewProvider(courseRepo, cfg.Format(), cfg.CatalogTTL, logger)
	if _, err := provider.Catalog(ctx); err != nil {
		return err
	}

	engine := selection.NewEngine(
		selection.WithMaxCourses(cfg.MaxCourses),
		selection.WithCapacity(cfg.CourseCapacity),
		selection.WithLogger(logger),
	)
	svc := service.NewRegistrationService(service.Deps{
		Engine:      engine,
		Catalog:     provider,
		Departments: courseRepo,
		Store:       session.NewStore(redisClient, session.Options{TTL: cfg.SessionTTL}),
		Submitter:   regRepo,
		Finder:      regRepo,
		Notifier:    jobs.NewNotifier(queue),
		Logger:      logger,
	}, service.Config{
		AllowedEmailDomains: cfg.AllowedEmailDomains,
		StrictNationalID:    cfg.StrictNationalID,
		SubmitMaxAttempts:   cfg.SubmitMaxAttempts,
		SubmitBackoff:       cfg.SubmitBackoff,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:  logger,
		Config:  cfg,
		Handler: handler.NewRegistrationHandler(svc, logger),
	})

	// ── 4. Start server with graceful shutdown ────────────────────────────
	srv := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
		IdleTimeout:  cfg.AppIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", slog.String("addr", cfg.AppAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.AppShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}
