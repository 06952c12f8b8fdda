// Package server wires the configuration service together: database,
// stores, webhook delivery, metrics, authentication and the HTTP
// listener, with ordered startup and graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shepherd-cms/shepherd/internal/config"
	"github.com/shepherd-cms/shepherd/pkg/api"
	"github.com/shepherd-cms/shepherd/pkg/auth"
	"github.com/shepherd-cms/shepherd/pkg/configs"
	configspg "github.com/shepherd-cms/shepherd/pkg/configs/postgres"
	"github.com/shepherd-cms/shepherd/pkg/database"
	"github.com/shepherd-cms/shepherd/pkg/database/migrate"
	"github.com/shepherd-cms/shepherd/pkg/health"
	"github.com/shepherd-cms/shepherd/pkg/metrics"
	"github.com/shepherd-cms/shepherd/pkg/users"
	userspg "github.com/shepherd-cms/shepherd/pkg/users/postgres"
	"github.com/shepherd-cms/shepherd/pkg/webhook"
)

// Version is set at build time.
var Version = "dev"

// Server is the assembled service.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *sql.DB
	hooks     *webhook.Manager
	collector *metrics.Collector
	checker   *health.Checker
	httpSrv   *http.Server
}

// New builds the service from configuration: it connects to the
// database, runs migrations, and assembles stores, webhook delivery,
// metrics and the HTTP handler. The returned Server is not yet
// listening; call Run.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	logger := newLogger(cfg.Logging.Level)
	slog.SetDefault(logger)

	db, err := database.Open(ctx, cfg.Database.DSN, cfg.Database.MaxOpenConns, logger)
	if err != nil {
		return nil, err
	}
	if err := migrate.Run(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		checker: health.NewChecker(db),
	}

	store := configspg.New(db)

	var sink configs.MetricsSink
	var prom *metrics.Prometheus
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		prom = metrics.NewPrometheus(prometheus.DefaultRegisterer)
		s.collector = metrics.NewCollector(store, prom, cfg.Metrics.CollectInterval, logger)
		sink = prom
		metricsHandler = promhttp.Handler()
	}

	var notifier configs.Notifier
	if cfg.Webhooks.Enabled {
		hookOpts := webhook.Options{Logger: logger}
		if prom != nil {
			hookOpts.Recorder = prom
		}
		s.hooks = webhook.NewManager(hookOpts)
		for _, sub := range cfg.Webhooks.Subscribers {
			s.hooks.Register(webhook.Subscriber{
				URL:           sub.URL,
				Events:        sub.Events,
				Secret:        sub.Secret,
				Enabled:       true,
				Timeout:       sub.Timeout,
				RetryAttempts: sub.RetryAttempts,
				RetryDelay:    sub.RetryDelay,
			})
		}
		notifier = s.hooks
	}

	service := configs.NewService(store, notifier, sink, logger)

	var userStore users.Store
	var authMiddleware func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		userStore = userspg.New(db)
		authMiddleware = auth.Middleware(userStore, logger)

		admin, err := auth.EnsureDefaultAdmin(ctx, userStore, cfg.Auth.BootstrapAdminPassword, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("bootstrapping admin user: %w", err)
		}
		if admin != nil {
			// Printed once; the key is not recoverable later.
			logger.Info("bootstrap admin api key", "api_key", admin.APIKey)
		}
	}

	handler := api.NewHandler(api.Deps{
		Service:        service,
		Hooks:          s.hooks,
		Users:          userStore,
		Checker:        s.checker,
		Metrics:        metricsHandler,
		AuthMiddleware: authMiddleware,
		Logger:         logger,
	})

	s.httpSrv = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

// Run starts the HTTP listener and the background collector, then
// blocks until ctx is cancelled or the listener fails. Shutdown drains
// in-flight requests within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if s.collector != nil {
		s.collector.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "address", s.httpSrv.Addr, "version", Version)
		if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	s.checker.SetReady()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.checker.SetDraining()
	s.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}

// Close releases background workers and the database handle. Safe to
// call after a failed Run.
func (s *Server) Close() {
	if s.collector != nil {
		s.collector.Close()
	}
	if s.hooks != nil {
		s.hooks.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

// newLogger builds the process-wide structured logger.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
