// Package server is the composition root: it builds every component from
// config, wires routes and middleware, and runs the long-lived goroutines.
//
// DEPENDENCY ORDER:
//
//	bus → sqlite.DB → overlay → MealService → Projection → handlers
//
// MealService must subscribe to the bus before the Projection does (see
// service.NewMealService), so it is constructed first.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/calorily/internal/analysis"
	"github.com/sakif/calorily/internal/auth"
	"github.com/sakif/calorily/internal/config"
	"github.com/sakif/calorily/internal/eventbus"
	"github.com/sakif/calorily/internal/handler"
	"github.com/sakif/calorily/internal/inbox"
	"github.com/sakif/calorily/internal/middleware"
	"github.com/sakif/calorily/internal/overlay"
	sqliteRepo "github.com/sakif/calorily/internal/repository/sqlite"
	"github.com/sakif/calorily/internal/service"
	"github.com/sakif/calorily/internal/views"
)

const shutdownTimeout = 30 * time.Second

// Server owns the database, the orchestrator and the HTTP listener.
type Server struct {
	router     *chi.Mux
	config     *config.Config
	logger     *slog.Logger
	db         *sqliteRepo.DB
	meals      *service.MealService
	projection *views.Projection
	tokens     *auth.TokenService // nil when auth is disabled
}

// Options lets tests swap the analysis service for a fake.
type Options struct {
	Submitter analysis.Submitter
}

// New builds the whole application from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Options) (*Server, error) {
	var o Options
	if len(opts) > 0 {
		o = opts[0]
	}

	bus := eventbus.New(logger)

	db, err := sqliteRepo.New(sqliteRepo.Config{
		Path:     cfg.DBPath,
		ImageDir: cfg.ImageDir,
	}, bus, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	var tokens *auth.TokenService
	if cfg.HTTP.JWTSecret != "" {
		tokens, err = auth.NewTokenService(cfg.HTTP.JWTSecret)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating token service: %w", err)
		}
	} else {
		logger.Warn("http.jwt_secret not set, API authentication is disabled")
	}

	submitter := o.Submitter
	if submitter == nil {
		submitter = analysis.NewClient(cfg.Analysis.BaseURL, cfg.Analysis.Timeout, logger)
	}

	meals := service.NewMealService(service.Options{
		Repo:       db,
		Overlay:    overlay.New(bus),
		Bus:        bus,
		Submitter:  submitter,
		Tokens:     auth.NewAnalysisTokenSource(cfg.Analysis.Token),
		RetryDelay: cfg.Sync.RetryDelay,
		Logger:     logger,
	})

	v := views.New(db)
	projection, err := views.NewProjection(context.Background(), v, bus, logger)
	if err != nil {
		meals.Close()
		db.Close()
		return nil, fmt.Errorf("building projection: %w", err)
	}

	s := &Server{
		router:     chi.NewRouter(),
		config:     cfg,
		logger:     logger,
		db:         db,
		meals:      meals,
		projection: projection,
		tokens:     tokens,
	}
	s.setupRoutes(handler.NewMealHandler(meals, v, cfg.DailyCalories, logger).WithSnapshots(projection))

	return s, nil
}

// setupRoutes installs middleware and mounts the API.
//
// Middleware order: RequestID first so the logger can read it, Recoverer
// inside the logger so a panic is logged as a 500.
func (s *Server) setupRoutes(meals *handler.MealHandler) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireAuth(s.tokens))
		meals.Mount(r)
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs until SIGINT or SIGTERM.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves HTTP and runs the orphan sweeper and (when configured) the
// inbox watcher until ctx is cancelled or one of them fails. Everything is
// closed before Run returns.
func (s *Server) Run(ctx context.Context) error {
	defer s.close()

	ln, err := net.Listen("tcp", s.config.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.HTTP.Addr, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	var watcher *inbox.Watcher
	if s.config.InboxDir != "" {
		if err := os.MkdirAll(s.config.InboxDir, 0o700); err != nil {
			ln.Close()
			return fmt.Errorf("creating inbox directory: %w", err)
		}
		watcher = inbox.New(s.config.InboxDir, s.meals, inbox.DefaultSettle, s.logger)
	}

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: /api/events holds its connection open.
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("server starting",
			slog.String("addr", ln.Addr().String()),
			slog.String("database", s.config.DBPath),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	sweeper := service.NewOrphanSweeper(s.db, s.config.Sync.SweepInterval, s.config.Sync.SweepMinAge, s.logger)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	err := g.Wait()
	if err == nil {
		s.logger.Info("server stopped gracefully")
	}
	return err
}

// close tears down in reverse construction order. MealService.Close waits
// for in-flight inserts, so it must run before the database closes.
func (s *Server) close() {
	s.projection.Close()
	s.meals.Close()
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing database", slog.String("error", err.Error()))
	}
}
