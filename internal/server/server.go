// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// main.go creates the execution backend (remote client) and passes it in.
// New() builds everything else:
//
//	sqlite.DB ─┬─> HistoryService ─┐
//	           └─> NotebookService <┼── Dispatcher <── Backend, EventHub
//	                                ├── Sequencer  <── Dispatcher
//	EditorService <─────────────────┘
//	DatasetService <── Backend
//
// This is the "composition root": all dependencies are wired in one place.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/notebook-playground/internal/auth"
	"github.com/sakif/notebook-playground/internal/executor"
	"github.com/sakif/notebook-playground/internal/handler"
	"github.com/sakif/notebook-playground/internal/metrics"
	"github.com/sakif/notebook-playground/internal/middleware"
	sqliteRepo "github.com/sakif/notebook-playground/internal/repository/sqlite"
	"github.com/sakif/notebook-playground/internal/runner"
	"github.com/sakif/notebook-playground/internal/service"
)

// Config holds server configuration.
type Config struct {
	Port            int
	DBPath          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration // must outlast ExecTimeout
	ShutdownTimeout time.Duration
	ExecTimeout     time.Duration
	SettleDelay     time.Duration
	CacheSize       int
	AllowedOrigins  []string
	JWTSecret       string // empty disables authentication
}

// Backend is everything the server needs from the execution service.
// remote.Client implements it.
type Backend interface {
	executor.Executor
	executor.Datasets
	executor.SessionResetter
	Health(ctx context.Context) error
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the database connection. Start closes it once the HTTP
// server has drained; Close does the same for servers that were never started.
type Server struct {
	router *chi.Mux
	config Config
	logger *slog.Logger
	db     *sqliteRepo.DB
	events *handler.EventHub
}

// New creates a new Server with the given config and execution backend.
//
// IMPORT ALIAS:
// We import repository/sqlite as `sqliteRepo` to avoid confusion with
// the sqlite driver package.
func New(cfg Config, logger *slog.Logger, backend Backend) (*Server, error) {
	if backend == nil {
		return nil, errors.New("server: execution backend is required")
	}

	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		db:     db,
	}

	if err := s.setupRoutes(backend); err != nil {
		db.Close() // Clean up DB if route setup fails
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// Router exposes the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Close releases the database.
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes builds the service graph and registers every route.
//
// ROUTE STRUCTURE:
//
//	GET    /api/health                                 server and execution service health
//	GET    /metrics                                    Prometheus
//	GET    /api/events                                 websocket surface snapshots
//	POST   /api/editor/run                             run a file
//	GET    /api/editor/files/{name}                    last state of a file
//	POST   /api/editor/files/{name}/input              supply stdin
//	DELETE /api/editor/files/{name}/input              cancel the input prompt
//	GET    /api/notebooks                              list
//	POST   /api/notebooks                              create
//	GET    /api/notebooks/{id}                         get with cell states
//	PATCH  /api/notebooks/{id}                         rename
//	DELETE /api/notebooks/{id}                         delete
//	POST   /api/notebooks/{id}/cells                   add cell
//	PUT    /api/notebooks/{id}/cells/{cellID}          edit cell
//	DELETE /api/notebooks/{id}/cells/{cellID}          delete cell
//	POST   /api/notebooks/{id}/cells/{cellID}/move     reorder
//	POST   /api/notebooks/{id}/cells/{cellID}/run      run one cell
//	POST   /api/notebooks/{id}/cells/{cellID}/input    supply stdin
//	DELETE /api/notebooks/{id}/cells/{cellID}/input    cancel the input prompt
//	POST   /api/notebooks/{id}/run-all                 run every code cell in order
//	POST   /api/notebooks/{id}/reset                   reset the interpreter session
//	GET    /api/runs                                   run history
//	POST   /api/uploads                                upload a dataset
//	DELETE /api/uploads/{filename}                     delete a dataset
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers
// 3. Logger: logs each request and records HTTP metrics
// 4. Recoverer: catches panics and returns 500 instead of crashing
//
// Everything under /api except the health probe requires a token when a
// JWT secret is configured.
func (s *Server) setupRoutes(backend Backend) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	var tokens *auth.TokenService
	if s.config.JWTSecret != "" {
		var err error
		tokens, err = auth.NewTokenService(s.config.JWTSecret)
		if err != nil {
			return fmt.Errorf("creating token service: %w", err)
		}
	}

	// === Execution core ===
	s.events = handler.NewEventHub(s.config.AllowedOrigins, s.logger)
	dispatcher := runner.NewDispatcher(backend, s.config.ExecTimeout, s.events, s.logger)
	sequencer := runner.NewSequencer(dispatcher, s.config.SettleDelay, s.logger)

	// === Services ===
	history := service.NewHistoryService(s.db, s.logger)
	notebooks, err := service.NewNotebookService(s.db, history, dispatcher, sequencer, backend, s.config.CacheSize, s.logger)
	if err != nil {
		return fmt.Errorf("creating notebook service: %w", err)
	}
	editor := service.NewEditorService(dispatcher, history, s.logger)
	datasets := service.NewDatasetService(backend, s.logger)

	// === Handlers ===
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": s.db.Ping,
		"executor": backend.Health,
	})
	editorHandler := handler.NewEditorHandler(editor, s.logger)
	notebookHandler := handler.NewNotebookHandler(notebooks, s.logger)
	historyHandler := handler.NewHistoryHandler(history)
	datasetHandler := handler.NewDatasetHandler(datasets, s.logger)

	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleHealth)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))

			r.Get("/events", s.events.HandleEvents)

			r.Post("/editor/run", editorHandler.HandleRun)
			r.Get("/editor/files/{name}", editorHandler.HandleGet)
			r.Post("/editor/files/{name}/input", editorHandler.HandleSupplyInput)
			r.Delete("/editor/files/{name}/input", editorHandler.HandleCancelInput)

			r.Route("/notebooks", func(r chi.Router) {
				r.Get("/", notebookHandler.HandleList)
				r.Post("/", notebookHandler.HandleCreate)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", notebookHandler.HandleGet)
					r.Patch("/", notebookHandler.HandleRename)
					r.Delete("/", notebookHandler.HandleDelete)
					r.Post("/run-all", notebookHandler.HandleRunAll)
					r.Post("/reset", notebookHandler.HandleReset)

					r.Post("/cells", notebookHandler.HandleAddCell)
					r.Route("/cells/{cellID}", func(r chi.Router) {
						r.Put("/", notebookHandler.HandleUpdateCell)
						r.Delete("/", notebookHandler.HandleDeleteCell)
						r.Post("/move", notebookHandler.HandleMoveCell)
						r.Post("/run", notebookHandler.HandleRunCell)
						r.Post("/input", notebookHandler.HandleSupplyInput)
						r.Delete("/input", notebookHandler.HandleCancelInput)
					})
				})
			})

			r.Get("/runs", historyHandler.HandleList)

			r.Post("/uploads", datasetHandler.HandleUpload)
			r.Delete("/uploads/{filename}", datasetHandler.HandleDelete)
		})
	})

	return nil
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Stop accepting new HTTP connections
// 2. Wait for in-flight requests to finish (ShutdownTimeout)
// 3. Close the database connection (flushes WAL, releases file lock)
//
// A run can take up to ExecTimeout, so WriteTimeout is set above it or the
// response would be cut off before the result arrives.
func (s *Server) Start() error {
	defer s.db.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("database", s.config.DBPath),
			slog.Bool("auth", s.config.JWTSecret != ""),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		// Websocket connections are hijacked, so Shutdown does not wait for them.
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully", slog.Int("event_clients", s.events.Clients()))
	}

	return nil
}
