package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/revivarr/revivarr/internal/config"
	"github.com/revivarr/revivarr/internal/logger"
	"github.com/revivarr/revivarr/internal/request"
	"github.com/revivarr/revivarr/pkg/monitor"
	"github.com/rs/zerolog"
)

// Engine is the slice of the reconciliation engine the ops surface reads.
type Engine interface {
	Snapshot() monitor.Status
	ResetProcessed()
}

// Server exposes the read-only ops surface: health, engine status, the
// processed-set reset and the log tail.
type Server struct {
	router *chi.Mux
	engine Engine
	logger zerolog.Logger
}

func New(engine Engine) *Server {
	s := &Server{
		engine: engine,
		logger: logger.New("http"),
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/processed/reset", s.handleProcessedReset)
	})
	r.Get("/logs", s.getLogs)
	r.Get("/debug/stats", s.handleStats)

	s.router = r
	return s
}

func (s *Server) Start(ctx context.Context) error {
	cfg := config.Get()

	s.logger.Info().Msgf("Starting status server on %s", cfg.StatusAddr)
	srv := &http.Server{
		Addr:    cfg.StatusAddr,
		Handler: s.router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msgf("Error starting server")
		}
	}()

	<-ctx.Done()
	s.logger.Info().Msg("Shutting down status server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, map[string]string{
		"status": "ok",
		"uptime": s.engine.Snapshot().Uptime,
	}, http.StatusOK)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	request.JSONResponse(w, s.engine.Snapshot(), http.StatusOK)
}

func (s *Server) handleProcessedReset(w http.ResponseWriter, r *http.Request) {
	s.engine.ResetProcessed()
	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Processed set reset requested")
	request.JSONResponse(w, map[string]string{"status": "reset"}, http.StatusOK)
}

func (s *Server) getLogs(w http.ResponseWriter, r *http.Request) {
	logFile := logger.GetLogPath()

	file, err := os.Open(logFile)
	if err != nil {
		http.Error(w, "Error reading log file", http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := file.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing log file")
		}
	}()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "inline; filename="+filepath.Base(logFile))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")

	// Headers are committed once the copy starts, so a failure here can
	// only be logged.
	if _, err := io.Copy(w, file); err != nil {
		s.logger.Error().Err(err).Msg("Error streaming log file")
	}
}
