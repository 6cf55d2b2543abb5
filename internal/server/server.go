package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/maxiofs/jsonlog/internal/config"
	"github.com/maxiofs/jsonlog/internal/lifecycle"
	"github.com/maxiofs/jsonlog/internal/logging"
	"github.com/maxiofs/jsonlog/internal/metrics"
)

// Server exposes the JSON log files of a process over HTTP
type Server struct {
	config          *config.Config
	httpServer      *http.Server
	logManager      *logging.Manager
	metricsManager  metrics.Manager
	retentionWorker *lifecycle.Worker
	startTime       time.Time // Server start time for uptime calculation
}

// New creates a new inspection server for the outputs of logManager
func New(cfg *config.Config, logManager *logging.Manager, metricsManager metrics.Manager) (*Server, error) {
	if logManager == nil {
		return nil, fmt.Errorf("logging manager is required")
	}
	if metricsManager == nil {
		metricsManager = metrics.NewManager(config.MetricsConfig{Enable: false})
	}

	retentionWorker := lifecycle.NewWorker(logManager)
	retentionWorker.SetRecorder(metricsManager)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := &Server{
		config:          cfg,
		httpServer:      httpServer,
		logManager:      logManager,
		metricsManager:  metricsManager,
		retentionWorker: retentionWorker,
		startTime:       time.Now(),
	}

	server.httpServer.Handler = server.setupRoutes()

	return server, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":        s.config.Listen,
		"active_outputs": s.logManager.GetActiveOutputs(),
	}).Info("Starting jsonlog server")

	if s.config.Metrics.Enable {
		if err := s.metricsManager.Start(ctx); err != nil {
			logrus.WithError(err).Warn("Failed to start metrics manager")
		}
	}

	s.retentionWorker.Start(ctx, s.config.TrimEvery())

	errChan := make(chan error, 1)
	go func() {
		logrus.WithField("address", s.config.Listen).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errChan:
		s.shutdown()
		return fmt.Errorf("HTTP server error: %w", err)
	}

	return s.shutdown()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown HTTP server")
	}

	if s.metricsManager != nil && s.config.Metrics.Enable {
		s.metricsManager.Stop()
	}

	s.retentionWorker.Stop()

	// Everything accepted before shutdown reaches disk
	s.logManager.FlushAll()

	return nil
}

func (s *Server) setupRoutes() http.Handler {
	router := mux.NewRouter()

	router.Use(s.metricsManager.Middleware())

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	s.setupAPIRoutes(apiRouter)

	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metricsManager.GetMetricsHandler()).Methods(http.MethodGet)
	}

	logged := handlers.CustomLoggingHandler(io.Discard, router, logAccess)
	return handlers.RecoveryHandler(handlers.RecoveryLogger(logrus.StandardLogger()))(logged)
}

func (s *Server) setupAPIRoutes(r *mux.Router) {
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Outputs
	r.HandleFunc("/outputs", s.handleListOutputs).Methods(http.MethodGet)
	r.HandleFunc("/outputs/entries", s.handleClearAllEntries).Methods(http.MethodDelete)
	r.HandleFunc("/outputs/{name}/entries", s.handleListEntries).Methods(http.MethodGet)
	r.HandleFunc("/outputs/{name}/entries", s.handleWriteEntry).Methods(http.MethodPost)
	r.HandleFunc("/outputs/{name}/entries", s.handleClearEntries).Methods(http.MethodDelete)
	r.HandleFunc("/outputs/{name}/truncate", s.handleTruncate).Methods(http.MethodPost)
	r.HandleFunc("/outputs/{name}/flush", s.handleFlush).Methods(http.MethodPost)

	// Targets
	r.HandleFunc("/targets", s.handleListTargets).Methods(http.MethodGet)
	r.HandleFunc("/targets", s.handleCreateTarget).Methods(http.MethodPost)
	r.HandleFunc("/targets/reconfigure", s.handleReconfigure).Methods(http.MethodPost)
	r.HandleFunc("/targets/{id}", s.handleGetTarget).Methods(http.MethodGet)
	r.HandleFunc("/targets/{id}", s.handleUpdateTarget).Methods(http.MethodPut)
	r.HandleFunc("/targets/{id}", s.handleDeleteTarget).Methods(http.MethodDelete)
}

// logAccess writes one access log line per request through logrus
func logAccess(_ io.Writer, params handlers.LogFormatterParams) {
	logrus.WithFields(logrus.Fields{
		"method": params.Request.Method,
		"path":   params.URL.Path,
		"status": params.StatusCode,
		"size":   params.Size,
		"remote": params.Request.RemoteAddr,
	}).Debug("HTTP request")
}
