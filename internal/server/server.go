package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server is the orchestrator's HTTP front end
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	logger     *logrus.Logger
	config     *ServerConfig
	handlers   *Handlers
}

// NewServer creates a new HTTP server instance
func NewServer(config *ServerConfig, handlers *Handlers, logger *logrus.Logger) *Server {
	if config == nil {
		config = &DefaultConfig().Server
	}
	if logger == nil {
		logger = logrus.New()
	}

	server := &Server{
		router:   mux.NewRouter(),
		logger:   logger,
		config:   config,
		handlers: handlers,
	}

	server.setupMiddleware()
	server.setupRoutes()

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      server.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return server
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithFields(logrus.Fields{
		"host": s.config.Host,
		"port": s.config.Port,
	}).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.WithError(err).Error("Error shutting down HTTP server")
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// GetRouter returns the HTTP router. Tests mount it directly.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

func (s *Server) setupRoutes() {
	// Service endpoints
	s.router.HandleFunc("/health", s.handlers.Health).Methods("GET")
	s.router.HandleFunc("/health/ready", s.handlers.Ready).Methods("GET")
	s.router.HandleFunc("/health/live", s.handlers.Live).Methods("GET")
	s.router.HandleFunc("/version", s.handlers.Version).Methods("GET")

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Registry endpoints
	api.HandleFunc("/models", s.handlers.CreateModel).Methods("POST")
	api.HandleFunc("/models", s.handlers.ListModels).Methods("GET")
	api.HandleFunc("/models/{id}", s.handlers.GetModel).Methods("GET")
	api.HandleFunc("/models/{id}", s.handlers.DeleteModel).Methods("DELETE")
	api.HandleFunc("/models/{id}/versions", s.handlers.RegisterVersion).Methods("POST")
	api.HandleFunc("/models/{id}/versions", s.handlers.ListVersions).Methods("GET")
	api.HandleFunc("/models/{id}/versions/archive", s.handlers.ArchiveOldVersions).Methods("POST")
	api.HandleFunc("/models/{id}/versions/{version}/promote", s.handlers.PromoteModel).Methods("POST")
	api.HandleFunc("/models/{id}/versions/{version}/metrics", s.handlers.RecordVersionMetrics).Methods("POST")

	// Serving endpoints
	api.HandleFunc("/predict", s.handlers.Predict).Methods("POST")
	api.HandleFunc("/predict/batch", s.handlers.BatchPredict).Methods("POST")

	// Feedback endpoints
	api.HandleFunc("/predictions/{id}/feedback", s.handlers.SubmitFeedback).Methods("POST")
	api.HandleFunc("/models/{id}/retrain", s.handlers.TriggerRetrain).Methods("POST")

	// A/B test endpoints
	api.HandleFunc("/abtests", s.handlers.StartABTest).Methods("POST")
	api.HandleFunc("/abtests/{id}/results", s.handlers.GetABTestResults).Methods("GET")
	api.HandleFunc("/abtests/{id}/stop", s.handlers.StopABTest).Methods("POST")

	// Deployment endpoints
	api.HandleFunc("/deployments", s.handlers.DeployModel).Methods("POST")
	api.HandleFunc("/deployments/{id}", s.handlers.GetDeployment).Methods("GET")
	api.HandleFunc("/deployments/{id}/cancel", s.handlers.CancelDeployment).Methods("POST")
	api.HandleFunc("/models/{id}/rollback", s.handlers.RollbackModel).Methods("POST")

	// Monitoring endpoints
	api.HandleFunc("/models/{id}/drift-policy", s.handlers.ConfigureDrift).Methods("PUT")
	api.HandleFunc("/models/{id}/drift", s.handlers.DetectDrift).Methods("GET")
	api.HandleFunc("/models/{id}/health", s.handlers.GetModelHealth).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.requestIDMiddleware)
	if s.config.EnableCORS {
		s.router.Use(s.corsMiddleware)
	}
	s.router.Use(s.requestSizeLimitMiddleware)
}
