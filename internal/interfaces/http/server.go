// Package http exposes the document pipeline and the ledger over a JSON API.
// It is a thin adapter that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/docledger/internal/application/port"
	"github.com/garyjia/docledger/internal/application/service"
	"github.com/garyjia/docledger/internal/infrastructure/worker"
	"github.com/garyjia/docledger/internal/invoice"
	"github.com/garyjia/docledger/internal/metrics"
	"github.com/garyjia/docledger/internal/validation"
	"github.com/garyjia/docledger/internal/vat"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		Mode:            gin.ReleaseMode,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// JobQueue accepts asynchronous ingestion jobs
type JobQueue interface {
	Enqueue(job worker.DocumentJob) error
	Status(documentID string) (worker.JobStatus, bool)
}

// Dependencies are the components the handlers call.
// Queue and Storage are optional; their routes answer 503 when unset.
type Dependencies struct {
	Documents service.DocumentService
	Ledger    service.LedgerService
	Extractor *invoice.Extractor
	Resolver  *invoice.Resolver
	Validator *validation.Validator
	Rates     *vat.Holder
	Storage   port.FileStorage
	Queue     JobQueue
	Stats     *metrics.DocumentStats
	Checks    map[string]HealthCheck
}

// HealthCheck reports whether one dependency is usable
type HealthCheck func(ctx context.Context) error

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     *zap.Logger
}

// NewServer creates a new HTTP server with the given dependencies
func NewServer(config ServerConfig, deps Dependencies, logger *zap.Logger) *Server {
	if config.Mode == "" {
		config.Mode = gin.ReleaseMode
	}
	gin.SetMode(config.Mode)

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.deps.Stats != nil {
		s.router.Use(s.metricsMiddleware())
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	}
}

// metricsMiddleware records request counts and latency per route template
func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.deps.Stats.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Stats != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Stats.Handler()))
	}

	api := s.router.Group("/api/v1")
	{
		api.POST("/normalize", h.Normalize)
		api.POST("/identifiers/validate", h.ValidateIdentifiers)
		api.POST("/extract", h.Extract)

		api.POST("/vat/from-net", h.VATFromNet)
		api.POST("/vat/from-gross", h.VATFromGross)
		api.POST("/vat/detect", h.DetectRate)

		api.POST("/documents", h.ProcessDocument)
		api.POST("/documents/upload", h.UploadDocument)
		api.GET("/uploads", h.ListUploads)
		api.GET("/documents", h.ListDocuments)
		api.GET("/documents/:id", h.GetDocument)
		api.POST("/documents/:id/ingest", h.IngestDocument)
		api.GET("/documents/:id/ingest", h.IngestStatus)
		api.POST("/documents/:id/journal-entry", h.BookDocument)

		api.POST("/journal-entries", h.CreateEntry)
		api.GET("/journal-entries", h.ListEntries)
		api.GET("/journal-entries/:id", h.GetEntry)
		api.POST("/journal-entries/:id/validate", h.ValidateEntry)
		api.POST("/journal-entries/:id/cancel", h.CancelEntry)

		api.GET("/balances", h.Balances)
		api.GET("/balances/export", h.ExportBalances)

		api.GET("/stats", h.Stats)
		api.POST("/stats/reset", h.ResetStats)
	}
}

// Start starts the HTTP server and blocks until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
