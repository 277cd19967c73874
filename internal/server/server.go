// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package server exposes a transfer Machine over HTTP: a small REST API to
// select a file, choose a format, convert and reset, a websocket stream of
// snapshots, and an endpoint serving preview and download objects.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pdiddy/fileconv/internal/transfer"
	"github.com/pdiddy/fileconv/pkg/types"
)

// Server serves one transfer Machine.
type Server struct {
	machine  *transfer.Machine
	cfg      types.ServerConfig
	log      *slog.Logger
	spoolDir string

	engine *gin.Engine
	srv    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSpoolDir sets where uploaded request bodies are spooled.
func WithSpoolDir(dir string) Option {
	return func(s *Server) { s.spoolDir = dir }
}

// New builds the gin engine and routes for m.
func New(m *transfer.Machine, cfg types.ServerConfig, log *slog.Logger, opts ...Option) *Server {
	if log == nil {
		log = slog.Default()
	}
	defaults := types.DefaultConfig().Server
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = defaults.MaxUploadSize
	}

	s := &Server{machine: m, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.logRequests())
	s.engine.MaxMultipartMemory = 8 << 20
	s.routes()

	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", "addr", s.cfg.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) routes() {
	s.engine.GET("/health", s.health)
	s.engine.GET("/objects/:id", s.object)

	v1 := s.engine.Group("/api/v1")
	{
		v1.GET("/formats", s.formats)

		t := v1.Group("/transfer")
		{
			t.GET("", s.snapshot)
			t.POST("/file", s.selectFile)
			t.PUT("/format", s.setFormat)
			t.POST("/convert", s.convert)
			t.POST("/reset", s.reset)
			t.GET("/events", s.events)
		}
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}
