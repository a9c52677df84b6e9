// Package api exposes a small HTTP API for file registration, cache
// statistics, and prometheus metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/javi11/httpmount/internal/origin"
	"github.com/javi11/httpmount/internal/registry"
	"github.com/javi11/httpmount/internal/streamer"
)

// MountChecker is the subset of the FUSE server needed for health
// reporting. *fuse.Server satisfies this interface.
type MountChecker interface {
	ValidateMount() (bool, error)
}

// Server is the HTTP API server.
type Server struct {
	app      *fiber.App
	port     int
	registry *registry.Registry
	streamer *streamer.Streamer
	pool     *origin.Pool
	mount    MountChecker
	logger   *slog.Logger
}

type registerRequest struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

type statsResponse struct {
	RegisteredFiles int    `json:"registered_files"`
	CachedChunks    int    `json:"cached_chunks"`
	CachedBytes     int64  `json:"cached_bytes"`
	CachedSize      string `json:"cached_size"`
	OriginSessions  int    `json:"origin_sessions"`
}

type healthResponse struct {
	Mounted bool   `json:"mounted"`
	Error   string `json:"error,omitempty"`
}

// NewServer creates the API server. mount may be nil when the API runs
// without a FUSE mount (tests); health then reports unmounted.
func NewServer(port int, reg *registry.Registry, s *streamer.Streamer, pool *origin.Pool, mount MountChecker, logger *slog.Logger) *Server {
	srv := &Server{
		port:     port,
		registry: reg,
		streamer: s,
		pool:     pool,
		mount:    mount,
		logger:   logger,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Get("/api/files", srv.handleListFiles)
	app.Post("/api/files", srv.handleRegisterFile)
	app.Get("/api/stats", srv.handleStats)
	app.Get("/api/health", srv.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	srv.app = app
	return srv
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("API server started", "port", s.port)

	serverErr := make(chan error, 1)
	go func() {
		if err := s.app.Listen(fmt.Sprintf(":%d", s.port)); err != nil {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server received shutdown signal")
		if err := s.app.ShutdownWithTimeout(15 * time.Second); err != nil {
			s.logger.Error("Error during API server shutdown", "err", err)
			return err
		}
		return nil
	case err := <-serverErr:
		if err != nil {
			s.logger.Error("Failed to start API server", "err", err)
			return err
		}
		return nil
	}
}

func (s *Server) handleListFiles(c *fiber.Ctx) error {
	return c.JSON(s.registry.List())
}

func (s *Server) handleRegisterFile(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Filename == "" || req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "filename and url are required"})
	}

	rec, err := s.registry.Register(req.Filename, req.URL)
	if err != nil {
		status := fiber.StatusBadRequest
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			status = fiber.StatusConflict
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(rec)
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	if s.mount == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(healthResponse{Mounted: false})
	}

	healthy, err := s.mount.ValidateMount()
	resp := healthResponse{Mounted: healthy}
	if err != nil {
		resp.Error = err.Error()
	}
	if !healthy {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	cache := s.streamer.Cache()
	return c.JSON(statsResponse{
		RegisteredFiles: s.registry.Len(),
		CachedChunks:    cache.Len(),
		CachedBytes:     cache.Bytes(),
		CachedSize:      humanize.IBytes(uint64(cache.Bytes())),
		OriginSessions:  s.pool.SessionCount(),
	})
}
