// Package app assembles the admin and chat servers from configuration.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/kbchat/backend/internal/api/views"
	"github.com/kbchat/backend/internal/metrics"
	"github.com/kbchat/backend/internal/middleware/ratelimit"
	"github.com/kbchat/backend/internal/middleware/security"
	"github.com/kbchat/backend/internal/middleware/validation"
	"github.com/kbchat/backend/pkg/config"
	"github.com/kbchat/backend/pkg/logger"
)

// ReadyFunc reports whether the server's backing services are usable.
type ReadyFunc func(ctx context.Context) error

type Server struct {
	name    string
	app     *fiber.App
	addr    string
	limiter *ratelimit.RateLimiter
	closers []func() error
}

// NewServer returns a fiber app with the shared middleware stack and the
// health, readiness and metrics endpoints.
func NewServer(name string, cfg *config.Config, ready ReadyFunc) *Server {
	metrics.Init()

	app := fiber.New(fiber.Config{
		AppName:      name,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		ProxyHeader:  cfg.Server.ProxyHeader,
		Views:        views.Engine(),
	})

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Logger:               logger.GetLogger(),
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ", ")
	}

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1")
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})
	api.Get("/ready", func(c *fiber.Ctx) error {
		if ready != nil {
			if err := ready(c.Context()); err != nil {
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status": "not ready",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{
		QuestionPaths: []string{"/api/v1/query"},
		Logger:        logger.GetLogger(),
	}))

	return &Server{
		name:    name,
		app:     app,
		addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		limiter: limiter,
		closers: []func() error{func() error { limiter.Stop(); return nil }},
	}
}

func (s *Server) App() *fiber.App {
	return s.app
}

// OnClose registers fn to run when the server shuts down, in reverse order.
func (s *Server) OnClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// Close releases everything registered with OnClose.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			logger.Warn("Shutdown step failed", zap.String("server", s.name), zap.Error(err))
		}
	}
}

// Run serves until SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Run() error {
	logger.Info("Server starting", zap.String("server", s.name), zap.String("address", s.addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(s.addr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		s.Close()
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("Server shutting down gracefully...", zap.String("server", s.name))
	err := s.app.ShutdownWithTimeout(10 * time.Second)
	s.Close()
	logger.Info("Server stopped", zap.String("server", s.name))
	return err
}
