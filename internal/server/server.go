// Package server exposes the fleet services over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/monorkin/device-fleet-manager/internal/config"
	"github.com/monorkin/device-fleet-manager/internal/fleet"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	settings *config.Settings
	fleet    *fleet.Services
	logger   *slog.Logger
	router   chi.Router

	readLimiter   *limiter
	modifyLimiter *limiter
	enrollLimiter *limiter
}

func New(settings *config.Settings, services *fleet.Services, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		settings:      settings,
		fleet:         services,
		logger:        logger,
		readLimiter:   newLimiter(settings.RateLimits.Read),
		modifyLimiter: newLimiter(settings.RateLimits.Modify),
		enrollLimiter: newLimiter(settings.RateLimits.Enroll),
	}
	s.router = s.routes()

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(limitBody)

	r.Get("/health", s.handleHealth)

	r.Route("/api/devices", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Group(func(r chi.Router) {
			r.Use(s.readLimiter.middleware)
			r.Get("/", s.handleListDevices)
			r.Get("/commands", s.handlePollCommands)
			r.Get("/commands/history", s.handleListCommands)
			r.Get("/{serial}", s.handleGetDevice)
			r.Get("/{serial}/location-history", s.handleLocationHistory)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.modifyLimiter.middleware)
			r.Post("/data", s.handleDeviceReport)
			r.Post("/heartbeat", s.handleHeartbeat)
			r.Post("/executeCommand", s.handleExecuteCommand)
			r.Post("/command-result", s.handleCommandResult)
			r.Delete("/{serial}", s.handleDeleteDevice)
		})
	})

	r.Route("/api/provisioning", func(r chi.Router) {
		// Devices enrolling hold a provisioning token, not an operator token.
		r.With(s.enrollLimiter.middleware).Post("/enroll", s.handleEnroll)
		r.With(s.readLimiter.middleware).Get("/tokens/{token}", s.handleTokenLookup)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate, s.modifyLimiter.middleware)
			r.Post("/complete", s.handleComplete)
			r.With(requireAdmin).Post("/generate-token", s.handleGenerateToken)
			r.With(requireAdmin).Get("/tokens", s.handleListTokens)
			r.With(requireAdmin).Post("/tokens/{token}/deactivate", s.handleDeactivateToken)
		})
	})

	r.Route("/api/bssid", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.readLimiter.middleware).Get("/", s.handleListBssids)

		r.Group(func(r chi.Router) {
			r.Use(s.modifyLimiter.middleware, requireAdmin)
			r.Post("/", s.handleCreateBssid)
			r.Put("/{mac}", s.handleUpdateBssid)
			r.Delete("/{mac}", s.handleDeleteBssid)
		})
	})

	r.Route("/api/units", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.readLimiter.middleware).Get("/", s.handleListUnits)

		r.Group(func(r chi.Router) {
			r.Use(s.modifyLimiter.middleware, requireAdmin)
			r.Post("/", s.handleCreateUnit)
			r.Put("/{name}", s.handleUpdateUnit)
			r.Delete("/{name}", s.handleDeleteUnit)
		})
	})

	r.Route("/api/config-profiles", func(r chi.Router) {
		r.Use(s.authenticate)
		r.With(s.readLimiter.middleware).Get("/", s.handleListProfiles)
		r.With(s.modifyLimiter.middleware, requireAdmin).Post("/", s.handleCreateProfile)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.settings.ListenAddress,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("Server starting", "address", s.settings.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		s.logger.Info("Server shut down gracefully")
		return nil
	case err := <-errChan:
		return err
	}
}

// provisioningURL is the enrollment link handed out with a new token.
func (s *Server) provisioningURL(r *http.Request, token string) string {
	base := strings.TrimRight(s.settings.PublicURL, "/")
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		base = scheme + "://" + r.Host
	}
	return base + "/provision/" + token
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
