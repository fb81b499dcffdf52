// Package api exposes the pipeline over HTTP: scan triggers, manual import
// preview and commit, the download queue and the history log.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/driftarr/driftarr/internal/download"
	"github.com/driftarr/driftarr/internal/history"
	"github.com/driftarr/driftarr/internal/importer"
	"github.com/driftarr/driftarr/internal/library"
	"github.com/driftarr/driftarr/internal/scanner"
	"github.com/driftarr/driftarr/internal/scheduler"
)

// Server handles HTTP requests for the Driftarr API.
type Server struct {
	echo   *echo.Echo
	logger zerolog.Logger

	library   *library.Store
	scanner   *scanner.Service
	manual    *importer.ManualService
	history   *history.Service
	tracked   *download.TrackedStore
	tracking  *download.TrackingService
	pending   *download.PendingService
	scheduler *scheduler.Scheduler
}

// NewServer creates the API server over the given services.
func NewServer(lib *library.Store, scan *scanner.Service, manual *importer.ManualService,
	hist *history.Service, tracked *download.TrackedStore, tracking *download.TrackingService,
	pending *download.PendingService, sched *scheduler.Scheduler, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		logger:    logger.With().Str("component", "api").Logger(),
		library:   lib,
		scanner:   scan,
		manual:    manual,
		history:   hist,
		tracked:   tracked,
		tracking:  tracking,
		pending:   pending,
		scheduler: sched,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogMethod:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Err(v.Error).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Msg("request")
			}
			return nil
		},
	}))
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.healthCheck)

	api := s.echo.Group("/api/v1")

	api.POST("/command/scan", s.triggerScan)
	api.GET("/system/tasks", s.listTasks)

	api.GET("/manualimport", s.manualImportPreview)
	api.PUT("/manualimport/:id", s.manualImportReprocess)
	api.POST("/manualimport", s.manualImportCommit)

	api.GET("/history", s.getHistory)
	api.GET("/history/since", s.getHistorySince)

	api.GET("/queue", s.getQueue)
	api.DELETE("/queue/:downloadId", s.removeQueueItem)
	api.DELETE("/queue/pending/:queueId", s.removePendingItem)
	api.POST("/queue/pending/reject", s.rejectPending)
}

// Start begins serving on the given address, blocking until shutdown.
func (s *Server) Start(address string) error {
	s.logger.Info().Str("address", address).Msg("Starting HTTP server")
	return s.echo.Start(address)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	return s.echo.Shutdown(ctx)
}

func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
