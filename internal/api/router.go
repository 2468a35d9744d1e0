package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/CZERTAINLY/Recon/internal/metrics"
	"github.com/CZERTAINLY/Recon/internal/model"
	"github.com/CZERTAINLY/Recon/internal/service"
)

const msgDomainRequired = "Domain required"

// Server holds the API server dependencies.
type Server struct {
	echo     *echo.Echo
	pipeline service.PipelineRunner
	sessions service.SessionStore
}

// RunResponse is the body of an accepted run request.
type RunResponse struct {
	Status string `json:"status"`
	IPFile string `json:"ip_file"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer creates the HTTP front door. staticDir is served at / when not
// empty.
func NewServer(pipeline service.PipelineRunner, sessions service.SessionStore, staticDir string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		pipeline: pipeline,
		sessions: sessions,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger())
	e.Use(metrics.EchoMiddleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	e.POST("/run", s.run)
	e.GET("/session", s.session)

	if staticDir != "" {
		e.Static("/", staticDir)
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server on the given address. It returns nil once
// the server was shut down.
func (s *Server) Start(addr string) error {
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// run starts the pipeline and answers once discovery has finished. Failures
// of the external tools are not reported to the caller. A body which can't
// be decoded is answered as a missing domain.
func (s *Server) run(c echo.Context) error {
	ctx := c.Request().Context()

	var req model.RunRequest
	if err := c.Bind(&req); err != nil {
		slog.DebugContext(ctx, "decoding run request", "error", err)
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgDomainRequired})
	}

	res, err := s.pipeline.Run(ctx, req)
	switch {
	case errors.Is(err, model.ErrDomainRequired):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msgDomainRequired})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// the client is gone, the pipeline keeps running
		slog.InfoContext(ctx, "run request abandoned", "domain", req.Domain, "run_id", res.RunID)
		return nil
	case errors.Is(err, model.ErrPipelineClosed):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, RunResponse{
		Status: res.Status,
		IPFile: res.InputPath,
	})
}

func (s *Server) session(c echo.Context) error {
	session, ok := s.sessions.Active()
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: model.ErrNoSession.Error()})
	}
	return c.JSON(http.StatusOK, session)
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelDebug
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			slog.LogAttrs(c.Request().Context(), level, "http request", attrs...)
			return nil
		},
	})
}
