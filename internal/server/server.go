// Package server exposes the running agent over HTTP: health probes, the
// control loop snapshot, build information and a /metrics proxy.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/appidentity"
	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lnagent/lnagent/internal/observability"
	"github.com/lnagent/lnagent/internal/server/handlers"
	servermw "github.com/lnagent/lnagent/internal/server/middleware"
)

// Config holds listener settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Deps are the components the endpoints report on.
type Deps struct {
	Status   handlers.StatusSource
	Health   *handlers.HealthManager
	Build    handlers.BuildInfo
	Identity *appidentity.Identity
}

// Server is the status HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
}

// New builds the router. Nothing listens until Run or Start.
func New(cfg Config, deps Deps) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthManager(deps.Build.Version)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, gferrors.NewErrorEnvelope("NOT_FOUND", "The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		HandleError(w, req, gferrors.NewErrorEnvelope("METHOD_NOT_ALLOWED", "The requested method is not allowed for this resource"))
	})

	handlers.SetErrorResponder(HandleError)

	s := &Server{router: r, cfg: cfg}
	s.registerRoutes(deps)
	return s
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port))
}

// Start listens and serves until Shutdown. It returns http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start() error {
	s.prepare()
	logInfo("Starting status server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *Server) prepare() {
	if s.server != nil {
		return
	}
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// Run serves until ctx is done, then shuts down within the configured
// timeout.
func (s *Server) Run(ctx context.Context) error {
	s.prepare()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	logInfo("Shutting down status server")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func logInfo(msg string, fields ...zap.Field) {
	if observability.AgentLogger != nil {
		observability.AgentLogger.Info(msg, fields...)
	}
}
