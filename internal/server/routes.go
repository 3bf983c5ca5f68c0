package server

import (
	"github.com/lnagent/lnagent/internal/server/handlers"
)

func (s *Server) registerRoutes(deps Deps) {
	s.router.Get("/health", deps.Health.HealthHandler)
	s.router.Get("/health/live", deps.Health.LivenessHandler)
	s.router.Get("/health/ready", deps.Health.ReadinessHandler)

	s.router.Get("/status", handlers.StatusHandler(deps.Status))
	s.router.Get("/version", handlers.VersionHandler(deps.Build, deps.Identity))
	s.router.Get("/metrics", MetricsHandler)
}
