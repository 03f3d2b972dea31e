// README: API server; holds module services and runs the gin engine with graceful shutdown.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sharetaxi/internal/http/middleware"
	"sharetaxi/internal/infra"
	"sharetaxi/internal/modules/location"
	"sharetaxi/internal/modules/matching"
	"sharetaxi/internal/modules/request"
	"sharetaxi/internal/modules/route"
	"sharetaxi/internal/modules/taxi"
	"sharetaxi/internal/tracking"
)

type ServerDeps struct {
	Routes   *route.Catalog
	Taxis    *taxi.Service
	Requests *request.Service
	Matching *matching.Engine
	// Location is nil when Redis is not configured.
	Location *location.Service
	Hub      *tracking.Hub
	Monitor  *tracking.Monitor
	// Verifier is nil in local runs; callers then identify with X-User-ID.
	Verifier infra.TokenVerifier

	RateLimitPerMin int
	WSSendBuffer    int
	WSPingInterval  time.Duration
	Logger          *slog.Logger
}

type Server struct {
	deps   ServerDeps
	logger *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	if deps.WSSendBuffer <= 0 {
		deps.WSSendBuffer = 64
	}
	if deps.WSPingInterval <= 0 {
		deps.WSPingInterval = 30 * time.Second
	}
	return &Server{deps: deps, logger: deps.Logger.With("component", "server")}
}

// Run serves on addr until ctx is cancelled, then drains within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if s.deps.Hub != nil {
		s.deps.Hub.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) authenticate() gin.HandlerFunc {
	if s.deps.Verifier == nil {
		return middleware.HeaderIdentity()
	}
	return middleware.Auth(s.deps.Verifier)
}
