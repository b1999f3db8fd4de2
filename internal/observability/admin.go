package observability

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jkaninda/okapi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultAdminAddr = ":9090"

// AdminServer exposes the unauthenticated operational endpoints:
// /healthz (liveness), /readyz (readiness), and /metrics.
type AdminServer struct {
	okapi  *okapi.Okapi
	server *http.Server
	obs    *Observability
	addr   string
	logger *slog.Logger
}

// NewAdminServer creates the admin HTTP server.
func NewAdminServer(addr string, obs *Observability, logger *slog.Logger) *AdminServer {
	if addr == "" {
		addr = defaultAdminAddr
	}
	return &AdminServer{
		okapi:  okapi.New(),
		obs:    obs,
		addr:   addr,
		logger: logger,
	}
}

// Start serves until the context is canceled or the listener fails.
func (s *AdminServer) Start(ctx context.Context) error {
	s.okapi.Get("/healthz", s.handleLiveness)
	s.okapi.Get("/readyz", s.handleReadiness)

	if s.obs != nil && s.obs.Metrics != nil {
		s.okapi.HandleStd("GET", "/metrics",
			promhttp.HandlerFor(s.obs.Metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	s.server = &http.Server{
		Addr:              s.addr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	s.logger.Info("admin server starting", slog.String("addr", s.addr))
	return s.okapi.StartServer(s.server)
}

// Stop gracefully shuts down the admin server.
func (s *AdminServer) Stop(_ context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("admin server stopping")
	return s.okapi.Shutdown(s.server)
}

func (s *AdminServer) handleLiveness(c *okapi.Context) error {
	return c.OK(s.obs.HealthOrNop().CheckHealth())
}

func (s *AdminServer) handleReadiness(c *okapi.Context) error {
	status := s.obs.HealthOrNop().CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}
