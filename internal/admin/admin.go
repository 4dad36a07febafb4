// Package admin serves the operational endpoints of the file manager on a
// separate net/http listener: Prometheus metrics and a health check.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server is the admin listener.
type Server struct {
	http     *http.Server
	log      zerolog.Logger
	draining atomic.Bool
}

// New builds the admin server. gatherer is exposed on /metrics.
func New(addr string, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	s := &Server{log: log}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Routes returns the admin router.
func (s *Server) Routes(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if s.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":"draining"}`))
		return
	}
	w.Write([]byte(`{"status":"ok"}`))
}

// Serve runs the admin server on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin listening")
	err := s.http.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds the configured address and serves it.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Drain makes /healthz report 503 so load balancers stop routing.
func (s *Server) Drain() {
	s.draining.Store(true)
}

// Shutdown stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
