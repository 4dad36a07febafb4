package nanoweb

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xDarkicex/nanoweb"

// Server accepts connections and serves each on its own goroutine with the
// router's routes. Connections share nothing but the frozen router.
type Server struct {
	router  *Router
	cfg     Config
	headers map[string]struct{}
	log     zerolog.Logger
	metrics *Metrics
	tracer  trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     map[*conn]struct{}
	wg        sync.WaitGroup
	nextID    atomic.Uint64
	closed    atomic.Bool
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger sets the server logger. The default discards everything.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithMetrics records connection metrics.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) ServerOption {
	return func(s *Server) { s.tracer = t }
}

// NewServer creates a server for router. Zero config fields take defaults.
func NewServer(router *Router, cfg Config, opts ...ServerOption) *Server {
	cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		router:    router,
		cfg:       cfg,
		headers:   cfg.headerSet(),
		log:       zerolog.Nop(),
		tracer:    otel.Tracer(tracerName),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the normalized configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// ListenAndServe binds the configured address and serves it.
func (s *Server) ListenAndServe() error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve freezes the router and accepts on ln until Shutdown. It always
// returns a non-nil error; after Shutdown that is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	s.router.freeze()
	if !s.track(ln, true) {
		ln.Close()
		return ErrServerClosed
	}
	defer s.track(ln, false)
	defer ln.Close()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("listening")

	var backoff time.Duration
	for {
		rwc, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if backoff == 0 {
					backoff = 5 * time.Millisecond
				} else if backoff *= 2; backoff > time.Second {
					backoff = time.Second
				}
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept error")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		c := s.newConn(rwc, s.nextID.Add(1))
		if !s.trackConn(c, true) {
			rwc.Close()
			continue
		}
		go func() {
			defer s.wg.Done()
			defer s.trackConn(c, false)
			c.serve(s.ctx)
		}()
	}
}

func (s *Server) track(ln net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed.Load() {
			return false
		}
		s.listeners[ln] = struct{}{}
	} else {
		delete(s.listeners, ln)
	}
	return true
}

// trackConn registers a connection (and its WaitGroup slot) or removes it.
// Registration fails once the server is closed.
func (s *Server) trackConn(c *conn, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		if s.closed.Load() {
			return false
		}
		s.conns[c] = struct{}{}
		s.wg.Add(1)
	} else {
		delete(s.conns, c)
	}
	return true
}

// beginRequest marks c busy once its request line has arrived. It reports
// false when Shutdown already closed the connection as idle.
func (s *Server) beginRequest(c *conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.closedIdle {
		return false
	}
	c.idle = false
	return true
}

// liveConns is the number of connections being served.
func (s *Server) liveConns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Shutdown stops accepting, closes connections that have not sent a request
// line yet, cancels the context of in-flight connections and waits for them
// to finish or for ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed.Store(true)
	var err error
	for ln := range s.listeners {
		if cerr := ln.Close(); cerr != nil && err == nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	for c := range s.conns {
		if c.idle {
			c.closedIdle = true
			c.rwc.Close()
		}
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen serves the router on address:port with the default configuration,
// blocking until the listener fails.
func (r *Router) Listen(address string, port int) error {
	cfg := DefaultConfig()
	cfg.Address = address
	cfg.Port = port
	return NewServer(r, cfg).ListenAndServe()
}
