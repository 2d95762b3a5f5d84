package docsync

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/docsync/internal/clock"
	"pkt.systems/docsync/internal/core"
	"pkt.systems/docsync/internal/docpath"
	"pkt.systems/docsync/internal/httpapi"
	"pkt.systems/docsync/internal/locks"
	"pkt.systems/docsync/internal/storage"
	"pkt.systems/docsync/internal/svcfields"
)

// Server wraps the HTTP server, storage backend and lock table.
type Server struct {
	cfg          Config
	logger       pslog.Logger
	clock        clock.Clock
	backend      storage.Backend
	backendName  string
	locks        *locks.Manager
	sync         *core.Service
	handler      *httpapi.Handler
	httpSrv      *http.Server
	listener     net.Listener
	telemetry    *telemetry
	lastServeErr error

	mu        sync.Mutex
	shutdown  bool
	readyOnce sync.Once
	readyCh   chan struct{}
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger  pslog.Logger
	Backend storage.Backend
	Clock   clock.Clock
	Locks   *locks.Manager
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithBackend injects a pre-built backend (useful for tests). The server
// closes it on shutdown.
func WithBackend(b storage.Backend) Option {
	return func(o *options) {
		o.Backend = b
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithLocks injects the lock table, letting tests observe held locks.
func WithLocks(m *locks.Manager) Option {
	return func(o *options) {
		o.Locks = m
	}
}

// NewServer constructs a docsync server according to cfg.
// Example:
//
//	cfg := docsync.Config{Store: "disk://./storage", Listen: ":9000"}
//	srv, err := docsync.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	lifecycle := svcfields.WithSubsystem(logger, "server.lifecycle.core")
	clk := o.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	ctx := pslog.ContextWithLogger(context.Background(), lifecycle)
	backend := o.Backend
	backendName := "custom"
	if backend == nil {
		var err error
		backend, backendName, err = openBackend(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
	}
	resolver, err := docpath.NewResolver(docpath.Mode(cfg.DocumentIDMode), cfg.DocumentIDPrefix)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("config: %w", err)
	}

	tel, err := setupTelemetry(ctx, cfg, svcfields.WithSubsystem(logger, "server.telemetry"))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	lockMgr := o.Locks
	if lockMgr == nil {
		lockMgr = locks.NewManager(clk)
	}
	svc := core.New(core.Config{
		Store:           backend,
		Locks:           lockMgr,
		Resolver:        resolver,
		Layout:          docpath.Layout(cfg.BlobLayout),
		BaseURL:         cfg.BaseURL,
		StaticPrefix:    cfg.StaticPrefix,
		RewriteLinks:    cfg.RewriteLinks,
		BlobConcurrency: cfg.BlobConcurrency,
		LockRetryAfter:  int64((cfg.LockRetryAfter + time.Second - 1) / time.Second),
		Logger:          logger,
		Clock:           clk,
	})
	handler := httpapi.New(httpapi.Config{
		Sync:           svc,
		Store:          backend,
		Logger:         logger,
		JSONMaxBytes:   cfg.JSONMaxBytes,
		StaticPrefix:   cfg.StaticPrefix,
		EditorDist:     cfg.EditorDist,
		CORS:           !cfg.DisableCORS,
		BackendName:    backendName,
		TracingEnabled: tel.tracingEnabled(),
	})
	mux := http.NewServeMux()
	handler.Register(mux)

	s := &Server{
		cfg:         cfg,
		logger:      lifecycle,
		clock:       clk,
		backend:     backend,
		backendName: backendName,
		locks:       lockMgr,
		sync:        svc,
		handler:     handler,
		telemetry:   tel,
		readyCh:     make(chan struct{}),
		httpSrv: &http.Server{
			Handler:           handler.Middleware(mux),
			ReadHeaderTimeout: 30 * time.Second,
		},
	}
	return s, nil
}

// Handler returns the root HTTP handler so docsync can be mounted inside an
// existing server.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Locks returns the server's lock table.
func (s *Server) Locks() *locks.Manager { return s.locks }

// Start clears stale locks, begins serving requests and blocks until the
// server stops.
func (s *Server) Start() error {
	if dropped := s.locks.ClearAll(); dropped > 0 {
		s.logger.Warn("locks.cleared", "count", dropped)
	}
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s): %w", s.cfg.Listen, err)
	}
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.signalReady()
	s.logger.Info("listening",
		"address", ln.Addr().String(),
		"store", s.backendName,
		"base_url", s.cfg.BaseURL,
		"static_prefix", s.cfg.StaticPrefix,
		"editor_dist", s.cfg.EditorDist,
	)
	serveErr := s.httpSrv.Serve(ln)
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Shutdown gracefully stops the server. In-flight syncs finish before the
// backend is closed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	var errs []error
	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.backend.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close backend: %w", err))
	}
	if s.telemetry != nil {
		telemetryCtx := ctx
		if telemetryCtx.Err() != nil {
			var cancel context.CancelFunc
			telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if held := s.locks.Len(); held > 0 {
		s.logger.Warn("shutdown.locks_held", "count", held)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("shutdown.complete")
	return nil
}

// Close gracefully shuts the server down using the configured shutdown timeout.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or ctx ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// MetricsAddr returns the bound Prometheus listener address, if enabled.
func (s *Server) MetricsAddr() net.Addr {
	return s.telemetry.metricsAddr()
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying
// HTTP server.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// StartServer starts a server in a background goroutine and waits until it is
// ready to accept connections. It returns the running server alongside a stop
// function that gracefully shuts it down.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	select {
	case <-srv.readyCh:
	case err := <-errCh:
		_ = srv.Close()
		if err == nil {
			err = errors.New("server stopped before becoming ready")
		}
		return nil, nil, err
	case <-ctx.Done():
		_ = srv.Close()
		return nil, nil, ctx.Err()
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil {
				stopErr = err
			}
		})
		return stopErr
	}
	return srv, stop, nil
}
