package waitlist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"go.opentelemetry.io/otel"

	"pkt.systems/pslog"

	"pkt.systems/waitlist/internal/clock"
	"pkt.systems/waitlist/internal/httpapi"
	"pkt.systems/waitlist/internal/storage"
	"pkt.systems/waitlist/internal/storage/memory"
	"pkt.systems/waitlist/internal/waitlist"
)

// Server wraps the HTTP server, storage backend, and director lifecycle.
type Server struct {
	cfg      Config
	logger   pslog.Logger
	backend  storage.Backend
	svc      *waitlist.Service
	handler  *httpapi.Handler
	httpSrv  *http.Server
	listener net.Listener
	metrics  *http.Server
	clock    clock.Clock

	mu        sync.Mutex
	shutdown  bool
	readyOnce sync.Once
	readyCh   chan struct{}

	meterShutdown func(context.Context) error
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger  pslog.Logger
	Backend storage.Backend
	Clock   clock.Clock
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) { o.Logger = l }
}

// WithBackend injects a pre-built backend (useful for tests).
func WithBackend(b storage.Backend) Option {
	return func(o *options) { o.Backend = b }
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.Clock = c }
}

// NewServer constructs a waitlist server according to cfg.
//
//	cfg := waitlist.Config{Listen: ":9441"}
//	srv, err := waitlist.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	clk := o.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	backend := o.Backend
	if backend == nil {
		backend = memory.New()
	}

	meterShutdown, metricsHandler, err := setupMeterProvider()
	if err != nil {
		return nil, err
	}

	svc := waitlist.NewService(backend, clk, logger.With("svc", "waitlist"),
		waitlist.WithSweepInterval(cfg.SweepInterval),
		waitlist.WithDirectorLogger(logger.With("svc", "waitlist.director")),
		waitlist.WithMaxTransitionsPerSweep(cfg.MaxTransitionsPerSweep),
	)
	svc.Director.RegisterMetrics(logger)

	handler := httpapi.New(svc, logger.With("svc", "waitlist.http"))
	httpSrv := &http.Server{
		Addr:    cfg.Listen,
		Handler: handler.Mux(),
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
	}

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: metricsMux}
	}

	return &Server{
		cfg:           cfg,
		logger:        logger.With("svc", "server"),
		backend:       backend,
		svc:           svc,
		handler:       handler,
		httpSrv:       httpSrv,
		metrics:       metricsSrv,
		clock:         clk,
		readyCh:       make(chan struct{}),
		meterShutdown: meterShutdown,
	}, nil
}

// Handler returns the underlying HTTP handler so waitlist can be mounted
// inside an existing mux when embedding the server into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start launches the director and begins serving HTTP requests. It
// blocks until the server stops.
func (s *Server) Start() error {
	ctx := context.Background()
	if err := s.svc.Start(ctx); err != nil {
		return fmt.Errorf("start director: %w", err)
	}

	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.listener = ln
	s.signalReady()

	if s.metrics != nil {
		go func() {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Warn("metrics.serve_failed", "error", err)
			}
		}()
	}

	s.logger.Info("listening", "network", s.cfg.ListenProto, "address", ln.Addr().String())
	serveErr := s.httpSrv.Serve(ln)
	if errors.Is(serveErr, http.ErrServerClosed) {
		return nil
	}
	return fmt.Errorf("http serve: %w", serveErr)
}

// Ready returns a channel closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.readyCh
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() { close(s.readyCh) })
}

// Shutdown gracefully stops the server: the director, the HTTP listener,
// and the metrics listener, in that order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return nil
	}
	s.shutdown = true
	s.mu.Unlock()

	s.svc.Stop()

	if err := s.httpSrv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if s.metrics != nil {
		if err := s.metrics.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics shutdown: %w", err)
		}
	}
	if s.meterShutdown != nil {
		if err := s.meterShutdown(ctx); err != nil {
			return fmt.Errorf("meter provider shutdown: %w", err)
		}
	}
	return nil
}

// Close gracefully shuts the server down using a bounded background context.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(ctx)
}

func setupMeterProvider() (func(context.Context) error, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("telemetry: start prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	shutdown := func(ctx context.Context) error {
		shutdownCtx := ctx
		if shutdownCtx.Err() != nil {
			var cancel context.CancelFunc
			shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
		}
		return provider.Shutdown(shutdownCtx)
	}
	return shutdown, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
