// Package server is the operations HTTP server: health, pool stats, Prometheus
// metrics and pprof, with room for application routes on the same router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Davincible/d-bounded/pool"
)

// StatsProvider reports the state of a resource pool.
type StatsProvider interface {
	Stats() pool.Stats
}

// Server is the ops HTTP server
type Server struct {
	server  http.Server
	logger  *slog.Logger
	metrics *Metrics
	router  *chi.Mux
	config  *config

	mu       sync.Mutex
	listener net.Listener
}

// Metrics holds the HTTP metrics
type Metrics struct {
	TotalRequests  *prometheus.CounterVec
	ResponseStatus *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
}

// NewMetrics creates the HTTP metrics and registers them with reg
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TotalRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"path"},
		),
		ResponseStatus: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_status",
				Help:      "HTTP response status codes",
			},
			[]string{"status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
			},
			[]string{"path"},
		),
	}

	reg.MustRegister(m.TotalRequests, m.ResponseStatus, m.HTTPDuration)
	return m
}

// New creates the ops server. Routes added through Router are served
// alongside the built-in ones.
func New(logger *slog.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s := &Server{
		logger: logger.With(slog.String("component", "ops-server")),
		router: chi.NewRouter(),
		config: cfg,
	}

	if cfg.enableMetrics {
		var reg prometheus.Registerer = prometheus.DefaultRegisterer
		if cfg.registry != nil {
			reg = cfg.registry
		}
		s.metrics = NewMetrics(cfg.namespace, reg)
	}

	s.server = http.Server{
		Addr:              cfg.addr,
		Handler:           s.router,
		ReadTimeout:       cfg.readTimeout,
		WriteTimeout:      cfg.writeTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		IdleTimeout:       cfg.idleTimeout,
		MaxHeaderBytes:    cfg.maxHeaderBytes,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Router returns the chi router for adding application routes
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the root handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupMiddleware() {
	stack := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(s.config.requestTimeout),
		middleware.RequestSize(s.config.maxRequestSize),
		middleware.StripSlashes,
	}

	if s.config.enableLogger {
		stack = append(stack, middleware.RequestLogger(&middleware.DefaultLogFormatter{
			Logger:  slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
			NoColor: true,
		}))
	}

	if s.config.enableMetrics {
		stack = append(stack, s.prometheusMiddleware)
	}

	if s.config.enableBrotli {
		stack = append(stack, s.brotliMiddleware)
	} else if s.config.enableGzip {
		stack = append(stack, middleware.Compress(5))
	}

	if s.config.corsOptions != nil {
		stack = append(stack, cors.Handler(*s.config.corsOptions))
	}

	s.router.Use(append(stack, s.config.customMiddleware...)...)
}

func (s *Server) setupRoutes() {
	if s.config.enableMetrics {
		gatherer := prometheus.DefaultGatherer
		if s.config.registry != nil {
			gatherer = s.config.registry
		}
		s.router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
			ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		}))
	}

	s.router.Get(s.config.healthCheckPath, s.handleHealth)
	s.router.Get("/debug/pool", s.handlePoolStats)

	if s.config.enableProfiling {
		s.router.HandleFunc("/debug/pprof", pprof.Index)
		s.router.HandleFunc("/debug/pprof/*", pprof.Index)
		s.router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		s.router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		s.router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		s.router.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
}

type healthResponse struct {
	Status     string       `json:"status"`
	Timestamp  time.Time    `json:"timestamp"`
	Goroutines int          `json:"goroutines"`
	Memory     memoryStats  `json:"memory"`
	Pools      []pool.Stats `json:"pools,omitempty"`
}

type memoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"totalAlloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"numGC"`
}

// handleHealth reports 503 once any registered pool is closed.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:     "OK",
		Timestamp:  time.Now().UTC(),
		Goroutines: runtime.NumGoroutine(),
		Pools:      s.poolStats(),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	resp.Memory = memoryStats{Alloc: m.Alloc, TotalAlloc: m.TotalAlloc, Sys: m.Sys, NumGC: m.NumGC}

	status := http.StatusOK
	for _, st := range resp.Pools {
		if st.Closed {
			resp.Status = "UNAVAILABLE"
			status = http.StatusServiceUnavailable
			break
		}
	}

	s.writeJSON(w, status, resp)
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	stats := s.poolStats()
	if stats == nil {
		stats = []pool.Stats{}
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) poolStats() []pool.Stats {
	if len(s.config.pools) == 0 {
		return nil
	}

	stats := make([]pool.Stats, 0, len(s.config.pools))
	for _, p := range s.config.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write response", slog.Any("err", err))
	}
}

// Start listens on the configured address and serves in the background
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("start HTTP server: %w", err)
	}

	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()

	go func() {
		s.logger.Info("starting HTTP server", slog.String("addr", l.Addr().String()))
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.Any("err", err))
		}
	}()

	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.config.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.shutdownTimeout)
		defer cancel()
	}
	return s.server.Shutdown(ctx)
}

// Addr returns the bound address once started, the configured one before
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

func (s *Server) prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(rw, r)

		path := routePattern(r)
		status := rw.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.metrics.HTTPDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
		s.metrics.ResponseStatus.WithLabelValues(strconv.Itoa(status)).Inc()
		s.metrics.TotalRequests.WithLabelValues(path).Inc()
	})
}

// routePattern labels metrics by route pattern to keep label cardinality bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func (s *Server) brotliMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "br") {
			next.ServeHTTP(w, r)
			return
		}

		if r.Header.Get("Range") != "" {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "br")
		w.Header().Del("Content-Length")
		w.Header().Add("Vary", "Accept-Encoding")

		bw := &brotliResponseWriter{
			ResponseWriter: w,
			writer:         brotli.NewWriterLevel(w, s.config.brotliLevel),
		}
		defer bw.Close()

		next.ServeHTTP(bw, r)
	})
}

type brotliResponseWriter struct {
	http.ResponseWriter
	writer *brotli.Writer
}

func (w *brotliResponseWriter) Write(p []byte) (int, error) {
	return w.writer.Write(p)
}

func (w *brotliResponseWriter) Close() error {
	return w.writer.Close()
}

func (w *brotliResponseWriter) Flush() {
	w.writer.Flush()
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
