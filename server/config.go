package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
)

// config holds the ops server settings
type config struct {
	// addr is the address the server will listen on (e.g. ":9090")
	addr string

	// readTimeout is the maximum duration for reading the entire request
	readTimeout time.Duration

	// writeTimeout is the maximum duration before timing out writes of the response
	writeTimeout time.Duration

	// requestTimeout is the maximum duration before timing out the entire request
	requestTimeout time.Duration

	// maxRequestSize is the maximum size in bytes for the request body
	maxRequestSize int64

	// corsOptions configures Cross-Origin Resource Sharing settings
	corsOptions *cors.Options

	// namespace prefixes the HTTP metrics
	namespace string

	// registry receives the HTTP metrics and backs /metrics
	registry Registry

	// enableMetrics mounts /metrics and records HTTP metrics
	enableMetrics bool

	// enableLogger logs every request through the server logger
	enableLogger bool

	// enableProfiling mounts pprof under /debug/pprof
	enableProfiling bool

	// enableGzip enables gzip compression for responses
	enableGzip bool

	// enableBrotli enables brotli compression for responses
	enableBrotli bool

	// brotliLevel sets the compression level for brotli (1-11, default: 4)
	brotliLevel int

	// healthCheckPath is the health endpoint path (default: /health)
	healthCheckPath string

	// pools are reported by /health and /debug/pool
	pools []StatsProvider

	// customMiddleware runs after the built-in middleware
	customMiddleware []func(http.Handler) http.Handler

	// shutdownTimeout is the maximum duration to wait for server shutdown
	shutdownTimeout time.Duration

	// idleTimeout is the maximum amount of time to wait for the next request
	idleTimeout time.Duration

	// maxHeaderBytes caps the size of request headers
	maxHeaderBytes int
}

// Registry registers metrics and gathers them for /metrics.
// *prometheus.Registry satisfies it.
type Registry interface {
	prometheus.Registerer
	prometheus.Gatherer
}

// Option configures the server
type Option func(*config)

const (
	defaultAddr            = ":9090"
	defaultNamespace       = "ops"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultRequestTimeout  = 25 * time.Second
	defaultMaxRequestSize  = 1 << 20 // 1 MB
	defaultShutdownTimeout = 15 * time.Second
	defaultIdleTimeout     = 120 * time.Second
	defaultMaxHeaderBytes  = 1 << 20 // 1 MB
	defaultHealthCheckPath = "/health"
	defaultBrotliLevel     = 4
)

func defaultConfig() *config {
	return &config{
		addr:            defaultAddr,
		readTimeout:     defaultReadTimeout,
		writeTimeout:    defaultWriteTimeout,
		requestTimeout:  defaultRequestTimeout,
		maxRequestSize:  defaultMaxRequestSize,
		namespace:       defaultNamespace,
		enableMetrics:   true,
		enableLogger:    true,
		healthCheckPath: defaultHealthCheckPath,
		shutdownTimeout: defaultShutdownTimeout,
		idleTimeout:     defaultIdleTimeout,
		maxHeaderBytes:  defaultMaxHeaderBytes,
		brotliLevel:     defaultBrotliLevel,
		corsOptions: &cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			ExposedHeaders: []string{"Retry-After"},
		},
	}
}

// WithAddr sets the listen address
func WithAddr(addr string) Option {
	return func(c *config) {
		c.addr = addr
	}
}

// WithTimeouts sets the read and write timeouts
func WithTimeouts(read, write time.Duration) Option {
	return func(c *config) {
		c.readTimeout = read
		c.writeTimeout = write
	}
}

// WithRequestTimeout sets the per-request timeout
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.requestTimeout = timeout
	}
}

// WithMaxRequestSize sets the maximum request body size
func WithMaxRequestSize(size int64) Option {
	return func(c *config) {
		c.maxRequestSize = size
	}
}

// WithRegistry records HTTP metrics in reg and serves reg on /metrics.
// Without it the default prometheus registry is used.
func WithRegistry(reg Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithNamespace sets the HTTP metrics namespace
func WithNamespace(namespace string) Option {
	return func(c *config) {
		c.namespace = namespace
	}
}

// WithoutMetrics disables /metrics and the HTTP metrics
func WithoutMetrics() Option {
	return func(c *config) {
		c.enableMetrics = false
	}
}

// WithoutRequestLog disables per-request logging
func WithoutRequestLog() Option {
	return func(c *config) {
		c.enableLogger = false
	}
}

// WithPools reports the given pools on /health and /debug/pool
func WithPools(pools ...StatsProvider) Option {
	return func(c *config) {
		c.pools = append(c.pools, pools...)
	}
}

// WithMiddleware adds custom middleware
func WithMiddleware(middleware ...func(http.Handler) http.Handler) Option {
	return func(c *config) {
		c.customMiddleware = append(c.customMiddleware, middleware...)
	}
}

// WithCORS sets the CORS options, nil disables CORS
func WithCORS(options *cors.Options) Option {
	return func(c *config) {
		c.corsOptions = options
	}
}

// WithCorsDomains sets the allowed CORS origins
func WithCorsDomains(domains []string) Option {
	return func(c *config) {
		if c.corsOptions == nil {
			c.corsOptions = &cors.Options{}
		}
		c.corsOptions.AllowedOrigins = domains
	}
}

// WithProfiling enables pprof debugging endpoints
func WithProfiling() Option {
	return func(c *config) {
		c.enableProfiling = true
	}
}

// WithGzip enables gzip compression
func WithGzip() Option {
	return func(c *config) {
		c.enableGzip = true
	}
}

// WithBrotli enables brotli compression with optional compression level
func WithBrotli(level ...int) Option {
	return func(c *config) {
		c.enableBrotli = true
		c.brotliLevel = defaultBrotliLevel
		if len(level) > 0 {
			c.brotliLevel = min(max(level[0], 1), 11)
		}
	}
}

// WithHealthCheckPath moves the health endpoint
func WithHealthCheckPath(path string) Option {
	return func(c *config) {
		if path != "" {
			c.healthCheckPath = path
		}
	}
}

// WithShutdownTimeout sets the maximum duration to wait for server shutdown
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.shutdownTimeout = timeout
	}
}

// WithIdleTimeout sets the maximum duration to wait for the next request
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.idleTimeout = timeout
	}
}

func (c *config) validate() error {
	if c.addr == "" {
		return errors.New("server address cannot be empty")
	}
	if c.readTimeout <= 0 || c.writeTimeout <= 0 {
		return errors.New("read and write timeouts must be positive")
	}
	if c.requestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.maxRequestSize <= 0 {
		return errors.New("max request size must be positive")
	}
	if c.healthCheckPath[0] != '/' {
		return fmt.Errorf("health check path %q must start with /", c.healthCheckPath)
	}
	return nil
}
