package limiter

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Davincible/d-bounded/jwt"
)

// KeyFunc derives the rate limit key from an HTTP request
type KeyFunc func(*http.Request) string

// ByRealIP keys requests by client IP. Put chi's middleware.RealIP in front of
// it when running behind a proxy.
func ByRealIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

// ByHeader keys requests by the value of header, falling back to the client IP.
func ByHeader(header string) KeyFunc {
	return func(r *http.Request) string {
		if v := r.Header.Get(header); v != "" {
			return header + ":" + v
		}
		return ByRealIP(r)
	}
}

// ByJWTUser keys requests by the user ID in a valid token, falling back to the client IP.
func ByJWTUser(decoder *jwt.Decoder) KeyFunc {
	return func(r *http.Request) string {
		claims, err := decoder.FromRequest(r)
		if err != nil {
			return ByRealIP(r)
		}
		return claims.Key()
	}
}

// MiddlewareMetrics counts rate limit decisions
type MiddlewareMetrics struct {
	decisions *prometheus.CounterVec
}

// NewMiddlewareMetrics creates and registers the middleware metrics with reg.
// A nil reg registers with the default registerer.
func NewMiddlewareMetrics(namespace string, reg prometheus.Registerer) *MiddlewareMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &MiddlewareMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ratelimit_decisions_total",
				Help:      "Number of rate limit decisions by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.decisions)

	return m
}

func (m *MiddlewareMetrics) observe(allowed bool) {
	if m == nil {
		return
	}

	if allowed {
		m.decisions.WithLabelValues("allowed").Inc()
	} else {
		m.decisions.WithLabelValues("rejected").Inc()
	}
}

// MiddlewareOption configures Middleware
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	metrics *MiddlewareMetrics
	onLimit http.Handler
}

// WithMiddlewareMetrics records every decision in m.
func WithMiddlewareMetrics(m *MiddlewareMetrics) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.metrics = m
	}
}

// WithLimitHandler replaces the default 429 JSON response.
// Retry-After is already set when h runs.
func WithLimitHandler(h http.Handler) MiddlewareOption {
	return func(c *middlewareConfig) {
		c.onLimit = h
	}
}

// Middleware rejects requests over the limits of k with 429 Too Many Requests.
func Middleware(k *Keyed, keyFn KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if keyFn == nil {
		keyFn = ByRealIP
	}

	cfg := middlewareConfig{onLimit: http.HandlerFunc(tooManyRequests)}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)

			allowed := k.AllowRequest(key)
			cfg.metrics.observe(allowed)

			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			wait := time.Until(k.NextActionTime(key))
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
			cfg.onLimit.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 1
	}
	return int(math.Ceil(d.Seconds()))
}

func tooManyRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
}
