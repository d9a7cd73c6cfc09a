// Command boundsd publishes JSON requests to NATS over a pooled set of
// connections, rate limited per caller, and serves ops endpoints for the pool.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Davincible/d-bounded/env"
	"github.com/Davincible/d-bounded/jwt"
	"github.com/Davincible/d-bounded/limiter"
	"github.com/Davincible/d-bounded/natspool"
	"github.com/Davincible/d-bounded/pool"
	"github.com/Davincible/d-bounded/server"
)

const namespace = "boundsd"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("load config", slog.Any("err", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.slogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("boundsd stopped", slog.Any("err", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	natsCfg := natspool.DefaultConfig(cfg.NATS.URL)
	natsCfg.InitialSize = cfg.NATS.InitialSize
	natsCfg.MaxSize = cfg.NATS.MaxSize
	natsCfg.IdleExpiry = cfg.NATS.IdleExpiry.Std()
	natsCfg.Logger = logger
	natsCfg.Metrics = pool.NewMetrics(namespace, reg)

	conns, err := natspool.New(ctx, natsCfg)
	if err != nil {
		return err
	}

	keyed := limiter.NewKeyed(cfg.MaxTrackedKeys, cfg.limits()...)
	rateLimit := limiter.Middleware(keyed, callerKey(cfg, logger),
		limiter.WithMiddlewareMetrics(limiter.NewMiddlewareMetrics(namespace, reg)),
	)

	opts := []server.Option{
		server.WithAddr(cfg.Addr),
		server.WithRegistry(reg),
		server.WithNamespace(namespace),
		server.WithPools(conns),
	}
	if cfg.Profiling {
		opts = append(opts, server.WithProfiling())
	}
	if cfg.Brotli {
		opts = append(opts, server.WithBrotli())
	} else {
		opts = append(opts, server.WithGzip())
	}

	srv, err := server.New(logger, opts...)
	if err != nil {
		return errors.Join(err, conns.Close())
	}

	srv.Router().With(rateLimit).Post("/v1/publish/{subject}", publishHandler(conns, logger))

	if err := srv.Start(); err != nil {
		return errors.Join(err, conns.Close())
	}

	<-ctx.Done()
	logger.Info("shutting down")

	return errors.Join(
		srv.Shutdown(context.Background()),
		conns.Close(),
	)
}

// callerKey keys callers by JWT user when a secret is configured, by IP otherwise.
func callerKey(cfg Config, logger *slog.Logger) limiter.KeyFunc {
	secret := env.GetEnv("JWT_SECRET_KEY")
	if secret == "" {
		logger.Info("JWT_SECRET_KEY not set, rate limiting by client IP")
		return limiter.ByRealIP
	}

	return limiter.ByJWTUser(jwt.NewDecoder(secret, cfg.JWTIssuer))
}
