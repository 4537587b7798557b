// Command conductd runs the Conduct execution runtime as a standalone
// daemon: store-backed engine, admin HTTP API, and live feed endpoint
// on a single listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"

	"github.com/conduct-dev/conduct"
	"github.com/conduct-dev/conduct/api"
	"github.com/conduct-dev/conduct/engine"
	"github.com/conduct-dev/conduct/feed"
	"github.com/conduct-dev/conduct/observability"
	"github.com/conduct-dev/conduct/store/memory"
	"github.com/conduct-dev/conduct/store/postgres"
	"github.com/conduct-dev/conduct/store/redis"
)

// Config is the daemon configuration, loaded from CONDUCT_* environment
// variables.
type Config struct {
	Addr string `env:"CONDUCT_ADDR" envDefault:":8080"`

	// Store selects the persistence backend: memory, postgres, or redis.
	Store       string `env:"CONDUCT_STORE" envDefault:"memory"`
	PostgresURL string `env:"CONDUCT_POSTGRES_URL"`
	RedisAddr   string `env:"CONDUCT_REDIS_ADDR" envDefault:"localhost:6379"`
	RedisDB     int    `env:"CONDUCT_REDIS_DB" envDefault:"0"`
	RedisPass   string `env:"CONDUCT_REDIS_PASSWORD"`

	Queues            []string      `env:"CONDUCT_QUEUES" envSeparator:"," envDefault:"default"`
	Concurrency       int           `env:"CONDUCT_CONCURRENCY" envDefault:"10"`
	PollInterval      time.Duration `env:"CONDUCT_POLL_INTERVAL" envDefault:"1s"`
	LeaseDuration     time.Duration `env:"CONDUCT_LEASE_DURATION" envDefault:"30s"`
	HeartbeatInterval time.Duration `env:"CONDUCT_HEARTBEAT_INTERVAL" envDefault:"10s"`
	ReclaimInterval   time.Duration `env:"CONDUCT_RECLAIM_INTERVAL" envDefault:"30s"`
	ShutdownTimeout   time.Duration `env:"CONDUCT_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	LogLevel  string `env:"CONDUCT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CONDUCT_LOG_FORMAT" envDefault:"text"`

	// FeedToken, when set, gates the live feed behind a single API key
	// with full access. Empty leaves the feed open (development only).
	FeedToken string `env:"CONDUCT_FEED_TOKEN"`
}

func main() {
	if err := run(); err != nil {
		slog.Error("conductd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}

	rtCfg := conduct.DefaultConfig()
	rtCfg.Concurrency = cfg.Concurrency
	rtCfg.Queues = cfg.Queues
	rtCfg.PollInterval = cfg.PollInterval
	rtCfg.LeaseDuration = cfg.LeaseDuration
	rtCfg.HeartbeatInterval = cfg.HeartbeatInterval
	rtCfg.ReclaimInterval = cfg.ReclaimInterval
	rtCfg.ShutdownTimeout = cfg.ShutdownTimeout

	rt, err := conduct.New(
		conduct.WithStore(st),
		conduct.WithConfig(rtCfg),
		conduct.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}

	eng, err := engine.Build(rt,
		engine.WithExtension(observability.NewMetricsExtension()),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	mux := http.NewServeMux()

	admin := api.New(eng, api.WithLogger(logger))
	admin.RegisterRoutes(mux)

	feedSrv := feed.NewServer(eng.Broker(),
		feed.NewHandler(eng, eng.Broker(), logger),
		feed.WithAuth(feedAuth(cfg)),
		feed.WithLogger(logger),
	)
	feedSrv.RegisterRoutes(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if pingErr := st.Ping(r.Context()); pingErr != nil {
			http.Error(w, pingErr.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("conductd listening",
			slog.String("addr", cfg.Addr),
			slog.String("store", cfg.Store),
			slog.Any("queues", cfg.Queues),
		)
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-errCh:
		return fmt.Errorf("http server: %w", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown", slog.String("error", err.Error()))
	}

	logger.Info("conductd stopped")
	return nil
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// openStore builds the configured backend. The returned func releases
// backend resources the store does not own itself.
func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (conduct.Storer, func(), error) {
	switch cfg.Store {
	case "memory":
		return memory.New(), func() {}, nil

	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, nil, fmt.Errorf("CONDUCT_POSTGRES_URL is required for the postgres store")
		}
		st, err := postgres.New(ctx, cfg.PostgresURL, postgres.WithLogger(logger))
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres store: %w", err)
		}
		return st, func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Warn("close postgres store", slog.String("error", closeErr.Error()))
			}
		}, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		st := redis.New(client, redis.WithLogger(logger))
		return st, func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close redis client", slog.String("error", closeErr.Error()))
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q (want memory, postgres, or redis)", cfg.Store)
	}
}

func feedAuth(cfg Config) feed.Authenticator {
	if cfg.FeedToken == "" {
		return &feed.NoopAuthenticator{}
	}
	return feed.NewAPIKeyAuthenticator(feed.APIKeyEntry{
		Token: cfg.FeedToken,
		Identity: feed.Identity{
			Subject: "conductd",
			Scopes:  []string{feed.ScopeAll},
		},
	})
}
