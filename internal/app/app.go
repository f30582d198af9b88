package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-sync/internal/backend"
	"github.com/vovakirdan/wirechat-sync/internal/config"
	"github.com/vovakirdan/wirechat-sync/internal/metrics"
	"github.com/vovakirdan/wirechat-sync/internal/realtime"
	"github.com/vovakirdan/wirechat-sync/internal/store"
	"github.com/vovakirdan/wirechat-sync/internal/store/postgres"
	"github.com/vovakirdan/wirechat-sync/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-sync/internal/transport/http"
)

// App wires together storage, brokers and the transport layer.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration

	store    store.Store
	pool     *pgxpool.Pool
	redis    *redis.Client
	messages realtime.Broker[*store.Message]
	changes  realtime.Broker[*store.Change]
	log      *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{shutdownTimeout: cfg.ShutdownTimeout, log: logger}
	ok := false
	defer func() {
		if !ok {
			a.cleanup()
		}
	}()

	if err := a.openStore(ctx, cfg); err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := a.openBrokers(ctx, cfg, m); err != nil {
		return nil, err
	}

	svc := backend.NewService(a.store, a.messages, a.changes,
		backend.WithLogger(logger),
		backend.WithMaxMessageBytes(cfg.MaxMessageBytes),
	)
	a.server = transporthttp.NewServer(svc, cfg, logger, transporthttp.WithMetrics(m, reg))

	ok = true
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) error {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.PostgresConns)
		if err != nil {
			return fmt.Errorf("init postgres pool: %w", err)
		}
		a.pool = pool

		st, err := postgres.New(pool, postgres.WithSchema(cfg.PostgresSchema))
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate postgres: %w", err)
		}
		a.store = st
		a.log.Info().Str("schema", cfg.PostgresSchema).Msg("postgres store initialized")
	default:
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return fmt.Errorf("init store: %w", err)
		}
		a.store = st
		a.log.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")
	}
	return nil
}

func (a *App) openBrokers(ctx context.Context, cfg *config.Config, m *metrics.Metrics) error {
	opts := []realtime.Option{
		realtime.WithBuffer(cfg.SubscribeBuffer),
		realtime.WithLogger(a.log),
		realtime.WithMetrics(m),
	}

	switch cfg.Broker {
	case config.BrokerRedis:
		client, err := realtime.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
		a.messages = realtime.NewRedisBroker[*store.Message](client, cfg.RedisPrefix+":messages:", opts...)
		a.changes = realtime.NewRedisBroker[*store.Change](client, cfg.RedisPrefix+":changes:", opts...)
		a.log.Info().Str("prefix", cfg.RedisPrefix).Msg("redis broker initialized")
	default:
		a.messages = realtime.NewHub[*store.Message](opts...)
		a.changes = realtime.NewHub[*store.Change](opts...)
	}
	return nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Open WebSocket streams end when their subscriptions do.
		a.closeBrokers()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// Handler exposes the HTTP handler, mostly for tests.
func (a *App) Handler() stdhttp.Handler { return a.server.Handler }

func (a *App) closeBrokers() {
	for name, b := range map[string]interface{ Close() error }{"messages": a.messages, "changes": a.changes} {
		if b == nil {
			continue
		}
		if err := b.Close(); err != nil {
			a.log.Warn().Err(err).Str("broker", name).Msg("failed to close broker")
		}
	}
}

// cleanup closes brokers, database and other resources.
func (a *App) cleanup() {
	a.closeBrokers()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
		a.redis = nil
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
		a.store = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}
