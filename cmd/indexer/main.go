package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/consumer"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/indexer/publisher"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/postgres"
	pkgredis "github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/content-search-core/pkg/resilience"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if err := run(cfg); err != nil {
		slog.Error("indexer service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	checker := health.NewChecker()
	checker.Register("index", health.Probe(func(context.Context) error {
		_, err := os.Stat(cfg.Index.DataDir)
		return err
	}, health.StatusDown))
	if cfg.Metrics.Enabled {
		shutdownMetrics := m.StartServer(cfg.Metrics.Port, map[string]http.Handler{
			"/healthz": checker.LiveHandler(),
			"/readyz":  checker.ReadyHandler(),
		})
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			shutdownMetrics(sctx)
		}()
	}

	manager := indexer.NewManager(cfg, m)
	names, err := manager.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading collections: %w", err)
	}
	slog.Info("collections loaded", "collections", names, "data_dir", cfg.Index.DataDir)
	manager.StartMaintenance(ctx)

	backend, closeBackend, err := cacheBackend(ctx, cfg, m, checker)
	if err != nil {
		return err
	}
	defer closeBackend()
	engine := searcher.New(manager, backend, cfg, m)
	slog.Info("search engine ready", "providers", engine.Providers(), "cache", cfg.Cache.Backend)

	var status consumer.StatusRecorder
	if cfg.Postgres.Enabled {
		db, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer db.Close()
		checker.Register("status-store", health.Probe(db.Ping, health.StatusDown))
		store := postgres.NewStatusStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		status = store
	}

	var wg sync.WaitGroup
	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexComplete)
		defer producer.Close()
		pub := publisher.New(producer, 0, resilience.RetryConfig{MaxAttempts: 5})
		manager.Subscribe(pub.Hook())
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx)
		}()

		kc := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest, consumer.HandleMessage(manager, status))
		ic := consumer.New(kc)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ic.Start(ctx); err != nil {
				slog.Error("consumer error", "error", err)
			}
		}()
		slog.Info("consuming from kafka",
			"topic", cfg.Kafka.Topics.DocumentIngest,
			"group", cfg.Kafka.ConsumerGroup,
		)
	} else {
		slog.Info("kafka disabled, no brokers configured")
	}

	slog.Info("indexer service ready")
	<-ctx.Done()
	wg.Wait()

	hits, misses := engine.CacheStats()
	slog.Info("shutting down", "cache_hits", hits, "cache_misses", misses)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := manager.CommitAll(sctx); err != nil {
		slog.Error("final commit failed", "error", err)
	}
	return manager.Shutdown(sctx)
}

func cacheBackend(ctx context.Context, cfg *config.Config, m *metrics.Metrics, checker *health.Checker) (cache.Backend, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		client, err := pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to redis: %w", err)
		}
		breaker := resilience.NewCircuitBreaker("redis-cache", resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, to resilience.State) {
				m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			},
		})
		checker.Register("cache", health.Probe(func(ctx context.Context) error {
			if breaker.GetState() == resilience.StateOpen {
				return resilience.ErrCircuitOpen
			}
			return client.Ping(ctx)
		}, health.StatusDegraded))
		return cache.NewRedis(client, cfg.Redis.KeyPrefix, cfg.Cache.TTL, breaker), func() { client.Close() }, nil
	case "none":
		return cache.Noop{}, func() {}, nil
	default:
		return cache.NewMemory(cfg.Cache.MaxEntries, cfg.Cache.TTL), func() {}, nil
	}
}
