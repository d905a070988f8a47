// Command gateway runs the LMS API gateway: per-caller fixed-window rate
// limiting, gateway-issued tokens backed by a TTL session cache, and a
// reverse proxy to the LMS upstream.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	hhttp "lms-gateway/internal/handler/http"
	hauth "lms-gateway/internal/handler/http/auth"
	"lms-gateway/internal/handler/http/limits"
	"lms-gateway/internal/handler/http/middleware"
	"lms-gateway/internal/handler/http/proxy"
	"lms-gateway/internal/infra/adapter/persistence/postgres"
	"lms-gateway/internal/infra/adapter/persistence/redisstore"
	"lms-gateway/internal/infra/db"
	"lms-gateway/internal/infra/worker"
	"lms-gateway/internal/observability/logging"
	"lms-gateway/internal/observability/metrics"
	"lms-gateway/internal/observability/tracing"
	"lms-gateway/internal/repository"
	"lms-gateway/internal/resilience/circuitbreaker"
	"lms-gateway/internal/resilience/retry"
	authservice "lms-gateway/internal/service/auth"
	"lms-gateway/pkg/config"
	"lms-gateway/pkg/ratelimit"
	"lms-gateway/pkg/tokencache"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.OptionsFromEnv(), os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "gateway:", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("gateway stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// settings is the validated startup configuration.
type settings struct {
	server     config.ServerConfig
	rateLimit  *ratelimit.RateLimitConfig
	tokenCache config.TokenCacheConfig
	auth       config.AuthConfig
	proxy      config.ProxyConfig
	redis      config.RedisConfig
	dsn        string
}

func loadSettings() (settings, error) {
	var (
		s   settings
		err error
	)
	s.server = config.LoadServerConfig()
	s.redis = config.LoadRedisConfig()
	s.dsn = config.GetEnvString("DATABASE_URL", "")

	if s.rateLimit, err = config.LoadRateLimitConfig(); err != nil {
		return s, err
	}
	if s.tokenCache, err = config.LoadTokenCacheConfig(); err != nil {
		return s, err
	}
	if s.auth, err = config.LoadAuthConfig(); err != nil {
		return s, err
	}
	if s.proxy, err = config.LoadProxyConfig(); err != nil {
		return s, err
	}
	return s, nil
}

func (s settings) needsRedis() bool {
	return s.rateLimit.Backend == ratelimit.BackendRedis || s.tokenCache.Backend == "redis"
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadSettings()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	tp := tracing.NewProvider(tracing.ConfigFromEnv())
	defer func() { _ = tp.Shutdown(context.Background()) }()

	clock := &ratelimit.SystemClock{}
	limiterMetrics := ratelimit.NewPrometheusMetrics()

	var (
		redisClient  *redis.Client
		redisBreaker *circuitbreaker.CircuitBreaker
	)
	if cfg.needsRedis() {
		redisClient = redisstore.NewClient(cfg.redis)
		defer func() { _ = redisClient.Close() }()
		if err := redisstore.WaitReady(ctx, redisClient, retry.StartupConfig("redis ping")); err != nil {
			return err
		}

		cbCfg := circuitbreaker.RedisConfig()
		cbCfg.FailureThreshold = cfg.rateLimit.CircuitBreakerFailureThreshold
		cbCfg.Timeout = cfg.rateLimit.CircuitBreakerResetTimeout
		cbCfg.OnStateChange = limiterMetrics.RecordCircuitState
		redisBreaker = circuitbreaker.New(cbCfg)
		logger.Info("redis connected", slog.String("addr", cfg.redis.Addr))
	}

	limiter, err := newLimiter(cfg.rateLimit, redisClient, redisBreaker, limiterMetrics, clock)
	if err != nil {
		return err
	}

	var (
		database  *sql.DB
		overrides repository.LimitOverrideRepository
	)
	if cfg.dsn != "" {
		database, overrides, err = openOverrides(ctx, cfg.dsn, limiter, logger)
		if err != nil {
			return err
		}
		defer func() { _ = database.Close() }()
	} else {
		logger.Warn("DATABASE_URL not set; rate limit overrides set at runtime are not persisted")
	}

	var (
		ttlStore tokencache.TTLStore
		memCache *tokencache.MemoryStore
	)
	if cfg.tokenCache.Backend == "redis" {
		ttlStore = redisstore.NewTTLStore(redisClient, redisstore.WithTTLBreaker(redisBreaker))
	} else {
		memCache = tokencache.NewMemoryStore(clock)
		ttlStore = memCache
	}

	dir, err := authservice.LoadEnvDirectory()
	if err != nil {
		return fmt.Errorf("auth directory: %w", err)
	}
	authSvc := authservice.NewAuthService(cfg.auth, dir, tokencache.NewSessionCache(ttlStore), clock)

	ips := middleware.NewIPExtractor(cfg.proxy)
	keyFunc, err := middleware.KeyFuncFor(cfg.rateLimit.KeyStrategy, ips)
	if err != nil {
		return fmt.Errorf("rate limit keys: %w", err)
	}
	clientIP := func(r *http.Request) string {
		addr, err := ips.ExtractIP(r)
		if err != nil {
			return ""
		}
		return addr.String()
	}

	var upstream http.Handler
	if cfg.server.UpstreamURL != "" {
		p, err := proxy.New(cfg.server.UpstreamURL)
		if err != nil {
			return err
		}
		upstream = p
	}

	health := &hhttp.HealthHandler{
		DB:            database,
		Limiter:       limiter,
		Backend:       cfg.rateLimit.Backend,
		FailurePolicy: string(cfg.rateLimit.FailurePolicy),
		Version:       cfg.server.Version,
	}
	ready := &hhttp.ReadyHandler{DB: database}
	if redisClient != nil {
		ping := func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
		health.Redis = ping
		health.RedisBreaker = redisBreaker.StateName
		ready.Redis = ping
	}

	handler := newRouter(routes{
		Logger:         logger,
		MaxBodyBytes:   cfg.server.MaxBodyBytes,
		RequestTimeout: cfg.server.RequestTimeout,
		Auth:           authSvc,
		AuthHTTP:       hauth.NewHandler(authSvc, clientIP),
		Limits:         limits.NewHandler(limiter, overrides, keyFunc, clock),
		RateLimit: middleware.NewRateLimiter(limiter, keyFunc,
			middleware.WithFailurePolicy(cfg.rateLimit.FailurePolicy),
			middleware.WithEnabled(cfg.rateLimit.Enabled)),
		Health:   health,
		Ready:    ready,
		Metrics:  metrics.Handler(limiterMetrics.Registry()),
		Upstream: upstream,
	})

	jobs, err := scheduleJobs(cfg, limiter, limiterMetrics, memCache, database, logger)
	if err != nil {
		return err
	}
	jobs.Start()

	srv := &http.Server{
		Addr:              cfg.server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.server.ReadTimeout,
		ReadTimeout:       cfg.server.ReadTimeout,
		WriteTimeout:      cfg.server.WriteTimeout,
		IdleTimeout:       cfg.server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting",
			slog.String("addr", cfg.server.Addr),
			slog.String("version", cfg.server.Version),
			slog.Bool("rate_limit_enabled", cfg.rateLimit.Enabled),
			slog.String("rate_limit_backend", cfg.rateLimit.Backend),
			slog.String("default_limit", limiter.Defaults().String()),
			slog.Bool("upstream", upstream != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.server.ShutdownTimeout)
		defer cancel()
		<-jobs.Stop().Done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		logger.Info("server stopped")
		return nil
	})
	return g.Wait()
}

func newLimiter(cfg *ratelimit.RateLimitConfig, client *redis.Client, cb *circuitbreaker.CircuitBreaker,
	m *ratelimit.PrometheusMetrics, clock ratelimit.Clock) (*ratelimit.Limiter, error) {
	var store ratelimit.BucketStore
	switch cfg.Backend {
	case ratelimit.BackendRedis:
		store = redisstore.NewBucketStore(client, redisstore.WithBucketBreaker(cb))
	default:
		mem, err := ratelimit.NewInMemoryBucketStore(ratelimit.InMemoryStoreConfig{
			Shards:          cfg.Shards,
			MaxKeysPerShard: cfg.MaxKeysPerShard,
			Metrics:         m,
		})
		if err != nil {
			return nil, err
		}
		store = mem
	}

	limiter, err := ratelimit.NewLimiter(store, cfg.DefaultLimitConfig(),
		ratelimit.WithClock(clock),
		ratelimit.WithMetrics(m),
		ratelimit.WithStoreTimeout(cfg.StoreTimeout))
	if err != nil {
		return nil, err
	}

	configured, err := cfg.ResolvedOverrides()
	if err != nil {
		return nil, err
	}
	for _, o := range configured {
		if err := limiter.SetLimitConfig(o.Key, o.Config); err != nil {
			return nil, err
		}
	}
	return limiter, nil
}

// openOverrides connects to Postgres, migrates the schema and loads the
// persisted overrides on top of the configured ones.
func openOverrides(ctx context.Context, dsn string, limiter *ratelimit.Limiter, logger *slog.Logger) (*sql.DB, repository.LimitOverrideRepository, error) {
	database, err := db.Open(ctx, dsn, db.ConnectionConfigFromEnv())
	if err != nil {
		return nil, nil, err
	}
	if err := db.MigrateUp(ctx, database); err != nil {
		_ = database.Close()
		return nil, nil, err
	}

	repo := postgres.NewLimitOverrideRepo(circuitbreaker.NewDBCircuitBreaker(database))
	var loaded int
	err = retry.WithBackoff(ctx, retry.DBConfig("load overrides"), func(ctx context.Context) error {
		n, err := limiter.LoadOverrides(ctx, repo)
		loaded = n
		return err
	})
	if err != nil {
		_ = database.Close()
		return nil, nil, fmt.Errorf("load persisted overrides: %w", err)
	}
	logger.Info("persisted rate limit overrides loaded", slog.Int("count", loaded))
	return database, repo, nil
}

// scheduleJobs registers the background maintenance jobs.
func scheduleJobs(cfg settings, limiter *ratelimit.Limiter, m *ratelimit.PrometheusMetrics,
	memCache *tokencache.MemoryStore, database *sql.DB, logger *slog.Logger) (*worker.Scheduler, error) {
	s := worker.NewScheduler(logger, cfg.rateLimit.StoreTimeout*10)

	if memCache != nil {
		err := s.Add("token_cache_purge", cfg.tokenCache.PurgeSchedule, func(context.Context) error {
			purged := memCache.Purge()
			metrics.RecordTokenCachePurge(purged, memCache.Len())
			if purged > 0 {
				logger.Debug("token cache purged", slog.Int("purged", purged))
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("TOKENCACHE_PURGE_SCHEDULE: %w", err)
		}
	}

	err := s.Add("ratelimit_active_keys", "@every 30s", func(ctx context.Context) error {
		n, err := limiter.ActiveKeys(ctx)
		if err != nil {
			return err
		}
		m.SetActiveKeys(cfg.rateLimit.Backend, n)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if database != nil {
		err := s.Add("db_stats", "@every 15s", func(context.Context) error {
			metrics.RecordDBStats(database.Stats())
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}
