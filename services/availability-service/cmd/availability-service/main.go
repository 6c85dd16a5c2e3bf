package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/estatecraft/agentdesk/libs/auth"
	"github.com/estatecraft/agentdesk/libs/config"
	"github.com/estatecraft/agentdesk/libs/db"
	"github.com/estatecraft/agentdesk/libs/grpcx"
	"github.com/estatecraft/agentdesk/libs/httpx"
	"github.com/estatecraft/agentdesk/libs/kafkax"
	otelx "github.com/estatecraft/agentdesk/libs/otel"
	"github.com/estatecraft/agentdesk/libs/runtime"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/availability"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/calendar"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/credentials"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/handlers"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/outbox"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/policy"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/scheduling"
	"github.com/estatecraft/agentdesk/services/availability-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := config.LoadFile(os.Getenv("CONFIG_FILE")); err != nil {
		slog.Error("config file", "err", err)
		os.Exit(1)
	}
	service := config.String("SERVICE_NAME", "availability-service")
	logger := runtime.NewLogger(service, config.String("LOG_LEVEL", "info"))

	if err := run(logger, service); err != nil {
		logger.Error("service exited", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, service string) error {
	port, err := config.Port("PORT", "8080")
	if err != nil {
		return err
	}
	grpcPort, err := config.Port("GRPC_PORT", "9090")
	if err != nil {
		return err
	}

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return err
	}
	maxConns, err := config.Int("DB_MAX_CONNS", 10)
	if err != nil {
		return err
	}
	slowQuery, err := config.Duration("DB_SLOW_QUERY", 250*time.Millisecond)
	if err != nil {
		return err
	}
	pool, err := db.Open(ctx, dbURL, db.PoolOptions{MaxConns: int32(maxConns), Logger: logger, SlowQuery: slowQuery})
	if err != nil {
		return err
	}
	defer pool.Close()

	applySchema, err := config.Bool("DB_APPLY_SCHEMA", true)
	if err != nil {
		return err
	}
	if applySchema {
		if err := storage.ApplySchema(ctx, pool); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	redisDB, err := config.Int("REDIS_DB", 0)
	if err != nil {
		return err
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     config.String("REDIS_ADDR", "redis:6379"),
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       redisDB,
	})
	defer rdb.Close()

	passphrase, err := config.RequiredString("CREDENTIALS_PASSPHRASE")
	if err != nil {
		return err
	}
	sealer, err := credentials.NewSealer(passphrase)
	if err != nil {
		return err
	}
	clientID, err := config.RequiredString("GOOGLE_CLIENT_ID")
	if err != nil {
		return err
	}
	clientSecret, err := config.RequiredString("GOOGLE_CLIENT_SECRET")
	if err != nil {
		return err
	}
	cacheTTL, err := config.Duration("CALENDAR_CACHE_TTL", calendar.DefaultCacheTTL)
	if err != nil {
		return err
	}
	defaults, err := slotDefaults()
	if err != nil {
		return err
	}

	agents := storage.NewAgentRepository(pool)
	bookings := storage.NewBookingRepository(pool)
	outboxRepo := outbox.NewRepository(pool)

	google := calendar.NewGoogle(clientID, clientSecret, calendar.NewStoredCredentials(agents, sealer), logger)
	source := calendar.NewCached(google, rdb, cacheTTL, logger)
	planner := scheduling.NewPlanner(agents, bookings, source, policy.NewStoreProvider(agents, defaults, logger), logger)

	verifier, err := authVerifier()
	if err != nil {
		return err
	}

	brokers := config.List("KAFKA_BROKERS")
	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	}
	outboxCfg, err := publisherConfig()
	if err != nil {
		return err
	}
	publisher := outbox.NewPublisher(outboxRepo, nil, logger, outboxCfg)
	if len(brokers) > 0 {
		writer := kafkax.NewWriter(brokers)
		defer writer.Close()
		publisher = outbox.NewPublisher(outboxRepo, writer, logger, outboxCfg)
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.Register(mux, handlers.Handlers{
		Availability: handlers.NewAvailabilityHandler(planner, logger),
		Bookings:     handlers.NewBookingHandler(bookings, outboxRepo, planner, source, logger),
		Agents:       handlers.NewAgentHandler(agents, sealer, source, logger),
	}, verifier)

	rateLimit, err := rateLimiter(rdb, logger)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr: ":" + port,
		Handler: httpx.Chain(mux,
			httpx.WithTracing(service),
			httpx.WithRequestID,
			httpx.WithAccessLog(logger),
			httpx.WithRecover(logger),
			httpx.WithCORS(httpx.PublicCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
			rateLimit,
			httpx.WithBodyLimit(1<<20),
			httpx.WithTimeout(15*time.Second),
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer(logger)
	grpcLis, err := net.Listen("tcp", ":"+grpcPort)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		logger.Info("grpc server starting", "addr", grpcLis.Addr().String())
		return grpcSrv.Serve(grpcLis)
	})
	g.Go(func() error {
		<-gctx.Done()
		health.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "err", err)
		}
		grpcSrv.GracefulStop()
		logger.Info("servers stopped")
		return nil
	})
	return g.Wait()
}

// slotDefaults builds the availability options used when an agent has no
// booking type override.
func slotDefaults() (availability.Options, error) {
	opts := availability.DefaultOptions()
	gap, err := config.Int("MIN_FREE_GAP_MINUTES", int(opts.MinimumFreeGap/time.Minute))
	if err != nil {
		return opts, err
	}
	duration, err := config.Int("SLOT_DURATION_MINUTES", int(opts.SlotDuration/time.Minute))
	if err != nil {
		return opts, err
	}
	step, err := config.Int("SLOT_STEP_MINUTES", int(opts.SlotStep/time.Minute))
	if err != nil {
		return opts, err
	}
	allDay, err := config.Bool("ALL_DAY_MEANS_FULLY_BUSY", opts.AllDayMeansFullyBusy)
	if err != nil {
		return opts, err
	}
	opts.MinimumFreeGap = time.Duration(gap) * time.Minute
	opts.SlotDuration = time.Duration(duration) * time.Minute
	opts.SlotStep = time.Duration(step) * time.Minute
	opts.AllDayMeansFullyBusy = allDay
	return opts, opts.Validate()
}

func publisherConfig() (outbox.PublisherConfig, error) {
	var cfg outbox.PublisherConfig
	var err error
	if cfg.PollEvery, err = config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second); err != nil {
		return cfg, err
	}
	if cfg.BatchSize, err = config.Int("OUTBOX_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.MaxAttempts, err = config.Int("OUTBOX_MAX_ATTEMPTS", 10); err != nil {
		return cfg, err
	}
	cfg.Retention, err = config.Duration("OUTBOX_RETENTION", 7*24*time.Hour)
	return cfg, err
}

func authVerifier() (auth.Verifier, error) {
	v := auth.Verifier{Secret: config.String("JWT_SECRET", "")}
	if url := config.String("JWKS_URL", ""); url != "" {
		ttl, err := config.Duration("JWKS_CACHE_SECONDS", 5*time.Minute)
		if err != nil {
			return v, err
		}
		v.JWKS = auth.NewJWKSClient(url, ttl)
	}
	if v.Secret == "" && v.JWKS == nil {
		return v, errors.New("JWT_SECRET or JWKS_URL is required")
	}
	return v, nil
}

// rateLimiter shares limits across replicas through Redis when
// RATE_LIMIT_BACKEND=redis, and keeps them per process otherwise.
func rateLimiter(rdb *redis.Client, logger *slog.Logger) (httpx.Middleware, error) {
	perMinute, err := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	if err != nil {
		return nil, err
	}
	if config.String("RATE_LIMIT_BACKEND", "memory") == "redis" {
		return httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, "agentdesk:rl").Middleware(logger, true), nil
	}
	return httpx.NewRateLimiter(perMinute).Middleware(), nil
}
