package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/hazard-risk-service/internal/alert"
	"github.com/kjstillabower/hazard-risk-service/internal/cache"
	"github.com/kjstillabower/hazard-risk-service/internal/circuitbreaker"
	"github.com/kjstillabower/hazard-risk-service/internal/config"
	"github.com/kjstillabower/hazard-risk-service/internal/health"
	httphandler "github.com/kjstillabower/hazard-risk-service/internal/http"
	"github.com/kjstillabower/hazard-risk-service/internal/model"
	"github.com/kjstillabower/hazard-risk-service/internal/observability"
	"github.com/kjstillabower/hazard-risk-service/internal/queue"
	"github.com/kjstillabower/hazard-risk-service/internal/registry"
	"github.com/kjstillabower/hazard-risk-service/internal/service"
	"github.com/kjstillabower/hazard-risk-service/internal/store"
	"github.com/kjstillabower/hazard-risk-service/internal/stream"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	if len(cfg.TrackedDistricts) > 0 {
		observability.SetTrackedDistricts(cfg.TrackedDistricts)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	spawn := func(name string, fn func(context.Context) error) {
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := fn(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("background task stopped", zap.String("task", name), zap.Error(err))
			}
		}()
	}

	clock := clockwork.NewRealClock()
	obsStore := store.NewInMemoryStore(clock)
	predRegistry := registry.NewInMemoryRegistry(clock)
	observability.RegisterRegistrySizeGauge(predRegistry.Len)

	var deps []health.Dependency

	var weightStore model.WeightStore
	var fileStore *model.FileWeightStore
	var redisClient *redis.Client
	switch cfg.WeightsBackend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		rs := model.NewRedisWeightStore(redisClient, cfg.RedisKey)
		weightStore = rs
		deps = append(deps, health.Dependency{Name: "weightStore", Check: rs.Ping})
	default:
		fileStore = model.NewFileWeightStore(cfg.WeightsPath)
		weightStore = fileStore
	}
	riskModel := model.NewLinearModel(weightStore, logger)
	loadCtx, loadCancel := context.WithTimeout(ctx, 5*time.Second)
	riskModel.Load(loadCtx)
	loadCancel()
	logger.Info("weight store ready", zap.String("backend", cfg.WeightsBackend), zap.String("target", weightStore.Target()))

	if fileStore != nil && cfg.WeightsWatch {
		watcher, err := model.NewWatcher(riskModel, fileStore, logger)
		if err != nil {
			logger.Warn("weights watcher disabled", zap.Error(err))
		} else {
			spawn("weights_watcher", watcher.Run)
		}
	}

	var scoreCache cache.Cache
	var memcache *cache.MemcachedCache
	cacheType := "memory"
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns, cfg.CacheTTL)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcache = mc
		scoreCache = mc
		cacheType = "memcached"
		deps = append(deps, health.Dependency{Name: "cache", Check: func(context.Context) error { return mc.Ping() }})
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case "none":
		logger.Info("cache backend: none")
	default:
		scoreCache = cache.NewInMemoryCache(cfg.CacheSize, cfg.CacheTTL)
		logger.Info("cache backend: in_memory", zap.Int("size", cfg.CacheSize))
	}

	svcDeps := service.Deps{
		Store:    obsStore,
		Registry: predRegistry,
		Model:    riskModel,
		Alerts:   alert.NewEvaluator(cfg.AlertThreshold, logger),
		Cache:    scoreCache,
		Clock:    clock,
		Logger:   logger,
	}

	var hub *stream.Hub
	if cfg.StreamEnabled {
		hub = stream.NewHub(stream.Config{
			SendBuffer:     cfg.StreamSendBuffer,
			PingInterval:   cfg.StreamPingInterval,
			AllowedOrigins: cfg.StreamAllowedOrigins,
		}, logger)
		svcDeps.Broadcaster = hub
		spawn("stream_hub", func(ctx context.Context) error {
			hub.Run(ctx)
			return nil
		})
	}

	var publisher *queue.PredictionPublisher
	if cfg.KafkaEnabled {
		breaker := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Timeout:          cfg.BreakerTimeout,
			Component:        "kafka_sink",
			Clock:            clock,
			OnStateChange: func(from, to circuitbreaker.State) {
				logger.Warn("kafka sink circuit breaker transition",
					zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		publisher = queue.NewPredictionPublisher(cfg.KafkaBrokers, cfg.KafkaSinkTopic, cfg.KafkaBatchTimeout, breaker, logger)
		svcDeps.Publisher = publisher
		deps = append(deps, health.Dependency{Name: "kafkaSink", Check: func(context.Context) error {
			if breaker.State() == circuitbreaker.StateOpen {
				return circuitbreaker.ErrOpen
			}
			return nil
		}})
		logger.Info("kafka enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("source_topic", cfg.KafkaSourceTopic),
			zap.String("sink_topic", cfg.KafkaSinkTopic))
	}

	riskService := service.NewRiskService(svcDeps, service.Config{
		LocationMinLength: cfg.LocationMinLength,
		LocationMaxLength: cfg.LocationMaxLength,
		CacheType:         cacheType,
		WeightsTarget:     weightStore.Target(),
	})

	var consumer *queue.ObservationConsumer
	if cfg.KafkaEnabled {
		consumer = queue.NewObservationConsumer(cfg.KafkaBrokers, cfg.KafkaSourceTopic, cfg.KafkaGroupID, riskService.HandleObservation, logger)
		spawn("kafka_consumer", consumer.Run)
	}
	if cfg.RegistryPruneInterval > 0 {
		spawn("registry_pruner", func(ctx context.Context) error {
			riskService.RunPruner(ctx, cfg.RegistryPruneInterval)
			return nil
		})
	}

	tracker := health.NewTracker(clock)
	checker := health.NewChecker(health.Config{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		CheckTimeout:         cfg.HealthCheckTimeout,
	}, tracker, deps, clock, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	inFlight := httphandler.NewInFlightTracker(clock)
	routerCfg := httphandler.RouterConfig{
		Handler:        httphandler.NewHandler(riskService, checker, logger),
		Tracker:        tracker,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
		Logger:         logger,
	}
	if hub != nil {
		routerCfg.Stream = http.HandlerFunc(hub.ServeWS)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     httphandler.NewRouter(routerCfg),
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	checker.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight.Count()))
	if err := inFlight.WaitForZero(shutdownCtx, 100*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	bgCancel()
	bg.Wait()

	if consumer != nil {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close", zap.Error(err))
		}
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close", zap.Error(err))
		}
	}
	if memcache != nil {
		if err := memcache.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close", zap.Error(err))
		}
	}
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
