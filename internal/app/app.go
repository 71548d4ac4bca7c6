// Package app wires the fulfillment API server together.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/homedeco-fulfillment/internal/domain/delivery"
	"github.com/xenking/homedeco-fulfillment/internal/domain/order"
	"github.com/xenking/homedeco-fulfillment/internal/events"
	"github.com/xenking/homedeco-fulfillment/internal/handler"
	"github.com/xenking/homedeco-fulfillment/internal/storage/postgres"
	"github.com/xenking/homedeco-fulfillment/internal/storage/redis"
	"github.com/xenking/homedeco-fulfillment/pkg/health"
	"github.com/xenking/homedeco-fulfillment/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	clock, err := cfg.Clock()
	if err != nil {
		return err
	}
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.Stringer("timing", clock.Mode()),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.AddLivenessCheck("gc_pause", time.Second, health.GCMaxPauseCheck(time.Second))

	// Route estimation and rate limiting move to Redis when it is configured.
	routes := delivery.NewEstimator(clock.Mode())
	var limiter httpmiddleware.Limiter
	if cfg.Redis.Addr != "" {
		rdb := rd.NewClient(&rd.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}, health.Optional())
		routes = delivery.WithFallback(redis.NewRouteCache(rdb, routes, clock.Mode().String(), cfg.Redis.RouteTTL), routes)
		limiter = httpmiddleware.NewRedisLimiter(rdb, "homedeco:ratelimit:", cfg.RateLimit.Max, cfg.RateLimit.Window)
		lg.Info("Redis enabled", zap.String("redis", cfg.Redis.Addr))
	} else {
		ml := httpmiddleware.NewMemoryLimiter(cfg.RateLimit.Max, cfg.RateLimit.Window)
		go ml.Run(ctx)
		limiter = ml
	}

	// Lifecycle events, optionally published to Kafka.
	var publisher events.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp := events.NewKafkaPublisher(events.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic))
		defer func() {
			if err := kp.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		}()
		publisher = kp
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	addressRepo := postgres.NewAddressRepository(pool)
	warehouseRepo := postgres.NewWarehouseRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	// Domain services.
	orderService := order.NewService(productRepo, addressRepo, orderRepo, publisher)
	deliveryService, err := delivery.NewService(postgres.NewDeliveryStore(pool), clock, routes,
		delivery.WithEvents(publisher),
		delivery.WithTelemetry(m.MeterProvider(), m.TracerProvider()),
	)
	if err != nil {
		return errors.Wrap(err, "create delivery service")
	}

	// HTTP handlers.
	h := handler.NewHandler(handler.Config{}, productRepo, orderService, deliveryService, addressRepo, warehouseRepo)
	securityHandler := handler.NewSecurityHandler(apikeyRepo, []byte(cfg.APIKeyPepper))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux, httpmiddleware.Authenticate(handler.APIKeyHeader, securityHandler.HandleAPIKey))
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Instrument("homedeco-api", routeFinder, m.MeterProvider(), m.TracerProvider()),
			httpmiddleware.LogRequests(routeFinder),
			httpmiddleware.Recovery(),
			httpmiddleware.Labeler(routeFinder),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader, httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Limiter: limiter,
				KeyFunc: httpmiddleware.KeyByHeader(handler.APIKeyHeader),
			}),
		),
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
