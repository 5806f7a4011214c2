// Package app wires the checkout server.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/storage/memory"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/internal/storage/redis"
	"github.com/xenking/kart-checkout/internal/storefront"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

// journal is the attempt journal as used by the server.
type journal interface {
	checkout.Journal
	checkout.AttemptLister
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storefront", cfg.Storefront.BaseURL),
		zap.String("cart_backend", cfg.Cart.Backend),
	)
	ctx = zctx.Base(ctx, lg)

	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Storefront backend.
	client, err := storefront.New(cfg.Storefront.BaseURL, storefront.Options{
		Timeout:        cfg.Storefront.Timeout,
		Token:          cfg.Storefront.Token,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create storefront client")
	}
	healthSvc.AddReadinessCheck("storefront", 5*time.Second, health.Ping(client))

	// Cart store and rate limit counter.
	var (
		carts   cart.Provider
		counter httpmiddleware.Counter
	)
	switch cfg.Cart.Backend {
	case CartRedis:
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Cart.RedisAddr, DB: cfg.Cart.RedisDB})
		defer func() { _ = rdb.Close() }()

		redisCarts := redis.NewCarts(rdb, cfg.Cart.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, health.Ping(redisCarts))
		carts = redisCarts
		counter = redis.NewCounter(rdb, "checkout:ratelimit:")
	default:
		carts = memory.NewCarts()
		counter = httpmiddleware.NewMemoryCounter()
	}

	// Attempt journal.
	var attempts journal = memory.NewJournal()
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "create db pool")
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool); err != nil {
			return errors.Wrap(err, "run migrations")
		}
		pg := postgres.NewJournal(pool)
		healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.Ping(pg))
		attempts = pg
	} else {
		lg.Warn("No database configured, checkout attempts are kept in memory")
	}

	metrics, err := checkout.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create metrics")
	}
	plan, err := cfg.Courier.planParams()
	if err != nil {
		return err
	}

	// Checkout sessions.
	factory := &checkout.Factory{
		Carts:   carts,
		Courier: client,
		Plan:    plan,
		Coupons: coupon.NewEngine(client, client),
		Services: checkout.Services{
			Orders: client,
			Khalti: client,
			QR:     client,
		},
		Options: checkout.Options{
			ConfirmationPath: cfg.Checkout.ConfirmationPath,
			Journal:          attempts,
			Metrics:          metrics,
			TracerProvider:   m.TracerProvider(),
		},
	}
	proxies, err := httpmiddleware.ParseProxies(cfg.RateLimit.TrustedProxies)
	if err != nil {
		return errors.Wrap(err, "rate limit")
	}
	sessions := handler.NewRegistry(factory, cfg.Checkout.SessionTTL)

	h := handler.New(sessions, attempts, handler.Options{
		MaxProofSize: cfg.Checkout.MaxProofSize,
		Throttle: httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
		}, counter, httpmiddleware.ProxiedClientIP(proxies)),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Router(httpmiddleware.LogRequests(handler.RoutePattern)))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(lg),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				Origins:     cfg.CORS.Origins,
				Credentials: cfg.CORS.AllowCredentials,
				MaxAge:      cfg.CORS.MaxAge,
			}),
			httpmiddleware.Instrument("checkout-api", m.TracerProvider(), m.MeterProvider()),
		),
	}

	var admin *http.Server
	if cfg.AdminAddr != "" {
		admin = &http.Server{
			ReadHeaderTimeout: time.Second,
			Addr:              cfg.AdminAddr,
			Handler: httpmiddleware.Wrap(h.AdminRouter(httpmiddleware.LogRequests(handler.RoutePattern)),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(lg.Named("admin")),
				httpmiddleware.Recovery(),
			),
		}
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sessions.Run(gctx, time.Minute)
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	if admin != nil {
		g.Go(func() error {
			lg.Info("Admin listening", zap.String("addr", cfg.AdminAddr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "admin server")
			}
			return nil
		})
	}
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		if admin != nil {
			if err := admin.Shutdown(shutdownCtx); err != nil {
				lg.Error("Admin server shutdown error", zap.Error(err))
			}
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}
