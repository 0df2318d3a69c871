package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/swiftsip/dispatch/internal/dispatch"
	"github.com/swiftsip/dispatch/internal/domain/notification"
	"github.com/swiftsip/dispatch/internal/handler"
	"github.com/swiftsip/dispatch/internal/storage/postgres"
	"github.com/swiftsip/dispatch/pkg/health"
	"github.com/swiftsip/dispatch/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	partnerRepo := postgres.NewPartnerRepository(pool)
	issueRepo := postgres.NewIssueRepository(pool)
	ratingRepo := postgres.NewRatingRepository(pool)

	// Notification feed, mirrored into the structured log.
	feed := notification.NewFeed()
	logSink := notification.SinkFunc(func(_ context.Context, ev notification.Event) error {
		lg.Info("Notification",
			zap.String("partner_id", ev.PartnerID),
			zap.String("title", ev.Title),
			zap.String("category", string(ev.Category)),
			zap.String("priority", string(ev.Priority)))
		return nil
	})

	// Transition counter.
	transitions, err := m.MeterProvider().Meter("dispatch").
		Int64Counter("dispatch.order.transitions",
			metric.WithDescription("Successful order lifecycle transitions"))
	if err != nil {
		return errors.Wrap(err, "create transition counter")
	}

	registry := dispatch.NewRegistry(partnerRepo, dispatch.Config{
		AcceptWindow: cfg.AcceptWindow,
		History:      orderRepo,
		Issues:       issueRepo,
		Ratings:      ratingRepo,
		Sink:         notification.Fanout(feed, logSink),
		Logger:       lg.Named("dispatch"),
		OnTransition: func(op string) {
			transitions.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("op", op),
			))
		},
	})

	// HTTP handlers. The API routes sit behind authentication; health probes
	// do not.
	h := handler.NewHandler(registry, orderRepo, feed)
	apiMux := http.NewServeMux()
	h.Register(apiMux)
	auth := handler.APIKeyAuth(partnerRepo, cfg.APIKeyPepper)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", auth(apiMux))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: otelhttp.NewHandler(
			httpmiddleware.Wrap(mux,
				httpmiddleware.Recovery(),
				httpmiddleware.CORS(httpmiddleware.CORSConfig{
					AllowOrigins:     cfg.CORS.Origins,
					AllowHeaders:     []string{"Content-Type", "Authorization", "api_key"},
					AllowCredentials: cfg.CORS.AllowCredentials,
					MaxAge:           86400,
				}),
				httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
					Max:    cfg.RateLimit.Max,
					Window: cfg.RateLimit.Window,
				}),
				httpmiddleware.RequestID(),
				httpmiddleware.InjectLogger(zctx.From(ctx)),
				httpmiddleware.LogRequests(),
			),
			"dispatch-api",
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		),
	}

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
