package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/yomnaalset/bookstore/internal/handlers"
	"github.com/yomnaalset/bookstore/internal/platform/auth"
	"github.com/yomnaalset/bookstore/internal/platform/backend"
	"github.com/yomnaalset/bookstore/internal/platform/config"
	pfirestore "github.com/yomnaalset/bookstore/internal/platform/firestore"
	"github.com/yomnaalset/bookstore/internal/platform/jobs"
	"github.com/yomnaalset/bookstore/internal/platform/observability"
	"github.com/yomnaalset/bookstore/internal/platform/secrets"
	"github.com/yomnaalset/bookstore/internal/repositories"
	firestoreRepo "github.com/yomnaalset/bookstore/internal/repositories/firestore"
	"github.com/yomnaalset/bookstore/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger(os.Getenv("STORE_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(splitList(os.Getenv("STORE_SECRETS_REQUIRED"))...),
	)
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	routerOpts := []handlers.Option{}
	if cfg.Auth.ActorSigningSecret != "" {
		verifier, err := auth.NewActorVerifier(cfg.Auth.ActorSigningSecret, auth.WithClockSkew(cfg.Auth.ActorClockSkew))
		if err != nil {
			logger.Fatal("failed to initialise actor verifier", zap.Error(err))
		}
		routerOpts = append(routerOpts, handlers.WithActorVerifier(verifier))
	} else {
		logger.Warn("actor signing secret not set, trusting actor headers from the gateway")
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	events := observability.EventLogger(logger.Named("orders"))

	clock := time.Now
	lifecycle := services.NewRequestLifecycle(clock)
	pricing, err := services.NewPricingCalculator(services.PricingCalculatorDeps{
		TaxRate: cfg.Pricing.TaxRate,
		Logger:  events,
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing calculator", zap.Error(err))
	}
	fines, err := services.NewFineCalculator(cfg.Fines.PerDayRate, clock)
	if err != nil {
		logger.Fatal("failed to initialise fine calculator", zap.Error(err))
	}
	aggregates, err := services.NewOrderAggregateService(services.OrderAggregateDeps{
		Lifecycle: lifecycle,
		Pricing:   pricing,
		Fines:     fines,
		Clock:     clock,
	})
	if err != nil {
		logger.Fatal("failed to initialise order aggregate service", zap.Error(err))
	}
	delivery, err := services.NewDeliveryAssignmentTracker(services.DeliveryTrackerDeps{
		Lifecycle: lifecycle,
		Fines:     fines,
		Pricing:   pricing,
		Clock:     clock,
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery tracker", zap.Error(err))
	}

	healthOpts := []handlers.HealthOption{}

	var (
		discountEngine *services.DiscountEngine
		redemptions    repositories.DiscountRedemptionLog
	)
	if cfg.Features.EnableDiscounts {
		firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
		defer func() {
			if err := firestoreProvider.Close(); err != nil {
				logger.Warn("firestore close error", zap.Error(err))
			}
		}()
		discountRepo, err := firestoreRepo.NewDiscountRepository(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise discount repository", zap.Error(err))
		}
		discountEngine, err = services.NewDiscountEngine(services.DiscountEngineDeps{
			Catalog: discountRepo,
			Usage:   discountRepo,
			Pricing: pricing,
			Clock:   clock,
			Logger:  events,
		})
		if err != nil {
			logger.Fatal("failed to initialise discount engine", zap.Error(err))
		}
		redemptions = discountRepo
		healthOpts = append(healthOpts, handlers.WithReadinessCheck("firestore", func(ctx context.Context) error {
			_, err := firestoreProvider.Client(ctx)
			return err
		}))
	} else {
		logger.Info("discounts disabled")
	}

	var publisher services.OrderEventPublisher
	if cfg.PubSub.OrderEventsTopic != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderEvents, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		publisher = orderEvents
	}

	backendClient, err := backend.NewClient(cfg.Backend)
	if err != nil {
		logger.Fatal("failed to initialise backend client", zap.Error(err))
	}
	gateway, err := backend.NewOrderGateway(backendClient)
	if err != nil {
		logger.Fatal("failed to initialise order gateway", zap.Error(err))
	}

	coordinator, err := services.NewOrderCoordinator(services.OrderCoordinatorDeps{
		Gateway:     gateway,
		Store:       services.NewOrderStore(),
		Lifecycle:   lifecycle,
		Delivery:    delivery,
		Aggregates:  aggregates,
		Events:      publisher,
		Redemptions: redemptions,
		Clock:       clock,
		Logger:      events,
	})
	if err != nil {
		logger.Fatal("failed to initialise order coordinator", zap.Error(err))
	}
	quotes, err := services.NewQuoteService(aggregates, discountEngine)
	if err != nil {
		logger.Fatal("failed to initialise quote service", zap.Error(err))
	}

	router := handlers.NewRouter(append(routerOpts,
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger.Named("http")),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithRoutes(
			handlers.NewQuoteHandlers(quotes, cfg.Pricing.Currency).Routes,
			handlers.NewLifecycleHandlers(lifecycle, fines).Routes,
			handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
				Orders:   coordinator,
				Quotes:   quotes,
				Catalog:  lifecycle,
				Currency: cfg.Pricing.Currency,
			}).Routes,
		),
	)...)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("starting http server",
			zap.String("backend", cfg.Backend.BaseURL),
			zap.Bool("discounts", cfg.Features.EnableDiscounts),
			zap.Bool("events", publisher != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	sig := <-shutdown
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// newSecretFetcher resolves secret:// config values from Secret Manager in the secrets project,
// which defaults to the Firestore project. Without a project only the fallback file is read.
func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	project := strings.TrimSpace(os.Getenv("STORE_SECRETS_PROJECT_ID"))
	if project == "" {
		project = strings.TrimSpace(os.Getenv("STORE_FIRESTORE_PROJECT_ID"))
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := strings.TrimSpace(os.Getenv("STORE_SECRETS_FALLBACK_FILE")); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
