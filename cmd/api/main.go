package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/timberhaven/api/internal/handlers"
	"github.com/timberhaven/api/internal/payments"
	"github.com/timberhaven/api/internal/platform/auth"
	"github.com/timberhaven/api/internal/platform/config"
	"github.com/timberhaven/api/internal/platform/distance"
	pfirestore "github.com/timberhaven/api/internal/platform/firestore"
	"github.com/timberhaven/api/internal/platform/idempotency"
	"github.com/timberhaven/api/internal/platform/jobs"
	"github.com/timberhaven/api/internal/platform/observability"
	"github.com/timberhaven/api/internal/platform/ratelimit"
	"github.com/timberhaven/api/internal/platform/secrets"
	firestoreRepo "github.com/timberhaven/api/internal/repositories/firestore"
	"github.com/timberhaven/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
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
		config.WithRequiredSecrets("PSP.StripeAPIKey", "PSP.StripeWebhookSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Events.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()
	orderTopic := pubsubClient.Topic(cfg.Events.OrderTopic)
	defer orderTopic.Stop()
	publisher, err := jobs.NewPubSubOrderEventPublisher(orderTopic,
		jobs.WithPublishTimeout(cfg.Events.PublishTimeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	if strings.TrimSpace(cfg.Delivery.DistanceBaseURL) == "" {
		logger.Fatal("delivery distance base url is required")
	}
	distanceClient, err := distance.NewClient(cfg.Delivery.DistanceBaseURL, cfg.Delivery.DepotZIP,
		distance.WithAuthToken(cfg.Delivery.DistanceToken),
		distance.WithTimeout(cfg.Delivery.LookupTimeout),
	)
	if err != nil {
		logger.Fatal("failed to initialise distance client", zap.Error(err))
	}

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey: cfg.PSP.StripeAPIKey,
		Logger: zapEventLogger(logger.Named("stripe")),
		Clock:  time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}
	webhookVerifier, err := payments.NewStripeWebhookVerifier(cfg.PSP.StripeWebhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise webhook verifier", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	pricingEngine := services.NewPricingEngine()

	deliveryEstimator, err := services.NewDeliveryEstimator(services.DeliveryEstimatorDeps{
		Distance: distanceClient,
		Rates: services.DeliveryRates{
			BaseFee:          cfg.Delivery.BaseFee,
			RatePerMile:      cfg.Delivery.RatePerMile,
			MinFee:           cfg.Delivery.MinFee,
			MaxFee:           cfg.Delivery.MaxFee,
			FastMilesPerWeek: cfg.Delivery.FastMilesPerWeek,
			BufferWeeks:      cfg.Delivery.BufferWeeks,
			Currency:         "usd",
		},
		QuoteTTL: cfg.Delivery.QuoteTTL,
		Clock:    time.Now,
		Logger:   zapEventLogger(logger.Named("delivery")),
	})
	if err != nil {
		logger.Fatal("failed to initialise delivery estimator", zap.Error(err))
	}

	catalogService, err := services.NewCatalogService(services.CatalogServiceDeps{
		Catalog: registry.Catalog(),
		Clock:   time.Now,
		Logger:  zapEventLogger(logger.Named("catalog")),
	})
	if err != nil {
		logger.Fatal("failed to initialise catalog service", zap.Error(err))
	}

	promotionService, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: registry.Promotions(),
		Usage:      registry.PromotionUsage(),
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("promotions")),
	})
	if err != nil {
		logger.Fatal("failed to initialise promotion service", zap.Error(err))
	}

	// With promotions disabled, carts and orders never see the service and
	// codes are rejected; admins can still stage promotions for later.
	var cartPromotions services.PromotionService
	if cfg.Features.EnablePromotions {
		cartPromotions = promotionService
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:      registry.Carts(),
		Catalog:    registry.Catalog(),
		Pricing:    pricingEngine,
		Delivery:   deliveryEstimator,
		Promotions: cartPromotions,
		Tax: services.TaxPolicy{
			RateBasisPoints: cfg.Pricing.TaxRateBasisPoints,
			Jurisdiction:    cfg.Pricing.TaxJurisdiction,
		},
		Clock:  time.Now,
		Logger: zapEventLogger(logger.Named("cart")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     registry.Orders(),
		Carts:      registry.Carts(),
		Payments:   registry.OrderPayments(),
		Counters:   registry.Counters(),
		Promotions: cartPromotions,
		Publisher:  publisher,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:        registry.Orders(),
		OrderPayments: registry.OrderPayments(),
		Payments:      paymentManager,
		SuccessURL:    cfg.PSP.CheckoutSuccessURL,
		CancelURL:     cfg.PSP.CheckoutCancelURL,
		Clock:         time.Now,
		Logger:        zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Orders:        registry.Orders(),
		OrderPayments: registry.OrderPayments(),
		Publisher:     publisher,
		Clock:         time.Now,
		Logger:        zapEventLogger(logger.Named("payments")),
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	systemService, err := services.NewSystemService(services.SystemServiceDeps{
		Checks: map[string]services.HealthCheckFunc{
			"firestore": firestoreProbe(firestoreClient),
			"pubsub":    pubsubProbe(orderTopic),
		},
		Clock: time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise system service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(systemService),
	)
	catalogHandlers := handlers.NewCatalogHandlers(catalogService)
	quoteHandlers := handlers.NewQuoteHandlers(deliveryEstimator)
	cartHandlers := handlers.NewCartHandlers(authenticator, cartService)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService, checkoutService)
	adminHandlers := handlers.NewAdminHandlers(authenticator, catalogService, promotionService, orderService)
	webhookHandlers := handlers.NewWebhookHandlers(webhookVerifier, paymentService)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	// Each route group carries its own allowance so the anonymous browse
	// limit never caps authenticated or webhook traffic.
	publicLimiter := ratelimit.NewLimiter(cfg.RateLimits.DefaultPerMinute, cfg.RateLimits.DefaultPerMinute)
	authedLimiter := ratelimit.NewLimiter(cfg.RateLimits.AuthenticatedPerMinute, cfg.RateLimits.AuthenticatedPerMinute)
	webhookLimiter := ratelimit.NewLimiter(cfg.RateLimits.DefaultPerMinute, cfg.RateLimits.WebhookBurst)
	limited := func(limiter *ratelimit.Limiter, routes handlers.RouteRegistrar) handlers.RouteRegistrar {
		return func(r chi.Router) {
			r.Use(ratelimit.Middleware(limiter))
			routes(r)
		}
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCatalogRoutes(limited(publicLimiter, catalogHandlers.Routes)),
		handlers.WithQuoteRoutes(limited(publicLimiter, quoteHandlers.Routes)),
		handlers.WithCartRoutes(limited(authedLimiter, cartHandlers.Routes)),
		handlers.WithOrderRoutes(limited(authedLimiter, orderHandlers.Routes)),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithAdminRoutes(limited(authedLimiter, adminHandlers.Routes)),
		handlers.WithWebhookRoutes(limited(webhookLimiter, webhookHandlers.Routes)),
	)

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
		serverLogger.Info("timberhaven api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts the services' event logger contract onto zap.
func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug(event, zFields...)
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}
	version := lookup("API_BUILD_VERSION")
	if version == "" {
		version = "dev"
	}
	commit := lookup("API_BUILD_COMMIT_SHA")
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.ToLower(lookup("API_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func firestoreProbe(client *firestore.Client) services.HealthCheckFunc {
	return func(ctx context.Context) error {
		iter := client.Collections(ctx)
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

func pubsubProbe(topic *pubsub.Topic) services.HealthCheckFunc {
	return func(ctx context.Context) error {
		ok, err := topic.Exists(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("pubsub: topic %s not found", topic.ID())
		}
		return nil
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS"))
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}
