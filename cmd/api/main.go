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
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/fajargold/storefront/internal/handlers"
	"github.com/fajargold/storefront/internal/platform/config"
	pfirestore "github.com/fajargold/storefront/internal/platform/firestore"
	"github.com/fajargold/storefront/internal/platform/idempotency"
	"github.com/fajargold/storefront/internal/platform/jobs"
	"github.com/fajargold/storefront/internal/platform/observability"
	"github.com/fajargold/storefront/internal/platform/secrets"
	firestoreRepo "github.com/fajargold/storefront/internal/repositories/firestore"
	"github.com/fajargold/storefront/internal/services"
)

const defaultCheckoutRateLimit = 30

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

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	secretFetcher, err := secrets.NewFetcher(ctx,
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(cfg.Firestore.ProjectID),
	)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := secretFetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	if cfg.Webhooks.SharedSecret, err = secretFetcher.MaybeResolve(ctx, cfg.Webhooks.SharedSecret); err != nil {
		logger.Fatal("failed to resolve webhook shared secret", zap.Error(err))
	}
	if cfg.Checkout.AccountNumber, err = secretFetcher.MaybeResolve(ctx, cfg.Checkout.AccountNumber); err != nil {
		logger.Fatal("failed to resolve bank account number", zap.Error(err))
	}

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

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	paymentRepo, err := firestoreRepo.NewPaymentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment repository", zap.Error(err))
	}
	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	counterRepo, err := firestoreRepo.NewCounterRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise counter repository", zap.Error(err))
	}
	stockLedger, err := firestoreRepo.NewStockLedger(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise stock ledger", zap.Error(err))
	}

	// The transaction deadline doubles as the bound on waiting for contended
	// product documents; past it the deduction surfaces as retryable contention.
	unitOfWork := pfirestore.NewUnitOfWork(firestoreProvider,
		pfirestore.WithTxTimeout(cfg.Checkout.StockLockWait),
	)

	var orderTopic, revenueTopic *pubsub.Topic
	var pubsubClient *pubsub.Client
	if cfg.Events.Enabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		orderTopic = pubsubClient.Topic(cfg.Events.OrderEventsTopic)
		revenueTopic = pubsubClient.Topic(cfg.Events.RevenueFactsTopic)
		defer orderTopic.Stop()
		defer revenueTopic.Stop()
	}

	var eventPublisher *jobs.PubSubEventPublisher
	if orderTopic != nil || revenueTopic != nil {
		eventPublisher, err = jobs.NewPubSubEventPublisher(orderTopic, revenueTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
	}

	var orderEvents services.OrderEventPublisher
	var revenueFacts services.RevenueFactPublisher
	if eventPublisher != nil {
		orderEvents = eventPublisher
		revenueFacts = eventPublisher
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     orderRepo,
		Payments:   paymentRepo,
		Products:   productRepo,
		Counters:   counterRepo,
		UnitOfWork: unitOfWork,
		Settings: services.CheckoutSettings{
			PaymentWindow:     cfg.Checkout.PaymentWindow,
			OrderNumberPrefix: cfg.Checkout.OrderNumberPrefix,
			BankName:          cfg.Checkout.BankName,
			AccountNumber:     cfg.Checkout.AccountNumber,
		},
		Clock:  time.Now,
		Events: orderEvents,
		Logger: zapEventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:     orderRepo,
		Payments:   paymentRepo,
		Stock:      stockLedger,
		UnitOfWork: unitOfWork,
		Clock:      time.Now,
		Events:     orderEvents,
		Revenue:    revenueFacts,
		Logger:     zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	inventoryService, err := services.NewInventoryService(services.InventoryServiceDeps{
		Products: productRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker := time.NewTicker(cfg.Idempotency.CleanupInterval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			defer cleanupTicker.Stop()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(backgroundCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	sweeper, err := jobs.NewExpirySweeper(orderService, jobs.ExpirySweeperConfig{
		Interval:  cfg.Checkout.ExpirySweepInterval,
		BatchSize: cfg.Checkout.ExpirySweepBatchSize,
	}, logger.Named("expiry"))
	if err != nil {
		logger.Fatal("failed to initialise expiry sweeper", zap.Error(err))
	}
	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		sweeper.Run(backgroundCtx)
	}()

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithHealthReadinessProbe("firestore", firestoreProbe(firestoreClient)),
	}
	if orderTopic != nil {
		healthOpts = append(healthOpts, handlers.WithHealthReadinessProbe("pubsub", pubsubProbe(orderTopic)))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService,
		handlers.WithCheckoutRateLimit(defaultCheckoutRateLimit, time.Minute),
	)
	orderHandlers := handlers.NewOrderHandlers(orderService)
	adminHandlers := handlers.NewAdminOrderHandlers(orderService, inventoryService)
	webhookHandlers := handlers.NewWebhookHandlers(orderService)
	internalHandlers := handlers.NewInternalOrderHandlers(orderService, time.Now)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if secret := strings.TrimSpace(cfg.Webhooks.SharedSecret); secret != "" {
		opts = append(opts,
			handlers.WithWebhookMiddlewares(requireSharedSecret("X-Webhook-Secret", secret)),
			handlers.WithInternalMiddlewares(requireSharedSecret("X-Internal-Token", secret)),
		)
	} else {
		logger.Warn("webhook shared secret not configured; webhook and internal routes are unguarded")
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("storefront api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("API_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service event", zFields...)
	}
}

func firestoreProbe(client *firestore.Client) handlers.ReadinessProbe {
	return func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		iter := client.Collections(probeCtx)
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	}
}

func pubsubProbe(topic *pubsub.Topic) handlers.ReadinessProbe {
	return func(ctx context.Context) error {
		probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		ok, err := topic.Exists(probeCtx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("topic %s does not exist", topic.ID())
		}
		return nil
	}
}

func requireSharedSecret(header, secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(header) != secret {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthenticated","message":"invalid or missing shared secret"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
