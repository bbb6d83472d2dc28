package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/storefront/api/internal/di"
	"github.com/storefront/api/internal/handlers"
	"github.com/storefront/api/internal/platform/auth"
	"github.com/storefront/api/internal/platform/cache"
	"github.com/storefront/api/internal/platform/config"
	"github.com/storefront/api/internal/platform/database"
	"github.com/storefront/api/internal/platform/idempotency"
	"github.com/storefront/api/internal/platform/jobs"
	"github.com/storefront/api/internal/platform/observability"
	"github.com/storefront/api/internal/platform/secrets"
	"github.com/storefront/api/internal/repositories"
	"github.com/storefront/api/internal/repositories/gormrepo"
	"github.com/storefront/api/internal/services"
)

const (
	meterName             = "github.com/storefront/api"
	settingsHMACScope     = "settings"
	secretHealthReference = "secret://system-healthz"
	redisKeyPrefix        = "storefront:"
	cacheSweepInterval    = time.Minute
	shutdownTimeout       = 10 * time.Second
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
	meter := otel.Meter(meterName)

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
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := database.Open(ctx, cfg.Database, database.WithLogger(observability.NewPrintfAdapter(logger.Named("gorm"))))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	if cfg.Database.AutoMigrate {
		if err := gormrepo.Migrate(ctx, db); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	var redisClient redis.UniversalClient
	if cfg.Redis.Enabled() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
	}

	publisher, closePublisher, err := newNotificationPublisher(ctx, logger, cfg)
	if err != nil {
		logger.Fatal("failed to initialise notification publisher", zap.Error(err))
	}
	defer closePublisher()

	container, err := di.NewContainer(ctx, cfg, di.Infrastructure{
		DB:        db,
		Redis:     redisClient,
		Publisher: publisher,
		Meter:     meter,
		Logger:    logger,
		Clock:     time.Now,
		Checks:    []repositories.DependencyCheck{secretManagerCheck(fetcher)},
	})
	if err != nil {
		logger.Fatal("failed to build container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("database close error", zap.Error(err))
		}
	}()

	var verifierOpts []auth.VerifierOption
	if cfg.Firebase.CheckRevoked {
		verifierOpts = append(verifierOpts, auth.WithRevocationCheck())
	}
	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0, verifierOpts...)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	hmacMiddleware, err := buildHMACMiddleware(logger.Named("auth"), cfg, redisClient, meter)
	if err != nil {
		logger.Fatal("failed to initialise hmac validator", zap.Error(err))
	}

	idempotencyStore, err := newIdempotencyStore(redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		idempotency.RunCleanup(workersCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
	}()
	if memory, ok := container.Settings.(*cache.MemoryStore); ok {
		workers.Add(1)
		go func() {
			defer workers.Done()
			runCacheSweeper(workersCtx, memory, cacheSweepInterval, logger.Named("settings"))
		}()
	}

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders, svc.Payments, handlers.WithOrderIdempotency(idempotencyMiddleware))
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Settings)
	webhookHandlers := handlers.NewPaymentWebhookHandlers(svc.Reconcile, cfg.Storefront.BaseURL)
	internalHandlers := handlers.NewInternalSettingsHandlers(svc.Settings)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(container.Repositories.Health()),
	)

	projectID := strings.TrimSpace(cfg.Firebase.ProjectID)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithInternalMiddlewares(hmacMiddleware),
	}
	if container.Mock != nil {
		mockHandlers := handlers.NewMockPaymentHandlers(container.Mock, svc.Reconcile, cfg.Storefront.BaseURL)
		opts = append(opts, handlers.WithPaymentRoutes(mockHandlers.Routes))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("storefront api listening",
			zap.String("environment", cfg.Security.Environment),
			zap.Bool("mockGateway", container.Mock != nil),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	stopWorkers()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithDefaultProject(defaultProject),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if ttl, err := time.ParseDuration(lookup("API_SECRET_CACHE_TTL")); err == nil && ttl > 0 {
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the config fields that must resolve to a non-empty value before the
// server starts.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if !strings.EqualFold(strings.TrimSpace(env["API_PAYMENTS_BANK_ENABLED"]), "false") {
		required = append(required, "Payments.Bank.StoreKey")
	}
	for _, key := range parseHMACSecretKeys(env["API_SECURITY_HMAC_SECRETS"]) {
		required = append(required, fmt.Sprintf("Security.HMAC.Secrets[%s]", key))
	}
	return required
}

func parseHMACSecretKeys(raw string) []string {
	seen := make(map[string]struct{})
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		key = strings.ToLower(strings.TrimSpace(key))
		if !ok || key == "" || strings.TrimSpace(value) == "" {
			continue
		}
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// secretManagerCheck treats a missing probe secret as healthy: the lookup reached the backend.
func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			_, err := fetcher.Resolve(ctx, secretHealthReference)
			if err == nil || errors.Is(err, secrets.ErrNotFound) || status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		},
	}
}

func newNotificationPublisher(ctx context.Context, logger *zap.Logger, cfg config.Config) (services.NotificationPublisher, func(), error) {
	topicID := strings.TrimSpace(cfg.Notifications.Topic)
	if topicID == "" {
		logger.Info("notifications topic not configured; notifications are logged only")
		return nil, func() {}, nil
	}
	var clientOpts []option.ClientOption
	if cfg.Firebase.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
	}
	client, err := pubsub.NewClient(ctx, cfg.Notifications.ProjectID, clientOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	publisher, err := jobs.NewPubSubNotificationPublisher(topic)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return publisher, func() {
		topic.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}, nil
}

func buildHMACMiddleware(logger *zap.Logger, cfg config.Config, client redis.UniversalClient, meter metric.Meter) (func(http.Handler) http.Handler, error) {
	var nonces auth.NonceStore = auth.NewInMemoryNonceStore()
	if client != nil {
		store, err := auth.NewRedisNonceStore(client, redisKeyPrefix+"hmac:")
		if err != nil {
			return nil, err
		}
		nonces = store
	}
	if _, ok := cfg.Security.HMAC.Secrets[settingsHMACScope]; !ok {
		logger.Warn("hmac secret for settings scope not configured; internal routes will reject requests")
	}
	validator := auth.NewHMACValidator(
		auth.StaticSecrets(cfg.Security.HMAC.Secrets),
		nonces,
		auth.WithHMACConfig(cfg.Security.HMAC),
		auth.WithHMACLogger(logger),
		auth.WithHMACMeter(meter),
	)
	return validator.RequireHMAC(settingsHMACScope), nil
}

func newIdempotencyStore(client redis.UniversalClient) (idempotency.Store, error) {
	if client == nil {
		return idempotency.NewMemoryStore(), nil
	}
	return idempotency.NewRedisStore(client, redisKeyPrefix+"idempotency:")
}

func runCacheSweeper(ctx context.Context, store *cache.MemoryStore, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := store.Sweep(); removed > 0 {
				logger.Debug("settings cache sweep", zap.Int("removed", removed))
			}
		}
	}
}
