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
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/briq-connect/api/internal/briq"
	"github.com/briq-connect/api/internal/commerce"
	"github.com/briq-connect/api/internal/handlers"
	"github.com/briq-connect/api/internal/platform/auth"
	"github.com/briq-connect/api/internal/platform/config"
	"github.com/briq-connect/api/internal/platform/jobs"
	"github.com/briq-connect/api/internal/platform/observability"
	"github.com/briq-connect/api/internal/platform/secrets"
	"github.com/briq-connect/api/internal/services"
	"github.com/briq-connect/api/internal/webhook"
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

	logger := baseLogger.Named("connector")
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

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	platformClient, err := commerce.NewClient(commerce.ClientConfig{
		ProjectKey:   cfg.Commerce.ProjectKey,
		APIBaseURL:   cfg.Commerce.APIBaseURL,
		AuthURL:      cfg.Commerce.AuthURL,
		ClientID:     cfg.Commerce.ClientID,
		ClientSecret: cfg.Commerce.ClientSecret,
		Scopes:       cfg.Commerce.Scopes,
		Logger:       zapEventLogger(logger.Named("commerce")),
	})
	if err != nil {
		logger.Fatal("failed to initialise commerce client", zap.Error(err))
	}

	briqUser, briqPass := briqCredentials(cfg.Briq.APIKey)
	briqClient, err := briq.NewClient(briq.ClientConfig{
		BaseURL:  cfg.Briq.APIBaseURL,
		Username: briqUser,
		Password: briqPass,
		Logger:   zapEventLogger(logger.Named("briq")),
	})
	if err != nil {
		logger.Fatal("failed to initialise provider client", zap.Error(err))
	}

	typeResolver, err := commerce.NewTypeKeyResolver(platformClient)
	if err != nil {
		logger.Fatal("failed to initialise type resolver", zap.Error(err))
	}

	mapper, err := services.NewCartMapper(services.CartMapperDeps{
		Discounts: platformClient,
		Taxes:     platformClient,
		Logger:    zapEventLogger(logger.Named("mapper")),
	})
	if err != nil {
		logger.Fatal("failed to initialise cart mapper", zap.Error(err))
	}

	sessionService, err := services.NewSessionService(services.SessionServiceDeps{
		Briq:            briqClient,
		Carts:           platformClient,
		Mapper:          mapper,
		Types:           typeResolver,
		TypeKey:         cfg.Briq.SessionTypeKey,
		TermsURL:        cfg.Briq.TermsURL,
		ConfirmationURL: cfg.Briq.ConfirmationURL,
		Logger:          zapEventLogger(logger.Named("sessions")),
	})
	if err != nil {
		logger.Fatal("failed to initialise session service", zap.Error(err))
	}

	var publisher services.NotificationPublisher
	var pubsubClient *pubsub.Client
	var pubsubTopic *pubsub.Topic
	if cfg.Notifications.ProjectID != "" && cfg.Notifications.TopicID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Notifications.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		pubsubTopic = pubsubClient.Topic(cfg.Notifications.TopicID)
		defer pubsubTopic.Stop()

		pubsubPublisher, err := jobs.NewPubSubNotificationPublisher(pubsubTopic)
		if err != nil {
			logger.Fatal("failed to initialise notification publisher", zap.Error(err))
		}
		publisher = pubsubPublisher
	} else {
		logger.Info("notification publishing disabled; no pubsub topic configured")
	}

	notificationService, err := services.NewNotificationService(services.NotificationServiceDeps{
		Briq:      briqClient,
		Payments:  platformClient,
		Publisher: publisher,
		Logger:    zapEventLogger(logger.Named("notifications")),
	})
	if err != nil {
		logger.Fatal("failed to initialise notification service", zap.Error(err))
	}

	operationService, err := services.NewOperationService(services.OperationServiceDeps{
		Briq:     briqClient,
		Payments: platformClient,
		Logger:   zapEventLogger(logger.Named("operations")),
	})
	if err != nil {
		logger.Fatal("failed to initialise operation service", zap.Error(err))
	}

	engine, err := services.NewEngine(services.EngineDeps{
		Sessions:      sessionService,
		Notifications: notificationService,
		Operations:    operationService,
		Briq:          briqClient,
		Payments:      platformClient,
		Logger:        zapEventLogger(logger.Named("engine")),
	})
	if err != nil {
		logger.Fatal("failed to initialise connector engine", zap.Error(err))
	}

	verifier := webhook.NewVerifier(webhook.WithTolerance(cfg.Webhook.Tolerance))

	checkoutHandlers := handlers.NewCheckoutHandlers(engine, cfg.Security.AllowedOrigins)
	webhookHandlers := handlers.NewWebhookHandlers(engine, verifier, cfg.Webhook.SigningSecret)
	paymentHandlers := handlers.NewPaymentHandlers(engine)

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
		handlers.WithHealthCheck("pubsub", pubsubReadinessCheck(pubsubTopic)),
	}
	if project := secretProjectID(); project != "" {
		healthOpts = append(healthOpts, handlers.WithHealthCheck("secrets", secretsReadinessCheck(fetcher, project)))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Notifications.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Notifications.ProjectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(paymentHandlers.Routes),
	}
	if mw := buildOperatorMiddleware(logger.Named("auth"), cfg); mw != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(mw))
	} else {
		logger.Warn("operator authentication not configured; internal routes are unprotected")
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
		serverLogger.Info("briq connector listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// zapEventLogger adapts the services' event-logging contract onto zap.
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

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("CONNECTOR_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("CONNECTOR_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("CONNECTOR_ENVIRONMENT"))
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

// briqCredentials splits a "user:secret" key pair; a bare key becomes the
// password of the fixed "api" user.
func briqCredentials(apiKey string) (string, string) {
	if user, pass, ok := strings.Cut(apiKey, ":"); ok && strings.TrimSpace(user) != "" {
		return strings.TrimSpace(user), strings.TrimSpace(pass)
	}
	return "api", strings.TrimSpace(apiKey)
}

func secretProjectID() string {
	if project := strings.TrimSpace(os.Getenv("CONNECTOR_SECRET_PROJECT_ID")); project != "" {
		return project
	}
	return strings.TrimSpace(os.Getenv("CONNECTOR_PUBSUB_PROJECT_ID"))
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	defaultProject := secretProjectID()
	fallbackPath := strings.TrimSpace(os.Getenv("CONNECTOR_SECRET_FALLBACK_FILE"))
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildOperatorMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" || strings.TrimSpace(oidc.Audience) == "" || len(oidc.Issuers) == 0 {
		return nil
	}

	adapter := observability.NewPrintfAdapter(logger)
	cache := auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(adapter))
	validator, err := auth.NewOIDCValidator(cache, oidc.Audience, oidc.Issuers)
	if err != nil {
		logger.Warn("operator token validator init failed", zap.Error(err))
		return nil
	}
	return validator.RequireOperator
}

// secretsReadinessCheck probes Secret Manager with a well-known reference.
// A clean not-found still proves the API is reachable and authorised.
func secretsReadinessCheck(fetcher *secrets.Fetcher, project string) handlers.ReadinessCheck {
	reference := fmt.Sprintf("secret://projects/%s/secrets/connector-healthz/versions/latest", project)
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		_, err := fetcher.Resolve(checkCtx, reference)
		if err == nil {
			return nil
		}
		if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
			return nil
		}
		return err
	}
}

func pubsubReadinessCheck(topic *pubsub.Topic) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		if topic == nil {
			return nil
		}
		checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
		defer cancel()
		ok, err := topic.Exists(checkCtx)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("topic does not exist")
		}
		return nil
	}
}
