package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/infraweave-io/infraweave/internal/api"
	"github.com/infraweave-io/infraweave/internal/catalog"
	"github.com/infraweave-io/infraweave/internal/facade/build"
	"github.com/infraweave-io/infraweave/internal/gitops"
	"github.com/infraweave-io/infraweave/internal/queue"
	"github.com/infraweave-io/infraweave/internal/registry"
	"github.com/infraweave-io/infraweave/internal/router"
	"github.com/infraweave-io/infraweave/pkg/config"
	"github.com/infraweave-io/infraweave/pkg/database"
	"github.com/infraweave-io/infraweave/pkg/logger"

	// Import generated docs (will be created after running swag init)
	_ "github.com/infraweave-io/infraweave/docs"
)

// @title           InfraWeave Control Plane API
// @version         1.0
// @description     Multi-cloud Terraform/OpenTofu control plane
// @termsOfService  https://infraweave.io/terms

// @contact.name   InfraWeave Support
// @contact.url    https://infraweave.io/support
// @contact.email  support@infraweave.io

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	cfg := config.MustLoad()

	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	log.Info("starting InfraWeave control plane",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	log.Info("database connected successfully")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	provider, err := build.Build(ctx, cfg, db, rdb)
	if err != nil {
		log.Fatal("failed to build cloud facade", zap.Error(err))
	}

	reg := registry.New(db)
	cat := catalog.New(db, provider.Object(), cfg.CatalogAllowBetaRepublish)

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	defer asynqClient.Close()
	queueClient := queue.NewClient(asynqClient)

	auth := router.NewAuthenticator(router.AuthConfig{
		Issuer:              cfg.JWTIssuer,
		Audience:            cfg.JWTAudience,
		ProjectClaimKey:     cfg.JWTProjectClaimKey,
		JWKSURL:             cfg.JWKSURL,
		HMACSigningKey:      cfg.JWTSigningKey,
		DisableAuthInsecure: cfg.DisableJWTAuthInsecure,
	})

	rt := router.New(auth)
	router.RegisterCatalogHandlers(rt, cat, reg)
	router.RegisterClaimHandlers(rt, reg, queueClient, provider)
	router.RegisterFacadeHandlers(rt, provider)

	gitopsHandler := buildGitopsHandler(cfg, queueClient)

	handler := api.NewRouter(api.Dependencies{
		Router:        rt,
		Authenticator: auth,
		GitopsHandler: gitopsHandler,
		SwaggerHost:   cfg.HTTPAddr,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}

// buildGitopsHandler wires the GitOps webhook ingester when a webhook
// secret is configured; the route is omitted entirely otherwise, since
// an unsigned webhook endpoint would accept unauthenticated pushes.
func buildGitopsHandler(cfg *config.Config, queueClient *queue.Client) *gitops.Handler {
	if cfg.GitopsWebhookSecret == "" {
		return nil
	}
	fetcher := gitops.NewGitHubFetcher(os.Getenv("GITHUB_TOKEN"))
	ingester := gitops.New(cfg.GitopsWebhookSecret, fetcher, queueClient)
	return gitops.NewHandler(ingester)
}
