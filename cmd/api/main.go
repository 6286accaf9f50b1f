package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"berrymix-auth/internal/config"
	"berrymix-auth/internal/db"
	"berrymix-auth/internal/email"
	apihttp "berrymix-auth/internal/http"
	"berrymix-auth/internal/metrics"
	"berrymix-auth/internal/oauth"
	"berrymix-auth/internal/repository"
	"berrymix-auth/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg)
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool, db.MigrateUp); err != nil {
			logger.Fatal("db migrate", zap.Error(err))
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		logger.Fatal("metrics init", zap.Error(err))
	}
	if err := metrics.RegisterPool(registry, pool); err != nil {
		logger.Warn("pool metrics init failed", zap.Error(err))
	}

	userRepo := repository.NewPgUserRepository(pool)
	providerRepo := repository.NewPgAuthProviderRepository(pool)
	refreshRepo := repository.NewPgRefreshTokenRepository(pool)
	verificationRepo := repository.NewPgVerificationTokenRepository(pool)

	emailSender := email.NewDisabledSender("email sender not configured")
	if cfg.SMTPHost != "" {
		sender, err := email.NewSMTPSender(email.SMTPConfig{
			Host:        cfg.SMTPHost,
			Port:        cfg.SMTPPort,
			Username:    cfg.SMTPUser,
			Password:    cfg.SMTPPass,
			From:        cfg.SMTPFrom,
			FromName:    cfg.SMTPFromName,
			UseSSL:      cfg.SMTPUseSSL,
			FrontendURL: cfg.FrontendURL,
		})
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
		} else {
			emailSender = sender
		}
	}

	hasher := service.NewPasswordHasher()
	jwtSvc := service.NewJWTService(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)
	identitySvc := service.NewIdentityService(logger, userRepo, providerRepo, hasher, cfg.OAuthLinkByEmail)
	sessionSvc := service.NewSessionService(logger, refreshRepo, userRepo, jwtSvc, m, cfg.RefreshTokenTTL)
	verificationSvc := service.NewVerificationService(logger, verificationRepo, userRepo, hasher, m, cfg.EmailVerificationTTL, cfg.PasswordResetTTL)
	authSvc := service.NewAuthService(logger, userRepo, identitySvc, sessionSvc, verificationSvc, jwtSvc, hasher, emailSender, m)

	stateStore := oauth.NewMemoryStateStore(0)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory oauth state", zap.Error(err))
		} else {
			stateStore = oauth.NewRedisStateStore(redisClient, 0)
		}
		cancel()
	}

	var providers []oauth.IdentityProvider
	if cfg.GoogleClientID != "" {
		providers = append(providers, oauth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleCallbackURL))
	}
	if cfg.GitHubClientID != "" {
		providers = append(providers, oauth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL))
	}
	registryOAuth := oauth.NewRegistry(providers...)
	logger.Info("oauth providers", zap.Strings("enabled", registryOAuth.Names()))

	if err := apihttp.RegisterBindingRules(); err != nil {
		logger.Fatal("binding rules", zap.Error(err))
	}
	cookies := apihttp.CookieConfig{
		AccessName:  cfg.AccessCookieName,
		RefreshName: cfg.RefreshCookieName,
		RefreshPath: cfg.RefreshCookiePath,
		Secure:      cfg.IsProduction(),
	}
	router := apihttp.NewRouter(
		logger,
		m,
		registry,
		func(ctx context.Context) error { return db.Ping(ctx, pool) },
		apihttp.JWTAuthMiddleware(jwtSvc, cfg.AccessCookieName),
		apihttp.NewAuthHandler(logger, authSvc, cookies),
		apihttp.NewOAuthHandler(logger, authSvc, registryOAuth, stateStore, cookies, cfg.FrontendURL),
		apihttp.NewUserHandler(logger, authSvc),
	)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down server")
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsProduction() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
