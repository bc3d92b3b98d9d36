package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"carebook/internal/completion"
	"carebook/internal/config"
	transporthttp "carebook/internal/http"
	"carebook/internal/identity"
	"carebook/internal/patients"
	"carebook/internal/platform/database"
	"carebook/internal/platform/logging"
	"carebook/internal/platform/migrate"
	"carebook/internal/platform/redis"
	"carebook/internal/profile"
	"carebook/internal/session"
	"carebook/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	records, cleanup, err := buildStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if cfg.TokenSigningKey == "" {
		logger.Warn("TOKEN_SIGNING_KEY not set; using an ephemeral key")
	}
	tokens, err := identity.NewTokenIssuer(cfg.TokenSigningKey)
	if err != nil {
		logger.Error("failed to initialize token issuer", "error", err)
		os.Exit(1)
	}

	profiles := profile.NewRepository(records)
	accounts := identity.NewPasswordAuthenticator(records, bcrypt.DefaultCost)
	patientSvc := patients.NewService(records, profiles)

	if cfg.UseInMemoryStore() {
		if err := seedDemo(ctx, accounts, profiles, patientSvc); err != nil {
			logger.Error("failed to seed demo data", "error", err)
			os.Exit(1)
		}
		logger.Info("seeded demo accounts", "doctor", demoDoctorEmail, "patient", demoPatientEmail)
	}

	manager := session.NewManager(records, profiles, session.Options{
		TTL:            cfg.SessionTTL,
		AnonymousTTL:   cfg.AnonymousClientTTL,
		MaxAnonymous:   cfg.AnonymousClientLimit,
		ResolveTimeout: cfg.ResolveTimeout,
		Authenticator:  accounts,
		Tokens:         tokens,
		Logger:         logger,
	})
	defer manager.Close()
	go manager.Run(ctx, time.Minute)

	services := transporthttp.Services{
		Sessions:   manager,
		Accounts:   accounts,
		Completion: completion.NewWriter(profiles, cfg.PhoneRegion, logger),
		Patients:   patientSvc,
	}

	if cfg.OAuthEnabled() {
		google, err := identity.NewGoogleAuthenticator(ctx, cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.GoogleRedirectURL, cfg.GoogleAllowedDomains, cfg.GoogleAllowedEmails)
		if err != nil {
			logger.Error("failed to initialize Google sign-in", "error", err)
			os.Exit(1)
		}
		services.Google = google
	}

	router := transporthttp.NewRouter(cfg, services, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    http.DefaultMaxHeaderBytes,
	}

	go func() {
		logger.Info("Carebook API listening", "addr", srv.Addr, "store", cfg.DataStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func buildStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, func(), error) {
	switch cfg.DataStore {
	case "postgres":
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.Pool{
			MaxOpenConns:    cfg.DBPool.MaxOpenConns,
			MaxIdleConns:    cfg.DBPool.MaxIdleConns,
			ConnMaxLifetime: cfg.DBPool.ConnMaxLifetime,
			ConnectAttempts: cfg.DBPool.ConnectAttempts,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			_ = db.Close()
		}
		if err := migrate.Apply(ctx, db, logger); err != nil {
			cleanup()
			return nil, nil, err
		}
		logger.Info("connected to postgres")
		return store.NewPostgresStore(db), cleanup, nil
	case "redis":
		client, err := redis.New(ctx, cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		return store.NewRedisStore(client), func() { _ = client.Close() }, nil
	default:
		logger.Info("using in-memory store")
		return store.NewMemoryStore(nil), nil, nil
	}
}
