package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"insurance-assistant/internal/config"
	"insurance-assistant/internal/conversation"
	"insurance-assistant/internal/db"
	"insurance-assistant/internal/generation"
	"insurance-assistant/internal/logging"
	"insurance-assistant/internal/server"
	"insurance-assistant/internal/store"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, healthCheck, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	spec, err := generation.LoadPromptSpec(cfg.PromptFile)
	if err != nil {
		return fmt.Errorf("failed to load prompt spec: %w", err)
	}
	if cfg.APIKey == "" && cfg.Provider != generation.ProviderArk {
		logger.Warn("GOOGLE_API_KEY / OPENAI_API_KEY is not set; generation calls will fail until provided")
	}
	gen, err := generation.New(ctx, generation.ProviderConfig{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Timeout:  cfg.GenerationTimeout,
		OAuth2: generation.OAuth2Config{
			TokenURL:     cfg.OAuthTokenURL,
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Scopes:       cfg.OAuthScopes,
		},
		Ark: generation.ArkConfig{
			APIKey:    cfg.ArkAPIKey,
			AccessKey: cfg.ArkAccessKey,
			SecretKey: cfg.ArkSecretKey,
			Model:     cfg.ArkModel,
			BaseURL:   cfg.ArkBaseURL,
			Region:    cfg.ArkRegion,
		},
	}, spec)
	if err != nil {
		return fmt.Errorf("failed to create generator: %w", err)
	}

	coordinator := conversation.NewCoordinator(conversation.Config{
		Store:             st,
		Generator:         gen,
		Logger:            logger.Named("conversation"),
		GenerationTimeout: cfg.GenerationTimeout,
	})
	s := server.NewServer(server.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		SessionTTL:    cfg.SessionTTL,
		CookieSecure:  cfg.CookieSecure,
		HealthCheck:   healthCheck,
	}, st, coordinator, logger.Named("http"))

	go purgeExpired(ctx, st, cfg.PurgeInterval, logger.Named("purge"))

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		// A turn may wait the whole generation timeout before replying.
		WriteTimeout: cfg.GenerationTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("store", cfg.StoreBackend),
			zap.String("provider", cfg.Provider),
			zap.String("allowed_origin", cfg.AllowedOrigin),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Store, func(context.Context) error, func(), error) {
	noop := func() {}
	switch cfg.StoreBackend {
	case config.StoreMemory:
		logger.Warn("using in-memory transcript store; conversations are lost on restart")
		return store.NewMemoryStore(), nil, noop, nil
	case config.StoreFile:
		fs, err := store.NewFileStore(cfg.StoreDir)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("failed to open file store: %w", err)
		}
		return fs, nil, noop, nil
	}

	driver, dsn := db.DriverSQLite, cfg.StoreDSN
	if cfg.StoreBackend == config.StorePostgres {
		driver, dsn = db.DriverPostgres, cfg.DatabaseURL
	} else if err := os.MkdirAll(dirOf(dsn), 0o700); err != nil {
		return nil, nil, noop, fmt.Errorf("failed to create database directory: %w", err)
	}
	database, err := db.New(driver, dsn, logger.Named("db"))
	if err != nil {
		return nil, nil, noop, fmt.Errorf("failed to initialize database: %w", err)
	}
	logger.Info("database connection established", zap.String("driver", driver))
	if err := database.RunMigrations(ctx); err != nil {
		database.Close()
		return nil, nil, noop, fmt.Errorf("failed to run migrations: %w", err)
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}
	return store.NewDatabaseStore(database), database.HealthCheck, closeDB, nil
}

// dirOf returns the directory of a sqlite DSN such as "file:data/chat.db?mode=rwc".
func dirOf(dsn string) string {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "file:"), "?")
	return filepath.Dir(path)
}

func purgeExpired(ctx context.Context, st store.Store, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := st.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("failed to purge expired sessions", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired sessions", zap.Int("count", n))
			}
		}
	}
}
