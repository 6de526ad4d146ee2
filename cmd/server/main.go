package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"portal_go/internal/config"
	"portal_go/internal/domain"
	"portal_go/internal/httpserver"
	"portal_go/internal/logging"
	"portal_go/internal/security"
	"portal_go/internal/service"
	"portal_go/internal/store/postgres"
	"portal_go/internal/store/sqlite"
	"portal_go/internal/ws"
)

// @title           Pacific Health Portal Messaging API
// @version         1.0
// @description     Direct messaging between portal users and administrators.

// @host            localhost:8000
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	db, users, messages, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	passwordHasher := security.NewPasswordHasher(0)
	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey), cfg.LegacyEncryptKeys)
	if err != nil {
		return err
	}

	authSvc := service.NewAuthService(users, tokenSvc, passwordHasher, logger)
	userSvc := service.NewUserService(users)
	msgSvc := service.NewMessageService(messages, users, encryptor, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.AdminEmail != "" {
		if _, err := authSvc.EnsureAdmin(ctx, cfg.AdminName, cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return err
		}
	}

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		Tokens:   tokenSvc,
		Auth:     authSvc,
		Users:    userSvc,
		Messages: msgSvc,
		Hub:      hub,
		Logger:   logger,
	})

	// No WriteTimeout: it would cut long-lived websocket connections.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.HTTPAddr(), "env", cfg.Env, "db", cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	return nil
}

func openStore(cfg *config.Config) (*sql.DB, domain.UserRepository, domain.MessageRepository, error) {
	if cfg.DatabaseDriver == "postgres" {
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		return db, postgres.NewUserRepo(db), postgres.NewMessageRepo(db), nil
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := sqlite.Migrate(db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	return db, sqlite.NewUserRepo(db), sqlite.NewMessageRepo(db), nil
}
