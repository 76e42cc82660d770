package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/config"
	"finitefield.org/admin-extauth/internal/admin/httpserver"
	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/observability"
	"finitefield.org/admin-extauth/internal/admin/session"
)

func main() {
	os.Exit(run())
}

func run() int {
	rootCtx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		// LOG_LEVEL is part of the config that failed to load.
		if fallback, logErr := observability.NewLogger("info"); logErr == nil {
			fallback.Error("load config", zap.Error(err))
		}
		return 1
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return 1
	}
	defer func() { _ = logger.Sync() }()

	sessions, err := buildSessionManager(cfg.Session, logger)
	if err != nil {
		logger.Error("init session manager", zap.Error(err))
		return 1
	}

	authenticator, err := buildAuthenticator(rootCtx, cfg.Firebase, logger, newFirebaseVerifier)
	if err != nil {
		logger.Error("init authenticator", zap.Error(err))
		return 1
	}

	srv, err := httpserver.New(httpserver.Config{
		Address:            cfg.Server.Address,
		BasePath:           cfg.Server.BasePath,
		Environment:        cfg.Server.Environment,
		LoginURL:           cfg.Auth.LoginURL,
		LogoutURL:          cfg.Auth.LogoutURL,
		TemporaryRedirects: !cfg.Auth.PermanentRedirects,
		CSRFCookieName:     cfg.CSRF.CookieName,
		CSRFCookieSecure:   cfg.CSRF.CookieSecure,
		CSRFHeaderName:     cfg.CSRF.HeaderName,
		CSRFFieldName:      cfg.CSRF.FieldName,
		Authenticator:      authenticator,
		SessionStore:       sessions,
		Logger:             logger,
		ReadTimeout:        cfg.Server.ReadTimeout,
		WriteTimeout:       cfg.Server.WriteTimeout,
		IdleTimeout:        cfg.Server.IdleTimeout,
		HandlerTimeout:     cfg.Server.HandlerTimeout,
	})
	if err != nil {
		logger.Error("init http server", zap.Error(err))
		return 1
	}

	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	logger.Info("admin server listening",
		zap.String("addr", cfg.Server.Address),
		zap.String("base_path", cfg.Server.BasePath),
	)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
			return 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return 1
	}
	logger.Info("admin server stopped")
	return 0
}

func buildSessionManager(cfg config.SessionConfig, logger *zap.Logger) (*session.Manager, error) {
	hashKey := cfg.HashKey
	if len(hashKey) == 0 {
		logger.Warn("ADMIN_SESSION_HASH_KEY not set; sessions will not survive a restart")
		hashKey = session.GenerateKey(32)
	}
	blockKey := cfg.BlockKey
	if len(blockKey) == 0 {
		blockKey = session.GenerateKey(32)
	}
	return session.NewManager(session.Config{
		CookieName:   cfg.CookieName,
		HashKey:      hashKey,
		BlockKey:     blockKey,
		CookieSecure: cfg.CookieSecure,
		IdleTimeout:  cfg.IdleTimeout,
		Lifetime:     cfg.Lifetime,
	})
}

type verifierFactory func(ctx context.Context, projectID string) (middleware.FirebaseTokenVerifier, error)

// buildAuthenticator returns the Firebase authenticator when a project is
// configured. Without one it falls back to the development passthrough; a
// configured project that cannot be initialised is an error.
func buildAuthenticator(ctx context.Context, cfg config.FirebaseConfig, logger *zap.Logger, newVerifier verifierFactory) (middleware.Authenticator, error) {
	if cfg.ProjectID == "" {
		logger.Warn("FIREBASE_PROJECT_ID not set; using passthrough authenticator (development only)")
		return middleware.DefaultAuthenticator(), nil
	}

	verifier, err := newVerifier(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("firebase project %s: %w", cfg.ProjectID, err)
	}

	logger.Info("Firebase authenticator enabled", zap.String("project", cfg.ProjectID))
	return middleware.NewFirebaseAuthenticator(verifier), nil
}

func newFirebaseVerifier(ctx context.Context, projectID string) (middleware.FirebaseTokenVerifier, error) {
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: projectID,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise app: %w", err)
	}

	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise auth client: %w", err)
	}
	return client, nil
}
