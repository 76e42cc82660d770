package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/httpserver"
	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/session"
)

// ServerOption customises the HTTP server configuration for tests.
type ServerOption func(*httpserver.Config)

// WithAuthenticator overrides the authenticator used by the admin server.
func WithAuthenticator(auth middleware.Authenticator) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Authenticator = auth
	}
}

// WithBasePath sets a custom base path for the admin routes.
func WithBasePath(path string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.BasePath = path
	}
}

// WithAuthURLs points the site at different login/logout URLs.
func WithAuthURLs(login, logout string) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.LoginURL = login
		cfg.LogoutURL = logout
	}
}

// WithRoutes registers extra admin views.
func WithRoutes(routes ...httpserver.Route) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Routes = append(cfg.Routes, routes...)
	}
}

// WithLogger replaces the no-op logger.
func WithLogger(logger *zap.Logger) ServerOption {
	return func(cfg *httpserver.Config) {
		cfg.Logger = logger
	}
}

// NewServer constructs an httptest server running the admin HTTP stack with sensible defaults.
func NewServer(t testing.TB, opts ...ServerOption) *httptest.Server {
	t.Helper()

	sessions, err := session.NewManager(session.Config{
		CookieName:  "admin_session",
		HashKey:     session.GenerateKey(32),
		BlockKey:    session.GenerateKey(32),
		IdleTimeout: time.Hour,
		Lifetime:    2 * time.Hour,
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	cfg := httpserver.Config{
		Address:        ":0",
		BasePath:       "/admin",
		Environment:    "Test",
		LoginURL:       "/accounts/login/",
		LogoutURL:      "/accounts/logout/",
		CSRFCookieName: "csrf_token",
		CSRFHeaderName: "X-CSRF-Token",
		Authenticator:  middleware.DefaultAuthenticator(),
		SessionStore:   sessions,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	srv, err := httpserver.New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

// NoRedirectClient returns a client that reports redirects instead of following them.
func NoRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
