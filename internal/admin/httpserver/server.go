package httpserver

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/extauth"
	custommw "finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/observability"
	"finitefield.org/admin-extauth/internal/admin/site"
	"finitefield.org/admin-extauth/public"
)

// ErrNoAuthenticator is returned by New when Config.Authenticator is nil.
// The development passthrough must be chosen explicitly.
var ErrNoAuthenticator = errors.New("httpserver: authenticator is required")

// Route is an extra admin view registered on the site before it is mounted.
type Route struct {
	Name      string
	Pattern   string
	View      *site.View
	Cacheable bool
}

// Config holds runtime options for the admin HTTP server.
type Config struct {
	Address     string
	BasePath    string
	Environment string
	Title       string

	LoginURL           string
	LogoutURL          string
	TemporaryRedirects bool

	CSRFCookieName   string
	CSRFCookieSecure bool
	CSRFHeaderName   string
	CSRFFieldName    string

	Authenticator custommw.Authenticator
	SessionStore  custommw.SessionStore
	Logger        *zap.Logger
	Routes        []Route

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	HandlerTimeout time.Duration
}

// New constructs the HTTP server with middleware stack, admin site and embedded assets.
func New(cfg Config) (*http.Server, error) {
	if cfg.Authenticator == nil {
		return nil, ErrNoAuthenticator
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(durationOr(cfg.HandlerTimeout, 60*time.Second)))

	staticContent, err := public.StaticFS()
	if err != nil {
		return nil, fmt.Errorf("embed static: %w", err)
	}
	router.Handle("/public/static/*", http.StripPrefix("/public/static/", http.FileServer(http.FS(staticContent))))

	adminSite := site.New(site.Config{
		Title:    cfg.Title,
		BasePath: cfg.BasePath,
	})
	for _, rt := range cfg.Routes {
		adminSite.Register(rt.Name, rt.Pattern, rt.View, rt.Cacheable)
	}

	flow, err := extauth.New(adminSite, extauth.Config{
		LoginURL:           cfg.LoginURL,
		LogoutURL:          cfg.LogoutURL,
		TemporaryRedirects: cfg.TemporaryRedirects,
		CSRF: custommw.CSRFConfig{
			CookieName: cfg.CSRFCookieName,
			CookiePath: adminSite.BasePath(),
			HeaderName: cfg.CSRFHeaderName,
			FieldName:  cfg.CSRFFieldName,
			Secure:     cfg.CSRFCookieSecure,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("admin auth flow: %w", err)
	}
	adminSite.UseAuthFlow(flow)

	var mountErr error
	router.Group(func(r chi.Router) {
		if cfg.SessionStore != nil {
			r.Use(custommw.Session(cfg.SessionStore))
		}
		r.Use(custommw.Authenticate(cfg.Authenticator))
		r.Use(custommw.Environment(cfg.Environment))
		mountErr = adminSite.Mount(r)
	})
	if mountErr != nil {
		return nil, fmt.Errorf("mount admin site: %w", mountErr)
	}

	logger.Info("admin site configured",
		zap.String("base_path", adminSite.BasePath()),
		zap.String("login_url", flow.LoginURL()),
		zap.String("logout_url", flow.LogoutURL()),
	)

	return &http.Server{
		Addr:         cfg.Address,
		Handler:      router,
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}, nil
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
