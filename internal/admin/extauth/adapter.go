// Package extauth replaces an admin site's login and logout with redirects to
// project-level authentication pages.
//
// Anonymous visitors of any wrapped admin view are sent to the login URL with the
// requested path in the "next" parameter. Authenticated users failing the site's
// permission check get the site's permission-denied response instead of another
// trip to the login page. CSRF validation and cache prevention are kept on every
// wrapped view.
package extauth

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/observability"
	"finitefield.org/admin-extauth/internal/admin/site"
)

// Host is the part of the admin site the adapter calls back into.
type Host interface {
	Reverser
	HasPermission(*http.Request) bool
	Fail(http.ResponseWriter, *http.Request, error)
}

// Config holds the externally managed authentication URLs.
type Config struct {
	// LoginURL and LogoutURL accept absolute URLs, paths or site route names.
	LoginURL  string
	LogoutURL string
	// TemporaryRedirects makes Login and Logout answer 302 instead of 301.
	TemporaryRedirects bool
	// CSRF configures the token check of wrapped views. OnFailure defaults to Host.Fail.
	CSRF middleware.CSRFConfig
}

// Adapter implements site.AuthFlow.
type Adapter struct {
	host      Host
	loginURL  string
	logoutURL string
	status    int
	csrf      func(http.Handler) http.Handler
	login     *site.View
	logout    *site.View
}

var _ site.AuthFlow = (*Adapter)(nil)

// New resolves the configured URLs against host and builds the adapter.
func New(host Host, cfg Config) (*Adapter, error) {
	if host == nil {
		return nil, fmt.Errorf("extauth: host is required")
	}
	loginURL, err := Resolve(host, cfg.LoginURL)
	if err != nil {
		return nil, fmt.Errorf("login url: %w", err)
	}
	logoutURL, err := Resolve(host, cfg.LogoutURL)
	if err != nil {
		return nil, fmt.Errorf("logout url: %w", err)
	}

	csrfCfg := cfg.CSRF
	if csrfCfg.OnFailure == nil {
		csrfCfg.OnFailure = host.Fail
	}

	status := http.StatusMovedPermanently
	if cfg.TemporaryRedirects {
		status = http.StatusFound
	}

	a := &Adapter{
		host:      host,
		loginURL:  loginURL,
		logoutURL: logoutURL,
		status:    status,
		csrf:      middleware.CSRF(csrfCfg),
	}
	a.login = &site.View{
		Name:    "login",
		Doc:     "Redirects to the project-level login page.",
		Handler: http.HandlerFunc(a.Login),
	}
	a.logout = &site.View{
		Name:    "logout",
		Doc:     "Redirects to the project-level logout page.",
		Handler: http.HandlerFunc(a.Logout),
	}
	return a, nil
}

// LoginURL returns the resolved login URL.
func (a *Adapter) LoginURL() string { return a.loginURL }

// LogoutURL returns the resolved logout URL.
func (a *Adapter) LogoutURL() string { return a.logoutURL }

// LoginView returns the view served at the site's login route.
func (a *Adapter) LoginView() *site.View { return a.login }

// LogoutView returns the view served at the site's logout route.
func (a *Adapter) LogoutView() *site.View { return a.logout }

// Wrap decorates view with the adapter's pipeline. The logout view is returned
// as is: it is only a redirect and must stay reachable without permission.
func (a *Adapter) Wrap(view *site.View, cacheable bool) *site.View {
	if view == a.logout {
		return view
	}
	return &site.View{
		Name:       view.Name,
		Doc:        view.Doc,
		CSRFExempt: view.CSRFExempt,
		Capability: view.Capability,
		Handler:    chi.Chain(a.Pipeline(view, cacheable)...).Handler(view.Handler),
	}
}

// Pipeline lists the stages Wrap applies to view, outermost first:
// CSRF (unless the view is exempt), NeverCache (unless cacheable), RequireStaff.
func (a *Adapter) Pipeline(view *site.View, cacheable bool) []func(http.Handler) http.Handler {
	stages := make([]func(http.Handler) http.Handler, 0, 3)
	if !view.CSRFExempt {
		stages = append(stages, a.csrf)
	}
	if !cacheable {
		stages = append(stages, middleware.NeverCache())
	}
	return append(stages, a.RequireStaff)
}

// RequireStaff redirects anonymous requests to the login URL and refuses
// authenticated users the host does not grant permission to.
func (a *Adapter) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !middleware.IsAuthenticated(r.Context()) {
			a.redirectToLogin(w, r)
			return
		}
		if !a.host.HasPermission(r) {
			a.host.Fail(w, r, site.ErrPermissionDenied)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Login redirects to the login URL, carrying over the "next" parameter of the
// request when there is one.
func (a *Adapter) Login(w http.ResponseWriter, r *http.Request) {
	target := a.loginURL
	if values, ok := r.URL.Query()[RedirectFieldName]; ok {
		next := ""
		if len(values) > 0 {
			next = values[len(values)-1]
		}
		withNext, err := withRedirectTarget(a.loginURL, next)
		if err != nil {
			observability.FromContext(r.Context()).Error("login redirect failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		target = withNext
	}
	redirect(w, target, a.status)
}

// Logout redirects to the logout URL. The local session is dropped on the way
// out; nothing from the request is forwarded.
func (a *Adapter) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := middleware.SessionFromContext(r.Context()); ok {
		sess.Destroy()
	}
	redirect(w, a.logoutURL, a.status)
}

func (a *Adapter) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	target, err := withRedirectTarget(a.loginURL, fullPath(r.URL))
	if err != nil {
		observability.FromContext(r.Context()).Error("login redirect failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	redirect(w, target, http.StatusFound)
}

// redirect sends target as is. http.Redirect would resolve relative values
// against the request path.
func redirect(w http.ResponseWriter, target string, status int) {
	w.Header().Set("Location", target)
	w.WriteHeader(status)
}

func fullPath(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}
