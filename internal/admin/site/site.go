// Package site hosts the admin interface: a route table of views mounted under a
// base path, the staff permission predicate, named-route reversal and the error
// surface that renders permission and CSRF failures.
//
// Login, logout and the wrapping of every view are delegated to an AuthFlow
// installed with UseAuthFlow before Mount is called.
package site

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/rbac"
)

const defaultName = "admin"

// ErrNoAuthFlow is returned by Mount when no AuthFlow has been installed.
var ErrNoAuthFlow = errors.New("site: auth flow not configured")

// View is a single admin page. Views are compared by pointer, so the same *View
// must be used wherever one view is meant.
type View struct {
	Name       string
	Doc        string
	Handler    http.Handler
	CSRFExempt bool
	// Capability, when set, is required on top of the site permission.
	Capability rbac.Capability
}

// ServeHTTP forwards to the underlying handler.
func (v *View) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	v.Handler.ServeHTTP(w, r)
}

// AuthFlow supplies the login/logout entry points of a site and decorates every
// other view with authentication, permission, CSRF and caching policy.
type AuthFlow interface {
	Wrap(view *View, cacheable bool) *View
	LoginView() *View
	LogoutView() *View
}

// Config holds the options for New.
type Config struct {
	// Name namespaces route names, as in "admin:index".
	Name     string
	Title    string
	BasePath string
	// Permission overrides HasPermission when set.
	Permission func(*http.Request) bool
	// ErrorHandler overrides Fail when set.
	ErrorHandler func(http.ResponseWriter, *http.Request, error)
}

type route struct {
	name      string
	pattern   string
	view      *View
	cacheable bool
}

// Site is an admin interface mounted under a single base path.
type Site struct {
	cfg    Config
	base   string
	flow   AuthFlow
	routes []route
}

// New constructs a Site with its index view registered.
func New(cfg Config) *Site {
	if strings.TrimSpace(cfg.Name) == "" {
		cfg.Name = defaultName
	}
	if strings.TrimSpace(cfg.Title) == "" {
		cfg.Title = "Site administration"
	}
	s := &Site{
		cfg:  cfg,
		base: normalizeBasePath(cfg.BasePath),
	}
	s.Register("index", "/", &View{
		Name:    "index",
		Doc:     "Lists the pages available on this admin site.",
		Handler: http.HandlerFunc(s.index),
	}, false)
	return s
}

// Name returns the route namespace of the site.
func (s *Site) Name() string {
	return s.cfg.Name
}

// BasePath returns the normalised mount point of the site.
func (s *Site) BasePath() string {
	return s.base
}

// UseAuthFlow installs the login/logout/wrapping strategy.
func (s *Site) UseAuthFlow(flow AuthFlow) {
	s.flow = flow
}

// Register adds a view at pattern (relative to the base path) under name.
// Views are wrapped by the auth flow when the site is mounted.
func (s *Site) Register(name, pattern string, view *View, cacheable bool) {
	if view == nil || view.Handler == nil {
		panic(fmt.Sprintf("site: view %q has no handler", name))
	}
	for i, rt := range s.routes {
		if rt.name == name {
			s.routes[i] = route{name: name, pattern: pattern, view: view, cacheable: cacheable}
			return
		}
	}
	s.routes = append(s.routes, route{name: name, pattern: pattern, view: view, cacheable: cacheable})
}

// AdminView wraps view with the site's auth flow. It is what Mount applies to
// every registered route and may be used for views mounted elsewhere.
func (s *Site) AdminView(view *View, cacheable bool) *View {
	if s.flow == nil {
		panic(ErrNoAuthFlow)
	}
	return s.flow.Wrap(view, cacheable)
}

// Mount installs the site's routes on r.
func (s *Site) Mount(r chi.Router) error {
	if s.flow == nil {
		return ErrNoAuthFlow
	}

	sub := chi.NewRouter()
	// The login view is never wrapped; the logout view goes through Wrap and is
	// expected back untouched.
	sub.Handle("/login/", s.flow.LoginView())
	sub.Handle("/logout/", s.AdminView(s.flow.LogoutView(), false))
	for _, rt := range s.routes {
		sub.Handle(rt.pattern, s.AdminView(s.guard(rt.view), rt.cacheable))
	}

	if s.base == "/" {
		r.Mount("/", sub)
	} else {
		r.Mount(s.base, sub)
	}
	return nil
}

// guard puts the view's capability check in front of its handler. The result
// is still wrapped by the auth flow, so the check only sees staff users.
func (s *Site) guard(view *View) *View {
	if view.Capability == "" {
		return view
	}
	return &View{
		Name:       view.Name,
		Doc:        view.Doc,
		CSRFExempt: view.CSRFExempt,
		Capability: view.Capability,
		Handler:    middleware.RequireCapability(view.Capability, s.Fail)(view.Handler),
	}
}

// Reverse resolves a route name such as "admin:index" into a path.
func (s *Site) Reverse(name string) (string, bool) {
	local, ok := strings.CutPrefix(name, s.cfg.Name+":")
	if !ok {
		return "", false
	}
	switch local {
	case "login":
		return s.join("/login/"), true
	case "logout":
		return s.join("/logout/"), true
	}
	for _, rt := range s.routes {
		if rt.name == local {
			return s.join(rt.pattern), true
		}
	}
	return "", false
}

// HasPermission reports whether the request's user may use the admin site: an
// active account holding a staff role.
func (s *Site) HasPermission(r *http.Request) bool {
	if s.cfg.Permission != nil {
		return s.cfg.Permission(r)
	}
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		return false
	}
	return user.Active && rbac.IsStaff(user.Roles)
}

func (s *Site) join(pattern string) string {
	if s.base == "/" {
		return pattern
	}
	return s.base + pattern
}

func normalizeBasePath(path string) string {
	p := strings.TrimSpace(path)
	if p == "" {
		return "/admin"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		return "/"
	}
	return p
}
