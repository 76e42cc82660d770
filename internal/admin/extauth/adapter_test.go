package extauth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/rbac"
	appsession "finitefield.org/admin-extauth/internal/admin/session"
	"finitefield.org/admin-extauth/internal/admin/site"
)

type fakeHost struct {
	allow    bool
	routes   map[string]string
	failures []error
}

func (h *fakeHost) Reverse(name string) (string, bool) {
	p, ok := h.routes[name]
	return p, ok
}

func (h *fakeHost) HasPermission(*http.Request) bool {
	return h.allow
}

func (h *fakeHost) Fail(w http.ResponseWriter, _ *http.Request, err error) {
	h.failures = append(h.failures, err)
	http.Error(w, err.Error(), http.StatusForbidden)
}

func newTestAdapter(t *testing.T, host *fakeHost, cfg Config) *Adapter {
	t.Helper()
	if cfg.LoginURL == "" {
		cfg.LoginURL = "/accounts/login/"
	}
	if cfg.LogoutURL == "" {
		cfg.LogoutURL = "/accounts/logout/"
	}
	a, err := New(host, cfg)
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	return a
}

func teapotView(called *int) *site.View {
	return &site.View{
		Name: "teapot",
		Doc:  "Brews tea.",
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*called++
			w.Header().Set("X-View", "teapot")
			w.WriteHeader(http.StatusTeapot)
			_, _ = w.Write([]byte("short and stout"))
		}),
	}
}

func withUser(req *http.Request, user *middleware.User) *http.Request {
	return req.WithContext(middleware.WithUser(req.Context(), user))
}

func TestWrapReturnsLogoutViewUnmodified(t *testing.T) {
	a := newTestAdapter(t, &fakeHost{}, Config{})

	if got := a.Wrap(a.LogoutView(), false); got != a.LogoutView() {
		t.Fatalf("expected logout view to be returned as is")
	}

	var called int
	view := teapotView(&called)
	view.Capability = rbac.CapAdminAudit
	wrapped := a.Wrap(view, false)
	if wrapped == view {
		t.Fatalf("expected a distinct wrapped view")
	}
	if wrapped.Name != "teapot" || wrapped.Doc != "Brews tea." || wrapped.Capability != rbac.CapAdminAudit {
		t.Fatalf("expected metadata preserved, got %+v", wrapped)
	}
	if a.Wrap(a.LoginView(), false) == a.LoginView() {
		t.Fatalf("only the logout view is exempt from wrapping")
	}
}

func TestWrappedViewRedirectsAnonymousToLogin(t *testing.T) {
	tests := []struct {
		name     string
		loginURL string
		target   string
		want     string
	}{
		{name: "plain path", target: "/admin/page/", want: "/accounts/login/?next=/admin/page/"},
		{name: "path with query", target: "/admin/page/?q=1&o=-id", want: "/accounts/login/?next=/admin/page/%3Fq%3D1%26o%3D-id"},
		{name: "relative login url", loginURL: "login.html", target: "/admin/x/", want: "login.html?next=/admin/x/"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, &fakeHost{allow: true}, Config{LoginURL: tc.loginURL})
			var called int
			rr := httptest.NewRecorder()
			a.Wrap(teapotView(&called), false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.target, nil))

			if rr.Code != http.StatusFound {
				t.Fatalf("expected 302, got %d", rr.Code)
			}
			if got := rr.Header().Get("Location"); got != tc.want {
				t.Fatalf("expected redirect to %s, got %s", tc.want, got)
			}
			if called != 0 {
				t.Fatalf("view must not run for anonymous users")
			}
			loc, _ := url.Parse(rr.Header().Get("Location"))
			if next := loc.Query().Get(RedirectFieldName); next != tc.target {
				t.Fatalf("expected next=%s, got %s", tc.target, next)
			}
		})
	}
}

func TestWrappedViewDeniesNonStaff(t *testing.T) {
	host := &fakeHost{allow: false}
	a := newTestAdapter(t, host, Config{})

	var called int
	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/page/", nil), &middleware.User{UID: "customer-1", Active: true})
	rr := httptest.NewRecorder()
	a.Wrap(teapotView(&called), false).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
	if called != 0 {
		t.Fatalf("view must not run without permission")
	}
	if len(host.failures) != 1 || !errors.Is(host.failures[0], site.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", host.failures)
	}
}

func TestWrappedViewForwardsForStaff(t *testing.T) {
	a := newTestAdapter(t, &fakeHost{allow: true}, Config{})

	var called int
	req := withUser(httptest.NewRequest(http.MethodGet, "/admin/page/", nil), &middleware.User{UID: "staff-1", Active: true})
	rr := httptest.NewRecorder()
	a.Wrap(teapotView(&called), false).ServeHTTP(rr, req)

	if called != 1 {
		t.Fatalf("expected view to run once, ran %d times", called)
	}
	if rr.Code != http.StatusTeapot || rr.Body.String() != "short and stout" || rr.Header().Get("X-View") != "teapot" {
		t.Fatalf("expected view response unchanged, got %d %q", rr.Code, rr.Body.String())
	}
}

func TestWrappedViewCachePolicy(t *testing.T) {
	a := newTestAdapter(t, &fakeHost{allow: true}, Config{})
	staff := &middleware.User{UID: "staff-1", Active: true}

	var called int
	rr := httptest.NewRecorder()
	a.Wrap(teapotView(&called), false).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/admin/", nil), staff))
	if rr.Header().Get("Pragma") != "no-cache" {
		t.Fatalf("expected no-cache headers on uncacheable view")
	}

	// Anonymous redirects from uncacheable views must not be cached either.
	rr = httptest.NewRecorder()
	a.Wrap(teapotView(&called), false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/", nil))
	if rr.Header().Get("Cache-Control") == "" {
		t.Fatalf("expected Cache-Control on login redirect")
	}

	rr = httptest.NewRecorder()
	a.Wrap(teapotView(&called), true).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodGet, "/admin/", nil), staff))
	if rr.Header().Get("Cache-Control") != "" {
		t.Fatalf("expected cacheable view without Cache-Control, got %q", rr.Header().Get("Cache-Control"))
	}
}

func TestWrappedViewChecksCSRFBeforeAuth(t *testing.T) {
	host := &fakeHost{allow: true}
	a := newTestAdapter(t, host, Config{})

	var called int
	rr := httptest.NewRecorder()
	a.Wrap(teapotView(&called), false).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/page/", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected CSRF rejection before login redirect, got %d", rr.Code)
	}
	if len(host.failures) != 1 || !errors.Is(host.failures[0], middleware.ErrCSRFMissing) {
		t.Fatalf("expected ErrCSRFMissing, got %v", host.failures)
	}

	exempt := teapotView(&called)
	exempt.CSRFExempt = true
	rr = httptest.NewRecorder()
	a.Wrap(exempt, false).ServeHTTP(rr, withUser(httptest.NewRequest(http.MethodPost, "/admin/page/", nil), &middleware.User{UID: "staff-1", Active: true}))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("expected CSRF-exempt view to run, got %d", rr.Code)
	}
	if !a.Wrap(exempt, false).CSRFExempt {
		t.Fatalf("expected CSRFExempt to carry over to the wrapped view")
	}
}

func TestPipelineOrder(t *testing.T) {
	a := newTestAdapter(t, &fakeHost{}, Config{})
	view := &site.View{Name: "v", Handler: http.NotFoundHandler()}

	if got := len(a.Pipeline(view, false)); got != 3 {
		t.Fatalf("expected csrf, never-cache and staff stages, got %d", got)
	}
	if got := len(a.Pipeline(view, true)); got != 2 {
		t.Fatalf("expected cacheable view to skip never-cache, got %d stages", got)
	}
	view.CSRFExempt = true
	if got := len(a.Pipeline(view, true)); got != 1 {
		t.Fatalf("expected only the staff stage, got %d", got)
	}
}

func TestLogoutRedirectsPermanentlyToLogoutURL(t *testing.T) {
	for _, logoutURL := range []string{
		"https://sso.example.com/logout",
		"sso.example.com/logout",
		"../logout.html",
		"/accounts//logout/",
	} {
		a := newTestAdapter(t, &fakeHost{}, Config{LogoutURL: logoutURL})
		for _, target := range []string{"/admin/logout/", "/admin/logout/?next=/admin/", "/admin/logout/?a=1&b=2"} {
			rr := httptest.NewRecorder()
			a.LogoutView().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
			if rr.Code != http.StatusMovedPermanently {
				t.Fatalf("%s: expected 301, got %d", target, rr.Code)
			}
			if got := rr.Header().Get("Location"); got != logoutURL {
				t.Fatalf("%s: expected %s, got %s", target, logoutURL, got)
			}
		}
	}
}

func TestLogoutDestroysLocalSession(t *testing.T) {
	store, err := appsession.NewManager(appsession.Config{HashKey: appsession.GenerateKey(32)})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}
	a := newTestAdapter(t, &fakeHost{}, Config{})

	var sess *appsession.Session
	handler := middleware.Session(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ = middleware.SessionFromContext(r.Context())
		sess.SetUser(&appsession.User{UID: "staff-1", Active: true})
		a.Logout(w, r)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/logout/", nil))

	if rr.Code != http.StatusMovedPermanently {
		t.Fatalf("expected 301, got %d", rr.Code)
	}
	if sess == nil || !sess.Destroyed() {
		t.Fatalf("expected session to be destroyed")
	}
	var cleared bool
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatalf("expected expired session cookie, got %v", rr.Header().Values("Set-Cookie"))
	}
}

func TestLoginRedirects(t *testing.T) {
	tests := []struct {
		name     string
		loginURL string
		target   string
		want     string
	}{
		{
			name:     "without next",
			loginURL: "https://sso.example.com/login",
			target:   "/admin/login/",
			want:     "https://sso.example.com/login",
		},
		{
			name:     "next keeps slashes",
			loginURL: "https://sso.example.com/login",
			target:   "/admin/login/?next=/admin/page/",
			want:     "https://sso.example.com/login?next=/admin/page/",
		},
		{
			name:     "existing parameters are kept",
			loginURL: "https://sso.example.com/login?app=admin",
			target:   "/admin/login/?next=/admin/page/",
			want:     "https://sso.example.com/login?app=admin&next=/admin/page/",
		},
		{
			name:     "next replaces a configured next",
			loginURL: "/accounts/login/?next=/",
			target:   "/admin/login/?next=/admin/users/",
			want:     "/accounts/login/?next=/admin/users/",
		},
		{
			name:     "last next wins",
			loginURL: "/accounts/login/",
			target:   "/admin/login/?next=/first/&next=/second/",
			want:     "/accounts/login/?next=/second/",
		},
		{
			name:     "special characters are escaped",
			loginURL: "/accounts/login/",
			target:   "/admin/login/?next=" + url.QueryEscape("/admin/?q=a b&x=1"),
			want:     "/accounts/login/?next=/admin/%3Fq%3Da%20b%26x%3D1",
		},
		{
			name:     "relative login url is sent verbatim",
			loginURL: "login.html",
			target:   "/admin/login/?next=/admin/x/",
			want:     "login.html?next=/admin/x/",
		},
		{
			name:     "relative login url without next",
			loginURL: "sso.example.com/login",
			target:   "/admin/login/",
			want:     "sso.example.com/login",
		},
		{
			name:     "other query parameters are ignored",
			loginURL: "/accounts/login/",
			target:   "/admin/login/?foo=bar",
			want:     "/accounts/login/",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := newTestAdapter(t, &fakeHost{}, Config{LoginURL: tc.loginURL})
			rr := httptest.NewRecorder()
			a.LoginView().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.target, nil))
			if rr.Code != http.StatusMovedPermanently {
				t.Fatalf("expected 301, got %d", rr.Code)
			}
			if got := rr.Header().Get("Location"); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestTemporaryRedirects(t *testing.T) {
	a := newTestAdapter(t, &fakeHost{}, Config{TemporaryRedirects: true})

	rr := httptest.NewRecorder()
	a.Login(rr, httptest.NewRequest(http.MethodGet, "/admin/login/", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302 login redirect, got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	a.Logout(rr, httptest.NewRequest(http.MethodGet, "/admin/logout/", nil))
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302 logout redirect, got %d", rr.Code)
	}
}

func TestNewRejectsUnresolvableURLs(t *testing.T) {
	if _, err := New(&fakeHost{}, Config{LoginURL: "login", LogoutURL: "/logout/"}); !errors.Is(err, ErrUnresolvableURL) {
		t.Fatalf("expected ErrUnresolvableURL for bare word login url, got %v", err)
	}
	if _, err := New(&fakeHost{}, Config{LoginURL: "/login/"}); !errors.Is(err, ErrUnresolvableURL) {
		t.Fatalf("expected ErrUnresolvableURL for missing logout url, got %v", err)
	}
}
