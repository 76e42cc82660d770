package site

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/rbac"
)

// recordingFlow wraps views with a header marker and counts the calls.
type recordingFlow struct {
	login, logout *View
	wrapped       []string
}

func newRecordingFlow() *recordingFlow {
	return &recordingFlow{
		login: &View{Name: "login", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusMovedPermanently)
		})},
		logout: &View{Name: "logout", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusMovedPermanently)
		})},
	}
}

func (f *recordingFlow) Wrap(view *View, _ bool) *View {
	f.wrapped = append(f.wrapped, view.Name)
	if view == f.logout {
		return view
	}
	inner := view.Handler
	return &View{Name: view.Name, Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Wrapped", "1")
		inner.ServeHTTP(w, r)
	})}
}

func (f *recordingFlow) LoginView() *View  { return f.login }
func (f *recordingFlow) LogoutView() *View { return f.logout }

func TestMountRequiresAuthFlow(t *testing.T) {
	s := New(Config{})
	if err := s.Mount(chi.NewRouter()); !errors.Is(err, ErrNoAuthFlow) {
		t.Fatalf("expected ErrNoAuthFlow, got %v", err)
	}
}

func TestMountWrapsEveryViewButLogin(t *testing.T) {
	s := New(Config{BasePath: "/staff/"})
	flow := newRecordingFlow()
	s.UseAuthFlow(flow)
	s.Register("reports", "/reports/", &View{Name: "reports", Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}, true)

	router := chi.NewRouter()
	if err := s.Mount(router); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	if got := strings.Join(flow.wrapped, ","); got != "logout,index,reports" {
		t.Fatalf("unexpected wrap order %q", got)
	}

	tests := []struct {
		path    string
		code    int
		wrapped bool
	}{
		{path: "/staff/login/", code: http.StatusMovedPermanently},
		{path: "/staff/logout/", code: http.StatusMovedPermanently},
		{path: "/staff/reports/", code: http.StatusNoContent, wrapped: true},
	}
	for _, tc := range tests {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tc.path, nil))
		if rr.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.code, rr.Code)
		}
		if (rr.Header().Get("X-Wrapped") != "") != tc.wrapped {
			t.Fatalf("%s: wrapped mismatch", tc.path)
		}
	}
}

func TestReverse(t *testing.T) {
	s := New(Config{BasePath: "admin"})
	s.Register("reports", "/reports/", &View{Name: "reports", Handler: http.NotFoundHandler()}, false)

	tests := map[string]string{
		"admin:index":   "/admin/",
		"admin:login":   "/admin/login/",
		"admin:logout":  "/admin/logout/",
		"admin:reports": "/admin/reports/",
	}
	for name, want := range tests {
		got, ok := s.Reverse(name)
		if !ok || got != want {
			t.Fatalf("Reverse(%q) = %q, %v; want %q", name, got, ok, want)
		}
	}
	for _, name := range []string{"admin:missing", "other:index", "index"} {
		if _, ok := s.Reverse(name); ok {
			t.Fatalf("Reverse(%q) unexpectedly resolved", name)
		}
	}

	root := New(Config{Name: "ops", BasePath: "/"})
	if got, _ := root.Reverse("ops:login"); got != "/login/" {
		t.Fatalf("root login = %q", got)
	}
}

func TestHasPermission(t *testing.T) {
	s := New(Config{})
	tests := []struct {
		name string
		user *middleware.User
		want bool
	}{
		{name: "anonymous"},
		{name: "active staff", user: &middleware.User{UID: "s", Roles: []string{"staff"}, Active: true}, want: true},
		{name: "inactive admin", user: &middleware.User{UID: "a", Roles: []string{"admin"}}},
		{name: "active viewer", user: &middleware.User{UID: "v", Roles: []string{"viewer"}, Active: true}},
	}
	for _, tc := range tests {
		req := httptest.NewRequest(http.MethodGet, "/admin/", nil)
		if tc.user != nil {
			req = req.WithContext(middleware.WithUser(req.Context(), tc.user))
		}
		if got := s.HasPermission(req); got != tc.want {
			t.Fatalf("%s: HasPermission = %v, want %v", tc.name, got, tc.want)
		}
	}

	custom := New(Config{Permission: func(*http.Request) bool { return true }})
	if !custom.HasPermission(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Fatalf("expected permission override to apply")
	}
}

func TestFail(t *testing.T) {
	s := New(Config{Title: "Ops"})

	cases := []struct {
		err  error
		code int
		text string
	}{
		{err: ErrPermissionDenied, code: http.StatusForbidden, text: "403 Forbidden | Ops"},
		{err: middleware.ErrForbidden, code: http.StatusForbidden, text: "permission"},
		{err: middleware.ErrCSRFMismatch, code: http.StatusForbidden, text: "CSRF verification failed"},
		{err: errors.New("boom"), code: http.StatusInternalServerError, text: "Internal Server Error"},
	}
	for _, tc := range cases {
		rr := httptest.NewRecorder()
		s.Fail(rr, httptest.NewRequest(http.MethodGet, "/admin/", nil), tc.err)
		if rr.Code != tc.code || !strings.Contains(rr.Body.String(), tc.text) {
			t.Fatalf("Fail(%v) = %d %q", tc.err, rr.Code, rr.Body.String())
		}
	}

	var handled error
	overridden := New(Config{ErrorHandler: func(w http.ResponseWriter, _ *http.Request, err error) {
		handled = err
		w.WriteHeader(http.StatusTeapot)
	}})
	rr := httptest.NewRecorder()
	overridden.Fail(rr, httptest.NewRequest(http.MethodGet, "/", nil), ErrPermissionDenied)
	if rr.Code != http.StatusTeapot || !errors.Is(handled, ErrPermissionDenied) {
		t.Fatalf("expected error handler override, got %d %v", rr.Code, handled)
	}
}

func TestGuardChecksCapability(t *testing.T) {
	s := New(Config{})
	view := &View{Name: "settings", Capability: rbac.CapAdminSettings, Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})}
	guarded := s.guard(view)
	if guarded == view || guarded.Capability != rbac.CapAdminSettings {
		t.Fatalf("expected a new guarded view keeping its capability")
	}

	req := httptest.NewRequest(http.MethodGet, "/admin/settings/", nil)
	req = req.WithContext(middleware.WithUser(req.Context(), &middleware.User{UID: "s", Roles: []string{"staff"}, Active: true}))
	rr := httptest.NewRecorder()
	guarded.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff, got %d", rr.Code)
	}

	plain := &View{Name: "plain", Handler: http.NotFoundHandler()}
	if s.guard(plain) != plain {
		t.Fatalf("views without capability must not be rewrapped")
	}
}
