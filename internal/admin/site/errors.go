package site

import (
	"errors"
	"net/http"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/httpserver/middleware"
	"finitefield.org/admin-extauth/internal/admin/observability"
	errorpages "finitefield.org/admin-extauth/internal/admin/templates/errors"
)

// ErrPermissionDenied is reported when an authenticated user may not use the site.
var ErrPermissionDenied = errors.New("permission denied")

// Fail renders err as the site's standard error response. Permission and CSRF
// failures become 403s, anything else a 500.
func (s *Site) Fail(w http.ResponseWriter, r *http.Request, err error) {
	if s.cfg.ErrorHandler != nil {
		s.cfg.ErrorHandler(w, r, err)
		return
	}

	logger := observability.FromContext(r.Context())
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, middleware.ErrForbidden):
		uid := ""
		if user, ok := middleware.UserFromContext(r.Context()); ok {
			uid = user.UID
		}
		logger.Info("admin access denied", zap.String("user_id", uid), zap.String("path", r.URL.Path))
		s.forbidden(w, r, "You don't have permission to view this page.")
	case errors.Is(err, middleware.ErrCSRFMissing), errors.Is(err, middleware.ErrCSRFMismatch):
		s.forbidden(w, r, "CSRF verification failed. Request aborted.")
	default:
		logger.Error("admin view failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func (s *Site) forbidden(w http.ResponseWriter, r *http.Request, message string) {
	page := errorpages.Forbidden(errorpages.ForbiddenData{SiteTitle: s.cfg.Title, Message: message})
	templ.Handler(page, templ.WithStatus(http.StatusForbidden)).ServeHTTP(w, r)
}
