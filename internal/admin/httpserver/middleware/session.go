package middleware

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/observability"
	appsession "finitefield.org/admin-extauth/internal/admin/session"
)

type sessionContextKey string

const requestSessionKey sessionContextKey = "admin.session"

// SessionStore abstracts the session manager for middleware integration.
type SessionStore interface {
	Load(*http.Request) (*appsession.Session, error)
	New() *appsession.Session
	Save(http.ResponseWriter, *appsession.Session) error
	Destroy(http.ResponseWriter)
}

// Session attaches the decoded session to the request context and persists
// changes back to the client cookie before the response is written.
func Session(store SessionStore) func(http.Handler) http.Handler {
	if store == nil {
		panic("session store is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := observability.FromContext(r.Context())

			sess, err := store.Load(r)
			if errors.Is(err, appsession.ErrExpired) {
				logger.Debug("session expired: resetting")
				store.Destroy(w)
				sess = store.New()
			} else if err != nil || sess == nil {
				if err != nil {
					logger.Warn("session load failed", zap.Error(err))
				}
				sess = store.New()
			}

			ctx := context.WithValue(r.Context(), requestSessionKey, sess)
			sw := &sessionWriter{ResponseWriter: w, save: func() {
				if sess.Destroyed() {
					logger.Debug("session destroyed", zap.String("session_id", sess.ID()))
				}
				if err := store.Save(w, sess); err != nil {
					logger.Error("session save failed", zap.Error(err))
				}
			}}

			next.ServeHTTP(sw, r.WithContext(ctx))
			sw.flush()
		})
	}
}

// SessionFromContext retrieves the session attached to this request.
func SessionFromContext(ctx context.Context) (*appsession.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(requestSessionKey).(*appsession.Session)
	return sess, ok && sess != nil
}

// sessionWriter saves the session right before the header is sent; cookies
// set after WriteHeader never reach the client.
type sessionWriter struct {
	http.ResponseWriter
	save  func()
	saved bool
}

func (s *sessionWriter) flush() {
	if s.saved {
		return
	}
	s.saved = true
	s.save()
}

func (s *sessionWriter) WriteHeader(status int) {
	s.flush()
	s.ResponseWriter.WriteHeader(status)
}

func (s *sessionWriter) Write(b []byte) (int, error) {
	s.flush()
	return s.ResponseWriter.Write(b)
}

func (s *sessionWriter) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
