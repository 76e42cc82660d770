package middleware

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/observability"
)

type csrfContextKey string

const csrfTokenContextKey csrfContextKey = "csrf.token"

var (
	// ErrCSRFMissing is reported when an unsafe request carries no token.
	ErrCSRFMissing = errors.New("csrf token missing")
	// ErrCSRFMismatch is reported when the submitted token does not match the issued one.
	ErrCSRFMismatch = errors.New("csrf token mismatch")
)

// CSRFConfig controls cookie/header behaviour.
type CSRFConfig struct {
	CookieName string
	CookiePath string
	HeaderName string
	FieldName  string
	MaxAge     time.Duration
	Secure     bool
	// OnFailure renders rejected requests. Defaults to a plain 403.
	OnFailure func(http.ResponseWriter, *http.Request, error)
}

// CSRF attaches double-submit token protection. Safe methods (GET/HEAD/OPTIONS/TRACE)
// only ensure a token is issued; unsafe methods must echo the token in the
// configured header or form field. When a session is attached to the request the
// token lives in the session, otherwise in a dedicated cookie.
func CSRF(cfg CSRFConfig) func(http.Handler) http.Handler {
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = "admin_csrf"
	}
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}
	fieldName := cfg.FieldName
	if fieldName == "" {
		fieldName = "csrf_token"
	}
	cookiePath := cfg.CookiePath
	if cookiePath == "" {
		cookiePath = "/"
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 24 * time.Hour
	}
	onFailure := cfg.OnFailure
	if onFailure == nil {
		onFailure = func(w http.ResponseWriter, _ *http.Request, _ error) {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ensureCSRFToken(w, r, cookieName, cookiePath, maxAge, cfg.Secure)
			if err != nil {
				observability.FromContext(r.Context()).Error("csrf token issue failed", zap.Error(err))
				http.Error(w, "csrf token error", http.StatusInternalServerError)
				return
			}

			if isUnsafeMethod(r.Method) {
				submitted := r.Header.Get(headerName)
				if submitted == "" && isFormPost(r) {
					submitted = r.PostFormValue(fieldName)
				}
				if submitted == "" {
					observability.FromContext(r.Context()).Info("csrf rejected", zap.Error(ErrCSRFMissing))
					onFailure(w, r, ErrCSRFMissing)
					return
				}
				if subtle.ConstantTimeCompare([]byte(submitted), []byte(token)) != 1 {
					observability.FromContext(r.Context()).Info("csrf rejected", zap.Error(ErrCSRFMismatch))
					onFailure(w, r, ErrCSRFMismatch)
					return
				}
			}

			ctx := context.WithValue(r.Context(), csrfTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CSRFTokenFromContext returns the token issued for the current request (to embed in forms or meta tags).
func CSRFTokenFromContext(ctx context.Context) string {
	if token, ok := ctx.Value(csrfTokenContextKey).(string); ok {
		return token
	}
	return ""
}

func ensureCSRFToken(w http.ResponseWriter, r *http.Request, cookieName, cookiePath string, maxAge time.Duration, secure bool) (string, error) {
	if sess, ok := SessionFromContext(r.Context()); ok {
		return sess.EnsureCSRFToken()
	}

	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, nil
	}

	token, err := generateToken(32)
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     cookiePath,
		HttpOnly: true,
		Secure:   secure || r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	return token, nil
}

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := io.ReadFull(rand.Reader, bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}

func isFormPost(r *http.Request) bool {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	return strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data")
}

func isUnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}
