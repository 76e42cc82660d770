package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"finitefield.org/admin-extauth/internal/admin/observability"
	appsession "finitefield.org/admin-extauth/internal/admin/session"
)

type authContextKey string

const userContextKey authContextKey = "auth.user"

// User represents the caller resolved for the current request.
type User struct {
	UID    string
	Email  string
	Roles  []string
	Active bool
	Token  string
}

// Authenticator resolves an incoming token into a User.
type Authenticator interface {
	Authenticate(r *http.Request, token string) (*User, error)
}

var (
	// ErrUnauthorized is returned when authentication fails.
	ErrUnauthorized = errors.New("unauthorized")
)

// AuthError contains reason codes for failed authentication attempts.
type AuthError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *AuthError) Unwrap() error {
	return e.Err
}

// NewAuthError constructs an AuthError with the provided reason.
func NewAuthError(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

const (
	// ReasonTokenInvalid indicates a malformed or invalid token.
	ReasonTokenInvalid = "token_invalid"
	// ReasonTokenExpired indicates an expired token.
	ReasonTokenExpired = "token_expired"
	// ReasonTokenRevoked indicates a token revoked by the identity provider.
	ReasonTokenRevoked = "token_revoked"
	// ReasonUserDisabled indicates the identity provider disabled the account.
	ReasonUserDisabled = "user_disabled"
)

// DefaultAuthenticator accepts any non-empty bearer token and is intended for local development.
func DefaultAuthenticator() Authenticator {
	return &passthroughAuthenticator{}
}

// Authenticate resolves the caller from the Authorization header, auth cookies or
// the session and stores it on the request context. It never rejects a request:
// callers without valid credentials continue as anonymous, and it is up to the
// admin site to decide whether that is acceptable.
func Authenticate(authenticator Authenticator) func(http.Handler) http.Handler {
	if authenticator == nil {
		panic("authenticator is required")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			logger := observability.FromContext(ctx)

			token := parseBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				token = cookieToken(r)
			}

			var user *User
			if token != "" {
				resolved, err := authenticator.Authenticate(r, token)
				if err != nil || resolved == nil {
					reason, cause := failureReason(err)
					logger.Info("auth failure", zap.String("reason", reason), zap.Error(cause))
					destroySession(ctx)
				} else {
					user = resolved
					rememberUser(ctx, user)
				}
			} else {
				user = sessionUser(ctx)
			}

			if user != nil {
				ctx = WithUser(ctx, user)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithUser returns a context carrying the provided user.
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext retrieves the authenticated user if present.
func UserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(userContextKey).(*User)
	return user, ok && user != nil
}

// IsAuthenticated reports whether a non-anonymous user is attached to ctx.
func IsAuthenticated(ctx context.Context) bool {
	user, ok := UserFromContext(ctx)
	return ok && strings.TrimSpace(user.UID) != ""
}

func failureReason(err error) (string, error) {
	reason := ReasonTokenInvalid
	var authErr *AuthError
	if errors.As(err, &authErr) {
		if authErr.Reason != "" {
			reason = authErr.Reason
		}
		err = authErr.Err
	}
	if err == nil {
		err = ErrUnauthorized
	}
	return reason, err
}

func parseBearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}

func cookieToken(r *http.Request) string {
	candidates := []string{"Authorization", "__session", "idToken"}
	for _, name := range candidates {
		c, err := r.Cookie(name)
		if err != nil {
			continue
		}
		val := strings.TrimSpace(c.Value)
		if val == "" {
			continue
		}
		if token := parseBearerToken(val); token != "" {
			return token
		}
		return val
	}
	return ""
}

func rememberUser(ctx context.Context, user *User) {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return
	}
	sess.SetUser(&appsession.User{
		UID:    user.UID,
		Email:  user.Email,
		Roles:  append([]string(nil), user.Roles...),
		Active: user.Active,
	})
}

func sessionUser(ctx context.Context) *User {
	sess, ok := SessionFromContext(ctx)
	if !ok {
		return nil
	}
	stored := sess.User()
	if stored == nil || strings.TrimSpace(stored.UID) == "" {
		return nil
	}
	return &User{
		UID:    stored.UID,
		Email:  stored.Email,
		Roles:  append([]string(nil), stored.Roles...),
		Active: stored.Active,
	}
}

func destroySession(ctx context.Context) {
	if sess, ok := SessionFromContext(ctx); ok {
		sess.Destroy()
	}
}

type passthroughAuthenticator struct{}

func (p *passthroughAuthenticator) Authenticate(_ *http.Request, token string) (*User, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	return &User{
		UID:    token,
		Roles:  []string{"admin"},
		Active: true,
		Token:  token,
	}, nil
}
