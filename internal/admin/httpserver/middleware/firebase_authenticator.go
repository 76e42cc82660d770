package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

var (
	// ErrTokenExpired is returned when the Firebase token has expired.
	ErrTokenExpired = errors.New("firebase token expired")
	// ErrTokenRevoked is returned when the Firebase token was revoked.
	ErrTokenRevoked = errors.New("firebase token revoked")
	// ErrUserDisabled is returned when the Firebase account is disabled.
	ErrUserDisabled = errors.New("firebase user disabled")
)

// FirebaseTokenVerifier abstracts the Firebase Admin SDK client for testability.
// Revocation and disabled accounts are only reported by the checked variant.
type FirebaseTokenVerifier interface {
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// FirebaseAuthenticator validates Firebase ID tokens and maps them onto a User.
type FirebaseAuthenticator struct {
	verifier FirebaseTokenVerifier
}

// NewFirebaseAuthenticator constructs an Authenticator backed by the provided verifier.
func NewFirebaseAuthenticator(verifier FirebaseTokenVerifier) *FirebaseAuthenticator {
	if verifier == nil {
		panic("firebase token verifier is required")
	}
	return &FirebaseAuthenticator{verifier: verifier}
}

// Authenticate verifies the supplied ID token using Firebase and builds a User object.
// Accounts flagged with a "disabled" claim, or "active": false, resolve as inactive
// users so the admin site can refuse them without bouncing them back to login.
func (f *FirebaseAuthenticator) Authenticate(r *http.Request, token string) (*User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, NewAuthError(ReasonTokenInvalid, ErrUnauthorized)
	}

	verified, err := f.verifier.VerifyIDTokenAndCheckRevoked(r.Context(), token)
	if err != nil {
		switch {
		case firebaseauth.IsIDTokenExpired(err), errors.Is(err, ErrTokenExpired):
			return nil, NewAuthError(ReasonTokenExpired, err)
		case firebaseauth.IsIDTokenRevoked(err), errors.Is(err, ErrTokenRevoked):
			return nil, NewAuthError(ReasonTokenRevoked, err)
		case firebaseauth.IsUserDisabled(err), errors.Is(err, ErrUserDisabled):
			return nil, NewAuthError(ReasonUserDisabled, err)
		default:
			return nil, NewAuthError(ReasonTokenInvalid, err)
		}
	}

	active := true
	if v, ok := verified.Claims["active"].(bool); ok {
		active = v
	}
	if v, ok := verified.Claims["disabled"].(bool); ok && v {
		active = false
	}

	return &User{
		UID:    verified.UID,
		Email:  claimString(verified.Claims["email"]),
		Roles:  claimStringSlice(verified.Claims["role"], verified.Claims["roles"]),
		Active: active,
		Token:  token,
	}, nil
}

func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	default:
		return ""
	}
}

func claimStringSlice(values ...any) []string {
	seen := make(map[string]struct{})
	var result []string

	appendValue := func(val string) {
		val = strings.TrimSpace(val)
		if val == "" {
			return
		}
		if _, ok := seen[val]; !ok {
			seen[val] = struct{}{}
			result = append(result, val)
		}
	}

	for _, value := range values {
		switch v := value.(type) {
		case string:
			appendValue(v)
		case []string:
			for _, item := range v {
				appendValue(item)
			}
		case []any:
			for _, item := range v {
				if s, ok := item.(string); ok {
					appendValue(s)
				}
			}
		case map[string]any:
			for key, val := range v {
				if b, ok := val.(bool); ok && b {
					appendValue(key)
				}
			}
		}
	}
	return result
}
