package middleware

import (
	"errors"
	"net/http"

	"finitefield.org/admin-extauth/internal/admin/rbac"
)

// ErrForbidden is passed to the denial handler when the user lacks a capability.
var ErrForbidden = errors.New("forbidden")

// DenyFunc renders a refused request.
type DenyFunc func(http.ResponseWriter, *http.Request, error)

// RequireCapability refuses the request when the authenticated user lacks the required capability.
func RequireCapability(capability rbac.Capability, deny DenyFunc) func(http.Handler) http.Handler {
	deny = denyOrDefault(deny)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := UserFromContext(r.Context())
			if !ok || !rbac.HasCapability(user.Roles, capability) {
				deny(w, r, ErrForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func denyOrDefault(deny DenyFunc) DenyFunc {
	if deny != nil {
		return deny
	}
	return func(w http.ResponseWriter, _ *http.Request, _ error) {
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	}
}
