package middleware

import (
	"context"
	"net/http"
	"strings"
)

type environmentContextKey struct{}

const defaultEnvironment = "Development"

// Environment attaches the deployment label shown in the admin header.
// Empty values default to "Development".
func Environment(value string) func(http.Handler) http.Handler {
	label := strings.TrimSpace(value)
	if label == "" {
		label = defaultEnvironment
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), environmentContextKey{}, label)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// EnvironmentFromContext returns the label set by Environment.
func EnvironmentFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(environmentContextKey{}).(string); ok && strings.TrimSpace(value) != "" {
		return value
	}
	return defaultEnvironment
}
