package middleware

import (
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// NeverCache marks responses as uncacheable by browsers and shared caches.
// Headers are set before the wrapped handler runs, so redirects and error pages
// produced further down the chain carry them too.
func NeverCache() func(http.Handler) http.Handler {
	return chimw.NoCache
}
