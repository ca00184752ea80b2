package auth

import (
	"net/http"

	authlib "example.com/fitsync/pkg/auth"
)

// PublicPaths are served without a bearer token.
var PublicPaths = map[string]struct{}{
	"/healthz":         {},
	"/metrics":         {},
	"/strava/callback": {},
}

// Middleware enforces bearer-token authentication on incoming requests.
type Middleware struct {
	inner authlib.Middleware
}

// NewMiddleware constructs Middleware with validation config.
func NewMiddleware(cfg Config) Middleware {
	skipper := func(r *http.Request) bool {
		_, ok := PublicPaths[r.URL.Path]
		return ok
	}
	return Middleware{inner: authlib.NewMiddleware(cfg, skipper)}
}

// Wrap attaches authentication handling to an http.Handler.
func (m Middleware) Wrap(next http.Handler) http.Handler {
	return m.inner.Wrap(next)
}
