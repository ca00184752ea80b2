package httptransport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"example.com/fitsync/internal/logging"
)

// ServerConfig contains tunables for the HTTP server.
type ServerConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewServer creates *http.Server with provided handler.
func NewServer(cfg ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// Authenticator wraps a handler with bearer-token checks.
type Authenticator interface {
	Wrap(next http.Handler) http.Handler
}

// RouterConfig configures the shared middleware stack.
type RouterConfig struct {
	AllowedOrigins []string
	Auth           Authenticator
	Logger         zerolog.Logger
}

// NewRouter builds a chi router with request IDs, panic recovery, access
// logging, CORS and authentication, then lets register mount the routes.
func NewRouter(cfg RouterConfig, register func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(logging.AccessLog(cfg.Logger))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Client-Info", "Apikey"},
		MaxAge:         300,
	}))
	if cfg.Auth != nil {
		r.Use(cfg.Auth.Wrap)
	}

	register(r)
	return r
}
