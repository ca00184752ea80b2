package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"example.com/fitsync/internal/api"
	"example.com/fitsync/internal/auth"
	"example.com/fitsync/internal/config"
	"example.com/fitsync/internal/connection"
	"example.com/fitsync/internal/domain"
	"example.com/fitsync/internal/logging"
	"example.com/fitsync/internal/outbox"
	"example.com/fitsync/internal/persistence/memory"
	"example.com/fitsync/internal/persistence/postgres"
	"example.com/fitsync/internal/reconcile"
	"example.com/fitsync/internal/secrets"
	"example.com/fitsync/internal/strava"
	"example.com/fitsync/internal/token"
	httptransport "example.com/fitsync/internal/transport/http"
)

type store interface {
	domain.ProfileStore
	domain.CredentialStore
	domain.ActivityStore
}

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "fitsync-api")

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       store
		dispatcher *outbox.Dispatcher
	)
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		repo = memory.NewRepository()
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		if cfg.OutboxEnabled {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()
			dispatcher = outbox.NewDispatcher(pool, producer, logger.With().Str("component", "outbox").Logger(), cfg.OutboxPollInterval, cfg.OutboxBatchSize)
			go dispatcher.Start(ctx)
		}
	}

	sealer, err := secrets.NewSealer(cfg.GarminSealingKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build credential sealer")
	}

	authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}
	states := auth.NewStateSigner(authCfg, cfg.StateTTL)
	stravaHTTP := &http.Client{Timeout: cfg.StravaHTTPTimeout}

	oauth := strava.NewOAuth(strava.OAuthConfig{
		ClientID:     cfg.StravaClientID,
		ClientSecret: cfg.StravaClientSecret,
		RedirectURL:  cfg.StravaRedirectURL,
		AuthURL:      cfg.StravaAuthURL,
		TokenURL:     cfg.StravaTokenURL,
		HTTPClient:   stravaHTTP,
	})
	fetcher := strava.NewClient(cfg.StravaAPIURL,
		strava.WithHTTPClient(stravaHTTP),
		strava.WithClientLogger(logger.With().Str("component", "strava").Logger()),
	)

	componentLogger := func(name string) zerolog.Logger {
		return logger.With().Str("component", name).Logger()
	}
	stravaLogger := componentLogger("strava-provider")

	manager := connection.NewManager([]connection.Provider{
		connection.NewStravaProvider(connection.StravaDeps{
			OAuth:      oauth,
			States:     states,
			Fetcher:    fetcher,
			Refresher:  token.NewRefresher(oauth, repo, token.WithLogger(componentLogger("token"))),
			Reconciler: reconcile.New(repo, reconcile.WithLogger(componentLogger("reconcile"))),
			Profiles:   repo,
			Logger:     &stravaLogger,
		}),
		connection.NewGarminProvider(repo, sealer, componentLogger("garmin-provider")),
	},
		connection.WithLogger(componentLogger("connection")),
		connection.WithSessionTTL(cfg.SessionTTL),
	)

	handler := api.NewHandler(api.Deps{
		Manager:      manager,
		Grants:       oauth,
		Fetcher:      fetcher,
		Activities:   repo,
		States:       states,
		DashboardURL: cfg.DashboardURL,
		LandingURL:   cfg.LandingURL,
		Logger:       componentLogger("api"),
	})

	router := httptransport.NewRouter(httptransport.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Auth:           auth.NewMiddleware(authCfg),
		Logger:         logger,
	}, func(r chi.Router) { handler.RegisterRoutes(r) })

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, router)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress).Str("store", cfg.Store).Msg("fitsync api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}

	if dispatcher != nil {
		dispatcher.Wait()
	}
}
