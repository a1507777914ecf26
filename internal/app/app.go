// Package app wires configuration, stores, the identity provider and the
// reconcile flow into a runnable service.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shotsapp/shots/internal/config"
	"github.com/shotsapp/shots/internal/docstore"
	"github.com/shotsapp/shots/internal/handler"
	"github.com/shotsapp/shots/internal/identity"
	"github.com/shotsapp/shots/internal/metrics"
	"github.com/shotsapp/shots/internal/middleware"
	"github.com/shotsapp/shots/internal/onboarding"
	"github.com/shotsapp/shots/internal/profile"
	"github.com/shotsapp/shots/internal/reconcile"
	"github.com/shotsapp/shots/internal/retry"
	"github.com/shotsapp/shots/internal/server"
	"github.com/shotsapp/shots/internal/settings"
)

// App is the assembled service.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *prometheus.Registry
	recorder metrics.Recorder

	store      docstore.Store
	settings   *settings.Settings
	provider   identity.Provider
	cache      *profile.Cache
	flow       *reconcile.Flow
	onboarding *onboarding.Onboarding
	limiter    *middleware.RateLimiter
	router     http.Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New opens the configured stores and builds every component. Close
// releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		cache:    profile.NewCache(),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.recorder = metrics.NewPrometheus(a.registry)

	if a.settings, err = openSettings(cfg); err != nil {
		return nil, err
	}
	logger.Info("settings store opened", "driver", cfg.SettingsDriver)

	store, err := openDocStore(ctx, cfg)
	if err != nil {
		// Driver errors may echo the connection string.
		return nil, fmt.Errorf("open %s document store: %s",
			cfg.DocStoreDriver, SanitizeError(err, cfg.DatabaseURL, cfg.RedisURL, cfg.MongoURI))
	}
	a.store = docstore.Instrument(store, a.recorder)
	logger.Info("document store connected", "driver", cfg.DocStoreDriver)

	if a.provider, err = a.openProvider(ctx); err != nil {
		return nil, err
	}
	logger.Info("identity provider ready", "driver", cfg.IdentityDriver)

	profiles := profile.NewRepository(a.store, logger,
		profile.WithRetrier(a.retrier("profile", cfg.RetryAttempts, cfg.RetryDelay)),
		profile.WithRecorder(a.recorder),
	)

	a.flow, err = reconcile.New(reconcile.Deps{
		Provider:       a.provider,
		Listener:       identity.NewListener(a.provider),
		Profiles:       profiles,
		Cache:          a.cache,
		Logger:         logger,
		Recorder:       a.recorder,
		AnonymousRetry: a.retrier("anonymous_sign_in", retry.Forever, cfg.AnonymousRetryDelay),
		ProviderRetry:  a.retrier("provider", cfg.RetryAttempts, cfg.RetryDelay),
		ProviderID:     cfg.IdentityProviderID,
	})
	if err != nil {
		return nil, err
	}

	a.onboarding = onboarding.New(a.settings, logger)

	a.limiter = middleware.NewRateLimiter(middleware.RateLimitConfig{
		Logger:  logger,
		Enabled: cfg.RateLimitAuthEnabled,
		RPS:     cfg.RateLimitAuthRPS,
		Burst:   cfg.RateLimitAuthBurst,
	})

	a.router = a.setupRouter()
	return a, nil
}

func openSettings(cfg *config.Config) (*settings.Settings, error) {
	switch cfg.SettingsDriver {
	case config.SettingsMemory:
		return settings.New(settings.NewMemory()), nil
	default:
		backend, err := settings.OpenSQLite(cfg.SettingsPath)
		if err != nil {
			return nil, err
		}
		return settings.New(backend), nil
	}
}

func openDocStore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	switch cfg.DocStoreDriver {
	case config.DocStoreRedis:
		return docstore.NewRedis(ctx, cfg.RedisURL)
	case config.DocStorePostgres:
		return docstore.NewPostgres(ctx, cfg.DatabaseURL)
	case config.DocStoreMongo:
		return docstore.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return docstore.NewMemory(), nil
	}
}

func (a *App) openProvider(ctx context.Context) (identity.Provider, error) {
	if a.cfg.IdentityDriver != config.IdentityREST {
		return identity.NewMemoryProvider(), nil
	}

	if a.cfg.SessionVaultSecret == "" && a.cfg.IsProduction() {
		a.logger.Warn("SESSION_VAULT_SECRET is not set; the persisted session is stored unsealed")
	}

	return identity.NewRESTProvider(ctx, identity.RESTConfig{
		APIKey:     a.cfg.IdentityAPIKey,
		BaseURL:    a.cfg.IdentityBaseURL,
		TokenURL:   a.cfg.IdentityTokenURL,
		ProviderID: a.cfg.IdentityProviderID,
		RequestURI: a.cfg.IdentityRequestURI,
		Retrier:    a.retrier("identity_rest", a.cfg.RetryAttempts, a.cfg.RetryDelay),
		Vault:      identity.NewSessionVault(a.settings, a.cfg.SessionVaultSecret),
		Logger:     a.logger,
	})
}

// retrier builds a policy whose failed attempts are counted under op.
func (a *App) retrier(op string, attempts int, delay time.Duration) *retry.Retrier {
	return retry.New(attempts, delay, retry.WithObserver(func(attempt int, err error) {
		a.recorder.IncRetryAttempt(op)
		a.logger.Debug("attempt failed", "op", op, "attempt", attempt, "error", err)
	}))
}

func (a *App) setupRouter() http.Handler {
	h := handler.New(a.flow, a.cache, a.onboarding, a.logger)
	health := handler.NewHealthHandler(map[string]handler.HealthChecker{
		"docstore": a.store,
		"settings": a.settings,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(a.logger))
	r.Use(middleware.Recoverer(a.logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: a.cfg.IsDevelopment()}))

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = a.cfg.GetCORSAllowedOrigins()
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(a.cfg.MaxRequestBodySize))

	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(a.registry))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/session", h.Session)
		r.Get("/me", h.Me)
		r.Delete("/account", h.DeleteAccount)

		r.Route("/auth", func(r chi.Router) {
			r.Use(a.limiter.Middleware)
			r.Post("/nonce", h.RequestNonce)
			r.Post("/complete", h.CompleteSignIn)
			r.Post("/sign-out", h.SignOut)
		})

		r.Route("/onboarding", func(r chi.Router) {
			r.Get("/", h.Onboarding)
			r.Post("/continue", h.ContinueOnboarding)
			r.Post("/later", h.LaterOnboarding)
		})

		r.Post("/exif", h.FormatExif)
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return a.router
}

// Start runs the reconcile flow and the onboarding listener in the
// background until Stop is called or ctx ends.
func (a *App) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		if err := a.flow.Run(ctx); err != nil {
			a.logger.Error("reconcile flow exited", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		if err := a.onboarding.Run(ctx, a.flow); err != nil {
			a.logger.Error("onboarding listener exited", "error", err)
		}
	}()
	go func() {
		defer a.wg.Done()
		a.logOnboarding(ctx)
	}()
}

func (a *App) logOnboarding(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-a.onboarding.Events():
			a.logger.Info("onboarding event", "kind", ev.Kind.String(), "step", ev.Step.String())
		}
	}
}

// Stop ends the background work started by Start and waits for it, or
// until ctx is done.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel == nil {
		return nil
	}
	a.cancel()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the stores. It does not stop background work.
func (a *App) Close() error {
	var errs []error
	if a.limiter != nil {
		a.limiter.Stop()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close document store: %w", err))
		}
	}
	if a.settings != nil {
		if err := a.settings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close settings: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Run serves HTTP until ctx ends, then stops the HTTP server, the
// background work and the stores, in that order.
func (a *App) Run(ctx context.Context) error {
	srv := server.New(
		a.router,
		a.cfg.AppPort,
		a.cfg.ReadTimeout,
		a.cfg.WriteTimeout,
		a.cfg.ShutdownTimeout,
		a.logger,
	)

	// Registered first, stopped last.
	srv.OnShutdown("stores", func(ctx context.Context) error {
		return a.Close()
	})
	srv.OnShutdown("reconcile", a.Stop)

	// In-flight requests still reach the flow while HTTP drains.
	a.Start(context.WithoutCancel(ctx))

	a.logger.Info("starting server",
		"port", a.cfg.AppPort,
		"env", a.cfg.AppEnv,
		"docstore", a.cfg.DocStoreDriver,
		"identity", a.cfg.IdentityDriver,
	)
	return srv.Run(ctx)
}
