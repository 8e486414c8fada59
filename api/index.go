package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"forward-focus-backend/pkg/config"
	"forward-focus-backend/pkg/database"
	"forward-focus-backend/pkg/handlers"
	"forward-focus-backend/pkg/metrics"
	customMiddleware "forward-focus-backend/pkg/middleware"
	"forward-focus-backend/pkg/ratelimit"
	"forward-focus-backend/pkg/utils"
	"forward-focus-backend/pkg/workflow"
)

// App owns every long-lived component: the store, the rate limiters, the
// metrics registry and the router. Nothing here starts itself; callers build
// an App with NewApp and release its resources with Close.
type App struct {
	cfg     *config.Config
	store   database.Store
	router  *chi.Mux
	metrics *metrics.Metrics

	ipLimiter     ratelimit.Limiter
	revealLimiter ratelimit.Limiter
	redisClient   *redis.Client
	closers       []func() error
}

// NewApp wires the full service from configuration
func NewApp(cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	store, err := database.NewStore(database.StoreConfig{
		PostgresDSN: cfg.PostgresDSN,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	app := &App{cfg: cfg, store: store, metrics: metrics.New()}
	app.closers = append(app.closers, store.Close)

	revealWindow := time.Duration(cfg.RevealWindowMinutes) * time.Minute
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opts)
		app.redisClient = client
		app.closers = append(app.closers, client.Close)
		app.revealLimiter = ratelimit.NewRedisWindow(client, "reveal", cfg.RevealLimitPerWindow, revealWindow)
		app.ipLimiter = ratelimit.NewRedisWindow(client, "ip", 120, time.Minute)
	} else {
		reveal := ratelimit.NewMemory(cfg.RevealLimitPerWindow, revealWindow, cfg.RevealLimitPerWindow)
		ip := ratelimit.NewMemory(120, time.Minute, 20)
		app.revealLimiter = reveal
		app.ipLimiter = ip
		app.closers = append(app.closers, func() error { reveal.Close(); return nil }, func() error { ip.Close(); return nil })
	}

	wf := workflow.NewService(store, app.revealLimiter, workflow.Options{
		SubmitLimit:        cfg.SubmitLimitPerHour,
		SubmitWindow:       time.Hour,
		DefaultExpiryHours: cfg.DefaultExpiryHours,
	})

	app.router = chi.NewRouter()
	app.setupMiddleware()
	app.setupRoutes(wf)
	return app, nil
}

// Router returns the HTTP handler for the app
func (a *App) Router() http.Handler {
	return a.router
}

// Close releases the store, limiter janitors and the Redis connection
func (a *App) Close() error {
	var first error
	for _, c := range a.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *App) setupMiddleware() {
	r := a.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Normalize())
	r.Use(customMiddleware.Logger(a.cfg))
	r.Use(customMiddleware.Recovery(a.cfg))
	r.Use(customMiddleware.CORS(a.cfg))
	r.Use(middleware.Timeout(25 * time.Second))
	r.Use(middleware.Compress(5))
	r.Use(a.metrics.Middleware)
	r.Use(customMiddleware.RateLimitByIP(a.ipLimiter))
	r.Use(customMiddleware.MaxBodySize(1 << 20))

	if a.cfg.IsDevelopment() {
		r.Use(middleware.Heartbeat("/ping"))
	}
}

func (a *App) setupRoutes(wf *workflow.Service) {
	cfg := a.cfg
	router := a.router

	authHandler := handlers.NewAuthHandler(cfg, a.store)
	accessHandler := handlers.NewAccessHandler(cfg, wf, a.metrics)
	approvalsHandler := handlers.NewApprovalsHandler(cfg, wf, a.metrics)
	revealHandler := handlers.NewRevealHandler(cfg, wf, a.metrics)
	orgsHandler := handlers.NewOrgsHandler(cfg, a.store)

	router.Get("/", a.handleHealth)
	router.Get("/health", a.handleHealth)
	router.Method(http.MethodGet, "/metrics", a.metrics.Handler())

	router.Route("/api", func(r chi.Router) {
		r.Use(customMiddleware.ContentTypeJSON)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.RefreshToken)
		})

		// Everything below requires a valid access token
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.AuthMiddleware(cfg))

			r.Route("/orgs", func(r chi.Router) {
				r.Get("/", orgsHandler.ListOrganizations)
				r.Post("/", orgsHandler.CreateOrganization)
				r.Get("/{id}", orgsHandler.GetOrganization)
			})

			r.Route("/access", func(r chi.Router) {
				r.Post("/requests", accessHandler.SubmitRequest)
				r.Get("/requests/latest", accessHandler.LatestRequest) // expects ?org_id=
				r.Get("/requests", approvalsHandler.ListRequests)      // expects ?status=
				r.Post("/requests/{id}/decision", approvalsHandler.Decide)
				r.Post("/requests/{id}/revoke", approvalsHandler.Revoke)

				r.Post("/reveal", revealHandler.Reveal)
				r.Post("/reveal/copied", revealHandler.RecordCopy)
				r.Get("/audit", revealHandler.AuditTrail)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(customMiddleware.AdminOnly)
				r.Post("/partners/{id}/verify", orgsHandler.VerifyPartner)
			})
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := a.store.HealthCheck(r.Context()); err != nil {
		status = "degraded"
		fmt.Printf("[warn] health check: %v\n", err)
	}
	utils.WriteSuccessResponse(w, map[string]interface{}{
		"status":      status,
		"environment": a.cfg.Environment,
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

var (
	appOnce sync.Once
	app     *App
	appErr  error
)

// Handler is the serverless entry point. The App is built once per cold start
// and reused across invocations; the platform reclaims its resources when the
// instance is recycled.
func Handler(w http.ResponseWriter, r *http.Request) {
	appOnce.Do(func() {
		app, appErr = NewApp(config.GetCached())
	})
	if appErr != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+appErr.Error())
		return
	}
	app.Router().ServeHTTP(w, r)
}
