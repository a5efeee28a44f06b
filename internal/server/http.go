// Package server assembles the HTTP surface: auth API, WebSocket endpoint, probes and metrics.
package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	adminhandler "budget-planner/backend/internal/admin/handler"
	healthhandler "budget-planner/backend/internal/health/handler"
	identityhandler "budget-planner/backend/internal/identity/handler"
	"budget-planner/backend/internal/metrics"
	"budget-planner/backend/internal/policy/engine"
	"budget-planner/backend/internal/realtime"
	"budget-planner/backend/internal/server/middleware"
)

// Auth is the auth service as seen by the router.
type Auth interface {
	identityhandler.AuthService
	middleware.Authenticator
}

// Deps holds the dependencies of the HTTP router.
type Deps struct {
	Logger *slog.Logger
	// Auth serves /api/auth and authenticates every protected route and the WebSocket upgrade.
	Auth Auth
	// Registry holds live WebSocket connections.
	Registry *realtime.Registry
	// Policy gates admin routes.
	Policy engine.Evaluator
	// Health serves /livez and /healthz.
	Health *healthhandler.Handler
	// Metrics is served on /metrics. If nil, the route is not registered.
	Metrics *metrics.Metrics
	// CookieDomain scopes the refresh cookie; empty for host-only.
	CookieDomain string
}

// NewRouter returns the process HTTP handler.
//
// Routes:
//   - POST /api/auth/{login,refresh,logout,logout-all}, GET /api/auth/me
//   - POST /api/admin/broadcast (admin policy)
//   - GET /ws
//   - GET /livez, /healthz, /metrics
func NewRouter(d Deps) http.Handler {
	root := chi.NewRouter()
	root.Use(
		middleware.Recover(),
		middleware.RequestLogger(d.Logger),
	)

	if d.Health != nil {
		root.Get("/livez", d.Health.Live)
		root.Get("/healthz", d.Health.Ready)
	}
	if d.Metrics != nil {
		root.Handle("/metrics", d.Metrics.Handler())
	}
	// The upgrade hijacks the connection, so /ws stays outside the otelhttp wrapper.
	root.Handle("/ws", realtime.NewHandler(d.Registry, d.Auth))

	requireAuth := middleware.RequireAuth(d.Auth)
	api := chi.NewRouter()
	identityhandler.NewHandler(d.Auth, d.CookieDomain).Routes(api, requireAuth)
	api.With(requireAuth, middleware.RequirePolicy(d.Policy, engine.ActionBroadcast)).
		Post("/admin/broadcast", adminhandler.NewHandler(d.Registry).Broadcast)

	root.Mount("/api", otelhttp.NewHandler(api, "budget-api",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))
	return root
}
