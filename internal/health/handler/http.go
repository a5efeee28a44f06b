package handler

import (
	"context"
	"net/http"
	"time"

	"budget-planner/backend/internal/logging"
	"budget-planner/backend/internal/server/middleware"
)

// checkTimeout bounds each dependency probe.
const checkTimeout = 2 * time.Second

// Pinger checks database connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the policy engine still evaluates (e.g. OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves liveness and readiness probes.
type Handler struct {
	pinger Pinger
	policy PolicyChecker
}

// NewHandler returns a Handler. Either dependency may be nil, in which case its check is skipped.
func NewHandler(pinger Pinger, policy PolicyChecker) *Handler {
	return &Handler{pinger: pinger, policy: policy}
}

// Live always reports ok while the process serves HTTP.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports 503 naming the failing dependency when the database or policy engine is unusable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	healthy := true
	if h.pinger != nil {
		checks["database"] = h.probe(r.Context(), "database", h.pinger.PingContext)
		healthy = healthy && checks["database"] == "ok"
	}
	if h.policy != nil {
		checks["policy"] = h.probe(r.Context(), "policy", h.policy.HealthCheck)
		healthy = healthy && checks["policy"] == "ok"
	}
	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func (h *Handler) probe(ctx context.Context, name string, check func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := check(ctx); err != nil {
		logging.From(ctx).Warn("readiness_check_failed", "check", name, "error", err)
		return "failed"
	}
	return "ok"
}
