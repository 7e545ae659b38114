package app

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hearthside-app/hearthside/internal/authz"
	authzcache "github.com/hearthside-app/hearthside/internal/authz/cache"
	"github.com/hearthside-app/hearthside/internal/delegation"
	"github.com/hearthside-app/hearthside/internal/emergency"
	"github.com/hearthside-app/hearthside/internal/grants"
	"github.com/hearthside-app/hearthside/internal/observability"
	"github.com/hearthside-app/hearthside/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AuthzHandler      *authz.Handler
	GrantsHandler     *grants.Handler
	DelegationHandler *delegation.Handler
	EmergencyHandler  *emergency.Handler
	JobsHandler       *jobs.Handler
	DecisionCache     *authzcache.Cache
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with Hearthside defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		body := map[string]any{"status": "ok"}
		if params.DecisionCache != nil {
			health := params.DecisionCache.Health()
			body["cache"] = health
			if health.Status != authzcache.StatusHealthy {
				body["status"] = health.Status
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(body); err != nil {
			params.Logger.Error("write healthz", slog.Any("error", err))
		}
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	params.AuthzHandler.MountRoutes(r)
	params.GrantsHandler.MountRoutes(r)
	params.DelegationHandler.MountRoutes(r)
	params.EmergencyHandler.MountRoutes(r)
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}

	return r
}
