package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lucasmendez/gamekit-backend/api/controllers"
	"github.com/lucasmendez/gamekit-backend/api/middleware"
	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/rules"
	"github.com/lucasmendez/gamekit-backend/internal/state"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

// Deps carries everything the HTTP surface needs. Pingers may hold nil
// entries for backends that are not wired.
type Deps struct {
	Config   *config.Config
	Logger   *logger.Logger
	Bus      *bus.Bus
	States   *state.Manager
	Engine   *rules.Engine
	Pingers  map[string]controllers.Pinger
	Registry *prometheus.Registry
}

// NewRouter assembles the API. The HTTP layer only publishes events and
// reads snapshots; all game semantics live behind the bus.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(deps.Logger),
		middleware.RequestID(deps.Logger),
		middleware.Logging(deps.Logger),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(deps.Config))
		r.Get("/ready", controllers.HealthReady(deps.Config, deps.Logger, deps.Pingers))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/games", controllers.CreateGame(deps.Bus, deps.Logger))
		r.Post("/games/{gameID}/actions", controllers.PlayerAction(deps.Bus, deps.Logger))
		r.Get("/games/{gameID}/state/{stateKey}", controllers.GetState(deps.States, deps.Logger))
		r.Post("/games/{gameID}/state/{stateKey}/save", controllers.SaveState(deps.Bus, deps.Logger))

		r.Post("/rules", controllers.AddRule(deps.Bus, deps.Logger))
		r.Get("/rules", controllers.ListRules(deps.Engine, deps.Logger))

		r.Post("/chat", controllers.SendChatMessage(deps.Bus, deps.Logger))
	})

	return r
}
