package controllers

import (
	"context"
	"net/http"

	"github.com/lucasmendez/gamekit-backend/api/responses"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

// Pinger is the health-check surface of an external dependency.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-GameKit-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady pings the wired dependencies; nil pingers are skipped so
// optional backends don't fail readiness.
func HealthReady(cfg *config.Config, logg *logger.Logger, pingers map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		w.Header().Set("X-GameKit-Env", cfg.App.Env)

		checks := map[string]string{}
		for name, pinger := range pingers {
			if pinger == nil {
				continue
			}
			if err := pinger.Ping(ctx); err != nil {
				checks[name] = "down"
				responses.WriteError(ctx, logg, w,
					pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable").WithDetails(checks))
				return
			}
			checks[name] = "ok"
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
