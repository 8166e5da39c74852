package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lucasmendez/gamekit-backend/api/responses"
	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/internal/state"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

// GetState reads one state record snapshot.
func GetState(states *state.Manager, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gameID := chi.URLParam(r, "gameID")
		key := chi.URLParam(r, "stateKey")

		record, err := states.Get(ctx, gameID, key)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"game_id":    record.GameID,
			"state_key":  record.Key,
			"data":       record.Data,
			"version":    record.Version,
			"updated_at": record.UpdatedAt,
		})
	}
}

// SaveState publishes a state.save_request for the record in the path.
func SaveState(b *bus.Bus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gameID := chi.URLParam(r, "gameID")
		key := chi.URLParam(r, "stateKey")

		evt := events.New(events.TypeStateSaveRequest, sourceAPI).
			WithScope(gameID, "").
			WithData(map[string]any{"state_key": key})
		if err := b.Publish(ctx, evt); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"event_id": evt.ID})
	}
}
