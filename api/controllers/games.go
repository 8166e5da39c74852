package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lucasmendez/gamekit-backend/api/responses"
	"github.com/lucasmendez/gamekit-backend/api/validators"
	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

const sourceAPI = "api"

type createGameRequest struct {
	GameID     string         `json:"game_id"`
	CreatorID  string         `json:"creator_id" validate:"required,min=1,max=64"`
	GameConfig map[string]any `json:"game_config"`
}

// CreateGame publishes a game.created event; the coordinator bootstraps the
// creator's state asynchronously.
func CreateGame(b *bus.Bus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req createGameRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		gameID := req.GameID
		if gameID == "" {
			gameID = uuid.NewString()
		}

		data, err := events.EncodeData(events.GameCreatedPayload{
			CreatorID:  req.CreatorID,
			GameConfig: req.GameConfig,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding game payload"))
			return
		}
		evt := events.New(events.TypeGameCreated, sourceAPI).
			WithScope(gameID, req.CreatorID).
			WithData(data)

		if err := b.Publish(ctx, evt); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{
			"game_id":  gameID,
			"event_id": evt.ID,
		})
	}
}

type playerActionRequest struct {
	PlayerID string         `json:"player_id" validate:"required,min=1,max=64"`
	Action   map[string]any `json:"action" validate:"required"`
}

// PlayerAction publishes a player.action event for the game in the path.
func PlayerAction(b *bus.Bus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gameID := chi.URLParam(r, "gameID")

		var req playerActionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		data, err := events.EncodeData(events.PlayerActionPayload{Action: req.Action})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding action payload"))
			return
		}
		evt := events.New(events.TypePlayerAction, sourceAPI).
			WithScope(gameID, req.PlayerID).
			WithData(data)

		if err := b.Publish(ctx, evt); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"event_id": evt.ID})
	}
}
