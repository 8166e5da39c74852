package controllers

import (
	"net/http"

	"github.com/lucasmendez/gamekit-backend/api/responses"
	"github.com/lucasmendez/gamekit-backend/api/validators"
	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

type chatMessageRequest struct {
	BotID    string `json:"bot_id"`
	Message  string `json:"message" validate:"required,min=1,max=4000"`
	UserID   string `json:"user_id"`
	GameID   string `json:"game_id"`
	PlayerID string `json:"player_id"`
}

// SendChatMessage publishes a chat.message_sent event; the reply arrives as
// a chat.message_received event.
func SendChatMessage(b *bus.Bus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req chatMessageRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		data, err := events.EncodeData(events.ChatMessagePayload{
			BotID:   req.BotID,
			Message: req.Message,
			UserID:  req.UserID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding chat payload"))
			return
		}
		evt := events.New(events.TypeChatMessageSent, sourceAPI).
			WithScope(req.GameID, req.PlayerID).
			WithData(data)

		if err := b.Publish(ctx, evt); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"event_id": evt.ID})
	}
}
