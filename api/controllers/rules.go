package controllers

import (
	"net/http"

	"github.com/lucasmendez/gamekit-backend/api/responses"
	"github.com/lucasmendez/gamekit-backend/api/validators"
	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/internal/rules"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

// AddRule publishes a rules.add event. Registration happens asynchronously;
// malformed rules surface on the error topic.
func AddRule(b *bus.Bus, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var spec events.RuleSpec
		if err := validators.DecodeJSONBody(r, &spec); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		data, err := events.EncodeData(events.RuleAddPayload{Rule: spec})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding rule payload"))
			return
		}
		evt := events.New(events.TypeRuleAdd, sourceAPI).
			WithScope(spec.GameID, "").
			WithData(data)

		if err := b.Publish(ctx, evt); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"event_id": evt.ID})
	}
}

// ListRules returns the global rules plus those scoped to the game_id query
// parameter, capped by limit.
func ListRules(engine *rules.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		gameID := r.URL.Query().Get("game_id")
		limit, err := validators.ParseQueryInt(r, "limit", 100, 1, 500)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		listed := engine.Rules(gameID)
		if len(listed) > limit {
			listed = listed[:limit]
		}
		out := make([]map[string]any, 0, len(listed))
		for _, rule := range listed {
			out = append(out, map[string]any{
				"name":      rule.Name,
				"condition": rule.Condition,
				"action":    rule.Action,
				"priority":  rule.Priority,
				"enabled":   rule.Enabled,
				"game_id":   rule.GameID,
			})
		}
		responses.WriteSuccess(w, map[string]any{"rules": out})
	}
}
