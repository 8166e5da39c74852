package coordinator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/internal/rules"
	"github.com/lucasmendez/gamekit-backend/internal/state"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// errNoChange is returned by delta closures when the action leaves the data
// untouched; no version bump, no state.changed event.
var errNoChange = errors.New("no state change")

func playerStateKey(playerID string) string {
	return "player_" + playerID
}

func (c *Coordinator) handleGameCreated(ctx context.Context, evt events.Event) ([]events.Event, error) {
	payload, err := decodeAs[events.GameCreatedPayload](c, evt)
	if err != nil {
		return nil, err
	}
	if evt.GameID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "game.created event without game id")
	}
	creator := payload.CreatorID
	if creator == "" {
		creator = evt.PlayerID
	}
	if creator == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "game.created event without creator")
	}

	old, next, err := c.states.Update(ctx, evt.GameID, playerStateKey(creator), map[string]any{
		"game_created_at": evt.Timestamp.UTC().Format(time.RFC3339Nano),
		"game_config":     payload.GameConfig,
		"status":          "active",
	})
	if err != nil {
		return nil, err
	}
	c.trackGame(evt.GameID)

	changed, err := c.stateChangedEvent(evt.GameID, creator, playerStateKey(creator), old, next)
	if err != nil {
		return nil, err
	}
	return []events.Event{changed}, nil
}

func (c *Coordinator) handlePlayerAction(ctx context.Context, evt events.Event) ([]events.Event, error) {
	payload, err := decodeAs[events.PlayerActionPayload](c, evt)
	if err != nil {
		return nil, err
	}
	if evt.GameID == "" || evt.PlayerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "player.action event requires game and player ids")
	}

	delta, err := c.actionDelta(evt, payload)
	if err != nil {
		return nil, err
	}
	if delta == nil {
		return nil, nil
	}

	key := playerStateKey(evt.PlayerID)
	old, next, err := c.states.UpdateFunc(ctx, evt.GameID, key, delta)
	if err != nil {
		if errors.Is(err, errNoChange) {
			return nil, nil
		}
		return nil, err
	}

	changed, err := c.stateChangedEvent(evt.GameID, evt.PlayerID, key, old, next)
	if err != nil {
		return nil, err
	}
	return []events.Event{changed}, nil
}

// actionDelta maps an action to the minimal partial update. Unknown action
// types are skipped, not failed: games emit custom actions that only rules
// care about.
func (c *Coordinator) actionDelta(evt events.Event, payload events.PlayerActionPayload) (func(map[string]any) (map[string]any, error), error) {
	action := payload.Action
	switch payload.ActionType() {
	case "move":
		position, ok := action["position"]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "move action requires a position")
		}
		return func(map[string]any) (map[string]any, error) {
			return map[string]any{
				"position":  position,
				"last_move": evt.Timestamp.UTC().Format(time.RFC3339Nano),
			}, nil
		}, nil

	case "inventory":
		op, _ := action["action"].(string)
		item, ok := action["item"]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "inventory action requires an item")
		}
		if op != "add_item" && op != "remove_item" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown inventory operation %q", op))
		}
		return func(current map[string]any) (map[string]any, error) {
			inventory, _ := current["inventory"].([]any)
			if op == "add_item" {
				next := make([]any, 0, len(inventory)+1)
				next = append(next, inventory...)
				next = append(next, item)
				return map[string]any{"inventory": next}, nil
			}
			next := make([]any, 0, len(inventory))
			removed := false
			for _, existing := range inventory {
				if !removed && reflect.DeepEqual(existing, item) {
					removed = true
					continue
				}
				next = append(next, existing)
			}
			if !removed {
				return nil, errNoChange
			}
			return map[string]any{"inventory": next}, nil
		}, nil

	case "stats":
		changes, ok := action["stats"].(map[string]any)
		if !ok || len(changes) == 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stats action requires a stats mapping")
		}
		// Stat fields live at the top level of the record data so rule
		// conditions can reference them directly.
		return func(map[string]any) (map[string]any, error) {
			partial := make(map[string]any, len(changes))
			for k, v := range changes {
				partial[k] = v
			}
			return partial, nil
		}, nil

	default:
		if c.logg != nil {
			c.logg.Debug(c.logg.WithEventID(context.Background(), evt.ID), "action type has no state delta, skipping")
		}
		return nil, nil
	}
}

func (c *Coordinator) handleSaveRequest(ctx context.Context, evt events.Event) ([]events.Event, error) {
	key, _ := evt.Data["state_key"].(string)
	if key == "" {
		if evt.PlayerID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "save request without state key or player")
		}
		key = playerStateKey(evt.PlayerID)
	}

	record, err := c.states.Save(ctx, evt.GameID, key)
	if err != nil {
		return nil, err
	}

	data, err := events.EncodeData(events.StateSavedPayload{
		StateKey: key,
		SavedAt:  record.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	saved := events.New(events.TypeStateSaved, sourceState).
		WithScope(evt.GameID, evt.PlayerID).
		WithData(data)
	return []events.Event{saved}, nil
}

func (c *Coordinator) handleStateChanged(ctx context.Context, evt events.Event) ([]events.Event, error) {
	payload, err := decodeAs[events.StateChangedPayload](c, evt)
	if err != nil {
		return nil, err
	}

	ruleCtx := evaluationContext(evt, map[string]any{
		"state":     payload.NewState,
		"old_state": payload.OldState,
	}, payload.NewState)
	outcomes := c.engine.Evaluate(evt.GameID, ruleCtx)
	return c.outcomeEvents(evt, outcomes)
}

func (c *Coordinator) handleActionRules(ctx context.Context, evt events.Event) ([]events.Event, error) {
	payload, err := decodeAs[events.PlayerActionPayload](c, evt)
	if err != nil {
		return nil, err
	}

	ruleCtx := evaluationContext(evt, map[string]any{
		"action": payload.Action,
	}, payload.Action)
	outcomes := c.engine.Evaluate(evt.GameID, ruleCtx)
	return c.outcomeEvents(evt, outcomes)
}

func (c *Coordinator) handleRuleAdd(ctx context.Context, evt events.Event) ([]events.Event, error) {
	payload, err := decodeAs[events.RuleAddPayload](c, evt)
	if err != nil {
		return nil, err
	}
	spec := payload.Rule
	if err := c.validate.Struct(spec); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule payload")
	}
	gameID := spec.GameID
	if gameID == "" {
		gameID = evt.GameID
	}

	err = c.engine.AddRule(ctx, rules.Rule{
		Name:      spec.Name,
		Condition: spec.Condition,
		Action:    spec.Action,
		Priority:  spec.Priority,
		Enabled:   spec.IsEnabled(),
		GameID:    gameID,
	})
	if err != nil {
		return nil, err
	}

	validated := events.New(events.TypeRuleValidated, sourceRules).
		WithScope(gameID, evt.PlayerID).
		WithData(map[string]any{"rule_name": spec.Name})
	return []events.Event{validated}, nil
}

// evaluationContext assembles the mapping rules evaluate against: ambient
// fields first, then the spread mapping flattened on top so its keys win.
func evaluationContext(evt events.Event, ambient, spread map[string]any) map[string]any {
	ctx := map[string]any{
		"player_id": evt.PlayerID,
		"timestamp": evt.Epoch(),
	}
	for k, v := range ambient {
		ctx[k] = v
	}
	for k, v := range spread {
		ctx[k] = v
	}
	return ctx
}

func (c *Coordinator) outcomeEvents(evt events.Event, outcomes []rules.Outcome) ([]events.Event, error) {
	out := make([]events.Event, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			data, err := events.EncodeData(events.ModuleErrorPayload{
				SourceModule: sourceRules,
				GameID:       evt.GameID,
				EventID:      evt.ID,
				Error:        fmt.Sprintf("rule %s failed", outcome.RuleName),
				Exception:    outcome.Err.Error(),
			})
			if err != nil {
				return nil, err
			}
			out = append(out, events.New(events.TypeModuleError, sourceRules).
				WithScope(evt.GameID, evt.PlayerID).
				WithData(data))
			continue
		}
		data, err := events.EncodeData(events.RuleTriggeredPayload{
			RuleName: outcome.RuleName,
			Action:   outcome.Action,
			Details:  outcome.Details,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, events.New(events.TypeRuleTriggered, sourceRules).
			WithScope(evt.GameID, evt.PlayerID).
			WithData(data))
	}
	return out, nil
}

func (c *Coordinator) stateChangedEvent(gameID, playerID, key string, old, next *state.Record) (events.Event, error) {
	var oldData map[string]any
	if old != nil {
		oldData = old.Data
	}
	data, err := events.EncodeData(events.StateChangedPayload{
		StateKey: key,
		OldState: oldData,
		NewState: next.Data,
		Version:  next.Version,
	})
	if err != nil {
		return events.Event{}, err
	}
	return events.New(events.TypeStateChanged, sourceState).
		WithScope(gameID, playerID).
		WithData(data), nil
}

func decodeAs[T any](c *Coordinator, evt events.Event) (T, error) {
	var zero T
	decoded, err := c.registry.Decode(evt)
	if err != nil {
		return zero, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding event payload")
	}
	typed, ok := decoded.(T)
	if !ok {
		return zero, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("unexpected payload %T for %s", decoded, evt.Type))
	}
	return typed, nil
}
