package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/internal/rules"
	"github.com/lucasmendez/gamekit-backend/internal/state"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
)

type harness struct {
	bus    *bus.Bus
	states *state.Manager
	engine *rules.Engine
	coord  *Coordinator
}

func newHarness(t *testing.T, guard Guard) *harness {
	t.Helper()
	b := bus.New(config.BusConfig{HandlerTimeout: 2 * time.Second}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})

	states, err := state.NewManager(state.NewMemoryStore(), config.StateConfig{}, nil)
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	engine := rules.NewEngine(nil)

	coord, err := New(b, states, engine, guard, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := coord.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return &harness{bus: b, states: states, engine: engine, coord: coord}
}

func (h *harness) capture(t *testing.T, topic string) <-chan events.Event {
	t.Helper()
	ch := make(chan events.Event, 16)
	if _, err := h.bus.Subscribe(topic, func(_ context.Context, evt events.Event) ([]events.Event, error) {
		ch <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe(%s) error: %v", topic, err)
	}
	return ch
}

func waitFor(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return events.Event{}
	}
}

func expectNone(t *testing.T, ch <-chan events.Event, wait time.Duration) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %s %s", evt.Type, evt.ID)
	case <-time.After(wait):
	}
}

func actionEvent(t *testing.T, gameID, playerID string, action map[string]any) events.Event {
	t.Helper()
	data, err := events.EncodeData(events.PlayerActionPayload{Action: action})
	if err != nil {
		t.Fatalf("EncodeData() error: %v", err)
	}
	return events.New(events.TypePlayerAction, "test").WithScope(gameID, playerID).WithData(data)
}

func TestGameCreatedBootstrapsCreatorState(t *testing.T) {
	h := newHarness(t, nil)
	changed := h.capture(t, events.TypeStateChanged.Topic())

	data, err := events.EncodeData(events.GameCreatedPayload{
		CreatorID:  "p1",
		GameConfig: map[string]any{"mode": "survival"},
	})
	if err != nil {
		t.Fatalf("EncodeData() error: %v", err)
	}
	evt := events.New(events.TypeGameCreated, "test").WithScope("g1", "").WithData(data)
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitFor(t, changed)
	newState, _ := got.Data["new_state"].(map[string]any)
	if newState["status"] != "active" {
		t.Fatalf("expected status active, got %v", newState["status"])
	}
	if _, ok := newState["game_created_at"]; !ok {
		t.Fatalf("expected game_created_at in bootstrap state")
	}

	record, err := h.states.Get(context.Background(), "g1", "player_p1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if record.Version != 1 {
		t.Fatalf("expected version 1, got %d", record.Version)
	}
	games := h.coord.ActiveGames()
	if len(games) != 1 || games[0] != "g1" {
		t.Fatalf("expected g1 tracked as active, got %v", games)
	}
}

func TestStatsActionTriggersVictoryRule(t *testing.T) {
	h := newHarness(t, nil)
	if err := h.engine.SeedDefaults(); err != nil {
		t.Fatalf("SeedDefaults() error: %v", err)
	}
	triggered := h.capture(t, events.TypeRuleTriggered.Topic())

	evt := actionEvent(t, "g1", "p1", map[string]any{
		"type":  "stats",
		"stats": map[string]any{"score": 150},
	})
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitFor(t, triggered)
	if got.Data["rule_name"] != "check_victory" {
		t.Fatalf("expected check_victory, got %v", got.Data["rule_name"])
	}
	if got.Data["action"] != "trigger_victory" {
		t.Fatalf("expected trigger_victory, got %v", got.Data["action"])
	}
	expectNone(t, triggered, 200*time.Millisecond)
}

func TestMoveActionReplacesPosition(t *testing.T) {
	h := newHarness(t, nil)
	changed := h.capture(t, events.TypeStateChanged.Topic())

	publish := func(x, y int) {
		t.Helper()
		evt := actionEvent(t, "g1", "p1", map[string]any{
			"type":     "move",
			"position": map[string]any{"x": x, "y": y},
		})
		if err := h.bus.Publish(context.Background(), evt); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	publish(1, 2)
	first := waitFor(t, changed)
	newState, _ := first.Data["new_state"].(map[string]any)
	position, _ := newState["position"].(map[string]any)
	if position["x"] != float64(1) || position["y"] != float64(2) {
		t.Fatalf("unexpected position: %v", position)
	}
	if _, ok := newState["last_move"]; !ok {
		t.Fatalf("expected last_move stamp")
	}

	publish(3, 4)
	second := waitFor(t, changed)
	if second.Data["version"] != float64(2) {
		t.Fatalf("expected version 2, got %v", second.Data["version"])
	}
	nextState, _ := second.Data["new_state"].(map[string]any)
	nextPosition, _ := nextState["position"].(map[string]any)
	if nextPosition["x"] != float64(3) {
		t.Fatalf("position should be replaced wholesale: %v", nextPosition)
	}
}

func TestInventoryActionsPreserveOrder(t *testing.T) {
	h := newHarness(t, nil)
	changed := h.capture(t, events.TypeStateChanged.Topic())

	publish := func(op string, item any) {
		t.Helper()
		evt := actionEvent(t, "g1", "p1", map[string]any{
			"type": "inventory", "action": op, "item": item,
		})
		if err := h.bus.Publish(context.Background(), evt); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	publish("add_item", "sword")
	waitFor(t, changed)
	publish("add_item", "shield")
	waitFor(t, changed)
	publish("remove_item", "sword")
	got := waitFor(t, changed)

	newState, _ := got.Data["new_state"].(map[string]any)
	inventory, _ := newState["inventory"].([]any)
	if len(inventory) != 1 || inventory[0] != "shield" {
		t.Fatalf("unexpected inventory after removal: %v", inventory)
	}

	// Removing an item that is not held changes nothing.
	publish("remove_item", "bow")
	expectNone(t, changed, 200*time.Millisecond)
}

func TestUnknownActionTypeIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	changed := h.capture(t, events.TypeStateChanged.Topic())

	evt := actionEvent(t, "g1", "p1", map[string]any{"type": "emote", "name": "wave"})
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	expectNone(t, changed, 200*time.Millisecond)
}

func TestRuleAddRegistersValidRule(t *testing.T) {
	h := newHarness(t, nil)
	validated := h.capture(t, events.TypeRuleValidated.Topic())

	data, err := events.EncodeData(events.RuleAddPayload{Rule: events.RuleSpec{
		Name:      "low_ammo",
		Condition: "ammo < 5",
		Action:    "warn_player",
		Priority:  3,
		GameID:    "g1",
	}})
	if err != nil {
		t.Fatalf("EncodeData() error: %v", err)
	}
	evt := events.New(events.TypeRuleAdd, "test").WithScope("g1", "").WithData(data)
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitFor(t, validated)
	if got.Data["rule_name"] != "low_ammo" {
		t.Fatalf("expected low_ammo validated, got %v", got.Data)
	}
	listed := h.engine.Rules("g1")
	if len(listed) != 1 || listed[0].Name != "low_ammo" {
		t.Fatalf("expected rule registered, got %+v", listed)
	}
}

func TestRuleAddRejectsInvalidPayloadOnErrorTopic(t *testing.T) {
	h := newHarness(t, nil)
	moduleErrors := h.capture(t, events.TypeModuleError.Topic())

	data, err := events.EncodeData(events.RuleAddPayload{Rule: events.RuleSpec{
		Name: "broken",
	}})
	if err != nil {
		t.Fatalf("EncodeData() error: %v", err)
	}
	evt := events.New(events.TypeRuleAdd, "test").WithScope("g1", "").WithData(data)
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitFor(t, moduleErrors)
	if got.Data["event_id"] != evt.ID {
		t.Fatalf("module error should reference the failing event, got %v", got.Data)
	}
	if len(h.engine.Rules("g1")) != 0 {
		t.Fatalf("invalid rule must not be registered")
	}
}

func TestSaveRequestPublishesStateSaved(t *testing.T) {
	h := newHarness(t, nil)
	saved := h.capture(t, events.TypeStateSaved.Topic())

	if _, _, err := h.states.Update(context.Background(), "g1", "player_p1", map[string]any{"score": 10}); err != nil {
		t.Fatalf("Update() error: %v", err)
	}

	evt := events.New(events.TypeStateSaveRequest, "test").
		WithScope("g1", "p1").
		WithData(map[string]any{"state_key": "player_p1"})
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitFor(t, saved)
	if got.Data["state_key"] != "player_p1" {
		t.Fatalf("unexpected state key: %v", got.Data["state_key"])
	}
	if _, ok := got.Data["saved_at"]; !ok {
		t.Fatalf("expected saved_at in payload")
	}
}

func TestGuardSkipsAlreadyProcessedEvents(t *testing.T) {
	h := newHarness(t, alwaysProcessed{})
	changed := h.capture(t, events.TypeStateChanged.Topic())

	evt := actionEvent(t, "g1", "p1", map[string]any{
		"type":  "stats",
		"stats": map[string]any{"score": 5},
	})
	if err := h.bus.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	expectNone(t, changed, 200*time.Millisecond)
}

type alwaysProcessed struct{}

func (alwaysProcessed) CheckAndMark(context.Context, string, string) (bool, error) {
	return true, nil
}
