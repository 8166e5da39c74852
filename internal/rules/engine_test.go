package rules

import (
	"context"
	"errors"
	"testing"

	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

func TestDefaultVictoryRuleTriggersOnce(t *testing.T) {
	engine := NewEngine(nil)
	if err := engine.SeedDefaults(); err != nil {
		t.Fatalf("SeedDefaults() error: %v", err)
	}

	outcomes := engine.Evaluate("game-1", map[string]any{"score": 150, "health": 80})

	triggered := outcomeNames(outcomes)
	if len(triggered) != 1 || triggered[0] != "check_victory" {
		t.Fatalf("expected exactly check_victory, got %v", triggered)
	}
	if outcomes[0].Action != "trigger_victory" {
		t.Fatalf("unexpected action: %s", outcomes[0].Action)
	}
}

func TestEvaluateStablePriorityOrdering(t *testing.T) {
	engine := NewEngine(nil)
	add := func(name string, priority int) {
		t.Helper()
		err := engine.AddRule(context.Background(), Rule{
			Name: name, Condition: "x > 0", Action: "noop", Priority: priority, Enabled: true,
		})
		if err != nil {
			t.Fatalf("AddRule(%s) error: %v", name, err)
		}
	}
	add("A", 5)
	add("B", 5)
	add("C", 9)

	outcomes := engine.Evaluate("", map[string]any{"x": 1})
	got := outcomeNames(outcomes)
	want := []string{"C", "A", "B"}
	if len(got) != len(want) {
		t.Fatalf("expected %d outcomes, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
}

func TestDisabledRuleNeverTriggers(t *testing.T) {
	engine := NewEngine(nil)
	err := engine.AddRule(context.Background(), Rule{
		Name: "always", Condition: "1 == 1", Action: "fire", Priority: 1, Enabled: true,
	})
	if err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}
	if err := engine.Disable(context.Background(), "", "always"); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}

	if outcomes := engine.Evaluate("", map[string]any{}); len(outcomes) != 0 {
		t.Fatalf("disabled rule produced outcomes: %v", outcomes)
	}
}

func TestAddRuleRejectsDuplicateEnabledName(t *testing.T) {
	engine := NewEngine(nil)
	rule := Rule{Name: "dup", Condition: "x > 1", Action: "a", Priority: 1, Enabled: true, GameID: "g1"}
	if err := engine.AddRule(context.Background(), rule); err != nil {
		t.Fatalf("first AddRule() error: %v", err)
	}
	err := engine.AddRule(context.Background(), rule)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	// Same name in another scope is fine.
	other := rule
	other.GameID = "g2"
	if err := engine.AddRule(context.Background(), other); err != nil {
		t.Fatalf("AddRule() in other scope error: %v", err)
	}
}

func TestAddRuleRejectsMalformedCondition(t *testing.T) {
	engine := NewEngine(nil)
	err := engine.AddRule(context.Background(), Rule{
		Name: "broken", Condition: "score >=", Action: "a", Priority: 1, Enabled: true,
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for malformed condition, got %v", err)
	}
	if len(engine.Rules("")) != 0 {
		t.Fatalf("malformed rule must not be registered")
	}
}

func TestEvaluateIsolatesFailingRule(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()
	if err := engine.AddRule(ctx, Rule{Name: "rule1", Condition: "missing_field > 5", Action: "a", Priority: 2, Enabled: true}); err != nil {
		t.Fatalf("AddRule(rule1) error: %v", err)
	}
	if err := engine.AddRule(ctx, Rule{Name: "rule2", Condition: "x > 0", Action: "b", Priority: 1, Enabled: true}); err != nil {
		t.Fatalf("AddRule(rule2) error: %v", err)
	}

	outcomes := engine.Evaluate("", map[string]any{"x": 3})
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	if outcomes[0].RuleName != "rule1" || outcomes[0].Err == nil {
		t.Fatalf("expected error outcome for rule1, got %+v", outcomes[0])
	}
	if !pkgerrors.IsCode(outcomes[0].Err, pkgerrors.CodeEvaluation) {
		t.Fatalf("expected evaluation error code, got %v", outcomes[0].Err)
	}
	if outcomes[1].RuleName != "rule2" || !outcomes[1].Triggered {
		t.Fatalf("expected rule2 to trigger, got %+v", outcomes[1])
	}
}

func TestEvaluateRejectsNonBooleanResult(t *testing.T) {
	engine := NewEngine(nil)
	if err := engine.AddRule(context.Background(), Rule{Name: "arith", Condition: "x + 1", Action: "a", Priority: 1, Enabled: true}); err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}
	outcomes := engine.Evaluate("", map[string]any{"x": 1})
	if len(outcomes) != 1 || outcomes[0].Err == nil {
		t.Fatalf("expected one error outcome, got %+v", outcomes)
	}
}

func TestScopedRulesOnlyApplyToTheirGame(t *testing.T) {
	engine := NewEngine(nil)
	ctx := context.Background()
	if err := engine.AddRule(ctx, Rule{Name: "global", Condition: "x > 0", Action: "g", Priority: 1, Enabled: true}); err != nil {
		t.Fatalf("AddRule(global) error: %v", err)
	}
	if err := engine.AddRule(ctx, Rule{Name: "scoped", Condition: "x > 0", Action: "s", Priority: 5, Enabled: true, GameID: "game-1"}); err != nil {
		t.Fatalf("AddRule(scoped) error: %v", err)
	}

	got := outcomeNames(engine.Evaluate("game-1", map[string]any{"x": 1}))
	if len(got) != 2 || got[0] != "scoped" || got[1] != "global" {
		t.Fatalf("game-1 evaluation mismatch: %v", got)
	}
	got = outcomeNames(engine.Evaluate("game-2", map[string]any{"x": 1}))
	if len(got) != 1 || got[0] != "global" {
		t.Fatalf("game-2 should only see global rules: %v", got)
	}
}

func TestAddRulePersistsThroughStore(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store)
	rule := Rule{Name: "persisted", Condition: "score > 10", Action: "a", Priority: 1, Enabled: true}
	if err := engine.AddRule(context.Background(), rule); err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}
	if len(store.saved) != 1 || store.saved[0].Name != "persisted" {
		t.Fatalf("expected rule saved to store, got %+v", store.saved)
	}
}

func TestAddRuleStoreFailureLeavesEngineUnchanged(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("db down")}
	engine := NewEngine(store)
	err := engine.AddRule(context.Background(), Rule{Name: "r", Condition: "x > 0", Action: "a", Priority: 1, Enabled: true})
	if err == nil {
		t.Fatalf("expected error from failing store")
	}
	if len(engine.Rules("")) != 0 {
		t.Fatalf("rule must not be registered when persistence fails")
	}
}

func TestRejectedDuplicateAddDoesNotTouchStore(t *testing.T) {
	store := &fakeStore{}
	engine := NewEngine(store)

	original := Rule{Name: "check_victory", Condition: "score >= 100", Action: "trigger_victory", Priority: 10, Enabled: true}
	if err := engine.AddRule(context.Background(), original); err != nil {
		t.Fatalf("AddRule() error: %v", err)
	}

	dup := Rule{Name: "check_victory", Condition: "score >= 0", Action: "trigger_grief", Priority: 1, Enabled: true}
	if err := engine.AddRule(context.Background(), dup); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for duplicate, got %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("rejected add must not reach the store, got %d writes", len(store.saved))
	}
	if store.saved[0].Condition != "score >= 100" || store.saved[0].Action != "trigger_victory" {
		t.Fatalf("persisted rule was altered: %+v", store.saved[0])
	}
}

func TestRestoreSkipsRulesThatNoLongerCompile(t *testing.T) {
	store := &fakeStore{loaded: []Rule{
		{Name: "good", Condition: "x > 0", Action: "a", Priority: 1, Enabled: true},
		{Name: "bad", Condition: "x >", Action: "a", Priority: 1, Enabled: true},
	}}
	engine := NewEngine(store)

	skipped, err := engine.Restore(context.Background())
	if err != nil {
		t.Fatalf("Restore() error: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != "bad" {
		t.Fatalf("expected bad rule skipped, got %v", skipped)
	}
	if got := outcomeNames(engine.Evaluate("", map[string]any{"x": 1})); len(got) != 1 || got[0] != "good" {
		t.Fatalf("expected restored rule to evaluate, got %v", got)
	}
}

func outcomeNames(outcomes []Outcome) []string {
	names := make([]string, 0, len(outcomes))
	for _, outcome := range outcomes {
		names = append(names, outcome.RuleName)
	}
	return names
}

type fakeStore struct {
	saved   []Rule
	loaded  []Rule
	saveErr error
}

func (f *fakeStore) LoadAll(_ context.Context) ([]Rule, error) { return f.loaded, nil }

func (f *fakeStore) Save(_ context.Context, rule Rule) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, rule)
	return nil
}

func (f *fakeStore) Disable(_ context.Context, _, _ string) error { return nil }
