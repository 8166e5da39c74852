package rules

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Knetic/govaluate"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// Rule is one prioritized conditional. An empty GameID scopes the rule
// globally. Conditions are compiled once at registration; the grammar is
// govaluate's expression language (comparisons, boolean connectives,
// arithmetic, context field lookup) with no access to process state.
type Rule struct {
	Name      string
	Condition string
	Action    string
	Priority  int
	Enabled   bool
	GameID    string

	expr *govaluate.EvaluableExpression
	seq  int
}

// Outcome is the result of evaluating one rule: triggered, or errored.
type Outcome struct {
	RuleName  string
	Triggered bool
	Action    string
	Details   map[string]any
	Err       error
}

// Engine evaluates global and game-scoped rules against context mappings.
// It never publishes events; the coordinator turns outcomes into events.
// A nil store keeps rules in memory only.
type Engine struct {
	store Store

	mtx     sync.RWMutex
	global  []*Rule
	scoped  map[string][]*Rule
	nextSeq int
}

func NewEngine(store Store) *Engine {
	return &Engine{store: store, scoped: make(map[string][]*Rule)}
}

// AddRule validates, compiles and appends the rule to its scope, then
// persists it. Adding a second enabled rule with the same (scope, name) is
// rejected before anything reaches the store, and a failed save removes the
// rule again, so a rejected add never alters a persisted row.
func (e *Engine) AddRule(ctx context.Context, rule Rule) error {
	compiled, err := compile(rule)
	if err != nil {
		return err
	}
	added, err := e.add(compiled)
	if err != nil {
		return err
	}
	if e.store == nil {
		return nil
	}
	if err := e.store.Save(ctx, rule); err != nil {
		e.remove(added.GameID, added.seq)
		return err
	}
	return nil
}

// SeedDefaults installs the stock victory and health rules. They are not
// persisted; every process seeds its own copy.
func (e *Engine) SeedDefaults() error {
	defaults := []Rule{
		{Name: "check_victory", Condition: "score >= 100", Action: "trigger_victory", Priority: 10, Enabled: true},
		{Name: "check_health", Condition: "health <= 0", Action: "trigger_game_over", Priority: 9, Enabled: true},
	}
	for _, rule := range defaults {
		compiled, err := compile(rule)
		if err != nil {
			return err
		}
		if _, err := e.add(compiled); err != nil {
			return err
		}
	}
	return nil
}

// Restore loads persisted rules into the engine. Rows that no longer
// compile are skipped and reported in the returned slice.
func (e *Engine) Restore(ctx context.Context) (skipped []string, err error) {
	if e.store == nil {
		return nil, nil
	}
	stored, err := e.store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, rule := range stored {
		compiled, cerr := compile(rule)
		if cerr != nil {
			skipped = append(skipped, rule.Name)
			continue
		}
		if _, aerr := e.add(compiled); aerr != nil {
			skipped = append(skipped, rule.Name)
		}
	}
	return skipped, nil
}

// Disable flips the enabled flag off; rules are never deleted.
func (e *Engine) Disable(ctx context.Context, gameID, name string) error {
	e.mtx.Lock()
	var found *Rule
	for _, rule := range e.scopeLocked(gameID) {
		if rule.Name == name && rule.Enabled {
			rule.Enabled = false
			found = rule
			break
		}
	}
	e.mtx.Unlock()

	if found == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no active rule with that name in scope").
			WithDetails(map[string]string{"name": name, "game_id": gameID})
	}
	if e.store != nil {
		return e.store.Disable(ctx, gameID, name)
	}
	return nil
}

// Rules lists the global rules plus those scoped to gameID, in insertion
// order.
func (e *Engine) Rules(gameID string) []Rule {
	e.mtx.RLock()
	defer e.mtx.RUnlock()
	candidates := e.candidatesLocked(gameID)
	out := make([]Rule, 0, len(candidates))
	for _, rule := range candidates {
		out = append(out, *rule)
	}
	return out
}

// Evaluate runs every enabled applicable rule against the context, highest
// priority first with ties kept in insertion order. A failing condition
// produces an error outcome for that rule only.
func (e *Engine) Evaluate(gameID string, context map[string]any) []Outcome {
	e.mtx.RLock()
	candidates := e.candidatesLocked(gameID)
	applicable := make([]*Rule, 0, len(candidates))
	for _, rule := range candidates {
		if rule.Enabled {
			applicable = append(applicable, rule)
		}
	}
	e.mtx.RUnlock()

	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority > applicable[j].Priority
		}
		return applicable[i].seq < applicable[j].seq
	})

	outcomes := make([]Outcome, 0, len(applicable))
	for _, rule := range applicable {
		result, err := rule.expr.Evaluate(context)
		if err != nil {
			outcomes = append(outcomes, Outcome{
				RuleName: rule.Name,
				Err: pkgerrors.Wrap(pkgerrors.CodeEvaluation, err, fmt.Sprintf("evaluating rule %s", rule.Name)).
					WithDetails(map[string]string{"condition": rule.Condition}),
			})
			continue
		}
		truth, ok := result.(bool)
		if !ok {
			outcomes = append(outcomes, Outcome{
				RuleName: rule.Name,
				Err: pkgerrors.New(pkgerrors.CodeEvaluation, fmt.Sprintf("rule %s condition is not boolean", rule.Name)).
					WithDetails(map[string]string{"condition": rule.Condition, "result": fmt.Sprintf("%v", result)}),
			})
			continue
		}
		if !truth {
			continue
		}
		outcomes = append(outcomes, Outcome{
			RuleName:  rule.Name,
			Triggered: true,
			Action:    rule.Action,
			Details: map[string]any{
				"condition": rule.Condition,
				"action":    rule.Action,
				"context":   context,
			},
		})
	}
	return outcomes
}

func compile(rule Rule) (Rule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	if rule.Name == "" {
		return rule, pkgerrors.New(pkgerrors.CodeValidation, "rule name is required")
	}
	if strings.TrimSpace(rule.Condition) == "" {
		return rule, pkgerrors.New(pkgerrors.CodeValidation, "rule condition is required")
	}
	if strings.TrimSpace(rule.Action) == "" {
		return rule, pkgerrors.New(pkgerrors.CodeValidation, "rule action is required")
	}
	expr, err := govaluate.NewEvaluableExpression(rule.Condition)
	if err != nil {
		return rule, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compiling rule condition").
			WithDetails(map[string]string{"name": rule.Name, "condition": rule.Condition})
	}
	rule.expr = expr
	return rule, nil
}

func (e *Engine) add(rule Rule) (*Rule, error) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	if rule.Enabled && e.hasEnabledLocked(rule.GameID, rule.Name) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rule name already active in scope").
			WithDetails(map[string]string{"name": rule.Name, "game_id": rule.GameID})
	}
	e.nextSeq++
	rule.seq = e.nextSeq
	if rule.GameID == "" {
		e.global = append(e.global, &rule)
	} else {
		e.scoped[rule.GameID] = append(e.scoped[rule.GameID], &rule)
	}
	return &rule, nil
}

// remove drops the rule with the given seq from its scope, undoing an add
// whose persistence failed.
func (e *Engine) remove(gameID string, seq int) {
	e.mtx.Lock()
	defer e.mtx.Unlock()

	list := e.scopeLocked(gameID)
	for i, rule := range list {
		if rule.seq == seq {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if gameID == "" {
		e.global = list
	} else {
		e.scoped[gameID] = list
	}
}

func (e *Engine) candidatesLocked(gameID string) []*Rule {
	candidates := make([]*Rule, 0, len(e.global)+len(e.scoped[gameID]))
	candidates = append(candidates, e.global...)
	if gameID != "" {
		candidates = append(candidates, e.scoped[gameID]...)
	}
	return candidates
}

func (e *Engine) scopeLocked(gameID string) []*Rule {
	if gameID == "" {
		return e.global
	}
	return e.scoped[gameID]
}

func (e *Engine) hasEnabledLocked(gameID, name string) bool {
	for _, rule := range e.scopeLocked(gameID) {
		if rule.Name == name && rule.Enabled {
			return true
		}
	}
	return false
}
