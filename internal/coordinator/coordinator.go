package coordinator

import (
	"context"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/internal/rules"
	"github.com/lucasmendez/gamekit-backend/internal/state"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

const (
	sourceCoordinator = "coordinator"
	sourceState       = "state"
	sourceRules       = "rules"
)

// Guard deduplicates event handling across restarts and replicas. A nil
// guard disables the check.
type Guard interface {
	CheckAndMark(ctx context.Context, scope, eventID string) (bool, error)
}

// Coordinator wires the bus topics to the state manager and rule engine:
// player actions become state deltas, state changes drive rule evaluation,
// triggered rules and isolated failures go back out as events.
type Coordinator struct {
	bus      *bus.Bus
	states   *state.Manager
	engine   *rules.Engine
	registry *events.DecoderRegistry
	validate *validator.Validate
	guard    Guard
	logg     *logger.Logger

	mtx    sync.Mutex
	games  map[string]bool
	subs   []*bus.Subscription
	loaded bool
}

// New builds the coordinator; guard may be nil.
func New(b *bus.Bus, states *state.Manager, engine *rules.Engine, guard Guard, logg *logger.Logger) (*Coordinator, error) {
	if b == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bus is required")
	}
	if states == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "state manager is required")
	}
	if engine == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "rule engine is required")
	}
	return &Coordinator{
		bus:      b,
		states:   states,
		engine:   engine,
		registry: events.NewDecoderRegistry(),
		validate: validator.New(),
		guard:    guard,
		logg:     logg,
		games:    make(map[string]bool),
	}, nil
}

// Start registers all bus subscriptions and announces the modules.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mtx.Lock()
	if c.loaded {
		c.mtx.Unlock()
		return nil
	}
	c.loaded = true
	c.mtx.Unlock()

	wiring := []struct {
		topic   string
		scope   string
		handler bus.Handler
	}{
		{events.TypeGameCreated.Topic(), "state.game_created", c.handleGameCreated},
		{events.TypePlayerAction.Topic(), "state.player_action", c.handlePlayerAction},
		{events.TypeStateSaveRequest.Topic(), "state.save_request", c.handleSaveRequest},
		{events.TypeStateChanged.Topic(), "rules.state_changed", c.handleStateChanged},
		{events.TypePlayerAction.Topic(), "rules.player_action", c.handleActionRules},
		{events.TypeRuleAdd.Topic(), "rules.add", c.handleRuleAdd},
	}
	for _, w := range wiring {
		sub, err := c.bus.Subscribe(w.topic, c.guarded(w.scope, w.handler))
		if err != nil {
			return err
		}
		c.mtx.Lock()
		c.subs = append(c.subs, sub)
		c.mtx.Unlock()
	}

	for _, module := range []string{sourceState, sourceRules, sourceCoordinator} {
		evt := events.New(events.TypeModuleLoaded, module).
			WithData(map[string]any{"module": module})
		if err := c.bus.Publish(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

// Stop detaches all subscriptions; queued events still drain.
func (c *Coordinator) Stop() {
	c.mtx.Lock()
	subs := c.subs
	c.subs = nil
	c.mtx.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

// ActiveGames lists the games bootstrapped in this process.
func (c *Coordinator) ActiveGames() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	out := make([]string, 0, len(c.games))
	for id := range c.games {
		out = append(out, id)
	}
	return out
}

func (c *Coordinator) trackGame(gameID string) {
	if gameID == "" {
		return
	}
	c.mtx.Lock()
	c.games[gameID] = true
	c.mtx.Unlock()
}

// guarded wraps a handler with the replay check. Guard failures fall open:
// processing an event twice is safer than dropping it.
func (c *Coordinator) guarded(scope string, handler bus.Handler) bus.Handler {
	if c.guard == nil {
		return handler
	}
	return func(ctx context.Context, evt events.Event) ([]events.Event, error) {
		processed, err := c.guard.CheckAndMark(ctx, scope, evt.ID)
		if err != nil {
			if c.logg != nil {
				c.logg.Warn(c.logg.WithEventID(ctx, evt.ID), "idempotency check failed, processing anyway")
			}
			return handler(ctx, evt)
		}
		if processed {
			if c.logg != nil {
				c.logg.Debug(c.logg.WithEventID(ctx, evt.ID), "event already processed, skipping")
			}
			return nil, nil
		}
		return handler(ctx, evt)
	}
}
