package events

import "time"

// GameCreatedPayload carries the initial configuration of a new game.
type GameCreatedPayload struct {
	CreatorID  string         `json:"creator_id"`
	GameConfig map[string]any `json:"game_config"`
}

// PlayerActionPayload wraps the raw action mapping; Action["type"] selects
// the state delta applied by the coordinator.
type PlayerActionPayload struct {
	Action map[string]any `json:"action"`
}

// ActionType extracts the action discriminator, empty when absent.
func (p PlayerActionPayload) ActionType() string {
	if t, ok := p.Action["type"].(string); ok {
		return t
	}
	return ""
}

// StateChangedPayload carries the pre- and post-images of one record update.
type StateChangedPayload struct {
	StateKey string         `json:"state_key"`
	OldState map[string]any `json:"old_state"`
	NewState map[string]any `json:"new_state"`
	Version  int64          `json:"version"`
}

// StateSavedPayload confirms an explicit flush.
type StateSavedPayload struct {
	StateKey string    `json:"state_key"`
	SavedAt  time.Time `json:"saved_at"`
}

// RuleSpec is the wire form of a rule added dynamically via rules.add.
type RuleSpec struct {
	Name      string `json:"name" validate:"required,min=1,max=128"`
	Condition string `json:"condition" validate:"required"`
	Action    string `json:"action" validate:"required"`
	Priority  int    `json:"priority"`
	Enabled   *bool  `json:"enabled"`
	GameID    string `json:"game_id"`
}

// IsEnabled treats an omitted enabled flag as true, matching rule defaults.
func (r RuleSpec) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// RuleAddPayload wraps the rule being registered.
type RuleAddPayload struct {
	Rule RuleSpec `json:"rule" validate:"required"`
}

// RuleTriggeredPayload reports one triggered outcome.
type RuleTriggeredPayload struct {
	RuleName string         `json:"rule_name"`
	Action   string         `json:"action"`
	Details  map[string]any `json:"details"`
}

// ChatMessagePayload carries an incoming player message for a bot.
type ChatMessagePayload struct {
	BotID   string `json:"bot_id"`
	Message string `json:"message" validate:"required"`
	UserID  string `json:"user_id"`
}

// ChatResponsePayload carries the generated reply.
type ChatResponsePayload struct {
	BotID    string `json:"bot_id"`
	Message  string `json:"message"`
	Response string `json:"response"`
}

// ModuleErrorPayload describes a failure isolated by the bus or a handler.
type ModuleErrorPayload struct {
	SourceModule string `json:"source_module"`
	GameID       string `json:"game_id,omitempty"`
	EventID      string `json:"event_id,omitempty"`
	Error        string `json:"error"`
	Exception    string `json:"exception,omitempty"`
}
