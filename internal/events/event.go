package events

import (
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// Type tags an event with its payload shape. The envelope is uniform; the
// type decides which payload struct Data decodes into.
type Type string

const (
	TypeGameCreated Type = "game.created"
	TypeGameUpdated Type = "game.updated"
	TypeGameDeleted Type = "game.deleted"

	TypePlayerJoined Type = "player.joined"
	TypePlayerLeft   Type = "player.left"
	TypePlayerAction Type = "player.action"

	TypeStateChanged     Type = "state.changed"
	TypeStateSaved       Type = "state.saved"
	TypeStateRestored    Type = "state.restored"
	TypeStateSaveRequest Type = "state.save_request"

	TypeChatMessageSent     Type = "chat.message_sent"
	TypeChatMessageReceived Type = "chat.message_received"

	TypeRuleAdd       Type = "rules.add"
	TypeRuleTriggered Type = "rules.triggered"
	TypeRuleValidated Type = "rules.validated"

	TypeModuleLoaded Type = "system.module_loaded"
	TypeModuleError  Type = "system.module_error"
)

// Topic is the bus channel an event of this type is published on. Topics and
// type tags share the same namespace on purpose; the strings are part of the
// integration contract.
func (t Type) Topic() string {
	return string(t)
}

// Event is the envelope carried on the bus. Treat it as immutable once
// published: the With helpers return copies.
type Event struct {
	ID        string         `json:"event_id"`
	Type      Type           `json:"event_type"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source_module"`
	GameID    string         `json:"game_id,omitempty"`
	PlayerID  string         `json:"player_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// New builds an event envelope with a fresh ID and timestamp.
func New(eventType Type, source string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}
}

// WithScope returns a copy scoped to a game and, optionally, a player.
func (e Event) WithScope(gameID, playerID string) Event {
	e.GameID = gameID
	e.PlayerID = playerID
	return e
}

// WithData returns a copy carrying the given payload mapping.
func (e Event) WithData(data map[string]any) Event {
	e.Data = data
	return e
}

// WithMetadata returns a copy carrying the given metadata mapping.
func (e Event) WithMetadata(metadata map[string]any) Event {
	e.Metadata = metadata
	return e
}

// Epoch returns the event timestamp as a numeric epoch for rule contexts.
func (e Event) Epoch() float64 {
	return float64(e.Timestamp.UnixNano()) / float64(time.Second)
}

// Validate rejects envelopes that must never reach the bus.
func (e Event) Validate() error {
	if e.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id is required")
	}
	if e.Type == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event type is required")
	}
	if e.Source == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event source is required")
	}
	return nil
}
