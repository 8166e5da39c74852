package events

import (
	"encoding/json"
	"fmt"
	"sync"
)

type decoderFunc func(payload json.RawMessage) (any, error)

type registryKey struct {
	eventType Type
	version   int
}

// DecoderRegistry stores versioned payload decoders. Unknown type/version
// pairs fall back to the raw mapping, keeping forward-compatible fields
// readable without a registered shape.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	registry map[registryKey]decoderFunc
}

// NewDecoderRegistry builds a registry preloaded with the known payloads.
func NewDecoderRegistry() *DecoderRegistry {
	r := &DecoderRegistry{registry: make(map[registryKey]decoderFunc)}
	r.registerDefaults()
	return r
}

// Register stores a decoder for the given event type and version.
func (r *DecoderRegistry) Register(eventType Type, version int, decoder decoderFunc) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.registry[registryKey{eventType: eventType, version: version}] = decoder
}

// Decode turns an event's data mapping into its registered payload struct.
// Events without a registered decoder come back as map[string]any.
func (r *DecoderRegistry) Decode(evt Event) (any, error) {
	raw, err := json.Marshal(evt.Data)
	if err != nil {
		return nil, fmt.Errorf("encoding event data: %w", err)
	}

	r.mtx.RLock()
	decoder, ok := r.registry[registryKey{eventType: evt.Type, version: payloadVersion(evt)}]
	r.mtx.RUnlock()
	if !ok {
		fallback := map[string]any{}
		for k, v := range evt.Data {
			fallback[k] = v
		}
		return fallback, nil
	}
	return decoder(raw)
}

func payloadVersion(evt Event) int {
	if v, ok := evt.Metadata["payload_version"]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return 1
}

func decodeInto[T any](payload json.RawMessage) (any, error) {
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *DecoderRegistry) registerDefaults() {
	r.registry[registryKey{TypeGameCreated, 1}] = decodeInto[GameCreatedPayload]
	r.registry[registryKey{TypePlayerAction, 1}] = decodeInto[PlayerActionPayload]
	r.registry[registryKey{TypeStateChanged, 1}] = decodeInto[StateChangedPayload]
	r.registry[registryKey{TypeStateSaved, 1}] = decodeInto[StateSavedPayload]
	r.registry[registryKey{TypeRuleAdd, 1}] = decodeInto[RuleAddPayload]
	r.registry[registryKey{TypeRuleTriggered, 1}] = decodeInto[RuleTriggeredPayload]
	r.registry[registryKey{TypeChatMessageSent, 1}] = decodeInto[ChatMessagePayload]
	r.registry[registryKey{TypeChatMessageReceived, 1}] = decodeInto[ChatResponsePayload]
	r.registry[registryKey{TypeModuleError, 1}] = decodeInto[ModuleErrorPayload]
}

// EncodeData flattens a typed payload back into the envelope mapping.
func EncodeData(payload any) (map[string]any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	data := map[string]any{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decoding payload into mapping: %w", err)
	}
	return data, nil
}
