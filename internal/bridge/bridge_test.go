package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
)

type fakeSink struct {
	mtx      sync.Mutex
	messages [][]byte
	attrs    []map[string]string
	err      error
	notify   chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{notify: make(chan struct{}, 16)}
}

func (f *fakeSink) Publish(_ context.Context, data []byte, attrs map[string]string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.notify <- struct{}{}
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, data)
	f.attrs = append(f.attrs, attrs)
	return nil
}

func (f *fakeSink) count() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return len(f.messages)
}

func newBridgeHarness(t *testing.T, sink Sink) *bus.Bus {
	t.Helper()
	b := bus.New(config.BusConfig{HandlerTimeout: 2 * time.Second}, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	br, err := New(b, sink, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if err := br.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	return b
}

func waitNotify(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	for i := 0; i < want; i++ {
		select {
		case <-sink.notify:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d forwards, saw %d", want, i)
		}
	}
}

func TestBridgeForwardsCoreTopics(t *testing.T) {
	sink := newFakeSink()
	b := newBridgeHarness(t, sink)

	published := []events.Event{
		events.New(events.TypeStateChanged, "state").WithScope("g1", "p1").WithData(map[string]any{"state_key": "player_p1"}),
		events.New(events.TypeRuleTriggered, "rules").WithScope("g1", "p1").WithData(map[string]any{"rule_name": "check_victory"}),
		events.New(events.TypeModuleError, "rules").WithData(map[string]any{"error": "boom"}),
	}
	for _, evt := range published {
		if err := b.Publish(context.Background(), evt); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	waitNotify(t, sink, 3)
	if sink.count() != 3 {
		t.Fatalf("expected 3 forwarded messages, got %d", sink.count())
	}

	var envelope events.Event
	if err := json.Unmarshal(sink.messages[0], &envelope); err != nil {
		t.Fatalf("forwarded message is not an event envelope: %v", err)
	}
	if envelope.ID != published[0].ID {
		t.Fatalf("envelope id mismatch: got %s want %s", envelope.ID, published[0].ID)
	}
	if sink.attrs[0]["event_type"] != string(events.TypeStateChanged) {
		t.Fatalf("unexpected attributes: %v", sink.attrs[0])
	}
	if sink.attrs[0]["game_id"] != "g1" {
		t.Fatalf("expected game_id attribute, got %v", sink.attrs[0])
	}
}

func TestBridgeSinkFailureIsNotFatal(t *testing.T) {
	sink := newFakeSink()
	sink.err = errors.New("pubsub unavailable")
	b := newBridgeHarness(t, sink)
	moduleErrors := make(chan events.Event, 4)
	if _, err := b.Subscribe(events.TypeModuleError.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		moduleErrors <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	evt := events.New(events.TypeStateChanged, "state").WithData(map[string]any{"state_key": "k"})
	if err := b.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	waitNotify(t, sink, 1)

	// A failed forward is logged, never turned into a module error.
	select {
	case got := <-moduleErrors:
		t.Fatalf("unexpected module error event: %v", got.Data)
	case <-time.After(300 * time.Millisecond):
	}

	sink.err = nil
	next := events.New(events.TypeRuleTriggered, "rules").WithData(map[string]any{"rule_name": "r"})
	if err := b.Publish(context.Background(), next); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	waitNotify(t, sink, 1)
	if sink.count() != 1 {
		t.Fatalf("expected forwarding to recover, got %d messages", sink.count())
	}
}
