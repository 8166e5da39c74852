package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
)

func newTestBus(t *testing.T, cfg config.BusConfig) *Bus {
	t.Helper()
	b := New(cfg, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Close(ctx)
	})
	return b
}

func waitForCount(t *testing.T, ch <-chan events.Event, want int) []events.Event {
	t.Helper()
	var got []events.Event
	timeout := time.After(2 * time.Second)
	for len(got) < want {
		select {
		case evt := <-ch:
			got = append(got, evt)
		case <-timeout:
			t.Fatalf("timed out waiting for %d events, got %d", want, len(got))
		}
	}
	return got
}

func TestPublishDeliversInFIFOOrderPerSubscriber(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	received := make(chan events.Event, 16)
	if _, err := b.Subscribe(events.TypePlayerAction.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		received <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	var published []string
	for i := 0; i < 5; i++ {
		evt := events.New(events.TypePlayerAction, "test").WithData(map[string]any{"seq": i})
		published = append(published, evt.ID)
		if err := b.Publish(context.Background(), evt); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	got := waitForCount(t, received, 5)
	for i, evt := range got {
		if evt.ID != published[i] {
			t.Fatalf("delivery %d out of order: got %s want %s", i, evt.ID, published[i])
		}
	}
}

func TestFailingSubscriberDoesNotBlockOthers(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	healthy := make(chan events.Event, 16)
	errorsSeen := make(chan events.Event, 16)

	if _, err := b.Subscribe(events.TypeStateChanged.Topic(), func(_ context.Context, _ events.Event) ([]events.Event, error) {
		return nil, errors.New("subscriber exploded")
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if _, err := b.Subscribe(events.TypeStateChanged.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		healthy <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if _, err := b.Subscribe(events.TypeModuleError.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		errorsSeen <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	evt := events.New(events.TypeStateChanged, "test").WithScope("game-1", "player-1")
	if err := b.Publish(context.Background(), evt); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	waitForCount(t, healthy, 1)
	errEvt := waitForCount(t, errorsSeen, 1)[0]
	if errEvt.Type != events.TypeModuleError {
		t.Fatalf("expected module error event, got %s", errEvt.Type)
	}
	if errEvt.Data["event_id"] != evt.ID {
		t.Fatalf("error event should reference originating id, got %v", errEvt.Data["event_id"])
	}
	if errEvt.GameID != "game-1" {
		t.Fatalf("error event should keep the game scope")
	}
}

func TestHandlerPanicIsIsolated(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	received := make(chan events.Event, 16)
	if _, err := b.Subscribe(events.TypePlayerAction.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		if evt.Data["boom"] == true {
			panic("kaboom")
		}
		received <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := b.Publish(context.Background(), events.New(events.TypePlayerAction, "test").WithData(map[string]any{"boom": true})); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	ok := events.New(events.TypePlayerAction, "test").WithData(map[string]any{"boom": false})
	if err := b.Publish(context.Background(), ok); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitForCount(t, received, 1)[0]
	if got.ID != ok.ID {
		t.Fatalf("panicking delivery should not stall the queue")
	}
}

func TestHandlerFanOutIsRepublished(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	triggered := make(chan events.Event, 16)

	if _, err := b.Subscribe(events.TypeStateChanged.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		out := events.New(events.TypeRuleTriggered, "rule_engine").WithScope(evt.GameID, evt.PlayerID)
		return []events.Event{out}, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if _, err := b.Subscribe(events.TypeRuleTriggered.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		triggered <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := b.Publish(context.Background(), events.New(events.TypeStateChanged, "test").WithScope("game-1", "")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	got := waitForCount(t, triggered, 1)[0]
	if got.GameID != "game-1" {
		t.Fatalf("fan-out event lost scope: %+v", got)
	}
}

func TestSelfPublishingHandlerDoesNotDeadlock(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	done := make(chan struct{})
	var once sync.Once

	if _, err := b.Subscribe(events.TypePlayerAction.Topic(), func(ctx context.Context, evt events.Event) ([]events.Event, error) {
		if evt.Data["depth"] == 3 {
			once.Do(func() { close(done) })
			return nil, nil
		}
		depth, _ := evt.Data["depth"].(int)
		next := events.New(events.TypePlayerAction, "test").WithData(map[string]any{"depth": depth + 1})
		return []events.Event{next}, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := b.Publish(context.Background(), events.New(events.TypePlayerAction, "test").WithData(map[string]any{"depth": 0})); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("fan-out chain never completed")
	}
}

func TestHandlerTimeoutIsReportedAndQueueContinues(t *testing.T) {
	b := newTestBus(t, config.BusConfig{HandlerTimeout: 30 * time.Millisecond})
	received := make(chan events.Event, 16)
	errorsSeen := make(chan events.Event, 16)
	release := make(chan struct{})

	if _, err := b.Subscribe(events.TypePlayerAction.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		if evt.Data["hang"] == true {
			<-release
			return nil, nil
		}
		received <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	if _, err := b.Subscribe(events.TypeModuleError.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		errorsSeen <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}
	defer close(release)

	if err := b.Publish(context.Background(), events.New(events.TypePlayerAction, "test").WithData(map[string]any{"hang": true})); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	if err := b.Publish(context.Background(), events.New(events.TypePlayerAction, "test").WithData(map[string]any{"hang": false})); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	waitForCount(t, received, 1)
	errEvt := waitForCount(t, errorsSeen, 1)[0]
	if exc, _ := errEvt.Data["exception"].(string); exc == "" {
		t.Fatalf("timeout error should carry a description, got %+v", errEvt.Data)
	}
}

func TestLateSubscriberMissesEarlierEvents(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	early := make(chan events.Event, 16)
	if _, err := b.Subscribe(events.TypeGameCreated.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		early <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	first := events.New(events.TypeGameCreated, "test")
	if err := b.Publish(context.Background(), first); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	waitForCount(t, early, 1)

	late := make(chan events.Event, 16)
	if _, err := b.Subscribe(events.TypeGameCreated.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		late <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	second := events.New(events.TypeGameCreated, "test")
	if err := b.Publish(context.Background(), second); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	if got := waitForCount(t, late, 1)[0]; got.ID != second.ID {
		t.Fatalf("late subscriber should only see the second event, got %s", got.ID)
	}
}

func TestUnsubscribeStopsDeliveries(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	received := make(chan events.Event, 16)
	sub, err := b.Subscribe(events.TypeGameCreated.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		received <- evt
		return nil, nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	if err := b.Publish(context.Background(), events.New(events.TypeGameCreated, "test")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}
	waitForCount(t, received, 1)

	sub.Unsubscribe()
	if err := b.Publish(context.Background(), events.New(events.TypeGameCreated, "test")); err != nil {
		t.Fatalf("Publish() error: %v", err)
	}

	select {
	case evt := <-received:
		t.Fatalf("unexpected delivery after unsubscribe: %s", evt.ID)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishAfterCloseFails(t *testing.T) {
	b := New(config.BusConfig{}, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := b.Publish(context.Background(), events.New(events.TypeGameCreated, "test")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := b.Subscribe("x", func(context.Context, events.Event) ([]events.Event, error) { return nil, nil }); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on subscribe, got %v", err)
	}
}

func TestDuplicateIDIsRedeliveredNotRecounted(t *testing.T) {
	b := newTestBus(t, config.BusConfig{})
	received := make(chan events.Event, 16)
	if _, err := b.Subscribe(events.TypePlayerAction.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		received <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	evt := events.New(events.TypePlayerAction, "test")
	for i := 0; i < 2; i++ {
		if err := b.Publish(context.Background(), evt); err != nil {
			t.Fatalf("Publish() #%d error: %v", i, err)
		}
	}

	got := waitForCount(t, received, 2)
	if got[0].ID != got[1].ID {
		t.Fatalf("expected the same event redelivered")
	}
}

func TestConcurrentPublishersKeepPerKeyOrdering(t *testing.T) {
	b := newTestBus(t, config.BusConfig{QueueSize: 1024})
	received := make(chan events.Event, 256)
	if _, err := b.Subscribe(events.TypePlayerAction.Topic(), func(_ context.Context, evt events.Event) ([]events.Event, error) {
		received <- evt
		return nil, nil
	}); err != nil {
		t.Fatalf("Subscribe() error: %v", err)
	}

	const publishers = 4
	const perPublisher = 25
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				evt := events.New(events.TypePlayerAction, "test").WithData(map[string]any{
					"publisher": fmt.Sprintf("p%d", p),
					"seq":       i,
				})
				if err := b.Publish(context.Background(), evt); err != nil {
					t.Errorf("Publish() error: %v", err)
					return
				}
			}
		}(p)
	}
	wg.Wait()

	got := waitForCount(t, received, publishers*perPublisher)
	lastSeq := map[string]int{}
	for _, evt := range got {
		publisher := evt.Data["publisher"].(string)
		seq := evt.Data["seq"].(int)
		if prev, ok := lastSeq[publisher]; ok && seq <= prev {
			t.Fatalf("per-publisher order violated for %s: %d after %d", publisher, seq, prev)
		}
		lastSeq[publisher] = seq
	}
}
