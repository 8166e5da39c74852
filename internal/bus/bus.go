package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lucasmendez/gamekit-backend/internal/events"
	"github.com/lucasmendez/gamekit-backend/pkg/config"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
	"github.com/lucasmendez/gamekit-backend/pkg/metrics"
)

const sourceModule = "bus"

// ErrClosed is returned by Publish and Subscribe after shutdown started.
var ErrClosed = errors.New("event bus closed")

// Handler consumes one event and may return follow-up events, which the bus
// republishes on their own topics as independent publishes.
type Handler func(ctx context.Context, evt events.Event) ([]events.Event, error)

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	ID           uint64
	Topic        string
	RegisteredAt time.Time

	handler   Handler
	queue     chan events.Event
	closeOnce sync.Once
	bus       *Bus
}

// Unsubscribe detaches the subscription; queued events are still delivered.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)
}

// Bus is a topic-based in-process dispatcher. Each subscription owns a FIFO
// queue and a dispatch goroutine, so publication order is preserved per
// subscriber while subscribers stay isolated from each other.
type Bus struct {
	queueSize      int
	handlerTimeout time.Duration

	logg  *logger.Logger
	mets  *metrics.BusMetrics
	dedup *dedupWindow

	mtx    sync.RWMutex
	subs   map[string][]*Subscription
	nextID uint64
	closed bool
	wg     sync.WaitGroup
}

// New builds an event bus from the provided configuration.
func New(cfg config.BusConfig, logg *logger.Logger, mets *metrics.BusMetrics) *Bus {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	timeout := cfg.HandlerTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	window := cfg.DedupWindow
	if window <= 0 {
		window = 4096
	}
	return &Bus{
		queueSize:      queueSize,
		handlerTimeout: timeout,
		logg:           logg,
		mets:           mets,
		dedup:          newDedupWindow(window),
		subs:           make(map[string][]*Subscription),
	}
}

// Subscribe registers a handler for the topic. New subscribers only observe
// events published after registration.
func (b *Bus) Subscribe(topic string, handler Handler) (*Subscription, error) {
	if topic == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "topic is required")
	}
	if handler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "handler is required")
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	b.nextID++
	sub := &Subscription{
		ID:           b.nextID,
		Topic:        topic,
		RegisteredAt: time.Now().UTC(),
		handler:      handler,
		queue:        make(chan events.Event, b.queueSize),
		bus:          b,
	}
	b.subs[topic] = append(b.subs[topic], sub)
	b.wg.Add(1)
	go b.dispatch(sub)
	return sub, nil
}

// Publish enqueues the event for every current subscriber of its type's topic
// and returns once enqueued. Delivery happens asynchronously; per-topic order
// is preserved per subscriber.
func (b *Bus) Publish(ctx context.Context, evt events.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	topic := evt.Type.Topic()

	b.mtx.RLock()
	defer b.mtx.RUnlock()
	if b.closed {
		return ErrClosed
	}

	if b.dedup.seen(evt.ID) {
		// At-least-once: a reused id is a redelivery of the same event, so it
		// still goes out, but it is never counted as a new publication.
		if b.logg != nil {
			logCtx := b.logg.WithEventID(b.logg.WithTopic(ctx, topic), evt.ID)
			b.logg.Warn(logCtx, "duplicate event id, delivering as redelivery")
		}
	} else {
		b.mets.IncPublished(topic)
	}

	for _, sub := range b.subs[topic] {
		select {
		case sub.queue <- evt:
		default:
			// A full queue means the subscriber is stalled; dropping here
			// keeps publishers and sibling subscribers from deadlocking.
			b.reportFailure(ctx, sub, evt, fmt.Errorf("subscriber queue full (%d)", b.queueSize))
		}
	}
	return nil
}

// Close stops accepting publishes, lets queued work drain and waits for
// in-flight handlers until ctx expires.
func (b *Bus) Close(ctx context.Context) error {
	b.mtx.Lock()
	if b.closed {
		b.mtx.Unlock()
		return nil
	}
	b.closed = true
	var all []*Subscription
	for _, subs := range b.subs {
		all = append(all, subs...)
	}
	b.subs = make(map[string][]*Subscription)
	b.mtx.Unlock()

	for _, sub := range all {
		sub.closeOnce.Do(func() { close(sub.queue) })
	}

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mtx.Lock()
	subs := b.subs[sub.Topic]
	for i, candidate := range subs {
		if candidate.ID == sub.ID {
			b.subs[sub.Topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	b.mtx.Unlock()

	sub.closeOnce.Do(func() { close(sub.queue) })
}

func (b *Bus) dispatch(sub *Subscription) {
	defer b.wg.Done()
	for evt := range sub.queue {
		b.deliver(sub, evt)
	}
}

type handlerResult struct {
	out []events.Event
	err error
}

func (b *Bus) deliver(sub *Subscription, evt events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.handlerTimeout)
	defer cancel()
	if b.logg != nil {
		ctx = b.logg.WithTopic(b.logg.WithEventID(ctx, evt.ID), sub.Topic)
	}

	start := time.Now()
	results := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- handlerResult{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		out, err := sub.handler(ctx, evt)
		results <- handlerResult{out: out, err: err}
	}()

	select {
	case res := <-results:
		b.mets.ObserveHandlerDuration(sub.Topic, time.Since(start))
		if res.err != nil {
			b.reportFailure(ctx, sub, evt, res.err)
			return
		}
		b.mets.IncDelivered(sub.Topic)
		for _, next := range res.out {
			if err := b.Publish(ctx, next); err != nil && b.logg != nil {
				b.logg.Error(ctx, "republishing handler output", err)
			}
		}
	case <-ctx.Done():
		// The handler goroutine is abandoned; the buffered results channel
		// lets it finish without leaking a blocked send.
		b.mets.IncTimeout(sub.Topic)
		b.reportFailure(ctx, sub, evt, fmt.Errorf("handler timed out after %s", b.handlerTimeout))
	}
}

// reportFailure converts a delivery failure into a module-error event on the
// error topic. Failures while handling the error topic itself are only
// logged, which keeps the bus from feeding back into its own error stream.
func (b *Bus) reportFailure(ctx context.Context, sub *Subscription, evt events.Event, cause error) {
	b.mets.IncFailure(sub.Topic)

	wrapped := pkgerrors.Wrap(pkgerrors.CodeDelivery, cause, "delivering event")
	if b.logg != nil {
		b.logg.Error(ctx, "event delivery failed", wrapped)
	}
	if evt.Type == events.TypeModuleError {
		return
	}

	data, err := events.EncodeData(events.ModuleErrorPayload{
		SourceModule: sourceModule,
		GameID:       evt.GameID,
		EventID:      evt.ID,
		Error:        fmt.Sprintf("delivery failed on %s", sub.Topic),
		Exception:    cause.Error(),
	})
	if err != nil {
		return
	}
	errEvt := events.New(events.TypeModuleError, sourceModule).
		WithScope(evt.GameID, evt.PlayerID).
		WithData(data)

	go func() {
		if err := b.Publish(context.Background(), errEvt); err != nil && b.logg != nil {
			b.logg.Error(ctx, "publishing module error event", err)
		}
	}()
}
