package bridge

import (
	"context"
	"encoding/json"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

// Sink is where forwarded envelopes go. *PubSubSink is the production
// implementation.
type Sink interface {
	Publish(ctx context.Context, data []byte, attrs map[string]string) error
}

// PubSubSink publishes to one Cloud Pub/Sub topic.
type PubSubSink struct {
	publisher *pubsub.Publisher
}

func NewPubSubSink(publisher *pubsub.Publisher) *PubSubSink {
	return &PubSubSink{publisher: publisher}
}

func (s *PubSubSink) Publish(ctx context.Context, data []byte, attrs map[string]string) error {
	result := s.publisher.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	_, err := result.Get(ctx)
	return err
}

// Bridge mirrors state changes, triggered rules and module errors to an
// external topic so downstream collaborators can consume them. Forwarding is
// best effort: failures are logged and never feed back into the bus.
type Bridge struct {
	bus  *bus.Bus
	sink Sink
	logg *logger.Logger

	mtx  sync.Mutex
	subs []*bus.Subscription
}

var egressTopics = []string{
	events.TypeStateChanged.Topic(),
	events.TypeRuleTriggered.Topic(),
	events.TypeModuleError.Topic(),
}

func New(b *bus.Bus, sink Sink, logg *logger.Logger) (*Bridge, error) {
	if b == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bus is required")
	}
	if sink == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sink is required")
	}
	return &Bridge{bus: b, sink: sink, logg: logg}, nil
}

// Start subscribes the bridge to the egress topics.
func (br *Bridge) Start(context.Context) error {
	for _, topic := range egressTopics {
		sub, err := br.bus.Subscribe(topic, br.forward)
		if err != nil {
			return err
		}
		br.mtx.Lock()
		br.subs = append(br.subs, sub)
		br.mtx.Unlock()
	}
	return nil
}

// Stop detaches the bridge from the bus.
func (br *Bridge) Stop() {
	br.mtx.Lock()
	subs := br.subs
	br.subs = nil
	br.mtx.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}

func (br *Bridge) forward(ctx context.Context, evt events.Event) ([]events.Event, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		if br.logg != nil {
			br.logg.Error(ctx, "encoding event for egress", err)
		}
		return nil, nil
	}

	attrs := map[string]string{
		"event_type":    string(evt.Type),
		"source_module": evt.Source,
	}
	if evt.GameID != "" {
		attrs["game_id"] = evt.GameID
	}

	if err := br.sink.Publish(ctx, data, attrs); err != nil {
		if br.logg != nil {
			br.logg.Error(br.logg.WithEventID(ctx, evt.ID), "forwarding event to pubsub", err)
		}
	}
	return nil, nil
}
