package chat

import (
	"context"
	"sync"

	"github.com/lucasmendez/gamekit-backend/internal/bus"
	"github.com/lucasmendez/gamekit-backend/internal/events"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/logger"
)

const sourceChat = "chat"

// apologyReply is sent when generation fails so the conversation never goes
// silent.
const apologyReply = "Sorry, I'm having trouble responding right now. Please try again."

// Service routes chat.message_sent events to bots and publishes their
// replies.
type Service struct {
	bus      *bus.Bus
	gen      Generator
	logg     *logger.Logger
	registry *events.DecoderRegistry
	defined  Config

	mtx  sync.Mutex
	bots map[string]*Bot
	sub  *bus.Subscription
}

// NewService builds the chat service; defaults configures the bot created
// for ids without an explicit registration.
func NewService(b *bus.Bus, gen Generator, defaults Config, logg *logger.Logger) (*Service, error) {
	if b == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bus is required")
	}
	if gen == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "generator is required")
	}
	return &Service{
		bus:      b,
		gen:      gen,
		logg:     logg,
		registry: events.NewDecoderRegistry(),
		defined:  defaults,
		bots:     make(map[string]*Bot),
	}, nil
}

// Register adds a bot under the given id, replacing any previous one.
func (s *Service) Register(botID string, cfg Config) error {
	bot, err := NewBot(cfg, s.gen)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	s.bots[botID] = bot
	s.mtx.Unlock()
	return nil
}

// Start subscribes to incoming chat messages.
func (s *Service) Start(ctx context.Context) error {
	sub, err := s.bus.Subscribe(events.TypeChatMessageSent.Topic(), s.handleMessage)
	if err != nil {
		return err
	}
	s.mtx.Lock()
	s.sub = sub
	s.mtx.Unlock()

	evt := events.New(events.TypeModuleLoaded, sourceChat).
		WithData(map[string]any{"module": sourceChat})
	return s.bus.Publish(ctx, evt)
}

// Stop detaches the subscription.
func (s *Service) Stop() {
	s.mtx.Lock()
	sub := s.sub
	s.sub = nil
	s.mtx.Unlock()
	if sub != nil {
		sub.Unsubscribe()
	}
}

func (s *Service) handleMessage(ctx context.Context, evt events.Event) ([]events.Event, error) {
	decoded, err := s.registry.Decode(evt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decoding chat message")
	}
	payload, ok := decoded.(events.ChatMessagePayload)
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unexpected chat payload shape")
	}
	if payload.Message == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "chat message is empty")
	}

	bot := s.botFor(payload.BotID)
	reply, genErr := bot.Reply(ctx, payload.Message)

	var out []events.Event
	if genErr != nil {
		if s.logg != nil {
			s.logg.Error(s.logg.WithEventID(ctx, evt.ID), "chat generation failed", genErr)
		}
		errData, err := events.EncodeData(events.ModuleErrorPayload{
			SourceModule: sourceChat,
			GameID:       evt.GameID,
			EventID:      evt.ID,
			Error:        "chat generation failed",
			Exception:    genErr.Error(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, events.New(events.TypeModuleError, sourceChat).
			WithScope(evt.GameID, evt.PlayerID).
			WithData(errData))
		reply = apologyReply
	}

	data, err := events.EncodeData(events.ChatResponsePayload{
		BotID:    payload.BotID,
		Message:  payload.Message,
		Response: reply,
	})
	if err != nil {
		return nil, err
	}
	out = append(out, events.New(events.TypeChatMessageReceived, sourceChat).
		WithScope(evt.GameID, evt.PlayerID).
		WithData(data))
	return out, nil
}

// botFor returns the registered bot, lazily creating one from the default
// config for unseen ids so every conversation keeps its own memory.
func (s *Service) botFor(botID string) *Bot {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if bot, ok := s.bots[botID]; ok {
		return bot
	}
	cfg := s.defined
	if botID != "" {
		cfg.Name = botID
	}
	bot, err := NewBot(cfg, s.gen)
	if err != nil {
		// NewBot only fails on a nil generator, which NewService rejects.
		panic(err)
	}
	s.bots[botID] = bot
	return bot
}
