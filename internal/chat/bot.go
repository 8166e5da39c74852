package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
	"github.com/lucasmendez/gamekit-backend/pkg/genai"
)

// Generator is the text-generation port. The coordination core never calls
// it; only the chat service does. *genai.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts genai.Options) (string, error)
}

// Message is one conversation turn kept in bot memory.
type Message struct {
	Role    string
	Content string
}

// Config describes one bot.
type Config struct {
	Name               string
	Personality        Personality
	SystemPrompt       string
	ContextWindow      int
	Temperature        float64
	MaxTokens          int64
	CustomInstructions string
	GameContext        string
}

// Bot assembles prompts from its system context plus a bounded window of
// recent conversation and remembers both sides of each exchange.
type Bot struct {
	cfg Config
	gen Generator

	mtx     sync.Mutex
	history []Message
}

func NewBot(cfg Config, gen Generator) (*Bot, error) {
	if gen == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "generator is required")
	}
	if cfg.Name == "" {
		cfg.Name = "assistant"
	}
	if cfg.Personality == "" {
		cfg.Personality = PersonalityFriendly
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 10
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 500
	}
	return &Bot{cfg: cfg, gen: gen}, nil
}

func (b *Bot) Name() string {
	return b.cfg.Name
}

// Reply generates a response to the incoming message and records the
// exchange in the bot's memory.
func (b *Bot) Reply(ctx context.Context, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "message is required")
	}

	prompt := b.buildPrompt(message)
	reply, err := b.gen.Generate(ctx, prompt, genai.Options{
		Temperature: b.cfg.Temperature,
		MaxTokens:   b.cfg.MaxTokens,
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "generating chat response")
	}

	b.remember(Message{Role: "user", Content: message}, Message{Role: "assistant", Content: reply})
	return reply, nil
}

// History returns a copy of the remembered conversation.
func (b *Bot) History() []Message {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	out := make([]Message, len(b.history))
	copy(out, b.history)
	return out
}

func (b *Bot) buildPrompt(message string) string {
	var sb strings.Builder

	system := b.cfg.SystemPrompt
	if system == "" {
		system = fmt.Sprintf("You are %s, a helpful game development assistant.", b.cfg.Name)
	}
	sb.WriteString(system)
	sb.WriteString("\n")
	sb.WriteString(b.cfg.Personality.Guide())
	if b.cfg.CustomInstructions != "" {
		sb.WriteString("\n")
		sb.WriteString(b.cfg.CustomInstructions)
	}
	if b.cfg.GameContext != "" {
		sb.WriteString("\nGame context: ")
		sb.WriteString(b.cfg.GameContext)
	}

	recent := b.recent()
	if len(recent) > 0 {
		sb.WriteString("\n\nRecent conversation:\n")
		for _, msg := range recent {
			sb.WriteString(msg.Role)
			sb.WriteString(": ")
			sb.WriteString(msg.Content)
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nuser: ")
	sb.WriteString(message)
	sb.WriteString("\nassistant:")
	return sb.String()
}

func (b *Bot) recent() []Message {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	if len(b.history) <= b.cfg.ContextWindow {
		out := make([]Message, len(b.history))
		copy(out, b.history)
		return out
	}
	tail := b.history[len(b.history)-b.cfg.ContextWindow:]
	out := make([]Message, len(tail))
	copy(out, tail)
	return out
}

// remember appends the exchange, trimming memory to twice the context
// window so long sessions stay bounded.
func (b *Bot) remember(turns ...Message) {
	b.mtx.Lock()
	defer b.mtx.Unlock()
	b.history = append(b.history, turns...)
	limit := 2 * b.cfg.ContextWindow
	if len(b.history) > limit {
		b.history = append([]Message(nil), b.history[len(b.history)-limit:]...)
	}
}
