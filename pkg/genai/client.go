package genai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lucasmendez/gamekit-backend/pkg/config"
	pkgerrors "github.com/lucasmendez/gamekit-backend/pkg/errors"
)

// Options tune one generation call.
type Options struct {
	Temperature float64
	MaxTokens   int64
}

// Client implements the chat generation port over the OpenAI chat
// completions API.
type Client struct {
	api   openai.Client
	model string
}

func New(cfg config.ChatConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "chat api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &Client{api: openai.NewClient(opts...), model: model}, nil
}

// Generate runs one completion and returns the trimmed text of the first
// choice.
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(opts.MaxTokens)
	}

	completion, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "chat completion request")
	}
	if len(completion.Choices) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "chat completion returned no choices")
	}
	text := strings.TrimSpace(completion.Choices[0].Message.Content)
	if text == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "chat completion returned empty text")
	}
	return text, nil
}
