// Package genai generates follow-up message text using the OpenAI API.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/juliahq/followpipe/internal/models"
)

// Generation parameters. Follow-up messages are short nudges, so the token
// budget is deliberately tight.
const (
	// DefaultModel is the chat model used for message generation.
	DefaultModel = openai.ChatModelGPT4oMini
	// MaxCompletionTokens caps the length of a generated follow-up message.
	MaxCompletionTokens = 150
	// Temperature controls generation randomness.
	Temperature = 0.7
	// HistoryWindow is how many recent conversation messages are included as
	// generation context.
	HistoryWindow = 10
)

// ErrNoChoicesReturned indicates the API responded without any completion choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// chatService defines the minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChat adapts the OpenAI SDK completion service to chatService.
type openaiChat struct {
	client openai.Client
}

func (a openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	// APIKey is the OpenAI API key
	APIKey string
	// Model overrides the default chat model
	Model string
}

// Option defines a functional option for configuring the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model to use for generation.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Client wraps the OpenAI chat completion service.
type Client struct {
	chat  chatService
	model string
}

// NewClient initializes a new GenAI client based on provided options.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("GenAI NewClient invoked", "APIKey_set", cfg.APIKey != "", "model", cfg.Model)

	if cfg.APIKey == "" {
		slog.Error("GenAI NewClient missing API key")
		return nil, fmt.Errorf("OpenAI API key not set")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: openaiChat{client: cli}, model: model}, nil
}

// GeneratePrompt generates a response based on the provided system and user prompts.
func (c *Client) GeneratePrompt(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: c.modelOrDefault(),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		MaxTokens:   openai.Int(MaxCompletionTokens),
		Temperature: openai.Float(Temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI GeneratePrompt API error", "error", err)
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateWithHistory generates a follow-up message from a system prompt and
// recent conversation transcript. Messages must be in chronological order;
// roles other than "assistant" are sent as user turns.
func (c *Client) GenerateWithHistory(ctx context.Context, systemPrompt string, history []models.ConversationMessage) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		if m.Role == "assistant" {
			messages = append(messages, openai.AssistantMessage(m.Content))
		} else {
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       c.modelOrDefault(),
		Messages:    messages,
		MaxTokens:   openai.Int(MaxCompletionTokens),
		Temperature: openai.Float(Temperature),
	}
	resp, err := c.chat.Create(ctx, params)
	if err != nil {
		slog.Error("GenAI GenerateWithHistory API error", "error", err, "historyLen", len(history))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	slog.Debug("GenAI GenerateWithHistory succeeded", "historyLen", len(history))
	return resp.Choices[0].Message.Content, nil
}

func (c *Client) modelOrDefault() string {
	if c.model != "" {
		return c.model
	}
	return DefaultModel
}
