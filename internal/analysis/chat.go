package analysis

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultGroqBaseURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqBaseURL = "https://api.groq.com/openai/v1"

// ChatConfig configures a provider speaking the OpenAI chat completions
// protocol, such as Groq.
type ChatConfig struct {
	Name        string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Chat calls an OpenAI-compatible /chat/completions endpoint.
type Chat struct {
	name        string
	temperature float64
	maxTokens   int
	client      openai.Client
}

// NewChat builds a chat completions provider. Name defaults to "groq" and
// BaseURL to Groq's endpoint. Retries are disabled; the chain moves on to the
// next attempt instead.
func NewChat(cfg ChatConfig) (*Chat, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errMissingAPIKey
	}
	name := cfg.Name
	if name == "" {
		name = "groq"
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultGroqBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(base),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return &Chat{
		name:        name,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		client:      openai.NewClient(opts...),
	}, nil
}

// Name implements Provider.
func (c *Chat) Name() string { return c.name }

// Generate implements Provider.
func (c *Chat) Generate(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       model,
		Messages:    []openai.ChatCompletionMessageParamUnion{openai.UserMessage(prompt)},
		Temperature: openai.Float(c.temperature),
		MaxTokens:   openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return "", &ProviderError{Provider: c.name, Model: model, Status: apiErr.StatusCode, Message: apiMessage(apiErr)}
		}
		return "", fmt.Errorf("%s request: %w", c.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: c.name, Model: model, Message: "no choices returned"}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", &ProviderError{Provider: c.name, Model: model, Message: "empty reply"}
	}
	return text, nil
}

// apiMessage prefers the API's own error message over the status text.
func apiMessage(err *openai.Error) string {
	if err.Message != "" {
		return err.Message
	}
	return http.StatusText(err.StatusCode)
}
