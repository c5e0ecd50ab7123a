// Package anthropicengine answers messages with the Anthropic Messages API.
package anthropicengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tinyland-inc/switchboard/pkg/engine"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "claude-sonnet-4-5"
	// DefaultMaxTokens is used when Options.MaxTokens is not positive.
	DefaultMaxTokens = 1024
)

// Options configure a Completer. Either APIKey (sent as x-api-key) or
// AuthToken (sent as a bearer token) authenticates requests; when both are
// empty the SDK falls back to its environment variables.
type Options struct {
	APIKey       string
	AuthToken    string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// Completer implements engine.Completer on top of the Anthropic SDK client.
type Completer struct {
	client    *anthropic.Client
	baseURL   string
	model     string
	maxTokens int64
	system    string
}

// New creates a Completer with its own SDK client.
func New(opts Options) *Completer {
	baseURL := normalizeBaseURL(opts.BaseURL)
	reqOpts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.AuthToken != "" {
		reqOpts = append(reqOpts, option.WithAuthToken(opts.AuthToken))
	}
	client := anthropic.NewClient(reqOpts...)
	c := NewWithClient(&client, opts)
	c.baseURL = baseURL
	return c
}

// NewWithClient creates a Completer around an existing client.
func NewWithClient(client *anthropic.Client, opts Options) *Completer {
	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Completer{
		client:    client,
		baseURL:   defaultBaseURL,
		model:     model,
		maxTokens: maxTokens,
		system:    opts.SystemPrompt,
	}
}

// Model returns the model requests are sent to.
func (c *Completer) Model() string { return c.model }

// BaseURL returns the normalized API base URL.
func (c *Completer) BaseURL() string { return c.baseURL }

// Complete implements engine.Completer.
func (c *Completer) Complete(ctx context.Context, history []engine.Turn, msg messaging.Message) (string, error) {
	params := buildParams(history, msg, c.model, c.maxTokens, c.system)
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API call: %w", err)
	}
	return responseText(resp), nil
}

func buildParams(history []engine.Turn, msg messaging.Message, model string, maxTokens int64, system string) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case engine.RoleUser:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(turn.Text)))
		case engine.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(turn.Text)))
		}
	}

	var blocks []anthropic.ContentBlockParamUnion
	if msg.Image != nil {
		mediaType, data := engine.ImagePayload(msg.Image)
		blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		blocks = append(blocks, anthropic.NewTextBlock(text))
	}
	messages = append(messages, anthropic.NewUserMessage(blocks...))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	return params
}

func responseText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String()
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if b, ok := strings.CutSuffix(base, "/v1"); ok {
		base = b
	}
	if base == "" {
		return defaultBaseURL
	}
	return base
}
