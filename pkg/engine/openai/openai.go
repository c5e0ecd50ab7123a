// Package openaiengine answers messages with an OpenAI compatible Chat
// Completions endpoint.
package openaiengine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tinyland-inc/switchboard/pkg/engine"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const (
	defaultBaseURL = "https://api.openai.com/v1/"
	// DefaultModel is used when Options.Model is empty.
	DefaultModel = "gpt-4o-mini"
	// DefaultMaxTokens is used when Options.MaxTokens is not positive.
	DefaultMaxTokens = 1024
)

var errNoChoices = errors.New("completion returned no choices")

// Options configure a Completer.
type Options struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	SystemPrompt string
}

// Completer implements engine.Completer on top of the OpenAI SDK client.
type Completer struct {
	client    *openai.Client
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
	client := openai.NewClient(reqOpts...)

	model := opts.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := int64(opts.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Completer{
		client:    &client,
		baseURL:   baseURL,
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
	resp, err := c.client.Chat.Completions.New(ctx, buildParams(history, msg, c.model, c.maxTokens, c.system))
	if err != nil {
		return "", fmt.Errorf("chat completion call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errNoChoices
	}
	return resp.Choices[0].Message.Content, nil
}

func buildParams(history []engine.Turn, msg messaging.Message, model string, maxTokens int64, system string) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	for _, turn := range history {
		switch turn.Role {
		case engine.RoleUser:
			messages = append(messages, openai.UserMessage(turn.Text))
		case engine.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		}
	}

	text := strings.TrimSpace(msg.Text)
	if msg.Image == nil {
		messages = append(messages, openai.UserMessage(text))
	} else {
		mediaType, data := engine.ImagePayload(msg.Image)
		parts := []openai.ChatCompletionContentPartUnionParam{
			openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: "data:" + mediaType + ";base64," + data,
			}),
		}
		if text != "" {
			parts = append(parts, openai.TextContentPart(text))
		}
		messages = append(messages, openai.UserMessage(parts))
	}

	return openai.ChatCompletionNewParams{
		Model:               openai.ChatModel(model),
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
}

func normalizeBaseURL(apiBase string) string {
	base := strings.TrimSpace(apiBase)
	if base == "" {
		return defaultBaseURL
	}
	return strings.TrimRight(base, "/") + "/"
}
