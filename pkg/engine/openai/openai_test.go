package openaiengine

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/switchboard/pkg/engine"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

type chatRequest struct {
	Model    string            `json:"model"`
	Messages []json.RawMessage `json:"messages"`
}

func completionServer(t *testing.T, reply string, got chan<- chatRequest) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		got <- req

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCompleter_RoundTrip(t *testing.T) {
	got := make(chan chatRequest, 1)
	server := completionServer(t, "pong", got)

	c := New(Options{APIKey: "sk-test", BaseURL: server.URL + "/v1", Model: "gpt-test", SystemPrompt: "be brief"})
	history := []engine.Turn{
		{Role: engine.RoleUser, Text: "hi"},
		{Role: engine.RoleAssistant, Text: "hello"},
	}
	reply, err := c.Complete(t.Context(), history, messaging.Message{Text: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)

	req := <-got
	assert.Equal(t, "gpt-test", req.Model)
	require.Len(t, req.Messages, 4)
	assert.Contains(t, string(req.Messages[0]), `"system"`)
	assert.Contains(t, string(req.Messages[2]), `"assistant"`)
	assert.Contains(t, string(req.Messages[3]), `"ping"`)
}

func TestCompleter_ImageAsDataURL(t *testing.T) {
	got := make(chan chatRequest, 1)
	server := completionServer(t, "a cat", got)

	c := New(Options{APIKey: "sk-test", BaseURL: server.URL + "/v1/"})
	msg := messaging.Message{Text: "what?", Image: &messaging.Attachment{Data: "aGk=", MediaType: "image/png"}}
	reply, err := c.Complete(t.Context(), nil, msg)
	require.NoError(t, err)
	assert.Equal(t, "a cat", reply)

	req := <-got
	require.Len(t, req.Messages, 1)
	assert.Contains(t, string(req.Messages[0]), "data:image/png;base64,aGk=")
	assert.Contains(t, string(req.Messages[0]), `"image_url"`)
}

func TestCompleter_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer server.Close()

	c := New(Options{APIKey: "sk-test", BaseURL: server.URL})
	_, err := c.Complete(t.Context(), nil, messaging.Message{Text: "x"})
	assert.ErrorIs(t, err, errNoChoices)
}

func TestNew_Defaults(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, DefaultModel, c.Model())
	assert.Equal(t, defaultBaseURL, c.BaseURL())
	assert.Equal(t, "http://localhost:11434/v1/", normalizeBaseURL("http://localhost:11434/v1"))
}
