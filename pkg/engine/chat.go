package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

// Completer produces a model reply for msg given the earlier turns of its
// session. Implementations are stateless; Chat owns the history.
type Completer interface {
	Complete(ctx context.Context, history []Turn, msg messaging.Message) (string, error)
}

// Chat is a conversational engine: it keeps per-session history keyed by the
// session key and asks a Completer for every reply.
type Chat struct {
	out       Outbound
	completer Completer
	agentID   string
	history   *History
}

// NewChat builds a Chat engine. history may be nil, in which case a default
// sized History is created.
func NewChat(out Outbound, completer Completer, agentID string, history *History) *Chat {
	if history == nil {
		history = NewHistory(0)
	}
	return &Chat{
		out:       out,
		completer: completer,
		agentID:   agentID,
		history:   history,
	}
}

// History returns the session store used by c.
func (c *Chat) History() *History { return c.history }

func (c *Chat) Handle(ctx context.Context, msg messaging.Message) error {
	key := messaging.SessionKey(c.agentID, "", msg)
	return Respond(ctx, c.out, msg, func(ctx context.Context, msg messaging.Message) (string, error) {
		reply, err := c.completer.Complete(ctx, c.history.Turns(key), msg)
		if err != nil {
			logger.ErrorCF(component, "Completion failed", map[string]any{
				"session_key": key,
				"error":       err.Error(),
			})
			return "", fmt.Errorf("completing %s: %w", key, err)
		}
		c.history.Append(key,
			Turn{Role: RoleUser, Text: UserText(msg)},
			Turn{Role: RoleAssistant, Text: reply},
		)
		return reply, nil
	})
}

// UserText is the text recorded for an inbound message in session history.
func UserText(msg messaging.Message) string {
	if msg.Text != "" {
		return msg.Text
	}
	if msg.Image != nil {
		return "[image]"
	}
	return ""
}

// ImagePayload returns the media type and bare base64 data of an attachment.
// Data given as a data URL is unwrapped; its media type wins over an empty
// MediaType field.
func ImagePayload(att *messaging.Attachment) (mediaType, data string) {
	if att == nil {
		return "", ""
	}
	mediaType, data = att.MediaType, att.Data
	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		if header, payload, found := strings.Cut(rest, ","); found {
			data = payload
			if mt, _, _ := strings.Cut(header, ";"); mt != "" && mediaType == "" {
				mediaType = mt
			}
		}
	}
	if mediaType == "" {
		mediaType = "image/png"
	}
	return mediaType, data
}
