// Package messaging is the transport-independent core of switchboard: the
// canonical message shape, admission control, the adapter contract that every
// transport implements, and the registry that routes between adapters and the
// single downstream consumer.
package messaging

import (
	"encoding/base64"
	"fmt"
	"slices"
)

const (
	// MentionSelf is placed in Message.Mentions when the consuming agent is addressed.
	MentionSelf = "self"
	// Wildcard in an allow-list admits every conversation.
	Wildcard = "*"
)

// Attachment is an inline binary payload. Data is base64 encoded at the boundary.
type Attachment struct {
	Data      string `json:"data"      cbor:"data"`
	MediaType string `json:"mediaType" cbor:"mediaType"`
}

// Decode returns the raw bytes of the attachment.
func (a *Attachment) Decode() ([]byte, error) {
	if a == nil {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(a.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding attachment: %w", err)
	}
	return b, nil
}

// Message is the normalized inbound message. It is built fresh per inbound
// frame and must not be modified once it has passed admission control.
type Message struct {
	Platform       string      `json:"platform"`
	ConversationID string      `json:"conversationId"`
	Text           string      `json:"text"`
	Sender         string      `json:"sender"`
	IsGroup        bool        `json:"isGroup"`
	Mentions       []string    `json:"mentions,omitempty"`
	Image          *Attachment `json:"image,omitempty"`
	MessageID      string      `json:"messageId,omitempty"`

	// Raw is the transport-specific payload the message was built from. It is
	// passed through unexamined.
	Raw any `json:"-"`
}

// HasMention reports whether id is among the message mentions.
func (m Message) HasMention(id string) bool {
	return slices.Contains(m.Mentions, id)
}

// Mentioned reports whether the consuming agent was addressed.
func (m Message) Mentioned() bool {
	return m.HasMention(MentionSelf)
}
