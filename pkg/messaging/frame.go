package messaging

import (
	"encoding/json"
	"strings"
)

// Frame types shared by every transport.
const (
	FrameConnected  = "connected"
	FrameMessage    = "message"
	FrameTyping     = "typing"
	FrameStopTyping = "stop_typing"
	FrameReaction   = "reaction"
	FrameError      = "error"
)

// Frame is an outbound event written to a client. Every transport serializes
// the same shape; only the framing differs.
type Frame struct {
	Type           string `json:"type"                     cbor:"type"`
	ConversationID string `json:"conversationId,omitempty" cbor:"conversationId,omitempty"`
	Text           string `json:"text,omitempty"           cbor:"text,omitempty"`
	MessageID      string `json:"messageId,omitempty"      cbor:"messageId,omitempty"`
	Emoji          string `json:"emoji,omitempty"          cbor:"emoji,omitempty"`
	Message        string `json:"message,omitempty"        cbor:"message,omitempty"`
}

func ConnectedFrame(conversationID string) Frame {
	return Frame{Type: FrameConnected, ConversationID: conversationID}
}

func MessageFrame(conversationID, text string) Frame {
	return Frame{Type: FrameMessage, ConversationID: conversationID, Text: text}
}

func TypingFrame(conversationID string) Frame {
	return Frame{Type: FrameTyping, ConversationID: conversationID}
}

func StopTypingFrame(conversationID string) Frame {
	return Frame{Type: FrameStopTyping, ConversationID: conversationID}
}

func ReactionFrame(conversationID, messageID, emoji string) Frame {
	return Frame{Type: FrameReaction, ConversationID: conversationID, MessageID: messageID, Emoji: emoji}
}

// ErrorFrame carries a human-readable error back to the client that caused it.
func ErrorFrame(message string) Frame {
	return Frame{Type: FrameError, Message: message}
}

// InboundFrame is what clients send to an adapter.
type InboundFrame struct {
	Type           string      `json:"type"                     cbor:"type"`
	ConversationID string      `json:"conversationId,omitempty" cbor:"conversationId,omitempty"`
	Text           string      `json:"text,omitempty"           cbor:"text,omitempty"`
	Sender         string      `json:"sender,omitempty"         cbor:"sender,omitempty"`
	IsGroup        bool        `json:"isGroup,omitempty"        cbor:"isGroup,omitempty"`
	Mentions       []string    `json:"mentions,omitempty"       cbor:"mentions,omitempty"`
	Image          *Attachment `json:"image,omitempty"          cbor:"image,omitempty"`
	MessageID      string      `json:"messageId,omitempty"      cbor:"messageId,omitempty"`
}

// DecodeFrame parses a JSON inbound frame. Malformed input yields a *ParseError.
func DecodeFrame(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, &ParseError{Err: err}
	}
	return f, nil
}

// IsMessage reports whether the frame is of the dispatchable inbound type.
func (f InboundFrame) IsMessage() bool {
	return f.Type == FrameMessage
}

// Validate checks that the frame carries text or an image.
func (f InboundFrame) Validate() error {
	if strings.TrimSpace(f.Text) == "" && (f.Image == nil || f.Image.Data == "") {
		return ErrInvalidFrame
	}
	return nil
}

// Defaults fill the fields a transport knows but a frame may omit.
type Defaults struct {
	Platform       string
	ConversationID string
	Sender         string
}

// BuildMessage converts a validated frame into a Message. Text is trimmed and
// the frame itself is kept as Raw.
func BuildMessage(f InboundFrame, d Defaults) Message {
	msg := Message{
		Platform:       d.Platform,
		ConversationID: f.ConversationID,
		Text:           strings.TrimSpace(f.Text),
		Sender:         f.Sender,
		IsGroup:        f.IsGroup,
		Mentions:       f.Mentions,
		MessageID:      f.MessageID,
		Raw:            f,
	}
	if msg.ConversationID == "" {
		msg.ConversationID = d.ConversationID
	}
	if msg.Sender == "" {
		msg.Sender = d.Sender
	}
	if f.Image != nil && f.Image.Data != "" {
		img := *f.Image
		msg.Image = &img
	}
	if len(f.Mentions) > 0 {
		msg.Mentions = append([]string(nil), f.Mentions...)
	}
	return msg
}
