package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const (
	defaultReplyTimeout = 60 * time.Second
	dialTimeout         = 10 * time.Second
)

// session is one client connection to the socket transport.
type session struct {
	conn           *websocket.Conn
	mention        bool
	conversationID string

	writeMu sync.Mutex
}

// dial connects to url and waits for the connected frame.
func dial(ctx context.Context, url string, mention bool) (*session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", url, err)
	}

	s := &session{conn: conn, mention: mention}
	_ = conn.SetReadDeadline(time.Now().Add(dialTimeout))
	var f messaging.Frame
	if err := conn.ReadJSON(&f); err != nil {
		conn.Close()
		return nil, fmt.Errorf("waiting for connected frame: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})
	if f.Type != messaging.FrameConnected {
		conn.Close()
		return nil, fmt.Errorf("unexpected first frame %q", f.Type)
	}
	s.conversationID = f.ConversationID
	return s, nil
}

func (s *session) send(text string) error {
	f := messaging.InboundFrame{Type: messaging.FrameMessage, Text: text}
	if s.mention {
		f.Mentions = []string{messaging.MentionSelf}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(f)
}

func (s *session) next() (messaging.Frame, error) {
	var f messaging.Frame
	err := s.conn.ReadJSON(&f)
	return f, err
}

// printFrames writes every rendered frame to w until the connection closes.
func (s *session) printFrames(w io.Writer) error {
	for {
		f, err := s.next()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if line, ok := render(f); ok {
			fmt.Fprintln(w, line)
		}
	}
}

// awaitReply reads until a message or error frame arrives.
func (s *session) awaitReply(timeout time.Duration) (string, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	defer s.conn.SetReadDeadline(time.Time{})
	for {
		f, err := s.next()
		if err != nil {
			return "", err
		}
		switch f.Type {
		case messaging.FrameMessage:
			return f.Text, nil
		case messaging.FrameError:
			return "", errors.New(f.Message)
		}
	}
}

func (s *session) close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	return s.conn.Close()
}

// render turns a frame into a terminal line. Frames with nothing to show
// report false.
func render(f messaging.Frame) (string, bool) {
	switch f.Type {
	case messaging.FrameMessage:
		return fmt.Sprintf("%s %s", internal.Logo, f.Text), true
	case messaging.FrameTyping:
		return "…", true
	case messaging.FrameReaction:
		return fmt.Sprintf("%s reacted %s to %s", internal.Logo, f.Emoji, f.MessageID), true
	case messaging.FrameError:
		return "error: " + f.Message, true
	case messaging.FrameConnected:
		return "connected as " + f.ConversationID, true
	default:
		return "", false
	}
}

func isExit(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "/quit":
		return true
	}
	return false
}
