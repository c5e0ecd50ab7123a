// Package pipe implements the local transport: newline-delimited JSON over a
// pair of streams (stdin/stdout by default), or named request/reply channels
// exchanged with a host process.
package pipe

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/tinyland-inc/switchboard/pkg/messaging"
	"github.com/tinyland-inc/switchboard/pkg/utils"
)

const component = "pipe"

// Mode selects the transport primitive. The two modes are mutually exclusive.
type Mode string

const (
	ModeStdio Mode = "stdio"
	ModeHost  Mode = "host"
)

const (
	DefaultConversationID = "desktop-main"
	DefaultSender         = "user"
	DefaultChannelPrefix  = "switchboard"
)

// Config configures the pipe adapter.
type Config struct {
	Mode             Mode
	Access           messaging.AdapterConfig
	MaxMessageLength int
	// ConversationID is used for frames that do not name one.
	ConversationID string
	Sender         string

	// Input and Output are the line-framed streams. They default to the
	// process's stdin and stdout.
	Input  io.Reader
	Output io.Writer

	// Host and ChannelPrefix configure host-channel mode.
	Host          Host
	ChannelPrefix string
}

// Adapter is the pipe transport.
type Adapter struct {
	*messaging.Base
	cfg Config

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	stdio *stdioState
	host  *hostState
}

func New(cfg Config) (*Adapter, error) {
	if cfg.Mode == "" {
		cfg.Mode = ModeStdio
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = DefaultConversationID
	}
	if cfg.Sender == "" {
		cfg.Sender = DefaultSender
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = DefaultChannelPrefix
	}

	a := &Adapter{cfg: cfg}
	caps := messaging.Capabilities{Typing: true, Reactions: true}
	a.Base = messaging.NewBase(messaging.KindPipe, cfg.Access, caps,
		messaging.WithMaxMessageLength(cfg.MaxMessageLength))

	switch cfg.Mode {
	case ModeStdio:
		a.stdio = newStdioState(cfg.Input, cfg.Output)
	case ModeHost:
		if cfg.Host == nil {
			return nil, fmt.Errorf("pipe: host mode requires a Host")
		}
		if err := utils.ValidateChannelPrefix(cfg.ChannelPrefix); err != nil {
			return nil, fmt.Errorf("pipe: %w", err)
		}
		a.host = newHostState(cfg.Host, cfg.ChannelPrefix)
	default:
		return nil, fmt.Errorf("pipe: unknown mode %q", cfg.Mode)
	}
	return a, nil
}

// Mode reports the operating mode chosen at construction.
func (a *Adapter) Mode() Mode { return a.cfg.Mode }

func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.IsRunning() {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	var err error
	if a.stdio != nil {
		err = a.startStdio(runCtx, done)
	} else {
		err = a.startHost(ctx, runCtx, done)
	}
	if err != nil {
		cancel()
		return &messaging.TransportError{Platform: a.Name(), Op: "open " + string(a.cfg.Mode), Err: err}
	}

	a.cancel = cancel
	a.done = done
	a.SetRunning(true)
	return nil
}

// Stop ends inbound processing. In line-framed mode an input that can be
// closed is closed; the process's stdin is left open.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.IsRunning() {
		return nil
	}
	a.SetRunning(false)
	a.cancel()

	var err error
	if a.stdio != nil {
		err = a.stopStdio(ctx, a.done)
	} else {
		err = a.stopHost(ctx, a.done)
	}
	a.cancel = nil
	a.done = nil
	return err
}

func (a *Adapter) Connections() int {
	if !a.IsRunning() {
		return 0
	}
	if a.stdio != nil {
		return a.stdio.connections()
	}
	return a.host.connections()
}

func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	a.out(messaging.MessageFrame(conversationID, text))
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, conversationID string) error {
	a.out(messaging.TypingFrame(conversationID))
	return nil
}

func (a *Adapter) StopTyping(ctx context.Context, conversationID string) error {
	a.out(messaging.StopTypingFrame(conversationID))
	return nil
}

func (a *Adapter) React(ctx context.Context, conversationID, messageID, emoji string) error {
	a.out(messaging.ReactionFrame(conversationID, messageID, emoji))
	return nil
}

func (a *Adapter) out(f messaging.Frame) {
	if !a.IsRunning() {
		a.Dropped(f.ConversationID, f.Type)
		return
	}
	if a.stdio != nil {
		a.writeStdio(f)
		return
	}
	a.writeHost(f)
}

// handleFrame applies the shared validation and builds the message both
// modes dispatch.
func (a *Adapter) handleFrame(ctx context.Context, f messaging.InboundFrame) {
	if !f.IsMessage() || f.Validate() != nil {
		return
	}
	msg := messaging.BuildMessage(f, messaging.Defaults{
		Platform:       a.Name(),
		ConversationID: a.cfg.ConversationID,
		Sender:         a.cfg.Sender,
	})
	a.Dispatch(ctx, msg, false)
}
