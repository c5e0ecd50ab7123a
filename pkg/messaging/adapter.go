package messaging

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/switchboard/pkg/logger"
)

// Kind identifies a transport family. Status reporting uses it instead of
// inspecting adapter internals.
type Kind string

const (
	KindSocket Kind = "socket"
	KindStream Kind = "stream"
	KindPipe   Kind = "pipe"
)

// Capabilities describes the optional outbound operations an adapter can
// express. Calls to an unsupported operation are accepted and do nothing.
type Capabilities struct {
	Typing    bool `json:"typing"`
	Reactions bool `json:"reactions"`
	Broadcast bool `json:"broadcast"`
	// MaxMessageLength is the chunk size in runes applied by the registry. Zero
	// disables splitting.
	MaxMessageLength int `json:"maxMessageLength"`
}

// Adapter is the contract every transport implements.
//
// Start is idempotent once it has succeeded and returns a *TransportError when
// the listener or channel cannot be acquired. Stop releases every connection
// and is safe to call on an adapter that never started. Outbound calls to a
// conversation without a live handle are dropped with a warning and return nil.
type Adapter interface {
	Kind() Kind
	Capabilities() Capabilities
	Connections() int
	IsRunning() bool

	// Bind attaches the adapter to the sink that receives its inbound
	// messages and lifecycle events, under the name it was registered with.
	Bind(name string, sink Sink)

	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	Send(ctx context.Context, conversationID, text string) error
	SendTyping(ctx context.Context, conversationID string) error
	StopTyping(ctx context.Context, conversationID string) error
	React(ctx context.Context, conversationID, messageID, emoji string) error
}

// Sink receives what an adapter produces.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
	Notify(ev Event)
}

// BaseOption is a functional option for configuring a Base.
type BaseOption func(*Base)

// WithMaxMessageLength sets the maximum message length (in runes) for an
// adapter. Longer outbound text is split by the registry. 0 means no limit.
func WithMaxMessageLength(n int) BaseOption {
	return func(b *Base) { b.caps.MaxMessageLength = n }
}

// Base carries the state shared by every adapter: the registered name and
// sink, the admission policy, the running flag and default no-op
// implementations of the optional outbound operations.
type Base struct {
	kind    Kind
	config  AdapterConfig
	caps    Capabilities
	running atomic.Bool

	mu   sync.RWMutex
	name string
	sink Sink
}

func NewBase(kind Kind, cfg AdapterConfig, caps Capabilities, opts ...BaseOption) *Base {
	b := &Base{
		kind:   kind,
		config: cfg,
		caps:   caps,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Base) Kind() Kind { return b.kind }

func (b *Base) Config() AdapterConfig { return b.config }

func (b *Base) Capabilities() Capabilities { return b.caps }

func (b *Base) IsRunning() bool { return b.running.Load() }

func (b *Base) SetRunning(running bool) { b.running.Store(running) }

func (b *Base) Bind(name string, sink Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.name = name
	b.sink = sink
}

// Name returns the platform name the adapter was registered under.
func (b *Base) Name() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name
}

func (b *Base) binding() (string, Sink) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.name, b.sink
}

func (b *Base) SendTyping(ctx context.Context, conversationID string) error { return nil }

func (b *Base) StopTyping(ctx context.Context, conversationID string) error { return nil }

func (b *Base) React(ctx context.Context, conversationID, messageID, emoji string) error {
	return nil
}

// Dispatch is the single path by which a parsed inbound message leaves an
// adapter. Unless skipAdmission is set the admission policy is applied first;
// a blocked message is logged with its reason and reported as EventBlocked.
// Dispatch reports whether the message was handed to the sink.
func (b *Base) Dispatch(ctx context.Context, msg Message, skipAdmission bool) bool {
	name, sink := b.binding()
	if sink == nil {
		logger.WarnCF(string(b.kind), "Adapter not registered, discarding message", map[string]any{
			"conversation_id": msg.ConversationID,
		})
		return false
	}
	if msg.Platform == "" {
		msg.Platform = name
	}

	if !skipAdmission {
		if ok, reason := ShouldRespond(msg, b.config); !ok {
			logger.InfoCF(string(b.kind), "Message blocked", map[string]any{
				"platform":        name,
				"conversation_id": msg.ConversationID,
				"sender":          msg.Sender,
				"reason":          string(reason),
			})
			sink.Notify(Event{
				Platform:       name,
				Type:           EventBlocked,
				ConversationID: msg.ConversationID,
				Reason:         string(reason),
			})
			return false
		}
	}

	if err := sink.Deliver(ctx, msg); err != nil {
		logger.WarnCF(string(b.kind), "Failed to hand message to registry", map[string]any{
			"platform":        name,
			"conversation_id": msg.ConversationID,
			"error":           err.Error(),
		})
		return false
	}
	return true
}

// Emit raises a lifecycle event for this adapter.
func (b *Base) Emit(t EventType, conversationID string, err error) {
	name, sink := b.binding()
	if sink == nil {
		return
	}
	sink.Notify(Event{Platform: name, Type: t, ConversationID: conversationID, Err: err})
}

// Dropped records an outbound call that found no live handle.
func (b *Base) Dropped(conversationID, frameType string) {
	name, sink := b.binding()
	logger.WarnCF(string(b.kind), "No live handle for conversation, dropping", map[string]any{
		"platform":        name,
		"conversation_id": conversationID,
		"frame":           frameType,
	})
	if sink != nil {
		sink.Notify(Event{
			Platform:       name,
			Type:           EventDropped,
			ConversationID: conversationID,
			Reason:         frameType,
			Err:            ErrNoRoute,
		})
	}
}
