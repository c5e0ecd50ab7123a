package pipe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

var openDMs = messaging.AdapterConfig{AllowedDMs: []string{messaging.Wildcard}}

// lineSink collects newline-delimited output.
type lineSink struct {
	mu    sync.Mutex
	buf   []byte
	lines chan string
}

func newLineSink() *lineSink { return &lineSink{lines: make(chan string, 64)} }

func (s *lineSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	for {
		i := strings.IndexByte(string(s.buf), '\n')
		if i < 0 {
			break
		}
		s.lines <- string(s.buf[:i])
		s.buf = s.buf[i+1:]
	}
	return len(p), nil
}

func (s *lineSink) next(t *testing.T) messaging.Frame {
	t.Helper()
	select {
	case line := <-s.lines:
		var f messaging.Frame
		require.NoError(t, json.Unmarshal([]byte(line), &f), "line %q", line)
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no output line")
		return messaging.Frame{}
	}
}

func (s *lineSink) empty(t *testing.T) {
	t.Helper()
	select {
	case line := <-s.lines:
		t.Fatalf("unexpected output: %s", line)
	case <-time.After(50 * time.Millisecond):
	}
}

type stdioHarness struct {
	adapter  *Adapter
	registry *messaging.Registry
	input    *io.PipeWriter
	output   *lineSink
	inbound  chan messaging.Message
}

func newStdioHarness(t *testing.T) *stdioHarness {
	t.Helper()
	inR, inW := io.Pipe()
	out := newLineSink()
	a, err := New(Config{Mode: ModeStdio, Access: openDMs, Input: inR, Output: out})
	require.NoError(t, err)

	r := messaging.NewRegistry()
	require.NoError(t, r.Register("desktop", a))
	h := &stdioHarness{adapter: a, registry: r, input: inW, output: out, inbound: make(chan messaging.Message, 8)}
	r.OnMessage(func(ctx context.Context, msg messaging.Message) error {
		h.inbound <- msg
		return nil
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		inW.Close()
		r.Close(ctx)
	})
	return h
}

func (h *stdioHarness) writeLine(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(h.input, line+"\n")
	require.NoError(t, err)
}

func (h *stdioHarness) next(t *testing.T) messaging.Message {
	t.Helper()
	select {
	case msg := <-h.inbound:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return messaging.Message{}
	}
}

func TestStdio_RoundTrip(t *testing.T) {
	h := newStdioHarness(t)
	require.NoError(t, h.adapter.Start(context.Background()))
	assert.Equal(t, messaging.ConnectedFrame(DefaultConversationID), h.output.next(t))
	assert.Equal(t, 1, h.adapter.Connections())

	h.writeLine(t, `{"type":"message","text":"hi"}`)
	msg := h.next(t)
	assert.Equal(t, "desktop", msg.Platform)
	assert.Equal(t, DefaultConversationID, msg.ConversationID)
	assert.Equal(t, DefaultSender, msg.Sender)
	assert.Equal(t, "hi", msg.Text)

	ctx := context.Background()
	require.NoError(t, h.registry.SendTyping(ctx, "desktop", msg.ConversationID))
	require.NoError(t, h.registry.SendMessage(ctx, "desktop", msg.ConversationID, "reply"))
	assert.Equal(t, messaging.TypingFrame(DefaultConversationID), h.output.next(t))
	assert.Equal(t, messaging.MessageFrame(DefaultConversationID, "reply"), h.output.next(t))
}

func TestStdio_MalformedAndIgnoredLines(t *testing.T) {
	h := newStdioHarness(t)
	require.NoError(t, h.adapter.Start(context.Background()))
	h.output.next(t)

	h.writeLine(t, `not json`)
	assert.Equal(t, messaging.ErrorFrame("Invalid JSON frame"), h.output.next(t))

	h.writeLine(t, ``)
	h.writeLine(t, `{"type":"status"}`)
	h.writeLine(t, `{"type":"message"}`)
	h.writeLine(t, `{"type":"message","conversationId":"side","sender":"ann","text":"explicit"}`)

	msg := h.next(t)
	assert.Equal(t, "side", msg.ConversationID)
	assert.Equal(t, "ann", msg.Sender)
	h.output.empty(t)
}

func TestStdio_EOFEmitsDisconnected(t *testing.T) {
	h := newStdioHarness(t)
	events, cancel := h.registry.Subscribe(8)
	defer cancel()

	require.NoError(t, h.adapter.Start(context.Background()))
	h.output.next(t)
	h.input.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == messaging.EventDisconnected {
				assert.Equal(t, "desktop", ev.Platform)
				assert.Equal(t, 0, h.adapter.Connections())
				return
			}
		case <-deadline:
			t.Fatal("no disconnected event")
		}
	}
}

func TestStdio_StopDropsFurtherOutput(t *testing.T) {
	h := newStdioHarness(t)
	require.NoError(t, h.adapter.Start(context.Background()))
	require.NoError(t, h.adapter.Start(context.Background()))
	h.output.next(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.adapter.Stop(ctx))
	require.NoError(t, h.adapter.Stop(ctx))
	assert.False(t, h.adapter.IsRunning())
	assert.Equal(t, 0, h.adapter.Connections())

	require.NoError(t, h.registry.SendMessage(context.Background(), "desktop", DefaultConversationID, "late"))
	h.output.empty(t)
}

// openReader hides Close so Stop cannot end the input, as with os.Stdin.
type openReader struct{ io.Reader }

func TestStdio_RestartKeepsReading(t *testing.T) {
	inR, inW := io.Pipe()
	out := newLineSink()
	a, err := New(Config{Mode: ModeStdio, Access: openDMs, Input: openReader{inR}, Output: out})
	require.NoError(t, err)

	r := messaging.NewRegistry()
	require.NoError(t, r.Register("desktop", a))
	inbound := make(chan messaging.Message, 8)
	r.OnMessage(func(_ context.Context, msg messaging.Message) error {
		inbound <- msg
		return nil
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		inW.Close()
		r.Close(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	r.Start(ctx, "desktop")
	out.next(t)
	r.Stop(ctx, "desktop")
	assert.False(t, a.IsRunning())
	r.Start(ctx, "desktop")
	require.True(t, a.IsRunning())
	out.next(t)

	for _, text := range []string{"first after restart", "second"} {
		_, err := io.WriteString(inW, `{"type":"message","text":"`+text+`"}`+"\n")
		require.NoError(t, err)
		select {
		case msg := <-inbound:
			assert.Equal(t, text, msg.Text)
		case <-time.After(2 * time.Second):
			t.Fatalf("%q was not dispatched after restart", text)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Mode: ModeHost})
	assert.Error(t, err)

	_, err = New(Config{Mode: "electron"})
	assert.Error(t, err)

	_, err = New(Config{Mode: ModeHost, Host: newFakeHost(), ChannelPrefix: "../x"})
	assert.Error(t, err)

	a, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, ModeStdio, a.Mode())
}

type fakeHost struct {
	mu       sync.Mutex
	openErr  error
	open     bool
	handlers map[string]func(Peer, messaging.InboundFrame)
}

func newFakeHost() *fakeHost {
	return &fakeHost{handlers: make(map[string]func(Peer, messaging.InboundFrame))}
}

func (h *fakeHost) Open(ctx context.Context) error {
	if h.openErr != nil {
		return h.openErr
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = true
	return nil
}

func (h *fakeHost) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.open = false
	return nil
}

func (h *fakeHost) Listen(channel string, fn func(Peer, messaging.InboundFrame)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[channel] = fn
}

func (h *fakeHost) Unlisten(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, channel)
}

func (h *fakeHost) emit(channel string, p Peer, f messaging.InboundFrame) bool {
	h.mu.Lock()
	fn := h.handlers[channel]
	h.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(p, f)
	return true
}

type sent struct {
	channel string
	frame   messaging.Frame
}

type fakePeer struct {
	mu   sync.Mutex
	sent []sent
	dead bool
}

func (p *fakePeer) Send(channel string, f messaging.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sent{channel, f})
	return nil
}

func (p *fakePeer) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.dead
}

func (p *fakePeer) kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dead = true
}

func (p *fakePeer) frames() []sent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sent(nil), p.sent...)
}

func newHostAdapter(t *testing.T, host Host) (*Adapter, *messaging.Registry, chan messaging.Message) {
	t.Helper()
	a, err := New(Config{Mode: ModeHost, Access: openDMs, Host: host, ChannelPrefix: "mya"})
	require.NoError(t, err)
	r := messaging.NewRegistry()
	require.NoError(t, r.Register("desktop", a))
	inbound := make(chan messaging.Message, 8)
	r.OnMessage(func(ctx context.Context, msg messaging.Message) error {
		inbound <- msg
		return nil
	})
	t.Cleanup(func() { r.Close(context.Background()) })
	return a, r, inbound
}

func TestHost_RepliesGoToRememberedPeer(t *testing.T) {
	host := newFakeHost()
	a, r, inbound := newHostAdapter(t, host)
	require.NoError(t, a.Start(context.Background()))

	first, second := &fakePeer{}, &fakePeer{}
	require.True(t, host.emit("mya:message", first, messaging.InboundFrame{Type: "message", Text: "from first"}))
	require.True(t, host.emit("mya:message", second, messaging.InboundFrame{Type: "message", ConversationID: "win-2", Text: "from second"}))
	<-inbound
	<-inbound
	assert.Equal(t, 2, a.Connections())

	ctx := context.Background()
	require.NoError(t, r.SendMessage(ctx, "desktop", "win-2", "to second"))
	require.NoError(t, r.React(ctx, "desktop", DefaultConversationID, "m1", "ok"))
	require.NoError(t, r.StopTyping(ctx, "desktop", "unknown-conv"))

	assert.Equal(t, []sent{{"mya:send", messaging.MessageFrame("win-2", "to second")}}, second.frames())
	assert.Equal(t, []sent{
		{"mya:reaction", messaging.ReactionFrame(DefaultConversationID, "m1", "ok")},
		{"mya:stop_typing", messaging.StopTypingFrame("unknown-conv")},
	}, first.frames())
}

func TestHost_DeadPeerFallsBackOrDrops(t *testing.T) {
	host := newFakeHost()
	a, r, inbound := newHostAdapter(t, host)
	require.NoError(t, a.Start(context.Background()))
	events, cancel := r.Subscribe(8)
	defer cancel()

	first, second := &fakePeer{}, &fakePeer{}
	host.emit("mya:message", first, messaging.InboundFrame{Type: "message", Text: "a"})
	host.emit("mya:message", second, messaging.InboundFrame{Type: "message", ConversationID: "c2", Text: "b"})
	<-inbound
	<-inbound

	second.kill()
	require.NoError(t, r.SendTyping(context.Background(), "desktop", "c2"))
	assert.Equal(t, []sent{{"mya:typing", messaging.TypingFrame("c2")}}, first.frames())

	first.kill()
	require.NoError(t, r.SendTyping(context.Background(), "desktop", "c2"))
	assert.Equal(t, 0, a.Connections())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == messaging.EventDropped {
				assert.Equal(t, "c2", ev.ConversationID)
				return
			}
		case <-deadline:
			t.Fatal("no dropped event")
		}
	}
}

func TestHost_InvalidFramesIgnored(t *testing.T) {
	host := newFakeHost()
	a, _, inbound := newHostAdapter(t, host)
	require.NoError(t, a.Start(context.Background()))

	p := &fakePeer{}
	host.emit("mya:message", p, messaging.InboundFrame{Type: "message"})
	host.emit("mya:message", p, messaging.InboundFrame{Type: "typing", Text: "x"})
	assert.False(t, host.emit("mya:other", p, messaging.InboundFrame{Type: "message", Text: "x"}))

	select {
	case msg := <-inbound:
		t.Fatalf("unexpected dispatch: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, a.Connections())
}

func TestHost_OpenFailureIsTransportError(t *testing.T) {
	host := newFakeHost()
	host.openErr = errors.New("no display")
	a, _, _ := newHostAdapter(t, host)

	err := a.Start(context.Background())
	var te *messaging.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "desktop", te.Platform)
	assert.False(t, a.IsRunning())
}

func TestHost_StopUnlistens(t *testing.T) {
	host := newFakeHost()
	a, _, _ := newHostAdapter(t, host)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, a.Stop(context.Background()))

	assert.False(t, host.emit("mya:message", &fakePeer{}, messaging.InboundFrame{Type: "message", Text: "x"}))
	assert.False(t, host.open)
}
