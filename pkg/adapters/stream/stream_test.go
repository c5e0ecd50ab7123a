package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

var openDMs = messaging.AdapterConfig{AllowedDMs: []string{messaging.Wildcard}}

type harness struct {
	adapter  *Adapter
	registry *messaging.Registry
	server   *httptest.Server
	inbound  chan messaging.Message
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	a := New(cfg)
	r := messaging.NewRegistry()
	require.NoError(t, r.Register("app", a))

	h := &harness{
		adapter:  a,
		registry: r,
		server:   httptest.NewServer(a.Handler()),
		inbound:  make(chan messaging.Message, 8),
	}
	r.OnMessage(func(ctx context.Context, msg messaging.Message) error {
		h.inbound <- msg
		return nil
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		a.Stop(ctx)
		h.server.Close()
		r.Close(ctx)
	})
	return h
}

func (h *harness) post(t *testing.T, body string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Post(h.server.URL+"/message", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

type eventStream struct {
	cancel context.CancelFunc
	body   io.ReadCloser
	reader *bufio.Reader
}

func (h *harness) subscribe(t *testing.T, conversationID string) *eventStream {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.server.URL+"/events/"+conversationID, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	s := &eventStream{cancel: cancel, body: resp.Body, reader: bufio.NewReader(resp.Body)}
	t.Cleanup(s.close)

	f := s.next(t)
	require.Equal(t, messaging.ConnectedFrame(conversationID), f)
	return s
}

func (s *eventStream) close() {
	s.cancel()
	s.body.Close()
}

// next returns the next data event, skipping heartbeat comments.
func (s *eventStream) next(t *testing.T) messaging.Frame {
	t.Helper()
	type result struct {
		f   messaging.Frame
		err error
	}
	ch := make(chan result, 1)
	go func() {
		for {
			line, err := s.reader.ReadString('\n')
			if err != nil {
				ch <- result{err: err}
				return
			}
			line = strings.TrimRight(line, "\n")
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var f messaging.Frame
			err = json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &f)
			ch <- result{f: f, err: err}
			return
		}
	}()
	select {
	case r := <-ch:
		require.NoError(t, r.err)
		return r.f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return messaging.Frame{}
	}
}

func TestStream_PostDispatches(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})

	status, body := h.post(t, `{"type":"message","conversationId":"c1","text":" hi ","isGroup":false}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, true, body["accepted"])
	assert.Equal(t, "c1", body["conversationId"])

	select {
	case msg := <-h.inbound:
		assert.Equal(t, "app", msg.Platform)
		assert.Equal(t, "c1", msg.ConversationID)
		assert.Equal(t, "c1", msg.Sender)
		assert.Equal(t, "hi", msg.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestStream_PostGeneratesConversationID(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})

	status, body := h.post(t, `{"text":"hello"}`)
	require.Equal(t, http.StatusAccepted, status)
	id, _ := body["conversationId"].(string)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "conversationId %q is not a uuid", id)
}

func TestStream_PostRejectsBadInput(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})

	status, body := h.post(t, `{not json`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "Invalid JSON", body["error"])

	status, body = h.post(t, `{"conversationId":"c1","text":"   "}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "text or image is required", body["error"])
}

func TestStream_PushReachesEveryViewer(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})
	s1 := h.subscribe(t, "c1")
	s2 := h.subscribe(t, "c1")
	require.Equal(t, 2, h.adapter.Connections())

	ctx := context.Background()
	require.NoError(t, h.registry.SendMessage(ctx, "app", "c1", "to both"))
	assert.Equal(t, messaging.MessageFrame("c1", "to both"), s1.next(t))
	assert.Equal(t, messaging.MessageFrame("c1", "to both"), s2.next(t))

	s1.close()
	require.Eventually(t, func() bool { return h.adapter.Connections() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, h.registry.SendTyping(ctx, "app", "c1"))
	require.NoError(t, h.registry.React(ctx, "app", "c1", "m1", "🎉"))
	assert.Equal(t, messaging.TypingFrame("c1"), s2.next(t))
	assert.Equal(t, messaging.ReactionFrame("c1", "m1", "🎉"), s2.next(t))
}

func TestStream_PushWithoutViewersIsDropped(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})
	events, cancel := h.registry.Subscribe(8)
	defer cancel()

	require.NoError(t, h.registry.SendMessage(context.Background(), "app", "nobody", "lost"))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == messaging.EventDropped {
				assert.Equal(t, "nobody", ev.ConversationID)
				return
			}
		case <-deadline:
			t.Fatal("no dropped event")
		}
	}
}

func TestStream_SlowSubscriberIsEvicted(t *testing.T) {
	a := New(Config{QueueSize: 1})
	sub, ok := a.subscribe("c1")
	require.True(t, ok)
	defer a.handlers.Done()

	require.NoError(t, a.Send(context.Background(), "c1", "one"))
	require.NoError(t, a.Send(context.Background(), "c1", "two"))

	select {
	case <-sub.done:
	default:
		t.Fatal("expected subscriber to be closed")
	}
	assert.Equal(t, 0, a.Connections())
}

func TestStream_Heartbeat(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs, Heartbeat: 20 * time.Millisecond})
	s := h.subscribe(t, "c1")

	done := make(chan string, 1)
	go func() {
		for {
			line, err := s.reader.ReadString('\n')
			if err != nil || line != "\n" {
				done <- line
				return
			}
		}
	}()
	select {
	case line := <-done:
		assert.Equal(t, ": heartbeat\n", line)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat")
	}
}

func TestStream_HealthCORSAndNotFound(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})
	h.subscribe(t, "c1")

	resp, err := http.Get(h.server.URL + "/health")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, float64(1), health["connections"])
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ := http.NewRequest(http.MethodOptions, h.server.URL+"/message", nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(h.server.URL + "/nope")
	require.NoError(t, err)
	var nf map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&nf))
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "Not found", nf["error"])
}

func TestStream_StopEndsStreams(t *testing.T) {
	h := newHarness(t, Config{Access: openDMs})
	s := h.subscribe(t, "c1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.adapter.Stop(ctx))
	assert.Equal(t, 0, h.adapter.Connections())

	_, err := io.ReadAll(s.reader)
	assert.NoError(t, err)

	resp, err := http.Get(h.server.URL + "/events/c1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStream_StartStopListener(t *testing.T) {
	a := New(Config{Addr: "127.0.0.1:0", Access: openDMs})
	require.NoError(t, a.Start(context.Background()))
	assert.True(t, a.IsRunning())

	resp, err := http.Get("http://" + a.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.IsRunning())
}

func TestStream_StartFailsWhenAddressTaken(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	err = New(Config{Addr: ln.Addr().String()}).Start(context.Background())
	var te *messaging.TransportError
	assert.True(t, errors.As(err, &te), "expected *TransportError, got %v", err)
}
