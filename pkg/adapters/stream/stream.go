// Package stream implements the request/response plus server-push transport:
// messages arrive as HTTP POSTs and replies leave over Server-Sent Events
// streams, any number of which may watch one conversation.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinyland-inc/switchboard/pkg/listener"
	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const (
	component = "stream"

	DefaultAddr      = ":3001"
	DefaultHeartbeat = 25 * time.Second

	defaultQueueSize = 32
	maxBodyBytes     = 1 << 20
)

// Config configures the stream adapter.
type Config struct {
	Addr             string
	Access           messaging.AdapterConfig
	MaxMessageLength int
	// Heartbeat is the interval between keep-alive comments on idle streams.
	Heartbeat time.Duration
	// QueueSize bounds the frames buffered per subscriber. A subscriber whose
	// queue is full is disconnected.
	QueueSize int
}

// Adapter is the HTTP + SSE transport.
type Adapter struct {
	*messaging.Base
	cfg    Config
	server *listener.Server

	mu       sync.RWMutex
	streams  map[string]map[*subscriber]struct{}
	closed   bool
	handlers sync.WaitGroup
}

type subscriber struct {
	conversationID string
	queue          chan []byte
	done           chan struct{}
	once           sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

func New(cfg Config) *Adapter {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	a := &Adapter{
		Base: messaging.NewBase(messaging.KindStream, cfg.Access, messaging.Capabilities{
			Typing:    true,
			Reactions: true,
		}, messaging.WithMaxMessageLength(cfg.MaxMessageLength)),
		cfg:     cfg,
		streams: make(map[string]map[*subscriber]struct{}),
	}
	a.server = listener.New(cfg.Addr, a.Handler(), component)
	return a
}

// Handler returns the adapter's routes wrapped with CORS handling.
func (a *Adapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /message", a.handleMessage)
	mux.HandleFunc("GET /events/{conversationId}", a.handleEvents)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Not found"})
	})
	return withCORS(mux)
}

func (a *Adapter) Start(ctx context.Context) error {
	if a.IsRunning() {
		return nil
	}
	a.mu.Lock()
	a.closed = false
	a.mu.Unlock()

	if err := a.server.Start(ctx); err != nil {
		return &messaging.TransportError{Platform: a.Name(), Op: "listen", Err: err}
	}
	a.SetRunning(true)
	logger.InfoCF(component, "Stream adapter started", map[string]any{
		"platform": a.Name(),
		"url":      "http://" + a.server.Addr(),
	})
	return nil
}

// Stop ends every subscription, waits for the stream handlers to return and
// shuts the listener down.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	for id, set := range a.streams {
		for sub := range set {
			sub.close()
		}
		delete(a.streams, id)
	}
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.handlers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if serr := a.server.Stop(ctx); serr != nil && err == nil {
		err = serr
	}
	if a.IsRunning() {
		logger.InfoCF(component, "Stream adapter stopped", map[string]any{"platform": a.Name()})
	}
	a.SetRunning(false)
	return err
}

// Addr returns the address the adapter listens on.
func (a *Adapter) Addr() string {
	return a.server.Addr()
}

// Connections returns the number of open subscriptions.
func (a *Adapter) Connections() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, set := range a.streams {
		n += len(set)
	}
	return n
}

func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	return a.push(conversationID, messaging.MessageFrame(conversationID, text))
}

func (a *Adapter) SendTyping(ctx context.Context, conversationID string) error {
	return a.push(conversationID, messaging.TypingFrame(conversationID))
}

func (a *Adapter) StopTyping(ctx context.Context, conversationID string) error {
	return a.push(conversationID, messaging.StopTypingFrame(conversationID))
}

func (a *Adapter) React(ctx context.Context, conversationID, messageID, emoji string) error {
	return a.push(conversationID, messaging.ReactionFrame(conversationID, messageID, emoji))
}

// push queues f on every subscription of the conversation. A subscriber
// that cannot keep up is disconnected without affecting the others.
func (a *Adapter) push(conversationID string, f messaging.Frame) error {
	data, err := encodeEvent(f)
	if err != nil {
		return err
	}

	a.mu.Lock()
	set := a.streams[conversationID]
	delivered := 0
	for sub := range set {
		select {
		case sub.queue <- data:
			delivered++
		default:
			logger.WarnCF(component, "Subscriber too slow, disconnecting", map[string]any{
				"platform":        a.Name(),
				"conversation_id": conversationID,
			})
			a.removeLocked(sub)
			sub.close()
		}
	}
	a.mu.Unlock()

	if delivered == 0 {
		a.Dropped(conversationID, f.Type)
	}
	return nil
}

func encodeEvent(f messaging.Frame) ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	return fmt.Appendf(nil, "data: %s\n\n", b), nil
}

func (a *Adapter) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]any{"error": "Request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}

	f, err := messaging.DecodeFrame(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid JSON"})
		return
	}
	if err := f.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	id := f.ConversationID
	if id == "" {
		id = uuid.NewString()
	}
	msg := messaging.BuildMessage(f, messaging.Defaults{
		Platform:       a.Name(),
		ConversationID: id,
		Sender:         id,
	})
	a.Dispatch(r.Context(), msg, false)

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "conversationId": id})
}

func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("conversationId")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Streaming unsupported"})
		return
	}

	sub, ok := a.subscribe(id)
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Shutting down"})
		return
	}
	defer a.handlers.Done()
	defer a.unsubscribe(sub)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connected, _ := encodeEvent(messaging.ConnectedFrame(id))
	if _, err := w.Write(connected); err != nil {
		return
	}
	flusher.Flush()

	logger.InfoCF(component, "Stream opened", map[string]any{
		"platform":        a.Name(),
		"conversation_id": id,
	})
	a.Emit(messaging.EventConnected, id, nil)
	defer a.Emit(messaging.EventDisconnected, id, nil)

	heartbeat := time.NewTicker(a.cfg.Heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.done:
			return
		case data := <-sub.queue:
			if _, err := w.Write(data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (a *Adapter) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": a.Connections()})
}

// subscribe adds a subscription for the conversation. It reports false once
// the adapter is stopping. Callers must call handlers.Done when finished.
func (a *Adapter) subscribe(conversationID string) (*subscriber, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, false
	}
	sub := &subscriber{
		conversationID: conversationID,
		queue:          make(chan []byte, a.cfg.QueueSize),
		done:           make(chan struct{}),
	}
	set, ok := a.streams[conversationID]
	if !ok {
		set = make(map[*subscriber]struct{})
		a.streams[conversationID] = set
	}
	set[sub] = struct{}{}
	a.handlers.Add(1)
	return sub, true
}

func (a *Adapter) unsubscribe(sub *subscriber) {
	a.mu.Lock()
	a.removeLocked(sub)
	a.mu.Unlock()
	sub.close()
	logger.DebugCF(component, "Stream closed", map[string]any{
		"platform":        a.Name(),
		"conversation_id": sub.conversationID,
	})
}

func (a *Adapter) removeLocked(sub *subscriber) {
	set, ok := a.streams[sub.conversationID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(a.streams, sub.conversationID)
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
