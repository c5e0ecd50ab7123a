// Package socket implements the persistent duplex transport: one WebSocket
// connection per client, and each connection is its own conversation.
package socket

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/switchboard/pkg/listener"
	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const (
	component = "socket"

	DefaultAddr = ":8765"
	DefaultPath = "/ws"

	defaultPingInterval = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxFrameBytes       = 1 << 20
)

var errClosed = errors.New("connection closed")

// Config configures the socket adapter.
type Config struct {
	Addr             string
	Path             string
	Access           messaging.AdapterConfig
	MaxMessageLength int
	PingInterval     time.Duration
	WriteTimeout     time.Duration
	// CheckOrigin overrides the upgrader's origin check. Nil allows every origin.
	CheckOrigin func(r *http.Request) bool
}

// Adapter is the WebSocket transport.
type Adapter struct {
	*messaging.Base
	cfg      Config
	upgrader websocket.Upgrader
	server   *listener.Server

	mu      sync.RWMutex
	clients map[string]*client
	// stopped refuses upgrades that finish after Stop began. Guarded by mu.
	stopped bool
	conns   sync.WaitGroup
}

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
	open atomic.Bool
}

func New(cfg Config) *Adapter {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	a := &Adapter{
		Base: messaging.NewBase(messaging.KindSocket, cfg.Access, messaging.Capabilities{
			Typing:    true,
			Reactions: true,
			Broadcast: true,
		}, messaging.WithMaxMessageLength(cfg.MaxMessageLength)),
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		clients: make(map[string]*client),
	}
	a.server = listener.New(cfg.Addr, a.Handler(), component)
	return a
}

// Handler returns the upgrade endpoint so it can be mounted on an existing server.
func (a *Adapter) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+a.cfg.Path, a.handleUpgrade)
	return mux
}

func (a *Adapter) Start(ctx context.Context) error {
	if a.IsRunning() {
		return nil
	}
	a.mu.Lock()
	a.stopped = false
	a.mu.Unlock()
	if err := a.server.Start(ctx); err != nil {
		return &messaging.TransportError{Platform: a.Name(), Op: "listen", Err: err}
	}
	a.SetRunning(true)
	logger.InfoCF(component, "Socket adapter started", map[string]any{
		"platform": a.Name(),
		"url":      "ws://" + a.server.Addr() + a.cfg.Path,
	})
	return nil
}

// Stop closes every connection and the listener.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.stopped = true
	a.mu.Unlock()

	err := a.server.Stop(ctx)
	a.closeAllClients()

	done := make(chan struct{})
	go func() {
		a.conns.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	if a.IsRunning() {
		logger.InfoCF(component, "Socket adapter stopped", map[string]any{"platform": a.Name()})
	}
	a.SetRunning(false)
	return err
}

// Addr returns the address the adapter listens on.
func (a *Adapter) Addr() string {
	return a.server.Addr()
}

func (a *Adapter) Connections() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n := 0
	for _, c := range a.clients {
		if c.open.Load() {
			n++
		}
	}
	return n
}

func (a *Adapter) Send(ctx context.Context, conversationID, text string) error {
	a.push(conversationID, messaging.MessageFrame(conversationID, text))
	return nil
}

func (a *Adapter) SendTyping(ctx context.Context, conversationID string) error {
	a.push(conversationID, messaging.TypingFrame(conversationID))
	return nil
}

func (a *Adapter) StopTyping(ctx context.Context, conversationID string) error {
	a.push(conversationID, messaging.StopTypingFrame(conversationID))
	return nil
}

func (a *Adapter) React(ctx context.Context, conversationID, messageID, emoji string) error {
	a.push(conversationID, messaging.ReactionFrame(conversationID, messageID, emoji))
	return nil
}

// Broadcast writes f to every open connection and returns how many received it.
func (a *Adapter) Broadcast(f messaging.Frame) int {
	a.mu.RLock()
	targets := make([]*client, 0, len(a.clients))
	for _, c := range a.clients {
		targets = append(targets, c)
	}
	a.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if err := c.write(f, a.cfg.WriteTimeout); err == nil {
			sent++
		}
	}
	return sent
}

func (a *Adapter) push(conversationID string, f messaging.Frame) {
	a.mu.RLock()
	c := a.clients[conversationID]
	a.mu.RUnlock()

	if c == nil || !c.open.Load() {
		a.Dropped(conversationID, f.Type)
		return
	}
	if err := c.write(f, a.cfg.WriteTimeout); err != nil {
		logger.WarnCF(component, "Write failed, dropping frame", map[string]any{
			"platform":        a.Name(),
			"conversation_id": conversationID,
			"frame":           f.Type,
			"error":           err.Error(),
		})
		a.Dropped(conversationID, f.Type)
	}
}

func (a *Adapter) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnCF(component, "Upgrade failed", map[string]any{"error": err.Error()})
		return
	}
	c := &client{id: uuid.NewString(), conn: conn}
	c.open.Store(true)

	a.mu.Lock()
	if a.stopped {
		a.mu.Unlock()
		c.close(a.cfg.WriteTimeout)
		return
	}
	a.conns.Add(1)
	a.clients[c.id] = c
	a.mu.Unlock()
	defer a.conns.Done()

	logger.InfoCF(component, "Client connected", map[string]any{
		"platform":        a.Name(),
		"conversation_id": c.id,
		"remote":          r.RemoteAddr,
	})
	a.Emit(messaging.EventConnected, c.id, nil)

	defer func() {
		c.open.Store(false)
		conn.Close()
		a.mu.Lock()
		if a.clients[c.id] == c {
			delete(a.clients, c.id)
		}
		a.mu.Unlock()
		logger.InfoCF(component, "Client disconnected", map[string]any{
			"platform":        a.Name(),
			"conversation_id": c.id,
		})
		a.Emit(messaging.EventDisconnected, c.id, nil)
	}()

	if err := c.write(messaging.ConnectedFrame(c.id), a.cfg.WriteTimeout); err != nil {
		return
	}

	pongWait := 2 * a.cfg.PingInterval
	conn.SetReadLimit(maxFrameBytes)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go a.keepAlive(c, stopPing)

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.DebugCF(component, "Read failed", map[string]any{
					"conversation_id": c.id,
					"error":           err.Error(),
				})
			}
			return
		}
		a.handleFrame(ctx, c, data)
	}
}

func (a *Adapter) handleFrame(ctx context.Context, c *client, data []byte) {
	f, err := messaging.DecodeFrame(data)
	if err != nil {
		logger.DebugCF(component, "Malformed frame", map[string]any{
			"conversation_id": c.id,
			"error":           err.Error(),
		})
		c.write(messaging.ErrorFrame("Invalid JSON frame"), a.cfg.WriteTimeout)
		return
	}
	if !f.IsMessage() || f.Validate() != nil {
		return
	}

	msg := messaging.BuildMessage(f, messaging.Defaults{
		Platform:       a.Name(),
		ConversationID: c.id,
		Sender:         c.id,
	})
	// Replies can only reach this connection.
	msg.ConversationID = c.id
	a.Dispatch(ctx, msg, false)
}

func (a *Adapter) keepAlive(c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(a.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(a.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) closeAllClients() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, c := range a.clients {
		c.close(a.cfg.WriteTimeout)
		delete(a.clients, id)
	}
}

func (c *client) write(f messaging.Frame, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open.Load() {
		return errClosed
	}
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteJSON(f)
}

func (c *client) close(timeout time.Duration) {
	if !c.open.CompareAndSwap(true, false) {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	c.conn.Close()
}
