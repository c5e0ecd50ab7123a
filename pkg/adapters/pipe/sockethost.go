package pipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

// SocketHost is a Host over a unix domain socket. Each accepted connection is
// a Peer; both directions carry a stream of CBOR Envelopes.
type SocketHost struct {
	path string

	mu       sync.RWMutex
	ln       net.Listener
	handlers map[string]func(Peer, messaging.InboundFrame)
	peers    map[*socketPeer]struct{}
	wg       sync.WaitGroup
}

func NewSocketHost(path string) *SocketHost {
	return &SocketHost{
		path:     path,
		handlers: make(map[string]func(Peer, messaging.InboundFrame)),
		peers:    make(map[*socketPeer]struct{}),
	}
}

// Path returns the socket path.
func (h *SocketHost) Path() string { return h.path }

func (h *SocketHost) Open(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ln != nil {
		return nil
	}

	if err := removeStaleSocket(h.path); err != nil {
		return err
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "unix", h.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.path, err)
	}
	if err := os.Chmod(h.path, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod %s: %w", h.path, err)
	}
	h.ln = ln

	h.wg.Add(1)
	go h.accept(ln)
	return nil
}

func (h *SocketHost) Close() error {
	h.mu.Lock()
	ln := h.ln
	h.ln = nil
	for p := range h.peers {
		p.close()
	}
	h.mu.Unlock()

	if ln == nil {
		return nil
	}
	err := ln.Close()
	h.wg.Wait()
	os.Remove(h.path)
	return err
}

func (h *SocketHost) Listen(channel string, fn func(Peer, messaging.InboundFrame)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[channel] = fn
}

func (h *SocketHost) Unlisten(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, channel)
}

// Peers returns the number of connected peers.
func (h *SocketHost) Peers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *SocketHost) accept(ln net.Listener) {
	defer h.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.WarnCF(component, "Accept failed", map[string]any{"error": err.Error()})
			}
			return
		}
		p := &socketPeer{conn: conn, enc: encMode.NewEncoder(conn)}
		p.alive.Store(true)

		h.mu.Lock()
		if h.ln == nil {
			h.mu.Unlock()
			conn.Close()
			return
		}
		h.peers[p] = struct{}{}
		h.mu.Unlock()

		h.wg.Add(1)
		go h.serve(p)
	}
}

func (h *SocketHost) serve(p *socketPeer) {
	defer h.wg.Done()
	defer func() {
		p.close()
		h.mu.Lock()
		delete(h.peers, p)
		h.mu.Unlock()
	}()

	dec := decMode.NewDecoder(p.conn)
	for {
		var env Envelope
		if err := dec.Decode(&env); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.DebugCF(component, "Peer stream ended", map[string]any{"error": err.Error()})
			}
			return
		}

		h.mu.RLock()
		fn := h.handlers[env.Channel]
		h.mu.RUnlock()
		if fn == nil {
			continue
		}

		var f messaging.InboundFrame
		if err := decMode.Unmarshal(env.Frame, &f); err != nil {
			p.Send(errorChannel(env.Channel), messaging.ErrorFrame("Invalid CBOR frame"))
			continue
		}
		fn(p, f)
	}
}

// errorChannel maps "<prefix>:message" to "<prefix>:error".
func errorChannel(inbound string) string {
	for i := len(inbound) - 1; i >= 0; i-- {
		if inbound[i] == ':' {
			return inbound[:i+1] + "error"
		}
	}
	return "error"
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}

type socketPeer struct {
	conn  net.Conn
	mu    sync.Mutex
	enc   *cbor.Encoder
	alive atomic.Bool
}

func (p *socketPeer) Send(channel string, f messaging.Frame) error {
	env, err := newEnvelope(channel, f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.alive.Load() {
		return net.ErrClosed
	}
	return p.enc.Encode(env)
}

func (p *socketPeer) Alive() bool { return p.alive.Load() }

func (p *socketPeer) close() {
	if p.alive.CompareAndSwap(true, false) {
		p.conn.Close()
	}
}

// HostConn is the client side of a SocketHost connection, used by desktop
// shells and tests.
type HostConn struct {
	conn net.Conn
	mu   sync.Mutex
	enc  *cbor.Encoder
	dec  *cbor.Decoder
}

// DialHost connects to a SocketHost at path.
func DialHost(ctx context.Context, path string) (*HostConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &HostConn{conn: conn, enc: encMode.NewEncoder(conn), dec: decMode.NewDecoder(conn)}, nil
}

// Send writes an inbound frame on channel.
func (c *HostConn) Send(channel string, f messaging.InboundFrame) error {
	env, err := newEnvelope(channel, f)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.Encode(env)
}

// Receive blocks for the next outbound frame and the channel it came on.
func (c *HostConn) Receive() (string, messaging.Frame, error) {
	var env Envelope
	if err := c.dec.Decode(&env); err != nil {
		return "", messaging.Frame{}, err
	}
	var f messaging.Frame
	if err := decMode.Unmarshal(env.Frame, &f); err != nil {
		return env.Channel, messaging.Frame{}, err
	}
	return env.Channel, f, nil
}

// SetReadDeadline bounds the next Receive.
func (c *HostConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *HostConn) Close() error { return c.conn.Close() }
