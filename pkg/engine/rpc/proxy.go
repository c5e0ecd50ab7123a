// Package rpc runs an external reasoning engine as a subprocess and talks to
// it with Content-Length framed JSON-RPC 2.0 over STDIO.
//
// The gateway sends every admitted message as a "message" notification. The
// engine answers by calling back into the gateway with requests such as
// "send" or "typing"; each request names its own platform and conversation.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/tinyland-inc/switchboard/pkg/engine"
	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const component = "rpc"

// ErrNotRunning is returned when a call is made before Start or after Stop.
var ErrNotRunning = errors.New("engine proxy is not running")

// Config describes the engine subprocess.
type Config struct {
	Command string
	Args    []string
	Env     []string
	Dir     string

	// AgentID is used to derive the session key sent with every message.
	AgentID string
	// Initialize sends an "initialize" request after start and waits for it.
	Initialize bool
}

// MessageParams are the parameters of the "message" notification.
type MessageParams struct {
	Message    messaging.Message `json:"message"`
	SessionKey string            `json:"sessionKey"`
}

// InitializeParams are the parameters of the "initialize" request.
type InitializeParams struct {
	AgentID   string                     `json:"agentId"`
	Platforms []messaging.PlatformStatus `json:"platforms"`
}

// Proxy manages the engine subprocess and both directions of the RPC channel.
// It implements engine.Engine.
type Proxy struct {
	cfg    Config
	router engine.Router

	mu      sync.Mutex
	cmd     *exec.Cmd
	w       io.WriteCloser
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	writeMu    sync.Mutex
	nextID     atomic.Uint64
	callbacks  map[string]chan RPCResponse
	callbackMu sync.Mutex
}

// New creates a Proxy that routes engine requests to router.
func New(cfg Config, router engine.Router) *Proxy {
	return &Proxy{
		cfg:       cfg,
		router:    router,
		callbacks: make(map[string]chan RPCResponse),
	}
}

// Start spawns the engine binary and attaches to its STDIO.
func (p *Proxy) Start(ctx context.Context) error {
	if p.cfg.Command == "" {
		return errors.New("engine command is required")
	}
	if p.IsRunning() {
		return fmt.Errorf("engine proxy already running")
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = append(os.Environ(), p.cfg.Env...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start engine %s: %w", p.cfg.Command, err)
	}

	p.mu.Lock()
	p.cmd = cmd
	p.mu.Unlock()

	if err := p.Attach(ctx, stdout, stdin); err != nil {
		return err
	}
	logger.InfoCF(component, "Engine started", map[string]any{
		"command": p.cfg.Command,
		"pid":     cmd.Process.Pid,
	})
	return nil
}

// Attach runs the proxy over an already established byte stream: r carries
// frames from the engine and w carries frames to it.
func (p *Proxy) Attach(ctx context.Context, r io.Reader, w io.WriteCloser) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("engine proxy already running")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.w = w
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	done := p.done
	p.mu.Unlock()

	go p.readLoop(runCtx, bufio.NewReader(r), done)

	if !p.cfg.Initialize {
		return nil
	}
	params := InitializeParams{AgentID: p.cfg.AgentID, Platforms: p.router.Statuses()}
	if err := p.Call(ctx, "initialize", params, nil); err != nil {
		_ = p.Stop()
		return fmt.Errorf("initializing engine: %w", err)
	}
	return nil
}

// Stop closes the engine's input and waits for the subprocess, if any.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	cmd, w, cancel := p.cmd, p.w, p.cancel
	p.cmd = nil
	p.mu.Unlock()

	cancel()
	if w != nil {
		w.Close()
	}
	p.failPending()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Wait(); err != nil {
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				return fmt.Errorf("waiting for engine: %w", err)
			}
			logger.WarnCF(component, "Engine exited with error", map[string]any{"error": err.Error()})
		}
	}
	logger.InfoC(component, "Engine stopped")
	return nil
}

// IsRunning reports whether the proxy is attached to an engine.
func (p *Proxy) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed when the engine's output stream ends.
func (p *Proxy) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Handle forwards an admitted message to the engine as a notification.
func (p *Proxy) Handle(ctx context.Context, msg messaging.Message) error {
	return p.Notify(ctx, "message", MessageParams{
		Message:    msg,
		SessionKey: messaging.SessionKey(p.cfg.AgentID, "", msg),
	})
}

// Notify sends a notification to the engine.
func (p *Proxy) Notify(ctx context.Context, method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	return p.write(RPCRequest{JSONRPC: "2.0", Method: method, Params: raw})
}

// Call sends a request to the engine and waits for its response. result may
// be nil when the caller does not need the response body.
func (p *Proxy) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	id := json.RawMessage(strconv.FormatUint(p.nextID.Add(1), 10))
	ch := make(chan RPCResponse, 1)
	p.callbackMu.Lock()
	p.callbacks[string(id)] = ch
	p.callbackMu.Unlock()
	defer func() {
		p.callbackMu.Lock()
		delete(p.callbacks, string(id))
		p.callbackMu.Unlock()
	}()

	if err := p.write(RPCRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}); err != nil {
		return err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrNotRunning
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("failed to unmarshal result: %w", err)
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Proxy) write(v any) error {
	p.mu.Lock()
	w, running := p.w, p.running
	p.mu.Unlock()
	if !running {
		return ErrNotRunning
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return WriteFrame(w, data)
}

func (p *Proxy) readLoop(ctx context.Context, r *bufio.Reader, done chan struct{}) {
	defer close(done)
	defer p.failPending()

	for {
		data, err := ReadFrame(r)
		if err != nil {
			if p.IsRunning() && !errors.Is(err, io.EOF) {
				logger.ErrorCF(component, "Failed to read frame", map[string]any{"error": err.Error()})
			}
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logger.WarnCF(component, "Failed to parse frame", map[string]any{"error": err.Error()})
			_ = p.write(RPCResponse{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &RPCError{Code: CodeParseError, Message: "parse error"},
			})
			continue
		}

		if env.isResponse() {
			p.resolve(env)
			continue
		}

		go p.serve(ctx, env)
	}
}

func (p *Proxy) resolve(env envelope) {
	p.callbackMu.Lock()
	ch, ok := p.callbacks[string(env.ID)]
	if ok {
		delete(p.callbacks, string(env.ID))
	}
	p.callbackMu.Unlock()

	if !ok {
		logger.DebugCF(component, "Response for unknown request", map[string]any{"id": string(env.ID)})
		return
	}
	ch <- RPCResponse{JSONRPC: env.JSONRPC, ID: env.ID, Result: env.Result, Error: env.Error}
}

// failPending wakes every outstanding Call with ErrNotRunning.
func (p *Proxy) failPending() {
	p.callbackMu.Lock()
	defer p.callbackMu.Unlock()
	for id, ch := range p.callbacks {
		close(ch)
		delete(p.callbacks, id)
	}
}

func (p *Proxy) serve(ctx context.Context, env envelope) {
	result, rpcErr := p.dispatch(ctx, env.Method, env.Params)
	if env.isNotification() {
		if rpcErr != nil {
			logger.WarnCF(component, "Engine notification failed", map[string]any{
				"method": env.Method,
				"error":  rpcErr.Message,
			})
		}
		return
	}

	resp := RPCResponse{JSONRPC: "2.0", ID: env.ID, Error: rpcErr}
	if rpcErr == nil {
		raw, err := json.Marshal(result)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternalError, Message: err.Error()}
		} else {
			resp.Result = raw
		}
	}
	if err := p.write(resp); err != nil && !errors.Is(err, ErrNotRunning) {
		logger.ErrorCF(component, "Failed to write response", map[string]any{
			"method": env.Method,
			"error":  err.Error(),
		})
	}
}
