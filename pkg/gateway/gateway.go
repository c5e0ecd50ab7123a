// Package gateway assembles the configured transports, the routing registry
// and the engine into one running service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tinyland-inc/switchboard/pkg/adapters/pipe"
	"github.com/tinyland-inc/switchboard/pkg/adapters/socket"
	"github.com/tinyland-inc/switchboard/pkg/adapters/stream"
	"github.com/tinyland-inc/switchboard/pkg/config"
	"github.com/tinyland-inc/switchboard/pkg/engine"
	anthropicengine "github.com/tinyland-inc/switchboard/pkg/engine/anthropic"
	openaiengine "github.com/tinyland-inc/switchboard/pkg/engine/openai"
	"github.com/tinyland-inc/switchboard/pkg/engine/rpc"
	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const component = "gateway"

// Platform names the gateway registers its transports under.
const (
	PlatformWeb     = "web"
	PlatformApp     = "app"
	PlatformDesktop = "desktop"
)

const shutdownTimeout = 10 * time.Second

// ErrEngineExited is returned by Run when the external engine process ends
// before the gateway is asked to stop.
var ErrEngineExited = errors.New("engine exited")

// Option customizes a Gateway.
type Option func(*Gateway)

// WithEngine replaces the configured engine. The factory receives the router
// the engine replies through.
func WithEngine(factory func(engine.Router) engine.Engine) Option {
	return func(g *Gateway) { g.engineFactory = factory }
}

// WithStdio sets the streams used by the desktop platform in stdio mode.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(g *Gateway) {
		g.stdin = in
		g.stdout = out
	}
}

// WithRegistryOptions passes options through to the registry.
func WithRegistryOptions(opts ...messaging.RegistryOption) Option {
	return func(g *Gateway) { g.registryOpts = append(g.registryOpts, opts...) }
}

// Gateway owns the registry, its adapters and the engine.
type Gateway struct {
	cfg      *config.Config
	registry *messaging.Registry
	engine   engine.Engine
	meter    *Meter
	proxy    *rpc.Proxy

	engineFactory func(engine.Router) engine.Engine
	registryOpts  []messaging.RegistryOption
	stdin         io.Reader
	stdout        io.Writer

	web     *socket.Adapter
	app     *stream.Adapter
	desktop *pipe.Adapter
}

// New builds every enabled adapter and the engine from cfg.
func New(cfg *config.Config, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	g := &Gateway{cfg: cfg, meter: NewMeter()}
	for _, opt := range opts {
		opt(g)
	}
	g.registry = messaging.NewRegistry(g.registryOpts...)

	if err := g.buildAdapters(); err != nil {
		return nil, err
	}

	eng, err := g.buildEngine()
	if err != nil {
		return nil, err
	}
	g.engine = g.meter.Wrap(cfg.AgentID, eng)
	g.registry.OnMessage(g.engine.Handle)
	return g, nil
}

func (g *Gateway) buildAdapters() error {
	p := g.cfg.Platforms

	if p.Web.Enabled {
		g.web = socket.New(socket.Config{
			Addr:             p.Web.Addr,
			Path:             p.Web.Path,
			Access:           p.Web.Adapter(),
			MaxMessageLength: p.Web.MaxMessageLength,
		})
		if err := g.registry.Register(PlatformWeb, g.web); err != nil {
			return err
		}
	}

	if p.App.Enabled {
		g.app = stream.New(stream.Config{
			Addr:             p.App.Addr,
			Access:           p.App.Adapter(),
			MaxMessageLength: p.App.MaxMessageLength,
			Heartbeat:        time.Duration(p.App.HeartbeatSeconds) * time.Second,
			QueueSize:        p.App.QueueSize,
		})
		if err := g.registry.Register(PlatformApp, g.app); err != nil {
			return err
		}
	}

	if p.Desktop.Enabled {
		pc := pipe.Config{
			Mode:             pipe.Mode(p.Desktop.Mode),
			Access:           p.Desktop.Adapter(),
			MaxMessageLength: p.Desktop.MaxMessageLength,
			ConversationID:   p.Desktop.ConversationID,
			Sender:           p.Desktop.Sender,
			Input:            g.stdin,
			Output:           g.stdout,
			ChannelPrefix:    p.Desktop.ChannelPrefix,
		}
		if pc.Mode == pipe.ModeHost {
			pc.Host = pipe.NewSocketHost(p.Desktop.SocketPath())
		}
		desktop, err := pipe.New(pc)
		if err != nil {
			return fmt.Errorf("desktop platform: %w", err)
		}
		g.desktop = desktop
		if err := g.registry.Register(PlatformDesktop, desktop); err != nil {
			return err
		}
	}
	return nil
}

func (g *Gateway) buildEngine() (engine.Engine, error) {
	if g.engineFactory != nil {
		return g.engineFactory(g.registry), nil
	}

	ec := g.cfg.Engine
	switch ec.Kind {
	case config.EngineEcho:
		return engine.NewEcho(g.registry, ec.EchoPrefix), nil
	case config.EngineRPC:
		g.proxy = rpc.New(rpc.Config{
			Command:    ec.Command,
			Args:       ec.Args,
			AgentID:    g.cfg.AgentID,
			Initialize: ec.Initialize,
		}, g.registry)
		return g.proxy, nil
	case config.EngineAnthropic:
		c := anthropicengine.New(anthropicengine.Options{
			APIKey:       ec.APIKey,
			BaseURL:      ec.APIBase,
			Model:        ec.Model,
			MaxTokens:    ec.MaxTokens,
			SystemPrompt: ec.SystemPrompt,
		})
		return engine.NewChat(g.registry, c, g.cfg.AgentID, engine.NewHistory(ec.HistoryTurns)), nil
	case config.EngineOpenAI:
		c := openaiengine.New(openaiengine.Options{
			APIKey:       ec.APIKey,
			BaseURL:      ec.APIBase,
			Model:        ec.Model,
			MaxTokens:    ec.MaxTokens,
			SystemPrompt: ec.SystemPrompt,
		})
		return engine.NewChat(g.registry, c, g.cfg.AgentID, engine.NewHistory(ec.HistoryTurns)), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", ec.Kind)
	}
}

// Registry returns the routing registry.
func (g *Gateway) Registry() *messaging.Registry { return g.registry }

// Meter returns the gateway's counters.
func (g *Gateway) Meter() *Meter { return g.meter }

// Web returns the socket adapter, or nil when the platform is disabled.
func (g *Gateway) Web() *socket.Adapter { return g.web }

// App returns the stream adapter, or nil when the platform is disabled.
func (g *Gateway) App() *stream.Adapter { return g.app }

// Desktop returns the pipe adapter, or nil when the platform is disabled.
func (g *Gateway) Desktop() *pipe.Adapter { return g.desktop }

// Run starts the engine and every adapter, then blocks until ctx is done or
// the external engine exits, and shuts everything down. Adapters that fail to
// start are reported and skipped.
func (g *Gateway) Run(ctx context.Context) error {
	events, unsubscribe := g.registry.Subscribe(64)
	defer unsubscribe()
	meterDone := make(chan struct{})
	go func() {
		defer close(meterDone)
		g.meter.Consume(context.WithoutCancel(ctx), events)
	}()

	var engineDone <-chan struct{}
	if g.proxy != nil {
		if err := g.proxy.Start(ctx); err != nil {
			return fmt.Errorf("starting engine: %w", err)
		}
		engineDone = g.proxy.Done()
	}

	g.registry.Start(ctx)
	logger.InfoCF(component, "Gateway running", map[string]any{
		"agent_id":  g.cfg.AgentID,
		"platforms": g.registry.Platforms(),
		"engine":    g.cfg.Engine.Kind,
	})

	var runErr error
	select {
	case <-ctx.Done():
	case <-engineDone:
		runErr = ErrEngineExited
		logger.ErrorC(component, "External engine exited, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := g.registry.Close(shutdownCtx); err != nil {
		logger.WarnCF(component, "Registry did not drain in time", map[string]any{"error": err.Error()})
	}
	if g.proxy != nil {
		if err := g.proxy.Stop(); err != nil {
			logger.WarnCF(component, "Engine stop failed", map[string]any{"error": err.Error()})
		}
	}
	<-meterDone

	logger.InfoC(component, "Gateway stopped")
	return runErr
}
