package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal"
	"github.com/tinyland-inc/switchboard/pkg/config"
	"github.com/tinyland-inc/switchboard/pkg/gateway"
	"github.com/tinyland-inc/switchboard/pkg/logger"
)

// Status lines go to stderr: the desktop platform may own stdout.
func gatewayCmd(ctx context.Context, configPath string, debug bool) error {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return err
	}
	internal.ApplyLogging(cfg, debug)
	if debug {
		fmt.Fprintln(os.Stderr, "🔍 Debug mode enabled")
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("error creating gateway: %w", err)
	}

	printStartup(cfg)

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.Run(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	logger.InfoCF("gateway", "Final counters", map[string]any{"platforms": gw.Meter().Snapshot()})
	fmt.Fprintln(os.Stderr, "✓ Gateway stopped")
	return nil
}

func printStartup(cfg *config.Config) {
	p := cfg.Platforms
	if p.Web.Enabled {
		fmt.Fprintf(os.Stderr, "✓ web: ws://%s%s\n", p.Web.Addr, p.Web.Path)
	}
	if p.App.Enabled {
		fmt.Fprintf(os.Stderr, "✓ app: POST http://%s/message\n", p.App.Addr)
	}
	if p.Desktop.Enabled {
		if p.Desktop.Mode == config.DesktopModeHost {
			fmt.Fprintf(os.Stderr, "✓ desktop: host channels on %s\n", p.Desktop.SocketPath())
		} else {
			fmt.Fprintln(os.Stderr, "✓ desktop: stdio")
		}
	}
	if !p.Web.Enabled && !p.App.Enabled && !p.Desktop.Enabled {
		fmt.Fprintln(os.Stderr, "⚠ Warning: No platforms enabled")
	}
	fmt.Fprintf(os.Stderr, "✓ Engine: %s\n", cfg.Engine.Kind)
	fmt.Fprintln(os.Stderr, "Press Ctrl+C to stop")
}
