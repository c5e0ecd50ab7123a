package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal"
	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal/chat"
	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal/config"
	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal/gateway"
	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal/version"
)

func NewSwitchboardCommand() *cobra.Command {
	short := fmt.Sprintf("%s switchboard - multi-transport messaging gateway v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:           "switchboard",
		Short:         short,
		Example:       "switchboard gateway --debug",
		SilenceUsage:  true,
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		chat.NewChatCommand(),
		config.NewConfigCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewSwitchboardCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
