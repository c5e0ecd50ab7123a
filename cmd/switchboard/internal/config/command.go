package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal"
	"github.com/tinyland-inc/switchboard/pkg/config"
)

func NewConfigCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the configuration file",
		Example: `  switchboard config init
  switchboard config init --config ./switchboard.yaml --force
  switchboard config show`,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (default: ~/.switchboard/config.json)")

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(cmd.OutOrStdout(), configPath, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

func initConfig(w io.Writer, path string, force bool) error {
	if path == "" {
		path = internal.GetConfigPath()
	}
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}
	if err := config.SaveConfig(path, config.DefaultConfig()); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintf(w, "%s Config written to %s\n", internal.Logo, path)
	fmt.Fprintln(w, "Add conversation IDs to allowed_dms / allowed_groups before messages will be admitted.")
	return nil
}

// showConfig prints the config after defaults and the environment overlay are
// applied. The engine API key is masked.
func showConfig(w io.Writer, path string) error {
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return err
	}
	if cfg.Engine.APIKey != "" {
		cfg.Engine.APIKey = "********"
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
