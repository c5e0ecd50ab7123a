package chat

import (
	"github.com/spf13/cobra"
)

const defaultURL = "ws://127.0.0.1:8765/ws"

func NewChatCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running gateway over its socket transport",
		Args:  cobra.NoArgs,
		Example: `  switchboard chat
  switchboard chat --url ws://10.0.0.5:8765/ws --mention
  switchboard chat -m "hello"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return chatCmd(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", defaultURL, "Socket endpoint of the gateway")
	cmd.Flags().BoolVar(&opts.mention, "mention", false, "Mark every message as mentioning the agent")
	cmd.Flags().StringVarP(&opts.message, "message", "m", "", "Send one message, print the reply and exit")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", defaultReplyTimeout, "How long to wait for a reply with --message")

	return cmd
}
