package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/switchboard/cmd/switchboard/internal"
)

type options struct {
	url     string
	mention bool
	message string
	timeout time.Duration
}

func chatCmd(ctx context.Context, opts options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := dial(ctx, opts.url, opts.mention)
	if err != nil {
		return err
	}
	defer s.close()

	if opts.message != "" {
		if err := s.send(opts.message); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
		reply, err := s.awaitReply(opts.timeout)
		if err != nil {
			return fmt.Errorf("waiting for reply: %w", err)
		}
		fmt.Printf("\n%s %s\n", internal.Logo, reply)
		return nil
	}

	fmt.Printf("%s Connected to %s as %s (Ctrl+C to exit)\n\n", internal.Logo, opts.url, s.conversationID)
	return interactiveMode(s)
}

func interactiveMode(s *session) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", internal.Logo),
		HistoryFile:     filepath.Join(os.TempDir(), ".switchboard_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- s.printFrames(rl.Stdout())
		rl.Close()
	}()

	for {
		line, err := rl.Readline()
		if err != nil {
			select {
			case rerr := <-readErr:
				if rerr != nil {
					return fmt.Errorf("connection closed: %w", rerr)
				}
				fmt.Println("\nGateway closed the connection")
				return nil
			default:
			}
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("\nGoodbye!")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if isExit(input) {
			fmt.Println("Goodbye!")
			return nil
		}
		if err := s.send(input); err != nil {
			return fmt.Errorf("sending message: %w", err)
		}
	}
}
