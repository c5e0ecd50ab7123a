package engine

import (
	"context"

	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

// Echo replies to every message with its own text. Image-only messages get a
// short acknowledgement instead.
type Echo struct {
	out    Outbound
	prefix string
}

// NewEcho returns an Echo engine replying through out. prefix is prepended to
// every reply.
func NewEcho(out Outbound, prefix string) *Echo {
	return &Echo{out: out, prefix: prefix}
}

func (e *Echo) Handle(ctx context.Context, msg messaging.Message) error {
	return Respond(ctx, e.out, msg, func(ctx context.Context, msg messaging.Message) (string, error) {
		text := msg.Text
		if text == "" && msg.Image != nil {
			text = "[image: " + msg.Image.MediaType + "]"
		}
		return e.prefix + text, nil
	})
}
