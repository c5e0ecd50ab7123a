// Package engine defines the consumer side of the registry: the single
// downstream handler that receives admitted messages and answers them through
// the registry's outbound API.
package engine

import (
	"context"
	"strings"

	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

const component = "engine"

// Engine consumes admitted inbound messages.
type Engine interface {
	Handle(ctx context.Context, msg messaging.Message) error
}

// Func adapts an ordinary function to Engine.
type Func func(ctx context.Context, msg messaging.Message) error

func (f Func) Handle(ctx context.Context, msg messaging.Message) error { return f(ctx, msg) }

// Outbound is the part of the registry an engine replies through.
type Outbound interface {
	SendMessage(ctx context.Context, platform, conversationID, text string) error
	SendTyping(ctx context.Context, platform, conversationID string) error
	StopTyping(ctx context.Context, platform, conversationID string) error
	React(ctx context.Context, platform, conversationID, messageID, emoji string) error
	Broadcast(ctx context.Context, targets []messaging.Target, text string) []messaging.TargetResult
}

// Directory lists the registered platforms and their status.
type Directory interface {
	Platforms() []string
	Statuses() []messaging.PlatformStatus
}

// Router is everything an engine may ask of the registry.
type Router interface {
	Outbound
	Directory
}

// Generator produces the reply text for a message. An empty reply sends nothing.
type Generator func(ctx context.Context, msg messaging.Message) (string, error)

// Respond runs the usual reply cycle for msg: typing indicator, generate,
// send, stop typing. Typing indicator failures are logged and ignored.
func Respond(ctx context.Context, out Outbound, msg messaging.Message, gen Generator) error {
	fields := map[string]any{
		"platform":        msg.Platform,
		"conversation_id": msg.ConversationID,
	}

	if err := out.SendTyping(ctx, msg.Platform, msg.ConversationID); err != nil {
		logger.DebugCF(component, "Typing indicator failed", withError(fields, err))
	}
	defer func() {
		if err := out.StopTyping(context.WithoutCancel(ctx), msg.Platform, msg.ConversationID); err != nil {
			logger.DebugCF(component, "Stop typing failed", withError(fields, err))
		}
	}()

	reply, err := gen(ctx, msg)
	if err != nil {
		return err
	}
	if strings.TrimSpace(reply) == "" {
		logger.DebugCF(component, "Empty reply, nothing sent", fields)
		return nil
	}
	return out.SendMessage(ctx, msg.Platform, msg.ConversationID, reply)
}

func withError(fields map[string]any, err error) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["error"] = err.Error()
	return out
}
