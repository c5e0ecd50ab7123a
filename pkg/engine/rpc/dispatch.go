package rpc

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

// SendParams are the parameters of the "send" request.
type SendParams struct {
	Platform       string `json:"platform"`
	ConversationID string `json:"conversationId"`
	Text           string `json:"text"`
}

// TypingParams are the parameters of "typing" and "stop_typing".
type TypingParams struct {
	Platform       string `json:"platform"`
	ConversationID string `json:"conversationId"`
}

// ReactParams are the parameters of the "react" request.
type ReactParams struct {
	Platform       string `json:"platform"`
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Emoji          string `json:"emoji"`
}

// BroadcastParams are the parameters of the "broadcast" request.
type BroadcastParams struct {
	Targets []messaging.Target `json:"targets"`
	Text    string             `json:"text"`
}

// OKResult is returned by requests that have no other result.
type OKResult struct {
	OK bool `json:"ok"`
}

// BroadcastTargetResult reports one broadcast delivery.
type BroadcastTargetResult struct {
	Platform       string `json:"platform"`
	ConversationID string `json:"conversationId"`
	OK             bool   `json:"ok"`
	Error          string `json:"error,omitempty"`
}

// BroadcastResult is returned by "broadcast".
type BroadcastResult struct {
	Results []BroadcastTargetResult `json:"results"`
}

// PlatformsResult is returned by "list_platforms".
type PlatformsResult struct {
	Platforms []messaging.PlatformStatus `json:"platforms"`
}

func (p *Proxy) dispatch(ctx context.Context, method string, raw json.RawMessage) (any, *RPCError) {
	switch method {
	case "send":
		var params SendParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if err := requireTarget(params.Platform, params.ConversationID); err != nil {
			return nil, err
		}
		if strings.TrimSpace(params.Text) == "" {
			return nil, invalidParams("text is required")
		}
		return ok(p.router.SendMessage(ctx, params.Platform, params.ConversationID, params.Text))

	case "typing", "stop_typing":
		var params TypingParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if err := requireTarget(params.Platform, params.ConversationID); err != nil {
			return nil, err
		}
		if method == "typing" {
			return ok(p.router.SendTyping(ctx, params.Platform, params.ConversationID))
		}
		return ok(p.router.StopTyping(ctx, params.Platform, params.ConversationID))

	case "react":
		var params ReactParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if err := requireTarget(params.Platform, params.ConversationID); err != nil {
			return nil, err
		}
		if params.MessageID == "" || params.Emoji == "" {
			return nil, invalidParams("messageId and emoji are required")
		}
		return ok(p.router.React(ctx, params.Platform, params.ConversationID, params.MessageID, params.Emoji))

	case "broadcast":
		var params BroadcastParams
		if err := decodeParams(raw, &params); err != nil {
			return nil, err
		}
		if len(params.Targets) == 0 {
			return nil, invalidParams("targets are required")
		}
		out := BroadcastResult{Results: make([]BroadcastTargetResult, 0, len(params.Targets))}
		for _, res := range p.router.Broadcast(ctx, params.Targets, params.Text) {
			r := BroadcastTargetResult{
				Platform:       res.Platform,
				ConversationID: res.ConversationID,
				OK:             res.Err == nil,
			}
			if res.Err != nil {
				r.Error = res.Err.Error()
			}
			out.Results = append(out.Results, r)
		}
		return out, nil

	case "list_platforms":
		return PlatformsResult{Platforms: p.router.Statuses()}, nil

	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: "method not found: " + method}
	}
}

func ok(err error) (any, *RPCError) {
	if err == nil {
		return OKResult{OK: true}, nil
	}
	if messaging.IsUnknownPlatform(err) {
		return nil, &RPCError{Code: CodeUnknownPlatform, Message: err.Error()}
	}
	return nil, &RPCError{Code: CodeInternalError, Message: err.Error()}
}

func decodeParams(raw json.RawMessage, v any) *RPCError {
	if len(raw) == 0 {
		return invalidParams("params are required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidParams(err.Error())
	}
	return nil
}

func requireTarget(platform, conversationID string) *RPCError {
	if platform == "" || conversationID == "" {
		return invalidParams("platform and conversationId are required")
	}
	return nil
}

func invalidParams(msg string) *RPCError {
	return &RPCError{Code: CodeInvalidParams, Message: msg}
}
