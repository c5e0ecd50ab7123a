package pipe

import (
	"context"
	"sync"

	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

// Peer is a reply target on a host channel, typically one connected client.
type Peer interface {
	Send(channel string, f messaging.Frame) error
	Alive() bool
}

// Host delivers frames received on named channels and hands back the peer
// that sent each one.
type Host interface {
	Open(ctx context.Context) error
	Close() error
	Listen(channel string, fn func(p Peer, f messaging.InboundFrame))
	Unlisten(channel string)
}

// Outbound channel suffixes, one per frame type.
var outboundChannels = map[string]string{
	messaging.FrameMessage:    "send",
	messaging.FrameTyping:     "typing",
	messaging.FrameStopTyping: "stop_typing",
	messaging.FrameReaction:   "reaction",
	messaging.FrameError:      "error",
}

// Channel returns the full channel name for a suffix under prefix.
func Channel(prefix, suffix string) string {
	return prefix + ":" + suffix
}

type hostState struct {
	host   Host
	prefix string

	mu    sync.RWMutex
	first Peer
	peers map[string]Peer
}

func newHostState(h Host, prefix string) *hostState {
	return &hostState{host: h, prefix: prefix, peers: make(map[string]Peer)}
}

func (s *hostState) inbound() string { return Channel(s.prefix, "message") }

// remember records p as the reply target for conversationID unless a live
// target is already known, and as the default target if there is none.
func (s *hostState) remember(conversationID string, p Peer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.first == nil || !s.first.Alive() {
		s.first = p
	}
	if cur, ok := s.peers[conversationID]; !ok || !cur.Alive() {
		s.peers[conversationID] = p
	}
}

func (s *hostState) target(conversationID string) Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.peers[conversationID]; ok && p.Alive() {
		return p
	}
	if s.first != nil && s.first.Alive() {
		return s.first
	}
	return nil
}

func (s *hostState) connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[Peer]struct{})
	for _, p := range s.peers {
		if p.Alive() {
			seen[p] = struct{}{}
		}
	}
	if s.first != nil && s.first.Alive() {
		seen[s.first] = struct{}{}
	}
	return len(seen)
}

func (s *hostState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.first = nil
	clear(s.peers)
}

func (a *Adapter) startHost(openCtx, runCtx context.Context, done chan struct{}) error {
	s := a.host
	if err := s.host.Open(openCtx); err != nil {
		return err
	}
	s.host.Listen(s.inbound(), func(p Peer, f messaging.InboundFrame) {
		if runCtx.Err() != nil {
			return
		}
		if !f.IsMessage() || f.Validate() != nil {
			return
		}
		id := f.ConversationID
		if id == "" {
			id = a.cfg.ConversationID
		}
		s.remember(id, p)
		a.handleFrame(runCtx, f)
	})
	close(done)

	logger.InfoCF(component, "Pipe adapter started", map[string]any{
		"platform": a.Name(),
		"mode":     string(ModeHost),
		"channel":  s.inbound(),
	})
	return nil
}

func (a *Adapter) stopHost(ctx context.Context, done chan struct{}) error {
	s := a.host
	s.host.Unlisten(s.inbound())
	err := s.host.Close()
	s.reset()
	logger.InfoCF(component, "Pipe adapter stopped", map[string]any{"platform": a.Name()})
	return err
}

func (a *Adapter) writeHost(f messaging.Frame) {
	s := a.host
	p := s.target(f.ConversationID)
	if p == nil {
		a.Dropped(f.ConversationID, f.Type)
		return
	}
	channel := Channel(s.prefix, outboundChannels[f.Type])
	if err := p.Send(channel, f); err != nil {
		logger.WarnCF(component, "Host send failed, dropping frame", map[string]any{
			"platform":        a.Name(),
			"conversation_id": f.ConversationID,
			"channel":         channel,
			"error":           err.Error(),
		})
		a.Dropped(f.ConversationID, f.Type)
	}
}
