package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/tinyland-inc/switchboard/pkg/engine"
	"github.com/tinyland-inc/switchboard/pkg/messaging"
)

// Meter aggregates per-platform and per-session counters from the registry's
// lifecycle events and from the messages handed to the engine.
type Meter struct {
	mu        sync.RWMutex
	platforms map[string]*PlatformMeter
	now       func() time.Time
}

// PlatformMeter tracks one platform.
type PlatformMeter struct {
	Platform     string                   `json:"platform"`
	Received     int64                    `json:"received"`
	Failed       int64                    `json:"failed"`
	Blocked      int64                    `json:"blocked"`
	Dropped      int64                    `json:"dropped"`
	Connected    int64                    `json:"connected"`
	Disconnected int64                    `json:"disconnected"`
	Errors       int64                    `json:"errors"`
	LastActivity time.Time                `json:"lastActivity"`
	Sessions     map[string]*SessionMeter `json:"sessions,omitempty"`
}

// SessionMeter tracks one session key.
type SessionMeter struct {
	SessionKey   string    `json:"sessionKey"`
	Messages     int64     `json:"messages"`
	Failures     int64     `json:"failures"`
	LastActivity time.Time `json:"lastActivity"`
}

// NewMeter creates an empty Meter.
func NewMeter() *Meter {
	return &Meter{
		platforms: make(map[string]*PlatformMeter),
		now:       time.Now,
	}
}

func (m *Meter) platform(name string) *PlatformMeter {
	pm, ok := m.platforms[name]
	if !ok {
		pm = &PlatformMeter{Platform: name, Sessions: make(map[string]*SessionMeter)}
		m.platforms[name] = pm
	}
	return pm
}

// RecordEvent counts a lifecycle event.
func (m *Meter) RecordEvent(ev messaging.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pm := m.platform(ev.Platform)
	switch ev.Type {
	case messaging.EventBlocked:
		pm.Blocked++
	case messaging.EventDropped:
		pm.Dropped++
	case messaging.EventConnected:
		pm.Connected++
	case messaging.EventDisconnected:
		pm.Disconnected++
	case messaging.EventError:
		pm.Errors++
	default:
		return
	}
	pm.LastActivity = m.now()
}

// RecordMessage counts a message handed to the engine and its outcome.
func (m *Meter) RecordMessage(sessionKey string, msg messaging.Message, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	pm := m.platform(msg.Platform)
	pm.Received++
	pm.LastActivity = now
	if err != nil {
		pm.Failed++
	}

	sess, ok := pm.Sessions[sessionKey]
	if !ok {
		sess = &SessionMeter{SessionKey: sessionKey}
		pm.Sessions[sessionKey] = sess
	}
	sess.Messages++
	if err != nil {
		sess.Failures++
	}
	sess.LastActivity = now
}

// Platform returns a copy of the counters for name.
func (m *Meter) Platform(name string) (PlatformMeter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pm, ok := m.platforms[name]
	if !ok {
		return PlatformMeter{}, false
	}
	return pm.clone(), true
}

// Snapshot returns a copy of every platform's counters.
func (m *Meter) Snapshot() map[string]PlatformMeter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]PlatformMeter, len(m.platforms))
	for name, pm := range m.platforms {
		result[name] = pm.clone()
	}
	return result
}

func (pm *PlatformMeter) clone() PlatformMeter {
	out := *pm
	out.Sessions = make(map[string]*SessionMeter, len(pm.Sessions))
	for k, s := range pm.Sessions {
		cp := *s
		out.Sessions[k] = &cp
	}
	return out
}

// Consume records events until the channel closes or ctx is done.
func (m *Meter) Consume(ctx context.Context, events <-chan messaging.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.RecordEvent(ev)
		case <-ctx.Done():
			return
		}
	}
}

// Wrap returns an engine that records the outcome of every message it passes on.
func (m *Meter) Wrap(agentID string, next engine.Engine) engine.Engine {
	return engine.Func(func(ctx context.Context, msg messaging.Message) error {
		err := next.Handle(ctx, msg)
		m.RecordMessage(messaging.SessionKey(agentID, "", msg), msg, err)
		return err
	})
}
