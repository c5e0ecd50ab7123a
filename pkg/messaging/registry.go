package messaging

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/tinyland-inc/switchboard/pkg/bus"
	"github.com/tinyland-inc/switchboard/pkg/logger"
	"github.com/tinyland-inc/switchboard/pkg/utils"
)

const component = "registry"

// Handler consumes admitted inbound messages. Messages for one conversation
// are delivered one at a time in arrival order; different conversations are
// handled concurrently.
type Handler func(ctx context.Context, msg Message) error

// Target addresses one conversation on one platform.
type Target struct {
	Platform       string `json:"platform"`
	ConversationID string `json:"conversationId"`
}

// TargetResult is the outcome of one Broadcast delivery. Err is nil on success.
type TargetResult struct {
	Target
	Err error `json:"-"`
}

// PlatformStatus is the reported state of one registered adapter.
type PlatformStatus struct {
	Name         string       `json:"name"`
	Kind         Kind         `json:"kind"`
	Running      bool         `json:"running"`
	Connections  int          `json:"connections"`
	Capabilities Capabilities `json:"capabilities"`
}

// RegistryOption is a functional option for configuring a Registry.
type RegistryOption func(*Registry)

// WithQueueSize sets the capacity of the inbound and event queues.
func WithQueueSize(n int) RegistryOption {
	return func(r *Registry) { r.queueSize = n }
}

// Registry holds the registered adapters by name, routes their inbound
// messages to a single consumer and routes outbound calls to the owning
// adapter.
type Registry struct {
	queueSize int

	mu       sync.RWMutex
	adapters map[string]Adapter
	order    []string
	handler  Handler

	bus *bus.MessageBus[Message, Event]

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int

	laneMu sync.Mutex
	lanes  map[string]*lane

	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once
	loops   sync.WaitGroup
	workers sync.WaitGroup
}

type lane struct {
	pending []Message
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		adapters: make(map[string]Adapter),
		subs:     make(map[int]chan Event),
		lanes:    make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bus = bus.NewMessageBus[Message, Event](r.queueSize)
	r.ctx, r.cancel = context.WithCancel(context.Background())
	return r
}

// Register adds an adapter under name. Re-registering a name replaces the
// previous adapter without stopping it; that is left to the caller.
func (r *Registry) Register(name string, a Adapter) error {
	if err := utils.ValidatePlatformName(name); err != nil {
		return err
	}
	if a == nil {
		return fmt.Errorf("adapter for %q is nil", name)
	}

	r.mu.Lock()
	if _, exists := r.adapters[name]; exists {
		logger.WarnCF(component, "Adapter already registered, overwriting", map[string]any{
			"platform": name,
		})
	} else {
		r.order = append(r.order, name)
	}
	r.adapters[name] = a
	r.mu.Unlock()

	a.Bind(name, &adapterSink{r: r, name: name})
	logger.DebugCF(component, "Adapter registered", map[string]any{
		"platform": name,
		"kind":     string(a.Kind()),
	})
	return nil
}

// OnMessage sets the single consumer of inbound messages, replacing any
// previous one.
func (r *Registry) OnMessage(h Handler) {
	r.mu.Lock()
	r.handler = h
	r.mu.Unlock()
	r.run()
}

// Subscribe returns a stream of lifecycle events and a function that ends the
// subscription. Events are dropped for a subscriber whose buffer is full.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	if r.subs == nil {
		close(ch)
	} else {
		r.subs[id] = ch
	}
	r.subMu.Unlock()

	r.run()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			defer r.subMu.Unlock()
			if c, ok := r.subs[id]; ok {
				delete(r.subs, id)
				close(c)
			}
		})
	}
}

// Start starts the named adapters, or all of them when no name is given. A
// failing adapter is logged and reported as EventError; it does not prevent
// the others from starting.
func (r *Registry) Start(ctx context.Context, names ...string) {
	r.run()
	for _, name := range r.targets(names) {
		a, err := r.lookup(name)
		if err != nil {
			logger.ErrorCF(component, "Cannot start unregistered platform", map[string]any{"platform": name})
			continue
		}
		if err := a.Start(ctx); err != nil {
			logger.ErrorCF(component, "Adapter failed to start", map[string]any{
				"platform": name,
				"error":    err.Error(),
			})
			r.publish(Event{Platform: name, Type: EventError, Err: err})
			continue
		}
		logger.InfoCF(component, "Adapter started", map[string]any{"platform": name})
		r.publish(Event{Platform: name, Type: EventStarted})
	}
}

// Stop stops the named adapters, or all of them when no name is given.
// Failures are logged and do not prevent the others from stopping.
func (r *Registry) Stop(ctx context.Context, names ...string) {
	for _, name := range r.targets(names) {
		a, err := r.lookup(name)
		if err != nil {
			continue
		}
		if err := a.Stop(ctx); err != nil {
			logger.ErrorCF(component, "Adapter failed to stop", map[string]any{
				"platform": name,
				"error":    err.Error(),
			})
			r.publish(Event{Platform: name, Type: EventError, Err: err})
			continue
		}
		logger.InfoCF(component, "Adapter stopped", map[string]any{"platform": name})
		r.publish(Event{Platform: name, Type: EventStopped})
	}
}

// Close stops every adapter, waits for in-flight deliveries to finish or ctx
// to expire, and ends all event subscriptions.
func (r *Registry) Close(ctx context.Context) error {
	r.Stop(ctx)
	r.bus.Close()
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.loops.Wait()
		r.workers.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	// Events published by Stop are still queued; hand them out before the
	// subscriptions end.
	r.subMu.Lock()
	for _, ev := range r.bus.DrainEvents() {
		r.fanOut(ev)
	}
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.subs = nil
	r.subMu.Unlock()
	return err
}

// SendMessage sends text to a conversation, splitting it into chunks when the
// adapter declares a maximum message length.
func (r *Registry) SendMessage(ctx context.Context, platform, conversationID, text string) error {
	a, err := r.lookup(platform)
	if err != nil {
		return err
	}

	limit := a.Capabilities().MaxMessageLength
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return a.Send(ctx, conversationID, text)
	}
	for _, chunk := range SplitMessage(text, limit) {
		if err := a.Send(ctx, conversationID, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) SendTyping(ctx context.Context, platform, conversationID string) error {
	a, err := r.lookup(platform)
	if err != nil {
		return err
	}
	return a.SendTyping(ctx, conversationID)
}

func (r *Registry) StopTyping(ctx context.Context, platform, conversationID string) error {
	a, err := r.lookup(platform)
	if err != nil {
		return err
	}
	return a.StopTyping(ctx, conversationID)
}

func (r *Registry) React(ctx context.Context, platform, conversationID, messageID, emoji string) error {
	a, err := r.lookup(platform)
	if err != nil {
		return err
	}
	return a.React(ctx, conversationID, messageID, emoji)
}

// Broadcast sends text to every target and reports each outcome in order.
func (r *Registry) Broadcast(ctx context.Context, targets []Target, text string) []TargetResult {
	results := make([]TargetResult, 0, len(targets))
	for _, t := range targets {
		err := r.SendMessage(ctx, t.Platform, t.ConversationID, text)
		results = append(results, TargetResult{Target: t, Err: err})
	}
	return results
}

// Adapter returns the adapter registered under name.
func (r *Registry) Adapter(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Platforms returns the registered names in registration order.
func (r *Registry) Platforms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *Registry) Statuses() []PlatformStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PlatformStatus, 0, len(r.order))
	for _, name := range r.order {
		a := r.adapters[name]
		out = append(out, PlatformStatus{
			Name:         name,
			Kind:         a.Kind(),
			Running:      a.IsRunning(),
			Connections:  a.Connections(),
			Capabilities: a.Capabilities(),
		})
	}
	return out
}

// SessionKey derives the session key for msg under agentID.
func (r *Registry) SessionKey(agentID string, msg Message) string {
	return SessionKey(agentID, msg.Platform, msg)
}

func (r *Registry) lookup(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, &UnknownPlatformError{Platform: name}
	}
	return a, nil
}

func (r *Registry) targets(names []string) []string {
	if len(names) > 0 {
		return names
	}
	return r.Platforms()
}

func (r *Registry) publish(ev Event) {
	if err := r.bus.PublishEvent(ev); err != nil {
		logger.DebugCF(component, "Event discarded", map[string]any{
			"platform": ev.Platform,
			"type":     string(ev.Type),
			"error":    err.Error(),
		})
	}
}

// run starts the dispatcher and event fan-out goroutines once.
func (r *Registry) run() {
	if r.bus.IsClosed() {
		return
	}
	r.once.Do(func() {
		r.loops.Add(2)
		go r.dispatchLoop()
		go r.eventLoop()
	})
}

func (r *Registry) dispatchLoop() {
	defer r.loops.Done()
	for {
		msg, ok := r.bus.ConsumeInbound(r.ctx)
		if !ok {
			return
		}
		r.enqueue(msg)
	}
}

func (r *Registry) eventLoop() {
	defer r.loops.Done()
	for {
		ev, ok := r.bus.ConsumeEvent(r.ctx)
		if !ok {
			return
		}
		r.subMu.Lock()
		r.fanOut(ev)
		r.subMu.Unlock()
	}
}

// fanOut offers ev to every subscriber without blocking. r.subMu must be held.
func (r *Registry) fanOut(ev Event) {
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// enqueue appends msg to its conversation lane, starting a worker for the
// lane if none is running. The worker exits once the lane is drained.
func (r *Registry) enqueue(msg Message) {
	key := msg.Platform + "\x00" + msg.ConversationID

	r.laneMu.Lock()
	l, busy := r.lanes[key]
	if !busy {
		l = &lane{}
		r.lanes[key] = l
	}
	l.pending = append(l.pending, msg)
	r.laneMu.Unlock()

	if !busy {
		r.workers.Add(1)
		go r.drain(key, l)
	}
}

func (r *Registry) drain(key string, l *lane) {
	defer r.workers.Done()
	for {
		r.laneMu.Lock()
		if len(l.pending) == 0 {
			delete(r.lanes, key)
			r.laneMu.Unlock()
			return
		}
		msg := l.pending[0]
		l.pending = l.pending[1:]
		r.laneMu.Unlock()

		r.deliver(msg)
	}
}

func (r *Registry) deliver(msg Message) {
	r.mu.RLock()
	h := r.handler
	r.mu.RUnlock()

	if h == nil {
		logger.WarnCF(component, "No consumer registered, discarding message", map[string]any{
			"platform":        msg.Platform,
			"conversation_id": msg.ConversationID,
		})
		return
	}

	defer func() {
		if p := recover(); p != nil {
			logger.ErrorCF(component, "Consumer panicked", map[string]any{
				"platform":        msg.Platform,
				"conversation_id": msg.ConversationID,
				"panic":           fmt.Sprint(p),
			})
		}
	}()
	if err := h(r.ctx, msg); err != nil {
		logger.ErrorCF(component, "Consumer failed", map[string]any{
			"platform":        msg.Platform,
			"conversation_id": msg.ConversationID,
			"error":           err.Error(),
		})
	}
}

// adapterSink binds one adapter to the registry under its registered name.
type adapterSink struct {
	r    *Registry
	name string
}

func (s *adapterSink) Deliver(ctx context.Context, msg Message) error {
	if msg.Platform == "" {
		msg.Platform = s.name
	}
	return s.r.bus.PublishInbound(ctx, msg)
}

func (s *adapterSink) Notify(ev Event) {
	if ev.Platform == "" {
		ev.Platform = s.name
	}
	s.r.publish(ev)
}
