package messaging

// EventType names an auxiliary lifecycle signal.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventError        EventType = "error"
	EventBlocked      EventType = "blocked"
	EventDropped      EventType = "dropped"
	EventStarted      EventType = "started"
	EventStopped      EventType = "stopped"
)

// Event is a lifecycle signal raised by an adapter or the registry, tagged
// with the platform it originated from.
type Event struct {
	Platform       string
	Type           EventType
	ConversationID string
	// Reason is the admission tag for EventBlocked and a short cause for
	// EventDropped.
	Reason string
	Err    error
}
