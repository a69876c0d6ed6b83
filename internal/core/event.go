package core

import "github.com/vovakirdan/huddle-server/internal/store"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventMessage carries a persisted message of any kind.
	EventMessage EventKind = iota
	// EventMessageModerated tells clients to patch a message they already rendered.
	EventMessageModerated
	// EventPresence carries the aggregate online/away sets.
	EventPresence
	// EventHistory delivers global chat history to a client.
	EventHistory
	// EventRoomJoined acknowledges an explicit join.
	EventRoomJoined
	// EventRoomLeft acknowledges an explicit leave.
	EventRoomLeft
	// EventError notifies a client about a domain error.
	EventError
)

// Event is sent to clients to describe what happened in the system.
// A single Event value is shared by every recipient of a fan-out and must not be mutated.
type Event struct {
	Kind      EventKind
	Room      string
	Message   *store.Message
	TempID    string           // client correlation id, echoed back unchanged
	Messages  []*store.Message // For EventHistory
	Presence  *PresenceSnapshot
	Moderated *Moderation
	Error     *CoreError
}

// Moderation identifies a message whose text was replaced.
type Moderation struct {
	ID   int64
	Kind store.Kind
}

func errorEvent(err *CoreError) *Event {
	return &Event{Kind: EventError, Error: err}
}
