package core

// CommandKind describes what the client wants the hub to do.
type CommandKind int

const (
	// CommandAnnounceOnline marks the connection online and restarts the inactivity timer.
	CommandAnnounceOnline CommandKind = iota
	// CommandAnnounceAway marks the connection away.
	CommandAnnounceAway
	// CommandRequestStatus asks for a presence snapshot addressed to the requester only.
	CommandRequestStatus
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
)

// Command represents an action requested by a client.
type Command struct {
	Kind CommandKind
	Room string
}
