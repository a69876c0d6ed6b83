package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ModeratedText replaces the text of a moderated message.
const ModeratedText = "Removed by Moderator"

// Kind tags the four message variants.
type Kind string

const (
	KindGlobal  Kind = "global"
	KindDirect  Kind = "direct"
	KindChannel Kind = "channel"
	KindGroup   Kind = "group"
)

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindGlobal, KindDirect, KindChannel, KindGroup:
		return k, nil
	default:
		return "", fmt.Errorf("unknown message kind %q", s)
	}
}

// Message is a persisted chat message of any kind.
// Fields that do not apply to Kind are left zero.
type Message struct {
	ID   int64
	Kind Kind

	SenderID   int64
	SenderName string

	RecipientID int64 // direct

	TeamName    string // channel
	ChannelName string // channel

	GroupID  int64 // group
	IsSystem bool  // group

	Text         string
	QuotedText   string
	QuotedSender string // global
	CreatedAt    time.Time
}

// Normalize fills the creation time and truncates it to the precision every backend can round-trip.
func (m *Message) Normalize() {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC().Truncate(time.Microsecond)
}

// ChannelRef identifies a channel inside a team.
type ChannelRef struct {
	TeamID      int64
	ChannelID   int64
	TeamName    string
	ChannelName string
}

// MessageStore handles message persistence for all kinds.
type MessageStore interface {
	// SaveMessage persists a message and assigns its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves one message by kind and ID.
	GetMessage(ctx context.Context, kind Kind, id int64) (*Message, error)

	// ListGlobalMessages returns global chat history in chronological order.
	// If beforeID is provided, returns messages older than that ID.
	ListGlobalMessages(ctx context.Context, limit int, beforeID *int64) ([]*Message, error)

	// ListDirectMessages returns the conversation between two users in chronological order.
	ListDirectMessages(ctx context.Context, userID, otherID int64, limit int, beforeID *int64) ([]*Message, error)

	// ListChannelMessages returns channel history in chronological order.
	ListChannelMessages(ctx context.Context, teamName, channelName string, limit int, beforeID *int64) ([]*Message, error)

	// ListGroupMessages returns group history in chronological order.
	ListGroupMessages(ctx context.Context, groupID int64, limit int, beforeID *int64) ([]*Message, error)

	// ModerateMessage overwrites the text of a message and returns the updated record.
	ModerateMessage(ctx context.Context, kind Kind, id int64, text string) (*Message, error)
}

// MembershipStore answers authorization questions owned by the team/group management layer.
type MembershipStore interface {
	// ResolveChannel looks up a channel by team and channel name.
	ResolveChannel(ctx context.Context, teamName, channelName string) (*ChannelRef, error)

	// IsChannelMember reports whether the user may read and post in the channel.
	IsChannelMember(ctx context.Context, userID int64, ref ChannelRef) (bool, error)

	// IsGroupMember reports whether the user belongs to the group.
	IsGroupMember(ctx context.Context, userID, groupID int64) (bool, error)

	// ListChannels lists channels the user can access.
	ListChannels(ctx context.Context, userID int64) ([]ChannelRef, error)

	// ListGroups lists group ids the user belongs to.
	ListGroups(ctx context.Context, userID int64) ([]int64, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	MembershipStore

	// Ping checks the underlying connection.
	Ping(ctx context.Context) error

	// Close closes the underlying database connection.
	Close() error
}
