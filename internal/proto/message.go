package proto

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client event types.
const (
	InboundUserOnline     = "userOnline"
	InboundUserAway       = "userAway"
	InboundRequestStatus  = "requestStatusUpdate"
	InboundReady          = "ready"
	InboundGlobalHistory  = "global-chat-history"
	InboundGlobalMessage  = "global-message"
	InboundPrivateMessage = "private-message"
	InboundChannelMessage = "ChannelMessages"
	InboundGroupMessage   = "send-message"
	InboundJoinGroup      = "join-group"
	InboundLeaveGroup     = "leave-group"
	InboundJoinChannel    = "join-channel"
	InboundLeaveChannel   = "leave-channel"
	InboundModerate       = "moderate-message"
)

// Server event types.
const (
	OutboundUserStatus         = "updateUserStatus"
	OutboundGlobalMessage      = "global-message"
	OutboundGlobalHistory      = "global-chat-history"
	OutboundPrivateMessage     = "private-message"
	OutboundChannelMessage     = "ChannelMessages"
	OutboundGroupMessagePrefix = "group-message-"
	OutboundModerated          = "message-moderated"
	OutboundRoomJoined         = "room-joined"
	OutboundRoomLeft           = "room-left"
	OutboundError              = "error"
)

// GroupMessageType is the event name group messages are delivered under.
func GroupMessageType(groupID int64) string {
	return OutboundGroupMessagePrefix + strconv.FormatInt(groupID, 10)
}

// CorrelationID is a client-chosen token echoed back with the persisted message.
// Clients send it either as a string or as a number.
type CorrelationID string

func (c *CorrelationID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = CorrelationID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("correlation id must be a string or number")
	}
	*c = CorrelationID(n.String())
	return nil
}

// UserRef is the payload of presence announcements: a bare user id, a numeric
// string or {"userId": n}. Zero means the connection's own user.
type UserRef int64

func (u *UserRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*u = 0
		return nil
	}
	switch b[0] {
	case '{':
		var obj struct {
			UserID UserRef `json:"userId"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*u = obj.UserID
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*u = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.New("userId must be numeric")
		}
		*u = UserRef(n)
		return nil
	default:
		var n int64
		if err := json.Unmarshal(b, &n); err != nil {
			return errors.New("userId must be numeric")
		}
		*u = UserRef(n)
		return nil
	}
}

// GlobalMessageData is a global chat message from the client.
type GlobalMessageData struct {
	Text         string        `json:"text"`
	QuotedText   string        `json:"quoted_text,omitempty"`
	QuotedSender string        `json:"quoted_sender,omitempty"`
	TempID       CorrelationID `json:"tempId,omitempty"`
}

// PrivateMessageData is a direct message. Older clients put the temp id in "id".
type PrivateMessageData struct {
	SenderID    int64         `json:"senderId,omitempty"`
	RecipientID int64         `json:"recipientId"`
	Text        string        `json:"text"`
	Quoted      string        `json:"quoted,omitempty"`
	ID          CorrelationID `json:"id,omitempty"`
	TempID      CorrelationID `json:"tempId,omitempty"`
}

// ChannelMessageData is a message posted to a team channel.
type ChannelMessageData struct {
	TeamName    string        `json:"teamName"`
	ChannelName string        `json:"channelName"`
	Sender      string        `json:"sender,omitempty"`
	Text        string        `json:"text"`
	Quoted      string        `json:"quoted,omitempty"`
	TempID      CorrelationID `json:"tempId,omitempty"`
}

// GroupMessageData is a group chat message.
type GroupMessageData struct {
	GroupID int64         `json:"groupId"`
	UserID  int64         `json:"userId,omitempty"`
	Message string        `json:"message"`
	TempID  CorrelationID `json:"tempId,omitempty"`
}

// GroupData names a group for join/leave.
type GroupData struct {
	GroupID int64 `json:"groupId"`
}

// ChannelData names a channel for join/leave.
type ChannelData struct {
	TeamName    string `json:"teamName"`
	ChannelName string `json:"channelName"`
}

// ModerateData asks to moderate one message.
type ModerateData struct {
	Kind string `json:"kind"`
	ID   int64  `json:"id"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// Message is a persisted message of any kind as clients see it.
// Fields that do not apply to the kind are omitted.
type Message struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"`

	SenderID   int64  `json:"senderId,omitempty"`
	SenderName string `json:"senderName,omitempty"`

	RecipientID int64 `json:"recipientId,omitempty"`

	TeamName    string `json:"teamName,omitempty"`
	ChannelName string `json:"channelName,omitempty"`
	Sender      string `json:"sender,omitempty"`

	GroupID         int64 `json:"groupId,omitempty"`
	UserID          int64 `json:"userId,omitempty"`
	IsSystemMessage bool  `json:"isSystemMessage,omitempty"`

	Text         string    `json:"text"`
	QuotedText   string    `json:"quoted_text,omitempty"`
	QuotedSender string    `json:"quoted_sender,omitempty"`
	Quoted       string    `json:"quoted,omitempty"`
	Timestamp    time.Time `json:"timestamp"`

	TempID string `json:"tempId,omitempty"`
}

// UserStatus is the aggregate presence snapshot.
type UserStatus struct {
	Online []int64 `json:"online"`
	Away   []int64 `json:"away"`
}

// Moderated tells clients to patch a rendered message.
type Moderated struct {
	ID   int64  `json:"id"`
	Kind string `json:"kind"`
}

// RoomData acknowledges a room change.
type RoomData struct {
	Room string `json:"room"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
