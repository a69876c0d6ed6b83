package core

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/vovakirdan/huddle-server/internal/store"
)

// DefaultMaxTextLength bounds message text when no limit is configured.
const DefaultMaxTextLength = 4000

// Draft is an inbound chat message before it is validated and persisted.
type Draft struct {
	Kind   store.Kind
	TempID string

	RecipientID int64  // direct
	TeamName    string // channel
	ChannelName string // channel
	GroupID     int64  // group

	Text         string
	QuotedText   string
	QuotedSender string
}

// validate checks the fields required by the draft's kind.
func (d *Draft) validate(maxLen int) *CoreError {
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}

	text := strings.TrimSpace(d.Text)
	if text == "" {
		return BadRequest("text is required")
	}
	if utf8.RuneCountInString(text) > maxLen {
		return BadRequest(fmt.Sprintf("text exceeds %d characters", maxLen))
	}

	switch d.Kind {
	case store.KindGlobal:
	case store.KindDirect:
		if d.RecipientID <= 0 {
			return BadRequest("recipientId is required")
		}
	case store.KindChannel:
		if strings.TrimSpace(d.TeamName) == "" || strings.TrimSpace(d.ChannelName) == "" {
			return BadRequest("teamName and channelName are required")
		}
	case store.KindGroup:
		if d.GroupID <= 0 {
			return BadRequest("groupId is required")
		}
	default:
		return BadRequest(fmt.Sprintf("unknown message kind %q", d.Kind))
	}
	return nil
}

// record builds the row to persist; sender fields always come from the connection's identity.
func (d *Draft) record(sender Identity) *store.Message {
	msg := &store.Message{
		Kind:       d.Kind,
		SenderID:   sender.UserID,
		SenderName: sender.UserName,
		Text:       strings.TrimSpace(d.Text),
		QuotedText: d.QuotedText,
	}
	switch d.Kind {
	case store.KindGlobal:
		msg.QuotedSender = d.QuotedSender
	case store.KindDirect:
		msg.RecipientID = d.RecipientID
		msg.SenderName = ""
	case store.KindChannel:
		msg.TeamName = strings.TrimSpace(d.TeamName)
		msg.ChannelName = strings.TrimSpace(d.ChannelName)
	case store.KindGroup:
		msg.GroupID = d.GroupID
		msg.SenderName = ""
		msg.QuotedText = ""
	}
	return msg
}
