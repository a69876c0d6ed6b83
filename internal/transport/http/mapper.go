package http

import (
	"encoding/json"

	"github.com/vovakirdan/huddle-server/internal/core"
	"github.com/vovakirdan/huddle-server/internal/proto"
	"github.com/vovakirdan/huddle-server/internal/store"
)

type actionKind int

const (
	actionCommand actionKind = iota
	actionMessage
	actionHistory
	actionJoinGroup
	actionLeaveGroup
	actionJoinChannel
	actionLeaveChannel
	actionModerate
)

// inboundAction is the decoded intent of one client frame.
type inboundAction struct {
	kind    actionKind
	command *core.Command
	draft   *core.Draft

	groupID     int64
	teamName    string
	channelName string

	modKind store.Kind
	modID   int64
}

func inboundToAction(identity core.Identity, inbound proto.Inbound) (*inboundAction, *core.CoreError) {
	switch inbound.Type {
	case proto.InboundUserOnline, proto.InboundUserAway:
		var ref proto.UserRef
		if len(inbound.Data) > 0 {
			if err := json.Unmarshal(inbound.Data, &ref); err != nil {
				return nil, invalidPayload(inbound.Type)
			}
		}
		if ref != 0 && int64(ref) != identity.UserID {
			return nil, core.Forbidden("userId does not match the connection")
		}
		kind := core.CommandAnnounceOnline
		if inbound.Type == proto.InboundUserAway {
			kind = core.CommandAnnounceAway
		}
		return &inboundAction{kind: actionCommand, command: &core.Command{Kind: kind}}, nil

	case proto.InboundRequestStatus:
		return &inboundAction{kind: actionCommand, command: &core.Command{Kind: core.CommandRequestStatus}}, nil

	case proto.InboundReady, proto.InboundGlobalHistory:
		return &inboundAction{kind: actionHistory}, nil

	case proto.InboundGlobalMessage:
		var data proto.GlobalMessageData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		return &inboundAction{kind: actionMessage, draft: &core.Draft{
			Kind:         store.KindGlobal,
			TempID:       string(data.TempID),
			Text:         data.Text,
			QuotedText:   data.QuotedText,
			QuotedSender: data.QuotedSender,
		}}, nil

	case proto.InboundPrivateMessage:
		var data proto.PrivateMessageData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		if data.SenderID != 0 && data.SenderID != identity.UserID {
			return nil, core.Forbidden("senderId does not match the connection")
		}
		tempID := data.TempID
		if tempID == "" {
			tempID = data.ID
		}
		return &inboundAction{kind: actionMessage, draft: &core.Draft{
			Kind:        store.KindDirect,
			TempID:      string(tempID),
			RecipientID: data.RecipientID,
			Text:        data.Text,
			QuotedText:  data.Quoted,
		}}, nil

	case proto.InboundChannelMessage:
		var data proto.ChannelMessageData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		// data.Sender is ignored; the sender name always comes from the token.
		return &inboundAction{kind: actionMessage, draft: &core.Draft{
			Kind:        store.KindChannel,
			TempID:      string(data.TempID),
			TeamName:    data.TeamName,
			ChannelName: data.ChannelName,
			Text:        data.Text,
			QuotedText:  data.Quoted,
		}}, nil

	case proto.InboundGroupMessage:
		var data proto.GroupMessageData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		if data.UserID != 0 && data.UserID != identity.UserID {
			return nil, core.Forbidden("userId does not match the connection")
		}
		return &inboundAction{kind: actionMessage, draft: &core.Draft{
			Kind:    store.KindGroup,
			TempID:  string(data.TempID),
			GroupID: data.GroupID,
			Text:    data.Message,
		}}, nil

	case proto.InboundJoinGroup, proto.InboundLeaveGroup:
		var data proto.GroupData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		kind := actionJoinGroup
		if inbound.Type == proto.InboundLeaveGroup {
			kind = actionLeaveGroup
		}
		return &inboundAction{kind: kind, groupID: data.GroupID}, nil

	case proto.InboundJoinChannel, proto.InboundLeaveChannel:
		var data proto.ChannelData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		kind := actionJoinChannel
		if inbound.Type == proto.InboundLeaveChannel {
			kind = actionLeaveChannel
		}
		return &inboundAction{kind: kind, teamName: data.TeamName, channelName: data.ChannelName}, nil

	case proto.InboundModerate:
		var data proto.ModerateData
		if ce := decode(inbound, &data); ce != nil {
			return nil, ce
		}
		kind, err := store.ParseKind(data.Kind)
		if err != nil {
			return nil, core.BadRequest(err.Error())
		}
		if data.ID <= 0 {
			return nil, core.BadRequest("id is required")
		}
		return &inboundAction{kind: actionModerate, modKind: kind, modID: data.ID}, nil

	default:
		return nil, &core.CoreError{Code: core.ErrCodeUnsupported, Message: "unknown message type"}
	}
}

func decode(inbound proto.Inbound, v any) *core.CoreError {
	if len(inbound.Data) == 0 {
		return core.BadRequest("data is required for " + inbound.Type)
	}
	if err := json.Unmarshal(inbound.Data, v); err != nil {
		return invalidPayload(inbound.Type)
	}
	return nil
}

func invalidPayload(typ string) *core.CoreError {
	return core.BadRequest("invalid payload for " + typ)
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventMessage:
		msg := messageToProto(event.Message, event.TempID)
		return proto.Outbound{Type: messageType(event.Message), Data: msg}
	case core.EventMessageModerated:
		return proto.Outbound{
			Type: proto.OutboundModerated,
			Data: proto.Moderated{
				ID:   event.Moderated.ID,
				Kind: string(event.Moderated.Kind),
			},
		}
	case core.EventPresence:
		return proto.Outbound{Type: proto.OutboundUserStatus, Data: userStatus(event.Presence)}
	case core.EventHistory:
		messages := make([]proto.Message, 0, len(event.Messages))
		for _, msg := range event.Messages {
			messages = append(messages, messageToProto(msg, ""))
		}
		return proto.Outbound{Type: proto.OutboundGlobalHistory, Data: messages}
	case core.EventRoomJoined:
		return proto.Outbound{Type: proto.OutboundRoomJoined, Data: proto.RoomData{Room: event.Room}}
	case core.EventRoomLeft:
		return proto.Outbound{Type: proto.OutboundRoomLeft, Data: proto.RoomData{Room: event.Room}}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundError, Error: &proto.Error{Code: "unknown", Message: "unknown error"}}
		}
		return proto.Outbound{
			Type:  proto.OutboundError,
			Error: &proto.Error{Code: event.Error.Code, Message: event.Error.Message},
		}
	default:
		return proto.Outbound{Type: proto.OutboundError, Error: &proto.Error{Code: "unknown", Message: "unknown event"}}
	}
}

func messageType(msg *store.Message) string {
	switch msg.Kind {
	case store.KindDirect:
		return proto.OutboundPrivateMessage
	case store.KindChannel:
		return proto.OutboundChannelMessage
	case store.KindGroup:
		return proto.GroupMessageType(msg.GroupID)
	default:
		return proto.OutboundGlobalMessage
	}
}

func messageToProto(msg *store.Message, tempID string) proto.Message {
	out := proto.Message{
		ID:        msg.ID,
		Kind:      string(msg.Kind),
		SenderID:  msg.SenderID,
		Text:      msg.Text,
		Timestamp: msg.CreatedAt,
		TempID:    tempID,
	}
	switch msg.Kind {
	case store.KindGlobal:
		out.SenderName = msg.SenderName
		out.QuotedText = msg.QuotedText
		out.QuotedSender = msg.QuotedSender
	case store.KindDirect:
		out.RecipientID = msg.RecipientID
		out.Quoted = msg.QuotedText
	case store.KindChannel:
		out.TeamName = msg.TeamName
		out.ChannelName = msg.ChannelName
		out.Sender = msg.SenderName
		out.Quoted = msg.QuotedText
	case store.KindGroup:
		out.GroupID = msg.GroupID
		out.UserID = msg.SenderID
		out.IsSystemMessage = msg.IsSystem
	}
	return out
}

func userStatus(snap *core.PresenceSnapshot) proto.UserStatus {
	status := proto.UserStatus{Online: []int64{}, Away: []int64{}}
	if snap == nil {
		return status
	}
	if snap.Online != nil {
		status.Online = snap.Online
	}
	if snap.Away != nil {
		status.Away = snap.Away
	}
	return status
}
