package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/metrics"
	"github.com/vovakirdan/huddle-server/internal/store"
)

// DefaultHistoryLimit is how many global messages a ready client receives.
const DefaultHistoryLimit = 50

// ChannelBroadcast selects the audience of channel messages.
type ChannelBroadcast string

const (
	// ChannelBroadcastScoped delivers to the channel's room only.
	ChannelBroadcastScoped ChannelBroadcast = "scoped"
	// ChannelBroadcastEveryone delivers to every connection, matching legacy clients.
	ChannelBroadcastEveryone ChannelBroadcast = "everyone"
)

// Fanout is the part of the hub the dispatcher talks to.
type Fanout interface {
	Deliver(ctx context.Context, d *Delivery) error
	Submit(c *Client, cmd *Command)
}

// DispatcherOptions tunes message handling.
type DispatcherOptions struct {
	HistoryLimit     int
	MaxTextLength    int
	ChannelBroadcast ChannelBroadcast
}

// Dispatcher validates, authorizes and persists inbound messages, then hands them to the hub for delivery.
// It runs on the sending connection's goroutine so store I/O never blocks the hub loop.
type Dispatcher struct {
	fanout   Fanout
	messages store.MessageStore
	members  store.MembershipStore
	opts     DispatcherOptions
	log      *zerolog.Logger
}

// NewDispatcher builds a dispatcher. members is required for channel and group messages.
func NewDispatcher(fanout Fanout, messages store.MessageStore, members store.MembershipStore, opts DispatcherOptions, logger *zerolog.Logger) *Dispatcher {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	if opts.ChannelBroadcast == "" {
		opts.ChannelBroadcast = ChannelBroadcastScoped
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{fanout: fanout, messages: messages, members: members, opts: opts, log: logger}
}

// HandleInbound runs a draft through validation, authorization and persistence and delivers
// the stored message. On failure the sender alone receives an error event and nothing is delivered.
func (d *Dispatcher) HandleInbound(ctx context.Context, c *Client, draft *Draft) (*store.Message, error) {
	kind := string(draft.Kind)
	if ce := draft.validate(d.opts.MaxTextLength); ce != nil {
		return nil, d.reject(ctx, c, kind, ce)
	}

	audience, ce := d.authorize(ctx, c.Identity, draft)
	if ce != nil {
		return nil, d.reject(ctx, c, kind, ce)
	}

	msg := draft.record(c.Identity)
	start := time.Now()
	err := d.messages.SaveMessage(ctx, msg)
	metrics.StoreLatency.WithLabelValues("save").Observe(time.Since(start).Seconds())
	if err != nil {
		d.log.Error().Err(err).
			Str("client_id", c.ID).
			Int64("user_id", c.Identity.UserID).
			Str("kind", kind).
			Msg("persist message failed")
		return nil, d.reject(ctx, c, kind, coreError(ErrCodePersistenceFailed, "message could not be saved"))
	}
	metrics.MessagesPersisted.WithLabelValues(kind).Inc()

	ev := &Event{Kind: EventMessage, Message: msg, TempID: draft.TempID}
	if err := d.fanout.Deliver(ctx, &Delivery{Audience: audience, Event: ev}); err != nil {
		return msg, fmt.Errorf("deliver message %d: %w", msg.ID, err)
	}
	d.log.Debug().
		Int64("message_id", msg.ID).
		Int64("user_id", c.Identity.UserID).
		Str("kind", kind).
		Msg("message dispatched")
	return msg, nil
}

// SendGlobalHistory sends the latest global messages to c, oldest first.
func (d *Dispatcher) SendGlobalHistory(ctx context.Context, c *Client) error {
	start := time.Now()
	msgs, err := d.messages.ListGlobalMessages(ctx, d.opts.HistoryLimit, nil)
	metrics.StoreLatency.WithLabelValues("list_global").Observe(time.Since(start).Seconds())
	if err != nil {
		d.log.Error().Err(err).Str("client_id", c.ID).Msg("load global history failed")
		return d.reject(ctx, c, string(store.KindGlobal), coreError(ErrCodePersistenceFailed, "history unavailable"))
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	if !c.Send(ctx, &Event{Kind: EventHistory, Messages: msgs}) {
		return ErrHubStopped
	}
	return nil
}

// Moderate replaces a message's text with the moderation marker and tells its audience
// to patch the rendered copy. Only admins may moderate.
func (d *Dispatcher) Moderate(ctx context.Context, actor Identity, kind store.Kind, id int64) (*store.Message, error) {
	if !actor.IsAdmin() {
		return nil, Forbidden("moderation requires admin role")
	}

	msg, err := d.messages.ModerateMessage(ctx, kind, id, store.ModeratedText)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, coreError(ErrCodeNotFound, "message not found")
		}
		d.log.Error().Err(err).Str("kind", string(kind)).Int64("message_id", id).Msg("moderate message failed")
		return nil, coreError(ErrCodePersistenceFailed, "message could not be moderated")
	}
	metrics.MessagesModerated.WithLabelValues(string(kind)).Inc()
	d.log.Info().
		Int64("moderator_id", actor.UserID).
		Str("kind", string(kind)).
		Int64("message_id", id).
		Msg("message moderated")

	ev := &Event{
		Kind:      EventMessageModerated,
		Moderated: &Moderation{ID: msg.ID, Kind: msg.Kind},
	}
	if err := d.fanout.Deliver(ctx, &Delivery{Audience: d.audienceOf(ctx, msg), Event: ev}); err != nil {
		return msg, fmt.Errorf("deliver moderation %d: %w", msg.ID, err)
	}
	return msg, nil
}

// HandleModerate is Moderate for a connected client; failures come back as an error event.
func (d *Dispatcher) HandleModerate(ctx context.Context, c *Client, kind store.Kind, id int64) error {
	_, err := d.Moderate(ctx, c.Identity, kind, id)
	var ce *CoreError
	if errors.As(err, &ce) {
		return d.reject(ctx, c, string(kind), ce)
	}
	return err
}

// JoinGroup subscribes c to a group room after checking membership.
func (d *Dispatcher) JoinGroup(ctx context.Context, c *Client, groupID int64) error {
	if groupID <= 0 {
		return d.reject(ctx, c, string(store.KindGroup), BadRequest("groupId is required"))
	}
	if ce := d.checkGroup(ctx, c.Identity.UserID, groupID); ce != nil {
		return d.reject(ctx, c, string(store.KindGroup), ce)
	}
	d.fanout.Submit(c, &Command{Kind: CommandJoinRoom, Room: GroupRoom(groupID)})
	return nil
}

// LeaveGroup unsubscribes c from a group room.
func (d *Dispatcher) LeaveGroup(ctx context.Context, c *Client, groupID int64) error {
	if groupID <= 0 {
		return d.reject(ctx, c, string(store.KindGroup), BadRequest("groupId is required"))
	}
	d.fanout.Submit(c, &Command{Kind: CommandLeaveRoom, Room: GroupRoom(groupID)})
	return nil
}

// JoinChannel subscribes c to a channel room after checking access.
func (d *Dispatcher) JoinChannel(ctx context.Context, c *Client, teamName, channelName string) error {
	ref, ce := d.checkChannel(ctx, c.Identity.UserID, teamName, channelName)
	if ce != nil {
		return d.reject(ctx, c, string(store.KindChannel), ce)
	}
	d.fanout.Submit(c, &Command{Kind: CommandJoinRoom, Room: ChannelRoom(ref.TeamID, ref.ChannelID)})
	return nil
}

// LeaveChannel unsubscribes c from a channel room.
func (d *Dispatcher) LeaveChannel(ctx context.Context, c *Client, teamName, channelName string) error {
	ref, ce := d.resolveChannel(ctx, teamName, channelName)
	if ce != nil {
		return d.reject(ctx, c, string(store.KindChannel), ce)
	}
	d.fanout.Submit(c, &Command{Kind: CommandLeaveRoom, Room: ChannelRoom(ref.TeamID, ref.ChannelID)})
	return nil
}

// Reject reports err to c as an error event. Non-domain errors are reported as bad requests.
func (d *Dispatcher) Reject(ctx context.Context, c *Client, err error) error {
	var ce *CoreError
	if !errors.As(err, &ce) {
		ce = BadRequest(err.Error())
	}
	return d.reject(ctx, c, "", ce)
}

func (d *Dispatcher) reject(ctx context.Context, c *Client, kind string, ce *CoreError) error {
	metrics.DispatchFailures.WithLabelValues(kind, ce.Code).Inc()
	d.log.Debug().
		Str("client_id", c.ID).
		Int64("user_id", c.Identity.UserID).
		Str("kind", kind).
		Str("code", ce.Code).
		Msg(ce.Message)
	c.Send(ctx, errorEvent(ce))
	return ce
}

// authorize checks the sender may post the draft and picks its audience.
func (d *Dispatcher) authorize(ctx context.Context, sender Identity, draft *Draft) (Audience, *CoreError) {
	switch draft.Kind {
	case store.KindDirect:
		return UserAudience(sender.UserID, draft.RecipientID), nil
	case store.KindChannel:
		ref, ce := d.checkChannel(ctx, sender.UserID, draft.TeamName, draft.ChannelName)
		if ce != nil {
			return Audience{}, ce
		}
		return d.channelAudience(ref), nil
	case store.KindGroup:
		if ce := d.checkGroup(ctx, sender.UserID, draft.GroupID); ce != nil {
			return Audience{}, ce
		}
		return RoomAudience(GroupRoom(draft.GroupID)), nil
	default:
		return RoomAudience(GlobalRoom), nil
	}
}

// audienceOf returns who should see updates to an already stored message.
func (d *Dispatcher) audienceOf(ctx context.Context, msg *store.Message) Audience {
	switch msg.Kind {
	case store.KindDirect:
		return UserAudience(msg.SenderID, msg.RecipientID)
	case store.KindChannel:
		ref, ce := d.resolveChannel(ctx, msg.TeamName, msg.ChannelName)
		if ce != nil {
			// channel was renamed or removed; clients still hold the old copy
			return EveryoneAudience()
		}
		return d.channelAudience(ref)
	case store.KindGroup:
		return RoomAudience(GroupRoom(msg.GroupID))
	default:
		return RoomAudience(GlobalRoom)
	}
}

func (d *Dispatcher) channelAudience(ref *store.ChannelRef) Audience {
	if d.opts.ChannelBroadcast == ChannelBroadcastEveryone {
		return EveryoneAudience()
	}
	return RoomAudience(ChannelRoom(ref.TeamID, ref.ChannelID))
}

func (d *Dispatcher) resolveChannel(ctx context.Context, teamName, channelName string) (*store.ChannelRef, *CoreError) {
	if teamName == "" || channelName == "" {
		return nil, BadRequest("teamName and channelName are required")
	}
	ref, err := d.members.ResolveChannel(ctx, teamName, channelName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, coreError(ErrCodeNotFound, "channel not found")
	}
	if err != nil {
		d.log.Error().Err(err).Str("team", teamName).Str("channel", channelName).Msg("resolve channel failed")
		return nil, coreError(ErrCodePersistenceFailed, "channel lookup failed")
	}
	return ref, nil
}

func (d *Dispatcher) checkChannel(ctx context.Context, userID int64, teamName, channelName string) (*store.ChannelRef, *CoreError) {
	ref, ce := d.resolveChannel(ctx, teamName, channelName)
	if ce != nil {
		return nil, ce
	}
	ok, err := d.members.IsChannelMember(ctx, userID, *ref)
	if err != nil {
		d.log.Error().Err(err).Int64("user_id", userID).Msg("channel membership check failed")
		return nil, coreError(ErrCodePersistenceFailed, "membership lookup failed")
	}
	if !ok {
		return nil, Forbidden("not a member of this channel")
	}
	return ref, nil
}

func (d *Dispatcher) checkGroup(ctx context.Context, userID, groupID int64) *CoreError {
	ok, err := d.members.IsGroupMember(ctx, userID, groupID)
	if err != nil {
		d.log.Error().Err(err).Int64("user_id", userID).Int64("group_id", groupID).Msg("group membership check failed")
		return coreError(ErrCodePersistenceFailed, "membership lookup failed")
	}
	if !ok {
		return Forbidden("not a member of this group")
	}
	return nil
}
