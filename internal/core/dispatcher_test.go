package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/huddle-server/internal/store"
	"github.com/vovakirdan/huddle-server/internal/store/sqlite"
)

type fixture struct {
	hub *Hub
	gw  *Gateway
	d   *Dispatcher
}

func newFixture(t *testing.T, st store.Store, opts DispatcherOptions) *fixture {
	t.Helper()

	hub := startHub(t, time.Minute)
	return &fixture{
		hub: hub,
		gw:  NewGateway(hub, st, 0, nil),
		d:   NewDispatcher(hub, st, st, opts, nil),
	}
}

func (f *fixture) connect(t *testing.T, userID int64, name string) *Client {
	t.Helper()

	c, err := f.gw.Connect(context.Background(), &Identity{UserID: userID, UserName: name, Role: RoleUser})
	require.NoError(t, err)
	return c
}

func TestGatewayRejectsMissingIdentity(t *testing.T) {
	f := newFixture(t, newMemStore(), DispatcherOptions{})

	_, err := f.gw.Connect(context.Background(), nil)
	require.ErrorIs(t, err, ErrUnauthenticated)

	_, err = f.gw.Connect(context.Background(), &Identity{UserName: "ghost"})
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestGatewayJoinsMembershipRooms(t *testing.T) {
	st := newMemStore()
	st.addChannel(store.ChannelRef{TeamID: 1, ChannelID: 10, TeamName: "acme", ChannelName: "general"}, 1)
	st.addGroup(7, 1)
	f := newFixture(t, st, DispatcherOptions{})

	alice := f.connect(t, 1, "alice")
	flush(t, f.hub)

	done := make(chan []bool, 1)
	f.hub.enqueue(func() {
		done <- []bool{
			f.hub.router.InRoom(alice, GlobalRoom),
			f.hub.router.InRoom(alice, ChannelRoom(1, 10)),
			f.hub.router.InRoom(alice, GroupRoom(7)),
		}
	})
	require.Equal(t, []bool{true, true, true}, <-done)
}

func TestDirectMessageDeliveryScope(t *testing.T) {
	f := newFixture(t, newMemStore(), DispatcherOptions{})

	aliceTab1 := f.connect(t, 1, "alice")
	aliceTab2 := f.connect(t, 1, "alice")
	bob := f.connect(t, 2, "bob")
	carol := f.connect(t, 3, "carol")

	msg, err := f.d.HandleInbound(context.Background(), aliceTab1, &Draft{
		Kind:        store.KindDirect,
		TempID:      "msg-123",
		RecipientID: 2,
		Text:        "hi bob",
	})
	require.NoError(t, err)
	require.Positive(t, msg.ID)

	for _, c := range []*Client{aliceTab1, aliceTab2, bob} {
		ev := mustEvent(t, c.Events, EventMessage)
		require.Equal(t, "msg-123", ev.TempID)
		require.Equal(t, msg.ID, ev.Message.ID)
		require.Equal(t, int64(1), ev.Message.SenderID)
		require.Equal(t, int64(2), ev.Message.RecipientID)
	}
	mustNoEvent(t, carol.Events, EventMessage, 100*time.Millisecond)
}

func TestValidationFailureNotifiesSenderOnly(t *testing.T) {
	st := newMemStore()
	f := newFixture(t, st, DispatcherOptions{MaxTextLength: 5})

	alice := f.connect(t, 1, "alice")
	bob := f.connect(t, 2, "bob")

	cases := []*Draft{
		{Kind: store.KindGlobal, Text: "   "},
		{Kind: store.KindGlobal, Text: "too long"},
		{Kind: store.KindDirect, Text: "hi"},
		{Kind: store.KindChannel, Text: "hi", TeamName: "acme"},
		{Kind: store.KindGroup, Text: "hi"},
	}
	for _, draft := range cases {
		_, err := f.d.HandleInbound(context.Background(), alice, draft)
		require.Equal(t, ErrCodeBadRequest, ErrorCode(err), "draft %+v", draft)
		ev := mustEvent(t, alice.Events, EventError)
		require.Equal(t, ErrCodeBadRequest, ev.Error.Code)
	}

	require.Zero(t, st.count(store.KindGlobal))
	mustNoEvent(t, bob.Events, EventMessage, 100*time.Millisecond)
}

func TestPersistenceFailureNotifiesSenderOnly(t *testing.T) {
	st := newMemStore()
	st.setSaveErr(errStoreDown)
	f := newFixture(t, st, DispatcherOptions{})

	alice := f.connect(t, 1, "alice")
	bob := f.connect(t, 2, "bob")

	msg, err := f.d.HandleInbound(context.Background(), alice, &Draft{Kind: store.KindGlobal, Text: "hello"})
	require.Nil(t, msg)
	require.Equal(t, ErrCodePersistenceFailed, ErrorCode(err))

	ev := mustEvent(t, alice.Events, EventError)
	require.Equal(t, ErrCodePersistenceFailed, ev.Error.Code)
	mustNoEvent(t, alice.Events, EventMessage, 50*time.Millisecond)
	mustNoEvent(t, bob.Events, EventMessage, 50*time.Millisecond)
}

func newChannelStore() *memStore {
	st := newMemStore()
	st.addChannel(store.ChannelRef{TeamID: 1, ChannelID: 10, TeamName: "acme", ChannelName: "general"}, 1, 2)
	return st
}

func TestChannelMessageScopedToChannelRoom(t *testing.T) {
	f := newFixture(t, newChannelStore(), DispatcherOptions{})

	alice := f.connect(t, 1, "alice")
	bob := f.connect(t, 2, "bob")
	carol := f.connect(t, 3, "carol")

	_, err := f.d.HandleInbound(context.Background(), alice, &Draft{
		Kind: store.KindChannel, TeamName: "acme", ChannelName: "general", Text: "standup",
	})
	require.NoError(t, err)

	ev := mustEvent(t, bob.Events, EventMessage)
	require.Equal(t, "alice", ev.Message.SenderName)
	require.Equal(t, "general", ev.Message.ChannelName)
	mustNoEvent(t, carol.Events, EventMessage, 100*time.Millisecond)
}

func TestChannelMessageLegacyBroadcast(t *testing.T) {
	f := newFixture(t, newChannelStore(), DispatcherOptions{ChannelBroadcast: ChannelBroadcastEveryone})

	alice := f.connect(t, 1, "alice")
	carol := f.connect(t, 3, "carol")

	_, err := f.d.HandleInbound(context.Background(), alice, &Draft{
		Kind: store.KindChannel, TeamName: "acme", ChannelName: "general", Text: "standup",
	})
	require.NoError(t, err)
	mustEvent(t, carol.Events, EventMessage)
}

func TestChannelMessageRequiresAccess(t *testing.T) {
	st := newChannelStore()
	f := newFixture(t, st, DispatcherOptions{})

	carol := f.connect(t, 3, "carol")

	_, err := f.d.HandleInbound(context.Background(), carol, &Draft{
		Kind: store.KindChannel, TeamName: "acme", ChannelName: "general", Text: "let me in",
	})
	require.Equal(t, ErrCodeForbidden, ErrorCode(err))

	_, err = f.d.HandleInbound(context.Background(), carol, &Draft{
		Kind: store.KindChannel, TeamName: "acme", ChannelName: "nope", Text: "hello?",
	})
	require.Equal(t, ErrCodeNotFound, ErrorCode(err))
	require.Zero(t, st.count(store.KindChannel))
}

func TestGroupMessageMembership(t *testing.T) {
	st := newMemStore()
	st.addGroup(7, 1, 2)
	f := newFixture(t, st, DispatcherOptions{})

	alice := f.connect(t, 1, "alice")
	bob := f.connect(t, 2, "bob")
	carol := f.connect(t, 3, "carol")

	_, err := f.d.HandleInbound(context.Background(), alice, &Draft{Kind: store.KindGroup, GroupID: 7, Text: "lunch?", TempID: "t1"})
	require.NoError(t, err)
	ev := mustEvent(t, bob.Events, EventMessage)
	require.Equal(t, int64(7), ev.Message.GroupID)
	require.Equal(t, "t1", ev.TempID)
	mustNoEvent(t, carol.Events, EventMessage, 100*time.Millisecond)

	_, err = f.d.HandleInbound(context.Background(), carol, &Draft{Kind: store.KindGroup, GroupID: 7, Text: "me too"})
	require.Equal(t, ErrCodeForbidden, ErrorCode(err))
	mustEvent(t, carol.Events, EventError)
}

func TestJoinGroupChecksMembership(t *testing.T) {
	st := newMemStore()
	f := newFixture(t, st, DispatcherOptions{})

	alice := f.connect(t, 1, "alice")
	st.addGroup(7, 1)

	require.NoError(t, f.d.JoinGroup(context.Background(), alice, 7))
	ev := mustEvent(t, alice.Events, EventRoomJoined)
	require.Equal(t, GroupRoom(7), ev.Room)

	carol := f.connect(t, 3, "carol")
	err := f.d.JoinGroup(context.Background(), carol, 7)
	require.Equal(t, ErrCodeForbidden, ErrorCode(err))

	require.NoError(t, f.d.LeaveGroup(context.Background(), alice, 7))
	mustEvent(t, alice.Events, EventRoomLeft)
}

func TestJoinChannelChecksAccess(t *testing.T) {
	f := newFixture(t, newChannelStore(), DispatcherOptions{})

	bob := f.connect(t, 2, "bob")
	carol := f.connect(t, 3, "carol")

	require.NoError(t, f.d.JoinChannel(context.Background(), bob, "acme", "general"))
	ev := mustEvent(t, bob.Events, EventRoomJoined)
	require.Equal(t, ChannelRoom(1, 10), ev.Room)

	err := f.d.JoinChannel(context.Background(), carol, "acme", "general")
	require.Equal(t, ErrCodeForbidden, ErrorCode(err))
}

func TestModerateRequiresAdmin(t *testing.T) {
	st := newMemStore()
	f := newFixture(t, st, DispatcherOptions{})

	alice := f.connect(t, 1, "alice")
	bob := f.connect(t, 2, "bob")

	msg, err := f.d.HandleInbound(context.Background(), alice, &Draft{Kind: store.KindGlobal, Text: "spam"})
	require.NoError(t, err)
	mustEvent(t, bob.Events, EventMessage)

	require.Error(t, f.d.HandleModerate(context.Background(), alice, store.KindGlobal, msg.ID))
	ev := mustEvent(t, alice.Events, EventError)
	require.Equal(t, ErrCodeForbidden, ev.Error.Code)

	admin := Identity{UserID: 99, UserName: "mod", Role: RoleAdmin}
	moderated, err := f.d.Moderate(context.Background(), admin, store.KindGlobal, msg.ID)
	require.NoError(t, err)
	require.Equal(t, msg.ID, moderated.ID)
	require.Equal(t, store.ModeratedText, moderated.Text)
	require.Equal(t, msg.SenderID, moderated.SenderID)
	require.True(t, msg.CreatedAt.Equal(moderated.CreatedAt))

	patch := mustEvent(t, bob.Events, EventMessageModerated)
	require.Equal(t, msg.ID, patch.Moderated.ID)
	require.Equal(t, store.KindGlobal, patch.Moderated.Kind)
	require.Nil(t, patch.Message, "moderation patch must not carry the message body")

	_, err = f.d.Moderate(context.Background(), admin, store.KindGlobal, 4242)
	require.Equal(t, ErrCodeNotFound, ErrorCode(err))
}

func TestGlobalMessageEndToEnd(t *testing.T) {
	st, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := newFixture(t, st, DispatcherOptions{})
	ctx := context.Background()

	alice := f.connect(t, 1, "alice")
	f.hub.Submit(alice, &Command{Kind: CommandAnnounceOnline})

	snap := flush(t, f.hub)
	require.Equal(t, []int64{1}, snap.Online)
	require.NotContains(t, snap.Online, int64(2))
	require.NotContains(t, snap.Away, int64(2))

	sent, err := f.d.HandleInbound(ctx, alice, &Draft{Kind: store.KindGlobal, Text: "hello", TempID: "g-1"})
	require.NoError(t, err)

	ev := mustEvent(t, alice.Events, EventMessage)
	require.Equal(t, "g-1", ev.TempID)
	require.Positive(t, ev.Message.ID)

	stored, err := st.GetMessage(ctx, store.KindGlobal, ev.Message.ID)
	require.NoError(t, err)
	require.Equal(t, ev.Message.Text, stored.Text)
	require.Equal(t, ev.Message.SenderID, stored.SenderID)
	require.Equal(t, ev.Message.SenderName, stored.SenderName)
	require.True(t, ev.Message.CreatedAt.Equal(stored.CreatedAt))
	require.Equal(t, sent.ID, stored.ID)

	bob := f.connect(t, 2, "bob")
	require.NoError(t, f.d.SendGlobalHistory(ctx, bob))
	history := mustEvent(t, bob.Events, EventHistory)
	require.NotEmpty(t, history.Messages)
	last := history.Messages[len(history.Messages)-1]
	require.Equal(t, "hello", last.Text)
	require.Equal(t, int64(1), last.SenderID)
	require.Equal(t, sent.ID, last.ID)
}

func TestGlobalHistoryRespectsLimit(t *testing.T) {
	f := newFixture(t, newMemStore(), DispatcherOptions{HistoryLimit: 3})

	alice := f.connect(t, 1, "alice")
	for _, text := range []string{"one", "two", "three", "four"} {
		_, err := f.d.HandleInbound(context.Background(), alice, &Draft{Kind: store.KindGlobal, Text: text})
		require.NoError(t, err)
	}

	require.NoError(t, f.d.SendGlobalHistory(context.Background(), alice))
	ev := mustEvent(t, alice.Events, EventHistory)
	require.Len(t, ev.Messages, 3)
	require.Equal(t, "two", ev.Messages[0].Text)
	require.Equal(t, "four", ev.Messages[2].Text)
}
