package core

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

// mustPresence waits for a presence event that satisfies ok.
func mustPresence(t *testing.T, ch <-chan *Event, ok func(PresenceSnapshot) bool) PresenceSnapshot {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == EventPresence && ok(*ev.Presence) {
				return *ev.Presence
			}
		case <-deadline:
			t.Fatalf("expected presence update not received")
			return PresenceSnapshot{}
		}
	}
}

func TestHubRegisterDoesNotAnnounce(t *testing.T) {
	hub := startHub(t, time.Minute)

	register(hub, "a", 1, "alice", GlobalRoom)

	snap := flush(t, hub)
	if len(snap.Online) != 0 || len(snap.Away) != 0 {
		t.Fatalf("a silent connection must not be present: %+v", snap)
	}
}

func TestHubAnnounceBroadcastsToEveryone(t *testing.T) {
	hub := startHub(t, time.Minute)

	alice := register(hub, "a", 1, "alice")
	bob := register(hub, "b", 2, "bob")

	hub.Submit(alice, &Command{Kind: CommandAnnounceOnline})
	mustPresence(t, bob.Events, func(s PresenceSnapshot) bool { return slices.Equal(s.Online, []int64{1}) })

	hub.Submit(alice, &Command{Kind: CommandAnnounceAway})
	snap := mustPresence(t, bob.Events, func(s PresenceSnapshot) bool { return len(s.Online) == 0 })
	if !slices.Equal(snap.Away, []int64{1}) {
		t.Fatalf("expected alice away, got %+v", snap)
	}
}

func TestHubRequestStatusRepliesToRequesterOnly(t *testing.T) {
	hub := startHub(t, time.Minute)

	alice := register(hub, "a", 1, "alice")
	bob := register(hub, "b", 2, "bob")

	hub.Submit(alice, &Command{Kind: CommandRequestStatus})
	mustEvent(t, alice.Events, EventPresence)
	mustNoEvent(t, bob.Events, EventPresence, 100*time.Millisecond)
}

func TestHubOnlineAnnouncementOutlivesEarlierTimer(t *testing.T) {
	const window = 200 * time.Millisecond
	hub := startHub(t, window)

	alice := register(hub, "a", 1, "alice")
	hub.Submit(alice, &Command{Kind: CommandAnnounceOnline})
	time.Sleep(window * 6 / 10)
	hub.Submit(alice, &Command{Kind: CommandAnnounceOnline})
	time.Sleep(window * 6 / 10)

	// The first timer would have fired by now.
	snap := flush(t, hub)
	if !slices.Equal(snap.Online, []int64{1}) {
		t.Fatalf("alice should still be online, got %+v", snap)
	}

	mustPresence(t, alice.Events, func(s PresenceSnapshot) bool { return slices.Equal(s.Away, []int64{1}) })
}

func TestHubInactivityMarksAway(t *testing.T) {
	hub := startHub(t, 30*time.Millisecond)

	alice := register(hub, "a", 1, "alice")
	bob := register(hub, "b", 2, "bob")
	hub.Submit(alice, &Command{Kind: CommandAnnounceOnline})

	snap := mustPresence(t, bob.Events, func(s PresenceSnapshot) bool { return slices.Contains(s.Away, 1) })
	if slices.Contains(snap.Online, 1) {
		t.Fatalf("alice listed both online and away: %+v", snap)
	}
}

func TestHubDisconnectCleansPresence(t *testing.T) {
	hub := startHub(t, time.Minute)

	alice := register(hub, "a", 1, "alice", GlobalRoom)
	bob := register(hub, "b", 2, "bob", GlobalRoom)
	hub.Submit(alice, &Command{Kind: CommandAnnounceOnline})
	mustPresence(t, bob.Events, func(s PresenceSnapshot) bool { return slices.Contains(s.Online, 1) })

	hub.UnregisterClient(alice)
	hub.UnregisterClient(alice)

	snap := mustPresence(t, bob.Events, func(s PresenceSnapshot) bool { return !slices.Contains(s.Online, 1) })
	if slices.Contains(snap.Away, 1) {
		t.Fatalf("disconnected user must be offline, got %+v", snap)
	}
	select {
	case <-alice.Done():
	case <-time.After(time.Second):
		t.Fatal("client not closed after unregister")
	}
}

func TestHubSecondTabKeepsUserOnline(t *testing.T) {
	hub := startHub(t, time.Minute)

	tabA := register(hub, "a1", 1, "alice")
	tabB := register(hub, "a2", 1, "alice")
	hub.Submit(tabA, &Command{Kind: CommandAnnounceOnline})
	hub.Submit(tabB, &Command{Kind: CommandAnnounceOnline})
	hub.UnregisterClient(tabA)

	snap := flush(t, hub)
	if !slices.Equal(snap.Online, []int64{1}) {
		t.Fatalf("user with a remaining tab should stay online, got %+v", snap)
	}
}

func TestHubDeliverToRoom(t *testing.T) {
	hub := startHub(t, time.Minute)

	alice := register(hub, "a", 1, "alice", GroupRoom(3))
	bob := register(hub, "b", 2, "bob")

	err := hub.Deliver(context.Background(), &Delivery{
		Audience: RoomAudience(GroupRoom(3)),
		Event:    &Event{Kind: EventRoomJoined, Room: GroupRoom(3)},
	})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	mustEvent(t, alice.Events, EventRoomJoined)
	mustNoEvent(t, bob.Events, EventRoomJoined, 100*time.Millisecond)
}

func TestHubJoinAndLeaveCommands(t *testing.T) {
	hub := startHub(t, time.Minute)

	alice := register(hub, "a", 1, "alice")
	hub.Submit(alice, &Command{Kind: CommandJoinRoom, Room: "general"})
	if ev := mustEvent(t, alice.Events, EventRoomJoined); ev.Room != "general" {
		t.Fatalf("unexpected join ack: %+v", ev)
	}

	hub.Submit(alice, &Command{Kind: CommandLeaveRoom, Room: "general"})
	mustEvent(t, alice.Events, EventRoomLeft)

	_ = hub.Deliver(context.Background(), &Delivery{
		Audience: RoomAudience("general"),
		Event:    &Event{Kind: EventMessage},
	})
	mustNoEvent(t, alice.Events, EventMessage, 100*time.Millisecond)
}

func TestHubDropsSlowConsumer(t *testing.T) {
	hub := startHub(t, time.Minute)

	slow := NewClient("slow", Identity{UserID: 9, UserName: "slow"}, 1)
	if err := hub.RegisterClient(context.Background(), slow, GlobalRoom); err != nil {
		t.Fatalf("register: %v", err)
	}

	for range 3 {
		_ = hub.Deliver(context.Background(), &Delivery{
			Audience: RoomAudience(GlobalRoom),
			Event:    &Event{Kind: EventMessage},
		})
	}

	select {
	case <-slow.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer was not disconnected")
	}
}

func TestHubStopClosesClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, time.Minute)
	go hub.Run(ctx)

	alice := register(hub, "a", 1, "alice")
	flush(t, hub)
	cancel()

	select {
	case <-alice.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not closed on hub stop")
	}
	<-hub.Done()

	err := hub.Deliver(context.Background(), &Delivery{Audience: EveryoneAudience(), Event: &Event{Kind: EventMessage}})
	if err != ErrHubStopped {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}
}

func TestHubRegisterAfterStopFails(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, time.Minute)
	go hub.Run(ctx)
	cancel()
	<-hub.Done()

	c := NewClient("late", Identity{UserID: 1, UserName: "alice"}, 0)
	if err := hub.RegisterClient(context.Background(), c, GlobalRoom); !errors.Is(err, ErrHubStopped) {
		t.Fatalf("expected ErrHubStopped, got %v", err)
	}

	gw := NewGateway(hub, nil, 0, nil)
	client, err := gw.Connect(context.Background(), &Identity{UserID: 1, UserName: "alice"})
	if !errors.Is(err, ErrHubStopped) || client != nil {
		t.Fatalf("expected ErrHubStopped from Connect, got %v %v", client, err)
	}
}

func TestHubRegisterWaitsForLoop(t *testing.T) {
	hub := NewHub(nil, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	c := NewClient("a", Identity{UserID: 1, UserName: "alice"}, 0)
	if err := hub.RegisterClient(ctx, c); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while the loop is not running, got %v", err)
	}
}
