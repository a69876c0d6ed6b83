package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/huddle-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// mustNoEvent fails if an event of kind shows up on ch within wait.
func mustNoEvent(t *testing.T, ch <-chan *Event, kind EventKind, wait time.Duration) {
	t.Helper()

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case ev := <-ch:
			if ev != nil && ev.Kind == kind {
				t.Fatalf("unexpected event kind %v: %+v", kind, ev)
			}
		case <-timer.C:
			return
		}
	}
}

func startHub(t *testing.T, window time.Duration) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, window)
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.Done()
	})
	return hub
}

func register(hub *Hub, id string, userID int64, name string, rooms ...string) *Client {
	c := NewClient(id, Identity{UserID: userID, UserName: name, Role: RoleUser}, 0)
	if err := hub.RegisterClient(context.Background(), c, rooms...); err != nil {
		panic("register " + id + ": " + err.Error())
	}
	return c
}

// flush waits until every operation queued so far has run on the hub loop.
func flush(t *testing.T, hub *Hub) PresenceSnapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := hub.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snap
}

var errStoreDown = errors.New("store down")

// memStore is an in-memory store.Store with switchable failures.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	msgs    map[store.Kind][]*store.Message
	saveErr error

	channels map[string]store.ChannelRef // "team/channel"
	chanMem  map[int64]map[int64]bool    // channelID -> users
	groupMem map[int64]map[int64]bool    // groupID -> users
}

func newMemStore() *memStore {
	return &memStore{
		msgs:     make(map[store.Kind][]*store.Message),
		channels: make(map[string]store.ChannelRef),
		chanMem:  make(map[int64]map[int64]bool),
		groupMem: make(map[int64]map[int64]bool),
	}
}

func (m *memStore) addChannel(ref store.ChannelRef, users ...int64) {
	m.channels[ref.TeamName+"/"+ref.ChannelName] = ref
	set := make(map[int64]bool)
	for _, u := range users {
		set[u] = true
	}
	m.chanMem[ref.ChannelID] = set
}

func (m *memStore) addGroup(groupID int64, users ...int64) {
	set := make(map[int64]bool)
	for _, u := range users {
		set[u] = true
	}
	m.groupMem[groupID] = set
}

func (m *memStore) setSaveErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memStore) count(kind store.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs[kind])
}

func (m *memStore) SaveMessage(_ context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	msg.Normalize()
	m.nextID++
	msg.ID = m.nextID
	cp := *msg
	m.msgs[msg.Kind] = append(m.msgs[msg.Kind], &cp)
	return nil
}

func (m *memStore) GetMessage(_ context.Context, kind store.Kind, id int64) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs[kind] {
		if msg.ID == id {
			cp := *msg
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) list(kind store.Kind, limit int, keep func(*store.Message) bool) []*store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Message
	for _, msg := range m.msgs[kind] {
		if keep(msg) {
			cp := *msg
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func before(beforeID *int64, msg *store.Message) bool {
	return beforeID == nil || msg.ID < *beforeID
}

func (m *memStore) ListGlobalMessages(_ context.Context, limit int, beforeID *int64) ([]*store.Message, error) {
	return m.list(store.KindGlobal, limit, func(msg *store.Message) bool { return before(beforeID, msg) }), nil
}

func (m *memStore) ListDirectMessages(_ context.Context, userID, otherID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	return m.list(store.KindDirect, limit, func(msg *store.Message) bool {
		pair := (msg.SenderID == userID && msg.RecipientID == otherID) ||
			(msg.SenderID == otherID && msg.RecipientID == userID)
		return pair && before(beforeID, msg)
	}), nil
}

func (m *memStore) ListChannelMessages(_ context.Context, teamName, channelName string, limit int, beforeID *int64) ([]*store.Message, error) {
	return m.list(store.KindChannel, limit, func(msg *store.Message) bool {
		return msg.TeamName == teamName && msg.ChannelName == channelName && before(beforeID, msg)
	}), nil
}

func (m *memStore) ListGroupMessages(_ context.Context, groupID int64, limit int, beforeID *int64) ([]*store.Message, error) {
	return m.list(store.KindGroup, limit, func(msg *store.Message) bool {
		return msg.GroupID == groupID && before(beforeID, msg)
	}), nil
}

func (m *memStore) ModerateMessage(_ context.Context, kind store.Kind, id int64, text string) (*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs[kind] {
		if msg.ID == id {
			msg.Text = text
			cp := *msg
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ResolveChannel(_ context.Context, teamName, channelName string) (*store.ChannelRef, error) {
	ref, ok := m.channels[teamName+"/"+channelName]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &ref, nil
}

func (m *memStore) IsChannelMember(_ context.Context, userID int64, ref store.ChannelRef) (bool, error) {
	return m.chanMem[ref.ChannelID][userID], nil
}

func (m *memStore) IsGroupMember(_ context.Context, userID, groupID int64) (bool, error) {
	return m.groupMem[groupID][userID], nil
}

func (m *memStore) ListChannels(_ context.Context, userID int64) ([]store.ChannelRef, error) {
	var out []store.ChannelRef
	for _, ref := range m.channels {
		if m.chanMem[ref.ChannelID][userID] {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (m *memStore) ListGroups(_ context.Context, userID int64) ([]int64, error) {
	var out []int64
	for id, users := range m.groupMem {
		if users[userID] {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error               { return nil }
