package core

import (
	"slices"
	"time"
)

// DefaultInactivityWindow is how long an online user may stay silent before turning away.
const DefaultInactivityWindow = 30 * time.Second

// Status is a user's aggregate presence across all of their connections.
type Status string

const (
	StatusOffline Status = "offline"
	StatusAway    Status = "away"
	StatusOnline  Status = "online"
)

// PresenceSnapshot lists user ids per aggregate status, sorted ascending.
type PresenceSnapshot struct {
	Online []int64
	Away   []int64
}

// PresenceObserver is notified from the hub loop after every published change.
// Implementations must not block.
type PresenceObserver interface {
	PresenceChanged(snapshot PresenceSnapshot)
}

type inactivityTimer struct {
	timer *time.Timer
	gen   uint64
}

// Presence tracks online/away entries per (user, connection) and one inactivity timer per user.
//
// Presence is not safe for concurrent use. The hub loop owns it; timer callbacks
// only report (user, generation) through expire and the owner calls Expire.
type Presence struct {
	window time.Duration
	expire func(userID int64, gen uint64)

	conns  map[string]int64 // connection id -> user id
	online map[int64]map[string]struct{}
	away   map[int64]map[string]struct{}
	timers map[int64]*inactivityTimer
	gen    uint64
}

// NewPresence builds a registry. expire runs on the timer's goroutine.
func NewPresence(window time.Duration, expire func(userID int64, gen uint64)) *Presence {
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	return &Presence{
		window: window,
		expire: expire,
		conns:  make(map[string]int64),
		online: make(map[int64]map[string]struct{}),
		away:   make(map[int64]map[string]struct{}),
		timers: make(map[int64]*inactivityTimer),
	}
}

// Register records a connection without declaring it present.
func (p *Presence) Register(userID int64, connID string) {
	p.conns[connID] = userID
}

// AnnounceOnline moves the connection to online and restarts the user's inactivity timer.
// It reports whether the user's aggregate status changed.
func (p *Presence) AnnounceOnline(userID int64, connID string) bool {
	before := p.Status(userID)

	p.conns[connID] = userID
	removeEntry(p.away, userID, connID)
	addEntry(p.online, userID, connID)
	p.restartTimer(userID)

	return before != p.Status(userID)
}

// AnnounceAway moves the connection to away. The user's timer is left alone.
func (p *Presence) AnnounceAway(userID int64, connID string) bool {
	before := p.Status(userID)

	p.conns[connID] = userID
	removeEntry(p.online, userID, connID)
	addEntry(p.away, userID, connID)

	return before != p.Status(userID)
}

// Expire handles a fired inactivity timer. A generation that no longer matches the
// user's current timer belongs to a superseded announcement and is ignored.
func (p *Presence) Expire(userID int64, gen uint64) bool {
	t, ok := p.timers[userID]
	if !ok || t.gen != gen {
		return false
	}
	delete(p.timers, userID)

	before := p.Status(userID)
	for connID := range p.online[userID] {
		addEntry(p.away, userID, connID)
	}
	delete(p.online, userID)

	return before != p.Status(userID)
}

// RemoveConnection drops every entry owned by the connection, resolving its user from
// the registration. Unknown connections are ignored. When the user has no online
// connection left their timer is cancelled.
func (p *Presence) RemoveConnection(connID string) bool {
	userID, ok := p.conns[connID]
	if !ok {
		return false
	}
	delete(p.conns, connID)

	before := p.Status(userID)
	removeEntry(p.online, userID, connID)
	removeEntry(p.away, userID, connID)
	if len(p.online[userID]) == 0 {
		p.stopTimer(userID)
	}

	return before != p.Status(userID)
}

// Status returns the user's aggregate status.
func (p *Presence) Status(userID int64) Status {
	if len(p.online[userID]) > 0 {
		return StatusOnline
	}
	if len(p.away[userID]) > 0 {
		return StatusAway
	}
	return StatusOffline
}

// Snapshot returns users deduplicated by aggregate status.
func (p *Presence) Snapshot() PresenceSnapshot {
	snap := PresenceSnapshot{
		Online: make([]int64, 0, len(p.online)),
		Away:   make([]int64, 0, len(p.away)),
	}
	for userID := range p.online {
		snap.Online = append(snap.Online, userID)
	}
	for userID := range p.away {
		if _, online := p.online[userID]; !online {
			snap.Away = append(snap.Away, userID)
		}
	}
	slices.Sort(snap.Online)
	slices.Sort(snap.Away)
	return snap
}

// Stop cancels every pending timer.
func (p *Presence) Stop() {
	for userID := range p.timers {
		p.stopTimer(userID)
	}
}

func (p *Presence) restartTimer(userID int64) {
	p.stopTimer(userID)

	p.gen++
	gen := p.gen
	t := &inactivityTimer{gen: gen}
	if p.expire != nil {
		t.timer = time.AfterFunc(p.window, func() { p.expire(userID, gen) })
	}
	p.timers[userID] = t
}

func (p *Presence) stopTimer(userID int64) {
	if t, ok := p.timers[userID]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(p.timers, userID)
	}
}

func addEntry(m map[int64]map[string]struct{}, userID int64, connID string) {
	set, ok := m[userID]
	if !ok {
		set = make(map[string]struct{})
		m[userID] = set
	}
	set[connID] = struct{}{}
}

func removeEntry(m map[int64]map[string]struct{}, userID int64, connID string) {
	set, ok := m[userID]
	if !ok {
		return
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(m, userID)
	}
}
