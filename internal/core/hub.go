package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/metrics"
)

const opQueueSize = 256

// Delivery is a fan-out request handed to the hub after persistence.
type Delivery struct {
	Audience Audience
	Event    *Event
}

// Hub is the single event loop that owns presence and room membership.
// Every mutation runs inside Run; other goroutines enqueue operations in FIFO order,
// so a client's register, commands and deliveries are applied in the order they were issued.
type Hub struct {
	presence  *Presence
	router    *Router
	observers []PresenceObserver
	log       *zerolog.Logger

	ops  chan func()
	done chan struct{}
}

// NewHub creates a hub with the given inactivity window (0 means the default).
func NewHub(logger *zerolog.Logger, inactivity time.Duration) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	h := &Hub{
		router: NewRouter(),
		log:    logger,
		ops:    make(chan func(), opQueueSize),
		done:   make(chan struct{}),
	}
	h.presence = NewPresence(inactivity, func(userID int64, gen uint64) {
		h.enqueue(func() { h.expire(userID, gen) })
	})
	return h
}

// Observe adds a presence observer. Call before Run.
func (h *Hub) Observe(o PresenceObserver) {
	h.observers = append(h.observers, o)
}

// Run processes operations until ctx is cancelled. On exit all clients are dropped.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	defer h.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-h.ops:
			op()
		}
	}
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// RegisterClient adds a connection, joins the given rooms and records it with presence as not yet online.
// It returns once the hub has applied the registration, or ErrHubStopped if the hub stopped first.
func (h *Hub) RegisterClient(ctx context.Context, c *Client, rooms ...string) error {
	if h.stopped() {
		return ErrHubStopped
	}
	applied := make(chan struct{})
	op := func() {
		defer close(applied)
		if !h.router.Add(c) {
			return
		}
		for _, room := range rooms {
			h.router.Join(c, room)
		}
		h.presence.Register(c.Identity.UserID, c.ID)
		metrics.ConnectionsActive.Inc()
		h.log.Debug().
			Str("client_id", c.ID).
			Int64("user_id", c.Identity.UserID).
			Strs("rooms", rooms).
			Msg("client registered")
	}
	select {
	case h.ops <- op:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	// a queued op the loop never reaches leaves the client unregistered
	select {
	case <-applied:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UnregisterClient removes a connection from rooms and presence. Safe to call more than once.
func (h *Hub) UnregisterClient(c *Client) {
	h.enqueue(func() { h.drop(c, "disconnect") })
}

// Submit enqueues a client command.
func (h *Hub) Submit(c *Client, cmd *Command) {
	h.enqueue(func() { h.handleCommand(c, cmd) })
}

// Deliver enqueues a fan-out. It fails only if ctx ends or the hub stopped first.
func (h *Hub) Deliver(ctx context.Context, d *Delivery) error {
	if h.stopped() {
		return ErrHubStopped
	}
	op := func() { h.fanout(h.router.Targets(d.Audience), d.Event) }
	select {
	case h.ops <- op:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current presence sets.
func (h *Hub) Snapshot(ctx context.Context) (PresenceSnapshot, error) {
	if h.stopped() {
		return PresenceSnapshot{}, ErrHubStopped
	}
	reply := make(chan PresenceSnapshot, 1)
	op := func() { reply <- h.presence.Snapshot() }
	select {
	case h.ops <- op:
	case <-h.done:
		return PresenceSnapshot{}, ErrHubStopped
	case <-ctx.Done():
		return PresenceSnapshot{}, ctx.Err()
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-h.done:
		return PresenceSnapshot{}, ErrHubStopped
	case <-ctx.Done():
		return PresenceSnapshot{}, ctx.Err()
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) enqueue(op func()) {
	if h.stopped() {
		return
	}
	select {
	case h.ops <- op:
	case <-h.done:
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	if !h.router.Has(c) {
		return
	}
	userID := c.Identity.UserID

	switch cmd.Kind {
	case CommandAnnounceOnline:
		h.presence.AnnounceOnline(userID, c.ID)
		h.publishPresence()
	case CommandAnnounceAway:
		h.presence.AnnounceAway(userID, c.ID)
		h.publishPresence()
	case CommandRequestStatus:
		snap := h.presence.Snapshot()
		h.fanout([]*Client{c}, &Event{Kind: EventPresence, Presence: &snap})
	case CommandJoinRoom:
		h.router.Join(c, cmd.Room)
		h.fanout([]*Client{c}, &Event{Kind: EventRoomJoined, Room: cmd.Room})
	case CommandLeaveRoom:
		h.router.Leave(c, cmd.Room)
		h.fanout([]*Client{c}, &Event{Kind: EventRoomLeft, Room: cmd.Room})
	default:
		h.fanout([]*Client{c}, errorEvent(coreError(ErrCodeUnsupported, "unsupported command")))
	}
}

func (h *Hub) expire(userID int64, gen uint64) {
	if !h.presence.Expire(userID, gen) {
		return
	}
	metrics.PresenceExpirations.Inc()
	h.log.Debug().Int64("user_id", userID).Msg("user inactive, marked away")
	h.publishPresence()
}

// drop unregisters a client; reason is only logged.
func (h *Hub) drop(c *Client, reason string) {
	if !h.router.Remove(c) {
		return
	}
	c.close()
	metrics.ConnectionsActive.Dec()

	changed := h.presence.RemoveConnection(c.ID)
	h.log.Debug().
		Str("client_id", c.ID).
		Int64("user_id", c.Identity.UserID).
		Str("reason", reason).
		Msg("client unregistered")
	if changed {
		h.publishPresence()
	}
}

func (h *Hub) publishPresence() {
	snap := h.presence.Snapshot()
	metrics.PresenceUsers.WithLabelValues(string(StatusOnline)).Set(float64(len(snap.Online)))
	metrics.PresenceUsers.WithLabelValues(string(StatusAway)).Set(float64(len(snap.Away)))

	h.fanout(h.router.Targets(EveryoneAudience()), &Event{Kind: EventPresence, Presence: &snap})
	for _, o := range h.observers {
		o.PresenceChanged(snap)
	}
}

// fanout enqueues ev to every target. A client whose buffer is full is disconnected
// instead of silently missing the event.
func (h *Hub) fanout(targets []*Client, ev *Event) {
	var slow []*Client
	for _, c := range targets {
		if c.trySend(ev) {
			metrics.Deliveries.Inc()
			continue
		}
		slow = append(slow, c)
	}
	for _, c := range slow {
		metrics.SlowConsumerDisconnects.Inc()
		h.log.Warn().Str("client_id", c.ID).Int64("user_id", c.Identity.UserID).Msg("slow consumer, dropping client")
		h.drop(c, "slow consumer")
	}
}

func (h *Hub) shutdown() {
	h.presence.Stop()
	for _, c := range h.router.Targets(EveryoneAudience()) {
		h.router.Remove(c)
		c.close()
		metrics.ConnectionsActive.Dec()
	}
}
