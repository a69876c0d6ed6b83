package core

import (
	"context"
	"sync"
)

const defaultEventBuffer = 64

// Client is one realtime connection as seen by the core layer.
// A user with several tabs has several clients.
type Client struct {
	ID       string
	Identity Identity
	Events   chan *Event

	// rooms is owned by the hub loop.
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a client with an initialized event buffer.
func NewClient(id string, identity Identity, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	if identity.UserName == "" {
		identity.UserName = id
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Events:   make(chan *Event, buffer),
		rooms:    make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Done is closed once the hub has dropped the client.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Send queues an event for this client only, waiting for buffer space.
// It returns false if the client was dropped or ctx ended first.
func (c *Client) Send(ctx context.Context, ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// trySend never blocks; the hub loop uses it for fan-out.
func (c *Client) trySend(ev *Event) bool {
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}
