package core

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/huddle-server/internal/store"
)

// Gateway turns authenticated handshakes into registered clients.
type Gateway struct {
	hub     *Hub
	members store.MembershipStore
	buffer  int
	log     *zerolog.Logger
}

// NewGateway wires a gateway to the hub. members may be nil, in which case clients only join the global room.
func NewGateway(hub *Hub, members store.MembershipStore, buffer int, logger *zerolog.Logger) *Gateway {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Gateway{hub: hub, members: members, buffer: buffer, log: logger}
}

// Connect creates a client for identity and registers it with the hub. The connection is not announced online.
func (g *Gateway) Connect(ctx context.Context, identity *Identity) (*Client, error) {
	if identity == nil || identity.UserID <= 0 {
		return nil, ErrUnauthenticated
	}

	rooms, err := g.defaultRooms(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}

	c := NewClient(uuid.NewString(), *identity, g.buffer)
	if err := g.hub.RegisterClient(ctx, c, rooms...); err != nil {
		return nil, err
	}
	g.log.Info().
		Str("client_id", c.ID).
		Int64("user_id", identity.UserID).
		Int("rooms", len(rooms)).
		Msg("connection accepted")
	return c, nil
}

// Disconnect tears down the client's rooms and presence entries.
func (g *Gateway) Disconnect(c *Client) {
	g.hub.UnregisterClient(c)
	g.log.Info().Str("client_id", c.ID).Int64("user_id", c.Identity.UserID).Msg("connection closed")
}

func (g *Gateway) defaultRooms(ctx context.Context, userID int64) ([]string, error) {
	rooms := []string{GlobalRoom}
	if g.members == nil {
		return rooms, nil
	}

	channels, err := g.members.ListChannels(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	for _, ch := range channels {
		rooms = append(rooms, ChannelRoom(ch.TeamID, ch.ChannelID))
	}

	groups, err := g.members.ListGroups(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	for _, id := range groups {
		rooms = append(rooms, GroupRoom(id))
	}
	return rooms, nil
}
