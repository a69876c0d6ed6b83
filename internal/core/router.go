package core

import "strconv"

// GlobalRoom receives every global chat message.
const GlobalRoom = "global"

// ChannelRoom names the broadcast group of a team channel.
func ChannelRoom(teamID, channelID int64) string {
	return "channel:" + strconv.FormatInt(teamID, 10) + ":" + strconv.FormatInt(channelID, 10)
}

// GroupRoom names the broadcast group of a group chat.
func GroupRoom(groupID int64) string {
	return "group:" + strconv.FormatInt(groupID, 10)
}

// Room groups clients subscribed to the same broadcast.
type Room struct {
	Name    string
	clients map[*Client]struct{}
}

// NewRoom constructs a room with no clients.
func NewRoom(name string) *Room {
	return &Room{
		Name:    name,
		clients: make(map[*Client]struct{}),
	}
}

// AddClient inserts a client into the room. Returns true if newly added.
func (r *Room) AddClient(c *Client) bool {
	if _, exists := r.clients[c]; exists {
		return false
	}
	r.clients[c] = struct{}{}
	return true
}

// RemoveClient deletes a client from the room. Returns true if removed.
func (r *Room) RemoveClient(c *Client) bool {
	if _, exists := r.clients[c]; !exists {
		return false
	}
	delete(r.clients, c)
	return true
}

// Empty returns true if no clients are in the room.
func (r *Room) Empty() bool {
	return len(r.clients) == 0
}

// Audience selects the connections an event is delivered to.
// Rooms and Users are unioned; Everyone overrides both.
type Audience struct {
	Everyone bool
	Rooms    []string
	Users    []int64
}

// RoomAudience addresses every connection joined to room.
func RoomAudience(room string) Audience {
	return Audience{Rooms: []string{room}}
}

// UserAudience addresses every connection of the given users.
func UserAudience(userIDs ...int64) Audience {
	return Audience{Users: userIDs}
}

// EveryoneAudience addresses all registered connections.
func EveryoneAudience() Audience {
	return Audience{Everyone: true}
}

// Router tracks registered clients, their rooms and their owning users.
// Like Presence it is owned by the hub loop.
type Router struct {
	clients map[*Client]struct{}
	rooms   map[string]*Room
	users   map[int64]map[*Client]struct{}
}

// NewRouter builds an empty router.
func NewRouter() *Router {
	return &Router{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]*Room),
		users:   make(map[int64]map[*Client]struct{}),
	}
}

// Add registers a client. Returns false if it was already registered.
func (r *Router) Add(c *Client) bool {
	if _, ok := r.clients[c]; ok {
		return false
	}
	r.clients[c] = struct{}{}
	set, ok := r.users[c.Identity.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		r.users[c.Identity.UserID] = set
	}
	set[c] = struct{}{}
	return true
}

// Has reports whether the client is registered.
func (r *Router) Has(c *Client) bool {
	_, ok := r.clients[c]
	return ok
}

// Remove unregisters a client and leaves all of its rooms.
func (r *Router) Remove(c *Client) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}
	for name := range c.rooms {
		r.Leave(c, name)
	}
	delete(r.clients, c)
	if set, ok := r.users[c.Identity.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(r.users, c.Identity.UserID)
		}
	}
	return true
}

// Join subscribes a registered client to a room. Joining twice is a no-op.
func (r *Router) Join(c *Client, name string) bool {
	if _, ok := r.clients[c]; !ok {
		return false
	}
	room, ok := r.rooms[name]
	if !ok {
		room = NewRoom(name)
		r.rooms[name] = room
	}
	c.rooms[name] = struct{}{}
	return room.AddClient(c)
}

// Leave unsubscribes a client from a room. Empty rooms are pruned.
func (r *Router) Leave(c *Client, name string) bool {
	delete(c.rooms, name)
	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	removed := room.RemoveClient(c)
	if room.Empty() {
		delete(r.rooms, name)
	}
	return removed
}

// InRoom reports whether the client is joined to the room.
func (r *Router) InRoom(c *Client, name string) bool {
	room, ok := r.rooms[name]
	if !ok {
		return false
	}
	_, in := room.clients[c]
	return in
}

// Len returns the number of registered clients.
func (r *Router) Len() int {
	return len(r.clients)
}

// Targets resolves an audience into distinct clients.
func (r *Router) Targets(a Audience) []*Client {
	if a.Everyone {
		out := make([]*Client, 0, len(r.clients))
		for c := range r.clients {
			out = append(out, c)
		}
		return out
	}

	seen := make(map[*Client]struct{})
	var out []*Client
	add := func(c *Client) {
		if _, dup := seen[c]; dup {
			return
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	for _, name := range a.Rooms {
		if room, ok := r.rooms[name]; ok {
			for c := range room.clients {
				add(c)
			}
		}
	}
	for _, userID := range a.Users {
		for c := range r.users[userID] {
			add(c)
		}
	}
	return out
}
