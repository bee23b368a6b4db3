package chat

import (
	"fmt"
	"net/url"
	"time"
)

// An Identity is a durable, authenticated user record. It is owned by the
// identity provider and treated as read-only by the core. A zero ID marks a
// legacy name-based (guest) identity.
type Identity struct {
	ID     int64  `json:"id"`
	Name   string `json:"username"`
	Avatar string `json:"avatar"`
}

// Guest reports whether the identity is name-based rather than durable.
func (i Identity) Guest() bool {
	return i.ID == 0
}

// A Room is a durable conversation channel. Rooms are created by an
// administrative action outside the core and are read via a RoomDirectory.
type Room struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Locality    string `json:"locality"`
	Description string `json:"description"`
}

// A Message is a persisted chat message. IDs increase monotonically within
// the store and are the only authoritative ordering key. Reactions holds the
// live per-emoji aggregate, recomputed from reaction marks at read time.
type Message struct {
	ID         int64          `json:"id"`
	RoomID     int64          `json:"room"`
	AuthorID   int64          `json:"author_id"`
	AuthorName string         `json:"author"`
	Body       string         `json:"body"`
	CreatedAt  time.Time      `json:"created_at"`
	Avatar     string         `json:"avatar"`
	Reactions  map[string]int `json:"reactions"`
}

// A Member is one entry of a room's presence list, deduplicated by identity.
type Member struct {
	ID     int64  `json:"id"`
	Name   string `json:"username"`
	Avatar string `json:"avatar"`
}

// A Conn is one live duplex channel to a client. Send enqueues an event
// without blocking and reports false when the connection is gone or its
// queue is full; the transport owns reaping such connections.
type Conn interface {
	ID() string
	Identity() (Identity, bool)
	Send(Event) bool
}

// FallbackAvatar derives a deterministic avatar URL for identities that have
// no stored avatar, seeded by display name.
func FallbackAvatar(name string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s&backgroundColor=b6e3f4", url.QueryEscape(name))
}
