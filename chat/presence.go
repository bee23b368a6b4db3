package chat

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// An Entry records one connection's current room membership. Entries are
// keyed by connection id so multiple simultaneous connections per identity
// need no special casing; joining a new room replaces the entry.
type Entry struct {
	Conn     Conn
	Identity Identity
	RoomID   int64
}

// A Registry is the process-wide, in-memory source of truth for which
// connection is present in which room. It holds no durable state; a restart
// drops all presence and clients re-join on reconnect.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewRegistry returns an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Join creates or replaces the entry for conn. It returns the room the
// connection was previously in, when there was one.
func (r *Registry) Join(conn Conn, ident Identity, roomID int64) (prevRoom int64, hadPrev bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.entries[conn.ID()]; ok {
		prevRoom, hadPrev = prev.RoomID, true
	}
	r.entries[conn.ID()] = Entry{Conn: conn, Identity: ident, RoomID: roomID}
	return prevRoom, hadPrev
}

// Leave removes and returns the entry for the connection, if any.
func (r *Registry) Leave(connID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[connID]
	if ok {
		delete(r.entries, connID)
	}
	return e, ok
}

// Get returns the entry for the connection, if any.
func (r *Registry) Get(connID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[connID]
	return e, ok
}

// Members returns the room's presence list, deduplicated by identity, never
// by connection: one identity holding several tabs appears once. The list is
// sorted by display name to keep broadcasts deterministic.
func (r *Registry) Members(roomID int64) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var in []Entry
	for _, e := range r.entries {
		if e.RoomID == roomID {
			in = append(in, e)
		}
	}
	uniq := lo.UniqBy(in, func(e Entry) string {
		return identityKey(e.Identity)
	})
	members := lo.Map(uniq, func(e Entry, _ int) Member {
		return Member{ID: e.Identity.ID, Name: e.Identity.Name, Avatar: e.Identity.Avatar}
	})
	sort.Slice(members, func(i, j int) bool {
		if members[i].Name != members[j].Name {
			return members[i].Name < members[j].Name
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// ConnsIn returns a snapshot of the connections currently present in the
// room. The snapshot is safe to iterate without holding the registry lock.
func (r *Registry) ConnsIn(roomID int64) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]Conn, 0, len(r.entries))
	for _, e := range r.entries {
		if e.RoomID == roomID {
			conns = append(conns, e.Conn)
		}
	}
	return conns
}

// NameInUse reports whether another connection in the room already presents
// the display name. The probing connection itself is ignored so a re-join
// under the same name is not a collision.
func (r *Registry) NameInUse(roomID int64, name, exceptConnID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, e := range r.entries {
		if id != exceptConnID && e.RoomID == roomID && e.Identity.Name == name {
			return true
		}
	}
	return false
}

// identityKey collapses multi-tab presence: durable identities dedup by id,
// guests by display name. Two different durable users sharing a name stay
// distinct.
func identityKey(i Identity) string {
	if i.Guest() {
		return "n:" + i.Name
	}
	return fmt.Sprintf("u:%d", i.ID)
}
