// Package chat implements the room-scoped realtime messaging core: presence
// tracking, room broadcast, and the dispatcher that interprets inbound
// connection events against the durable message store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/salachat/salachat/chat/validator"
)

// A Store persists messages and reaction marks. Message ids increase
// monotonically and are the sole ordering key for history.
type Store interface {
	Append(ctx context.Context, msg Message) (Message, error)
	History(ctx context.Context, roomID int64, limit int, excludeIDs ...int64) ([]Message, error)
	Message(ctx context.Context, messageID int64) (Message, error)
	Delete(ctx context.Context, messageID int64) error
	ToggleReaction(ctx context.Context, messageID int64, user Identity, emoji string) (map[string]int, error)
}

// A Cache keeps the most recent messages of each room. Cache failures are
// never fatal to a request; the store remains the source of truth.
type Cache interface {
	History(ctx context.Context, roomID int64) ([]Message, error)
	Add(ctx context.Context, msg Message) error
	Remove(ctx context.Context, roomID, messageID int64) error
}

// An IdentityProvider resolves durable user records. The core only reads
// identities; credentials are someone else's problem.
type IdentityProvider interface {
	Identity(ctx context.Context, userID int64) (Identity, error)
}

// A RoomDirectory exposes the durable room records created outside the core.
type RoomDirectory interface {
	RoomExists(ctx context.Context, roomID int64) (bool, error)
	Room(ctx context.Context, roomID int64) (Room, error)
	Rooms(ctx context.Context) ([]Room, error)
}

// defaultStoreTimeout bounds every durable operation so a store outage
// degrades to per-request failures instead of stalling a room.
const defaultStoreTimeout = 5 * time.Second

// defaultHistoryLimit is the number of messages sent to a joining connection.
const defaultHistoryLimit = 50

// A Dispatcher is the per-connection state machine. It is the only component
// that touches both the presence registry and the message store, and it
// serializes all mutations touching one room behind that room's lock while
// independent rooms proceed in parallel.
type Dispatcher struct {
	Logger    *slog.Logger
	Store     Store
	Cache     Cache
	Presence  *Registry
	Broadcast *Broadcaster
	Rooms     RoomDirectory
	Val       *validator.Validator

	// HistoryLimit and StoreTimeout fall back to package defaults when zero.
	HistoryLimit int
	StoreTimeout time.Duration

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// Dispatch validates and routes one inbound event. Failures in fulfilling
// the event surface only to the sending connection, never to the room.
func (d *Dispatcher) Dispatch(ctx context.Context, conn Conn, in Inbound) {
	if errs := d.Val.Struct(in); len(errs) > 0 {
		d.Logger.Warn("Malformed event", "conn", conn.ID(), "type", in.Type, "field", errs[0].Field)
		conn.Send(errorEvent("malformed event"))
		return
	}

	switch in.Type {
	case InboundJoin:
		d.join(ctx, conn, in.RoomID)
	case InboundMessage:
		d.message(ctx, conn, in.RoomID, in.Body)
	case InboundTyping:
		d.typing(conn, in.RoomID)
	case InboundReact:
		d.react(ctx, conn, in)
	case InboundDelete:
		d.delete(ctx, conn, in)
	}
}

// Disconnect removes the connection's presence entry and, when one existed,
// announces the updated member list to its room. It is the only cancellation
// signal in the core.
func (d *Dispatcher) Disconnect(conn Conn) {
	entry, ok := d.Presence.Leave(conn.ID())
	if !ok {
		return
	}
	unlock := d.lockRoom(entry.RoomID)
	defer unlock()
	d.Broadcast.Broadcast(entry.RoomID, presenceEvent(entry.RoomID, d.Presence.Members(entry.RoomID)), nil)
}

func (d *Dispatcher) join(ctx context.Context, conn Conn, roomID int64) {
	ident, ok := conn.Identity()
	if !ok {
		conn.Send(authRequiredEvent())
		return
	}

	sctx, cancel := d.storeCtx(ctx)
	exists, err := d.Rooms.RoomExists(sctx, roomID)
	cancel()
	if err != nil {
		d.Logger.Error("Could not look up room", "room", roomID, "error", err.Error())
		conn.Send(errorEvent("could not join room"))
		return
	}
	if !exists {
		conn.Send(errorEvent("no such room"))
		return
	}

	unlock := d.lockRoom(roomID)

	// Name-based identities must not collide with a live display name in the
	// room: reject the requester with a suggestion, never rename or admit.
	if ident.Guest() && d.Presence.NameInUse(roomID, ident.Name, conn.ID()) {
		suggestion := suggestName(ident.Name, func(candidate string) bool {
			return d.Presence.NameInUse(roomID, candidate, conn.ID())
		})
		conn.Send(joinRejectedEvent(roomID, ErrNameTaken.Error(), suggestion))
		unlock()
		return
	}

	prevRoom, hadPrev := d.Presence.Join(conn, ident, roomID)

	msgs, err := d.history(ctx, roomID)
	if err != nil {
		d.Logger.Error("Could not load history", "room", roomID, "error", err.Error())
		conn.Send(errorEvent("could not load history"))
	} else {
		conn.Send(historyEvent(roomID, msgs))
	}
	d.Broadcast.Broadcast(roomID, presenceEvent(roomID, d.Presence.Members(roomID)), nil)
	unlock()

	// The latest join wins; the old room learns about the departure.
	if hadPrev && prevRoom != roomID {
		unlock := d.lockRoom(prevRoom)
		d.Broadcast.Broadcast(prevRoom, presenceEvent(prevRoom, d.Presence.Members(prevRoom)), nil)
		unlock()
	}
}

func (d *Dispatcher) message(ctx context.Context, conn Conn, roomID int64, body string) {
	// Unauthenticated sends are dropped without a reply, matching the
	// behavior clients already rely on.
	if _, ok := conn.Identity(); !ok {
		return
	}
	ident, ok := d.joined(conn, roomID)
	if !ok {
		return
	}

	unlock := d.lockRoom(roomID)
	defer unlock()

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	msg, err := d.Store.Append(sctx, Message{
		RoomID:     roomID,
		AuthorID:   ident.ID,
		AuthorName: ident.Name,
		Body:       body,
	})
	if err != nil {
		d.Logger.Error("Could not store message", "room", roomID, "error", err.Error())
		conn.Send(errorEvent("could not send message"))
		return
	}
	msg.Avatar = avatarFor(ident)

	if err := d.Cache.Add(sctx, msg); err != nil {
		d.Logger.Error("Could not cache message", "message", msg.ID, "error", err.Error())
	}

	d.Broadcast.Broadcast(roomID, messageEvent(msg), nil)
}

func (d *Dispatcher) typing(conn Conn, roomID int64) {
	ident, ok := d.joined(conn, roomID)
	if !ok {
		return
	}
	d.Broadcast.Broadcast(roomID, typingEvent(roomID, ident.Name), conn)
}

func (d *Dispatcher) react(ctx context.Context, conn Conn, in Inbound) {
	// The reactor is always the server-held identity, never a client field.
	ident, ok := d.joined(conn, in.RoomID)
	if !ok {
		return
	}

	unlock := d.lockRoom(in.RoomID)
	defer unlock()

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	msg, err := d.Store.Message(sctx, in.MessageID)
	if errors.Is(err, ErrNotFound) {
		// Toggling against a deleted message is a no-op.
		return
	}
	if err != nil {
		d.Logger.Error("Could not look up message", "message", in.MessageID, "error", err.Error())
		conn.Send(errorEvent("could not update reaction"))
		return
	}
	// A message in another room does not exist as far as this frame is
	// concerned; acting on it would invalidate and broadcast against the
	// wrong room's state.
	if msg.RoomID != in.RoomID {
		return
	}

	counts, err := d.Store.ToggleReaction(sctx, in.MessageID, ident, in.Emoji)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		d.Logger.Error("Could not toggle reaction", "message", in.MessageID, "error", err.Error())
		conn.Send(errorEvent("could not update reaction"))
		return
	}

	// The cached copy now carries a stale aggregate; drop it so the next
	// history read refills from the store.
	if err := d.Cache.Remove(sctx, in.RoomID, in.MessageID); err != nil {
		d.Logger.Error("Could not invalidate cached message", "message", in.MessageID, "error", err.Error())
	}

	d.Broadcast.Broadcast(in.RoomID, reactionEvent(in.MessageID, counts), nil)
}

func (d *Dispatcher) delete(ctx context.Context, conn Conn, in Inbound) {
	ident, ok := d.joined(conn, in.RoomID)
	if !ok {
		return
	}

	unlock := d.lockRoom(in.RoomID)
	defer unlock()

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	msg, err := d.Store.Message(sctx, in.MessageID)
	if errors.Is(err, ErrNotFound) {
		return
	}
	if err != nil {
		d.Logger.Error("Could not look up message", "message", in.MessageID, "error", err.Error())
		conn.Send(errorEvent("could not delete message"))
		return
	}
	// Same room check as react: the message's own room is the only one whose
	// cache and members may be touched.
	if msg.RoomID != in.RoomID {
		return
	}
	if !sameAuthor(msg, ident) {
		conn.Send(errorEvent("only the author can delete a message"))
		return
	}

	if err := d.Store.Delete(sctx, in.MessageID); err != nil {
		d.Logger.Error("Could not delete message", "message", in.MessageID, "error", err.Error())
		conn.Send(errorEvent("could not delete message"))
		return
	}
	if err := d.Cache.Remove(sctx, in.RoomID, in.MessageID); err != nil {
		d.Logger.Error("Could not remove cached message", "message", in.MessageID, "error", err.Error())
	}

	d.Broadcast.Broadcast(in.RoomID, deletedEvent(in.MessageID), nil)
}

// history merges the cached recent messages with the remainder from the
// store and returns them oldest-first. Cache failures degrade to a pure
// store read.
func (d *Dispatcher) history(ctx context.Context, roomID int64) ([]Message, error) {
	limit := d.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	sctx, cancel := d.storeCtx(ctx)
	defer cancel()

	cached, err := d.Cache.History(sctx, roomID)
	if err != nil {
		d.Logger.Error("Could not read history cache", "room", roomID, "error", err.Error())
		cached = nil
	}
	if len(cached) > limit {
		cached = cached[:limit]
	}

	msgs := cached
	if remaining := limit - len(cached); remaining > 0 {
		exclude := lo.Map(cached, func(m Message, _ int) int64 { return m.ID })
		stored, err := d.Store.History(sctx, roomID, remaining, exclude...)
		if err != nil {
			return nil, fmt.Errorf("history: %w", err)
		}
		msgs = append(msgs, stored...)
	}

	sort.Slice(msgs, func(i, j int) bool { return msgs[i].ID < msgs[j].ID })
	return msgs, nil
}

// joined returns the server-held identity bound to the connection when its
// current presence entry is in roomID.
func (d *Dispatcher) joined(conn Conn, roomID int64) (Identity, bool) {
	entry, ok := d.Presence.Get(conn.ID())
	if !ok || entry.RoomID != roomID {
		return Identity{}, false
	}
	return entry.Identity, true
}

// lockRoom returns the unlock func for the room's serialization point,
// creating it on first use.
func (d *Dispatcher) lockRoom(roomID int64) func() {
	d.mu.Lock()
	if d.locks == nil {
		d.locks = make(map[int64]*sync.Mutex)
	}
	l, ok := d.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[roomID] = l
	}
	d.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (d *Dispatcher) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := d.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func sameAuthor(msg Message, ident Identity) bool {
	if msg.AuthorID != 0 {
		return msg.AuthorID == ident.ID
	}
	return ident.Guest() && msg.AuthorName == ident.Name
}

func avatarFor(ident Identity) string {
	if ident.Avatar != "" {
		return ident.Avatar
	}
	return FallbackAvatar(ident.Name)
}

// suggestName draws name_<2-digit> alternatives until taken reports one
// free, then widens the suffix if the whole two-digit range is occupied.
func suggestName(name string, taken func(string) bool) string {
	for width := int64(90); ; width *= 10 {
		for i := 0; i < 30; i++ {
			candidate := fmt.Sprintf("%s_%d", name, rand.Int63n(width)+10)
			if !taken(candidate) {
				return candidate
			}
		}
	}
}
