package chat

import "log/slog"

// A Broadcaster fans an event out to every connection currently present in a
// room. Delivery is best-effort and fire-and-forget: a connection whose
// queue is full or whose socket died is skipped and logged, never allowed to
// block delivery to the rest of the room.
type Broadcaster struct {
	Presence *Registry
	Logger   *slog.Logger
}

// Broadcast delivers ev to the room, except to exclude when given. Per-room
// same-type ordering holds because callers serialize per room and each
// connection drains its queue in FIFO order.
func (b *Broadcaster) Broadcast(roomID int64, ev Event, exclude Conn) {
	for _, conn := range b.Presence.ConnsIn(roomID) {
		if exclude != nil && conn.ID() == exclude.ID() {
			continue
		}
		if !conn.Send(ev) {
			b.Logger.Warn("Dropped event for connection", "event", ev.Type, "conn", conn.ID(), "room", roomID)
		}
	}
}
