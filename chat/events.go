package chat

// Inbound is one event read from a connection. Type selects which fields are
// meaningful; the validator tags describe the required shape.
type Inbound struct {
	Type      string `json:"type" validate:"required,oneof=join message typing react delete"`
	RoomID    int64  `json:"room" validate:"required"`
	Body      string `json:"body"`
	MessageID int64  `json:"message_id" validate:"required_if=Type react,required_if=Type delete"`
	Emoji     string `json:"emoji" validate:"required_if=Type react"`
}

// Inbound event types.
const (
	InboundJoin    = "join"
	InboundMessage = "message"
	InboundTyping  = "typing"
	InboundReact   = "react"
	InboundDelete  = "delete"
)

// EventType discriminates outbound events on the wire.
type EventType string

const (
	EventHistory      EventType = "history"
	EventPresence     EventType = "presence"
	EventMessage      EventType = "message"
	EventTyping       EventType = "typing"
	EventReaction     EventType = "reaction"
	EventDeleted      EventType = "deleted"
	EventJoinRejected EventType = "join_rejected"
	EventAuthRequired EventType = "auth_required"
	EventError        EventType = "error"
)

// An Event is one outbound event, delivered to a single connection or fanned
// out room-wide by the Broadcaster.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// HistoryPayload carries the room history snapshot sent to a joining
// connection only, ordered oldest-first.
type HistoryPayload struct {
	RoomID   int64     `json:"room"`
	Messages []Message `json:"messages"`
}

// PresencePayload carries a room's current member list.
type PresencePayload struct {
	RoomID  int64    `json:"room"`
	Members []Member `json:"members"`
}

// TypingPayload names who is typing in a room.
type TypingPayload struct {
	RoomID int64  `json:"room"`
	Author string `json:"username"`
}

// ReactionPayload carries the fresh per-emoji aggregate for one message.
type ReactionPayload struct {
	MessageID int64          `json:"message_id"`
	Reactions map[string]int `json:"reactions"`
}

// DeletedPayload announces a hard-deleted message.
type DeletedPayload struct {
	MessageID int64 `json:"message_id"`
}

// JoinRejectedPayload is sent to the requester only when a name-based join
// collides with a live display name in the room.
type JoinRejectedPayload struct {
	RoomID     int64  `json:"room"`
	Reason     string `json:"reason"`
	Suggestion string `json:"suggestion"`
}

// ErrorPayload is a targeted failure reply; it never reaches the room.
type ErrorPayload struct {
	Message string `json:"message"`
}

func historyEvent(roomID int64, msgs []Message) Event {
	return Event{Type: EventHistory, Payload: HistoryPayload{RoomID: roomID, Messages: msgs}}
}

func presenceEvent(roomID int64, members []Member) Event {
	return Event{Type: EventPresence, Payload: PresencePayload{RoomID: roomID, Members: members}}
}

func messageEvent(msg Message) Event {
	return Event{Type: EventMessage, Payload: msg}
}

func typingEvent(roomID int64, author string) Event {
	return Event{Type: EventTyping, Payload: TypingPayload{RoomID: roomID, Author: author}}
}

func reactionEvent(messageID int64, counts map[string]int) Event {
	return Event{Type: EventReaction, Payload: ReactionPayload{MessageID: messageID, Reactions: counts}}
}

func deletedEvent(messageID int64) Event {
	return Event{Type: EventDeleted, Payload: DeletedPayload{MessageID: messageID}}
}

func joinRejectedEvent(roomID int64, reason, suggestion string) Event {
	return Event{Type: EventJoinRejected, Payload: JoinRejectedPayload{RoomID: roomID, Reason: reason, Suggestion: suggestion}}
}

func authRequiredEvent() Event {
	return Event{Type: EventAuthRequired, Payload: ErrorPayload{Message: ErrAuthRequired.Error()}}
}

func errorEvent(msg string) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Message: msg}}
}
