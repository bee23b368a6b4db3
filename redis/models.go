package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/salachat/salachat/chat"
)

// A message represents a cached message hash. The reaction aggregate is
// stored as a JSON blob; a toggle invalidates the whole entry rather than
// patching it.
type message struct {
	ID         int64     `redis:"id"`
	RoomID     int64     `redis:"room_id"`
	AuthorID   int64     `redis:"author_id"`
	AuthorName string    `redis:"author_name"`
	Body       string    `redis:"body"`
	CreatedAt  time.Time `redis:"created_at"`
	Avatar     string    `redis:"avatar"`
	Reactions  string    `redis:"reactions"`
}

func fromChatMessage(cm chat.Message) (message, error) {
	reactions, err := json.Marshal(cm.Reactions)
	if err != nil {
		return message{}, fmt.Errorf("marshal reactions: %w", err)
	}
	return message{
		ID:         cm.ID,
		RoomID:     cm.RoomID,
		AuthorID:   cm.AuthorID,
		AuthorName: cm.AuthorName,
		Body:       cm.Body,
		CreatedAt:  cm.CreatedAt,
		Avatar:     cm.Avatar,
		Reactions:  string(reactions),
	}, nil
}

func (m message) chatMessage() (chat.Message, error) {
	reactions := make(map[string]int)
	if m.Reactions != "" {
		if err := json.Unmarshal([]byte(m.Reactions), &reactions); err != nil {
			return chat.Message{}, fmt.Errorf("unmarshal reactions: %w", err)
		}
	}
	return chat.Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
		Avatar:     m.Avatar,
		Reactions:  reactions,
	}, nil
}
