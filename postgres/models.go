package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"github.com/salachat/salachat/chat"
)

// A message represents a message row. The bigint identity id is the
// canonical ordering key within a room.
type message struct {
	bun.BaseModel `bun:"table:messages"`

	ID         int64      `bun:",pk,autoincrement"`
	RoomID     int64      `bun:",notnull"`
	AuthorID   int64      `bun:"author_id"`
	AuthorName string     `bun:",notnull"`
	Body       string     `bun:"body,notnull"`
	CreatedAt  time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
	Reactions  []reaction `bun:"rel:has-many,join:id=message_id"`
}

// A reaction is one (message, user, emoji) mark. Counts are always
// aggregated from these rows, never stored denormalized.
type reaction struct {
	bun.BaseModel `bun:"table:reactions"`

	ID        int64  `bun:",pk,autoincrement"`
	MessageID int64  `bun:",notnull"`
	UserID    int64  `bun:"user_id"`
	UserName  string `bun:",notnull"`
	Emoji     string `bun:",notnull"`
}

type room struct {
	bun.BaseModel `bun:"table:rooms"`

	ID          int64  `bun:",pk,autoincrement"`
	Name        string `bun:",notnull"`
	Locality    string `bun:",notnull"`
	Description string `bun:""`
}

// A user row is owned by the authentication subsystem; the core reads it
// only to resolve identities and avatars.
type user struct {
	bun.BaseModel `bun:"table:users"`

	ID           int64     `bun:",pk,autoincrement"`
	Username     string    `bun:",notnull,unique"`
	PasswordHash string    `bun:"password_hash,notnull"`
	AvatarURL    string    `bun:"avatar_url"`
	Bio          string    `bun:""`
	CreatedAt    time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

func (m message) chatMessage() chat.Message {
	return chat.Message{
		ID:         m.ID,
		RoomID:     m.RoomID,
		AuthorID:   m.AuthorID,
		AuthorName: m.AuthorName,
		Body:       m.Body,
		CreatedAt:  m.CreatedAt,
		Reactions:  aggregate(m.Reactions),
	}
}

func (r room) chatRoom() chat.Room {
	return chat.Room{
		ID:          r.ID,
		Name:        r.Name,
		Locality:    r.Locality,
		Description: r.Description,
	}
}

func (u user) chatIdentity() chat.Identity {
	avatar := u.AvatarURL
	if avatar == "" {
		avatar = chat.FallbackAvatar(u.Username)
	}
	return chat.Identity{
		ID:     u.ID,
		Name:   u.Username,
		Avatar: avatar,
	}
}

// aggregate folds reaction marks into per-emoji counts.
func aggregate(marks []reaction) map[string]int {
	counts := make(map[string]int, len(marks))
	for _, mark := range marks {
		counts[mark.Emoji]++
	}
	return counts
}
