// Package postgres persists messages, reaction marks, rooms, and users in
// PostgreSQL. It implements chat.Store, chat.RoomDirectory, and
// chat.IdentityProvider.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/salachat/salachat/chat"
)

// Postgres provides storage in PostgreSQL.
type Postgres struct {
	bun *bun.DB
}

// Connect connects to the database and pings it to ensure the connection is
// working.
func Connect(ctx context.Context, connStr string) (*Postgres, error) {
	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(connStr)))
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	db := bun.NewDB(sqlDB, pgdialect.New())
	return &Postgres{
		bun: db,
	}, nil
}

// Init creates the schema when missing and seeds the initial rooms so a
// fresh deployment has somewhere to talk.
func (pg *Postgres) Init(ctx context.Context) error {
	models := []any{(*room)(nil), (*user)(nil), (*message)(nil), (*reaction)(nil)}
	for _, model := range models {
		if _, err := pg.bun.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	count, err := pg.bun.NewSelect().Model((*room)(nil)).Count(ctx)
	if err != nil {
		return fmt.Errorf("count rooms: %w", err)
	}
	if count > 0 {
		return nil
	}
	seed := []room{
		{Name: "Tres Valles - General", Locality: "local", Description: "Chat principal"},
		{Name: "Tuxtepec - Amistad", Locality: "cercano", Description: "Amigos región"},
	}
	if _, err := pg.bun.NewInsert().Model(&seed).Exec(ctx); err != nil {
		return fmt.Errorf("seed rooms: %w", err)
	}
	return nil
}

// Append inserts a message. The returned message holds the generated id and
// timestamp. Content is stored as-is; there is no server-side body policy.
func (pg *Postgres) Append(ctx context.Context, msg chat.Message) (chat.Message, error) {
	m := &message{
		RoomID:     msg.RoomID,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Body:       msg.Body,
	}
	if _, err := pg.bun.NewInsert().Model(m).Exec(ctx); err != nil {
		return chat.Message{}, fmt.Errorf("insert: %w: %w", chat.ErrStorageFailure, err)
	}
	return m.chatMessage(), nil
}

// History returns at most limit most recent messages of the room,
// oldest-first, each hydrated with its reaction aggregate and the author's
// display avatar.
func (pg *Postgres) History(ctx context.Context, roomID int64, limit int, excludeIDs ...int64) ([]chat.Message, error) {
	var msgs []message
	q := pg.bun.NewSelect().
		Model(&msgs).
		Relation("Reactions").
		Where("room_id = ?", roomID).
		Order("id DESC").
		Limit(limit)

	if len(excludeIDs) > 0 {
		q = q.Where("id NOT IN (?)", bun.In(excludeIDs))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w: %w", chat.ErrStorageFailure, err)
	}

	avatars, err := pg.avatars(ctx, msgs)
	if err != nil {
		return nil, err
	}

	out := make([]chat.Message, len(msgs))
	for i, m := range msgs {
		cm := m.chatMessage()
		if avatar, ok := avatars[m.AuthorID]; ok {
			cm.Avatar = avatar
		} else {
			cm.Avatar = chat.FallbackAvatar(m.AuthorName)
		}
		// Newest-first from the query, oldest-first out.
		out[len(msgs)-1-i] = cm
	}
	return out, nil
}

// Message returns a single message with its reaction aggregate.
func (pg *Postgres) Message(ctx context.Context, messageID int64) (chat.Message, error) {
	var m message
	err := pg.bun.NewSelect().
		Model(&m).
		Relation("Reactions").
		Where("message.id = ?", messageID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("scan: %w: %w", chat.ErrStorageFailure, err)
	}
	return m.chatMessage(), nil
}

// Delete hard-removes a message together with its reaction marks, so no
// orphaned marks accumulate.
func (pg *Postgres) Delete(ctx context.Context, messageID int64) error {
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*reaction)(nil)).Where("message_id = ?", messageID).Exec(ctx); err != nil {
			return fmt.Errorf("delete reactions: %w", err)
		}
		if _, err := tx.NewDelete().Model((*message)(nil)).Where("id = ?", messageID).Exec(ctx); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", chat.ErrStorageFailure, err)
	}
	return nil
}

// ToggleReaction flips the (message, user, emoji) mark inside one
// transaction and returns the fresh per-emoji counts. A missing message
// yields chat.ErrNotFound.
func (pg *Postgres) ToggleReaction(ctx context.Context, messageID int64, user chat.Identity, emoji string) (map[string]int, error) {
	counts := make(map[string]int)
	err := pg.bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*message)(nil)).Where("id = ?", messageID).Exists(ctx)
		if err != nil {
			return fmt.Errorf("check message: %w", err)
		}
		if !exists {
			return chat.ErrNotFound
		}

		var existing reaction
		q := tx.NewSelect().
			Model(&existing).
			Where("message_id = ? AND emoji = ?", messageID, emoji).
			Limit(1)
		if user.Guest() {
			q = q.Where("user_id = 0 AND user_name = ?", user.Name)
		} else {
			q = q.Where("user_id = ?", user.ID)
		}

		switch err := q.Scan(ctx); {
		case errors.Is(err, sql.ErrNoRows):
			mark := &reaction{MessageID: messageID, UserID: user.ID, UserName: user.Name, Emoji: emoji}
			if _, err := tx.NewInsert().Model(mark).Exec(ctx); err != nil {
				return fmt.Errorf("insert mark: %w", err)
			}
		case err != nil:
			return fmt.Errorf("find mark: %w", err)
		default:
			if _, err := tx.NewDelete().Model((*reaction)(nil)).Where("id = ?", existing.ID).Exec(ctx); err != nil {
				return fmt.Errorf("delete mark: %w", err)
			}
		}

		var rows []struct {
			Emoji string
			Count int
		}
		err = tx.NewSelect().
			Model((*reaction)(nil)).
			Column("emoji").
			ColumnExpr("count(*) AS count").
			Where("message_id = ?", messageID).
			Group("emoji").
			Scan(ctx, &rows)
		if err != nil {
			return fmt.Errorf("aggregate: %w", err)
		}
		for _, row := range rows {
			counts[row.Emoji] = row.Count
		}
		return nil
	})
	if errors.Is(err, chat.ErrNotFound) {
		return nil, chat.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", chat.ErrStorageFailure, err)
	}
	return counts, nil
}

// RoomExists reports whether the room id is known.
func (pg *Postgres) RoomExists(ctx context.Context, roomID int64) (bool, error) {
	exists, err := pg.bun.NewSelect().Model((*room)(nil)).Where("id = ?", roomID).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check room: %w: %w", chat.ErrStorageFailure, err)
	}
	return exists, nil
}

// Room returns the room's durable record.
func (pg *Postgres) Room(ctx context.Context, roomID int64) (chat.Room, error) {
	var r room
	err := pg.bun.NewSelect().Model(&r).Where("id = ?", roomID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Room{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Room{}, fmt.Errorf("scan: %w: %w", chat.ErrStorageFailure, err)
	}
	return r.chatRoom(), nil
}

// Rooms lists every room.
func (pg *Postgres) Rooms(ctx context.Context) ([]chat.Room, error) {
	var rs []room
	if err := pg.bun.NewSelect().Model(&rs).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan: %w: %w", chat.ErrStorageFailure, err)
	}
	out := make([]chat.Room, len(rs))
	for i, r := range rs {
		out[i] = r.chatRoom()
	}
	return out, nil
}

// Identity resolves a durable user record to the read-only identity the
// core binds to connections.
func (pg *Postgres) Identity(ctx context.Context, userID int64) (chat.Identity, error) {
	var u user
	err := pg.bun.NewSelect().Model(&u).Where("id = ?", userID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Identity{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Identity{}, fmt.Errorf("scan: %w: %w", chat.ErrStorageFailure, err)
	}
	return u.chatIdentity(), nil
}

// avatars resolves stored avatars for the distinct durable authors of msgs.
func (pg *Postgres) avatars(ctx context.Context, msgs []message) (map[int64]string, error) {
	ids := make([]int64, 0, len(msgs))
	seen := make(map[int64]bool, len(msgs))
	for _, m := range msgs {
		if m.AuthorID != 0 && !seen[m.AuthorID] {
			seen[m.AuthorID] = true
			ids = append(ids, m.AuthorID)
		}
	}
	if len(ids) == 0 {
		return map[int64]string{}, nil
	}

	var users []user
	if err := pg.bun.NewSelect().Model(&users).Where("id IN (?)", bun.In(ids)).Scan(ctx); err != nil {
		return nil, fmt.Errorf("scan users: %w: %w", chat.ErrStorageFailure, err)
	}
	out := make(map[int64]string, len(users))
	for _, u := range users {
		out[u.ID] = u.chatIdentity().Avatar
	}
	return out, nil
}
