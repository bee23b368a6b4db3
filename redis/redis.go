// Package redis caches each room's most recent messages so a join does not
// always hit PostgreSQL for the hot tail of the history.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/salachat/salachat/chat"
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings it to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

// maxSize bounds how many messages are cached per room.
const maxSize = 10

func roomKey(roomID int64) string {
	return fmt.Sprintf("room:%d:messages", roomID)
}

func messageKey(roomID, messageID int64) string {
	return fmt.Sprintf("room:%d:message:%d", roomID, messageID)
}

// History returns the cached messages of the room. The sorted set is scored
// by message id, so the cache preserves the store's canonical order.
func (r *Redis) History(ctx context.Context, roomID int64) ([]chat.Message, error) {
	keys, err := r.cli.ZRevRange(ctx, roomKey(roomID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("zrevrange: %w", err)
	}

	out := make([]chat.Message, 0, len(keys))
	for _, key := range keys {
		var msg message
		if err := r.cli.HGetAll(ctx, key).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if msg.ID == 0 {
			// Hash expired or was removed under us; skip the stale index entry.
			continue
		}
		cm, err := msg.chatMessage()
		if err != nil {
			return nil, err
		}
		out = append(out, cm)
	}
	return out, nil
}

// Add caches the message under a per-room hash key and indexes it in the
// room's sorted set, then evicts beyond the per-room maximum.
func (r *Redis) Add(ctx context.Context, msg chat.Message) error {
	m, err := fromChatMessage(msg)
	if err != nil {
		return err
	}
	key := messageKey(msg.RoomID, msg.ID)

	err = r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, roomKey(msg.RoomID), redis.Z{
				Score:  float64(msg.ID),
				Member: key,
			})
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("redis add message: %w", err)
	}

	if err := r.evictOldest(ctx, msg.RoomID); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// Remove drops one message from the room's cache. It is called on delete and
// whenever a reaction toggle makes the cached aggregate stale.
func (r *Redis) Remove(ctx context.Context, roomID, messageID int64) error {
	key := messageKey(roomID, messageID)
	if err := r.cli.ZRem(ctx, roomKey(roomID), key).Err(); err != nil {
		return fmt.Errorf("zrem: %w", err)
	}
	if err := r.cli.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, roomID int64) error {
	keys, err := r.cli.ZRange(ctx, roomKey(roomID), 0, int64(-maxSize-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, key := range keys {
		_ = r.cli.ZRem(ctx, roomKey(roomID), key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}
	return nil
}
