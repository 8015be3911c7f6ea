package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/The-Swarm-Protocol/Swarm-sub000/internal/models"
)

const historyTTL = 24 * time.Hour

// RedisHistory is an optional hot cache of recent channel messages, kept
// in a sorted set scored by timestamp. History reads hit this first and
// fall back to the durable store; writes are best-effort.
type RedisHistory struct {
	client *redis.Client
}

// NewRedisHistory connects to Redis and verifies the connection.
func NewRedisHistory(ctx context.Context, redisURL string) (*RedisHistory, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisHistory{client: client}, nil
}

// Close closes the Redis connection.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}

// Ping checks the Redis connection.
func (h *RedisHistory) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

// channelKey returns the key for a channel's message sorted set.
func channelKey(channelID string) string {
	return fmt.Sprintf("channel:%s:messages", channelID)
}

// AddMessage caches a message in the channel's sorted set with a TTL.
func (h *RedisHistory) AddMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := channelKey(msg.ChannelID)

	err = h.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.Timestamp),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	h.client.Expire(ctx, key, historyTTL)
	return nil
}

// ChannelMessages retrieves cached messages for a channel, newest first.
func (h *RedisHistory) ChannelMessages(ctx context.Context, channelID string, limit int, before int64) ([]models.Message, error) {
	key := channelKey(channelID)

	var maxScore string
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	} else {
		maxScore = "+inf"
	}

	results, err := h.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}
