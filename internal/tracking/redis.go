package tracking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KeyPrefix is the Redis key prefix for tracked message history.
//
//	Key:   message_history:<message_id>
//	Value: JSON encoded TrackedMessage
//	TTL:   retention window, refreshed on every write
const KeyPrefix = "message_history:"

// RedisDurable is the Redis backed durable tier.
type RedisDurable struct {
	client *redis.Client
}

// NewRedisDurable creates a durable tier using the provided Redis client.
func NewRedisDurable(client *redis.Client) *RedisDurable {
	return &RedisDurable{client: client}
}

func key(messageID int64) string {
	return KeyPrefix + strconv.FormatInt(messageID, 10)
}

// Get implements Durable.
func (r *RedisDurable) Get(ctx context.Context, messageID int64) ([]byte, error) {
	data, err := r.client.Get(ctx, key(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracking: redis get: %w", err)
	}
	return data, nil
}

// Set implements Durable.
func (r *RedisDurable) Set(ctx context.Context, messageID int64, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, key(messageID), data, ttl).Err(); err != nil {
		return fmt.Errorf("tracking: redis set: %w", err)
	}
	return nil
}

// Delete implements Durable.
func (r *RedisDurable) Delete(ctx context.Context, messageID int64) error {
	if err := r.client.Del(ctx, key(messageID)).Err(); err != nil {
		return fmt.Errorf("tracking: redis del: %w", err)
	}
	return nil
}
