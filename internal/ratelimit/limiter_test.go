package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestAllowCommentLimit(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:comment:", Limit: 3, Window: time.Minute}
	const userID = int64(-424242)
	key := rule.Key + strconv.FormatInt(userID, 10)
	client.Del(ctx, key)
	t.Cleanup(func() { client.Del(ctx, key) })

	l := NewLimiter(client, rule, nil)
	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowComment(ctx, userID), "comment %d", i+1)
	}
	assert.False(t, l.AllowComment(ctx, userID))

	remaining, err := l.Remaining(ctx, strconv.FormatInt(userID, 10), rule)
	require.NoError(t, err)
	assert.Zero(t, remaining)

	ttl, err := client.TTL(ctx, key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRemainingUnknownKey(t *testing.T) {
	client := setupRedis(t)
	l := NewLimiter(client, RuleComment, nil)
	n, err := l.Remaining(context.Background(), "nobody-"+strconv.FormatInt(time.Now().UnixNano(), 10), RuleComment)
	require.NoError(t, err)
	assert.Equal(t, RuleComment.Limit, n)
}

func TestFailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	l := NewLimiter(client, CommentRule(1), nil)

	assert.True(t, l.AllowComment(context.Background(), 1))
	assert.True(t, l.AllowComment(context.Background(), 1))
}

func TestDisabledLimit(t *testing.T) {
	l := NewLimiter(nil, CommentRule(0), nil)
	assert.True(t, l.AllowComment(context.Background(), 1))
}
