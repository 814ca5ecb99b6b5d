// Package ratelimit provides Redis-backed rate limiting using the INCR + EXPIRE
// fixed window algorithm. The moderator uses it to throttle how often one
// user may comment.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // Redis key prefix (e.g., "rl:comment:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

// RuleComment allows 5 comments per minute per user.
var RuleComment = Rule{Key: "rl:comment:", Limit: 5, Window: time.Minute}

// CommentRule returns RuleComment with the given per-minute limit.
func CommentRule(perMinute int) Rule {
	r := RuleComment
	r.Limit = perMinute
	return r
}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client  *redis.Client
	comment Rule
	logger  *slog.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client. comment is
// the rule applied by AllowComment.
func NewLimiter(client *redis.Client, comment Rule, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{client: client, comment: comment, logger: logger.With("component", "ratelimit")}
}

// Allow checks whether the given identifier is within the rate limit defined by
// rule. It increments the counter in Redis and sets the expiry on first access.
//
// Returns true if the request is allowed, false if rate limited. On Redis
// errors the method fails open (returns true) so that a Redis outage does not
// block legitimate traffic.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("redis INCR failed, failing open", "key", key, "err", err)
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.logger.Warn("redis EXPIRE failed, failing open", "key", key, "err", err)
			// The key exists but has no TTL and would persist. Best effort:
			// delete it so it doesn't block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}

	return true, nil
}

// AllowComment implements the handler throttle. A limit of zero or less
// disables it.
func (l *Limiter) AllowComment(ctx context.Context, userID int64) bool {
	if l.comment.Limit <= 0 {
		return true
	}
	ok, _ := l.Allow(ctx, strconv.FormatInt(userID, 10), l.comment)
	return ok
}

// Remaining returns the number of requests the identifier has left in the
// current window for the given rule. Returns the full limit if the key does not
// exist yet. On Redis errors it returns the full limit (fail open).
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.logger.Warn("redis GET failed, failing open", "key", key, "err", err)
		return rule.Limit, err
	}

	return max(rule.Limit-count, 0), nil
}
