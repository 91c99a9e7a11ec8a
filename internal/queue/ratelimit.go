package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chatdesk"

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

var decrIfPresentScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  local c = redis.call("DECR", KEYS[1])
  if c < 0 then
    redis.call("INCR", KEYS[1])
    return 0
  end
  return c
end
return 0
`)

// ReplyCap bounds how many automatic replies one conversation receives per
// clock hour. A limit of zero or less disables the cap.
type ReplyCap struct {
	redis *redis.Client
	limit int64
}

func NewReplyCap(rdb *redis.Client, limit int64) *ReplyCap {
	return &ReplyCap{redis: rdb, limit: limit}
}

func (r *ReplyCap) Allow(ctx context.Context, conversationID string, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	if r.limit <= 0 {
		return true, 0, windowEnd, nil
	}
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	res, err := incrWithTTLScript.Run(ctx, r.redis, []string{replyCapKey(conversationID, windowStart)}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("reply cap script: %w", err)
	}
	return res <= r.limit, res, windowEnd, nil
}

// Release hands back a slot taken by Allow at the same instant, for a reply
// that was never posted.
func (r *ReplyCap) Release(ctx context.Context, conversationID string, at time.Time) error {
	if r.limit <= 0 {
		return nil
	}
	key := replyCapKey(conversationID, at.UTC().Truncate(time.Hour))
	if err := decrIfPresentScript.Run(ctx, r.redis, []string{key}).Err(); err != nil {
		return fmt.Errorf("reply cap release: %w", err)
	}
	return nil
}

func replyCapKey(conversationID string, windowStart time.Time) string {
	return fmt.Sprintf("%s:replycap:%s:%s", keyPrefix, conversationID, windowStart.Format("2006010215"))
}

// MessageDeduplicator remembers which customer messages already got a reply
// so a redelivered job is answered at most once.
type MessageDeduplicator struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewMessageDeduplicator(rdb *redis.Client, ttl time.Duration) *MessageDeduplicator {
	return &MessageDeduplicator{redis: rdb, ttl: ttl}
}

func (d *MessageDeduplicator) MarkFirst(ctx context.Context, messageID string) (bool, error) {
	key := fmt.Sprintf("%s:replied:%s", keyPrefix, messageID)
	ok, err := d.redis.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return ok, nil
}

// Forget releases a mark so a failed job can be retried.
func (d *MessageDeduplicator) Forget(ctx context.Context, messageID string) error {
	key := fmt.Sprintf("%s:replied:%s", keyPrefix, messageID)
	if err := d.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedupe del: %w", err)
	}
	return nil
}
