package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReplyJob asks the responder to answer one customer message.
type ReplyJob struct {
	JobID          string    `json:"job_id"`
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Content        string    `json:"content"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
	Attempts       int       `json:"attempts"`
}

type StreamQueue struct {
	redis    *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

type Delivery struct {
	ID        string
	Job       ReplyJob
	Malformed bool
}

func NewStreamQueue(rdb *redis.Client, stream, group, consumer string, block time.Duration) *StreamQueue {
	return &StreamQueue{
		redis:    rdb,
		stream:   stream,
		group:    group,
		consumer: consumer,
		block:    block,
	}
}

// EnsureGroup creates the consumer group at the start of the stream, so jobs
// added before the first responder came up are still delivered.
func (q *StreamQueue) EnsureGroup(ctx context.Context) error {
	if q == nil {
		return fmt.Errorf("queue is nil")
	}
	err := q.redis.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create stream group: %w", err)
	}
	return nil
}

func (q *StreamQueue) Enqueue(ctx context.Context, job ReplyJob) (string, error) {
	if strings.TrimSpace(job.JobID) == "" {
		job.JobID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("marshal job: %w", err)
	}

	id, err := q.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// Read blocks up to the configured duration for entries never delivered to
// the group. An entry whose payload cannot be decoded comes back with
// Malformed set so the caller can acknowledge and drop it.
func (q *StreamQueue) Read(ctx context.Context, count int64) ([]Delivery, error) {
	return q.read(ctx, ">", count, q.block)
}

// ReadPending returns entries this consumer received earlier but never
// acknowledged, starting after the given stream ID ("0" for all of them).
// It does not block.
func (q *StreamQueue) ReadPending(ctx context.Context, after string, count int64) ([]Delivery, error) {
	return q.read(ctx, after, count, -1)
}

func (q *StreamQueue) read(ctx context.Context, start string, count int64, block time.Duration) ([]Delivery, error) {
	res, err := q.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, start},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	out := make([]Delivery, 0)
	for _, s := range res {
		for _, m := range s.Messages {
			job, ok := decodePayload(m.Values["payload"])
			out = append(out, Delivery{ID: m.ID, Job: job, Malformed: !ok})
		}
	}
	return out, nil
}

func decodePayload(raw any) (ReplyJob, bool) {
	var b []byte
	switch v := raw.(type) {
	case string:
		b = []byte(v)
	case []byte:
		b = v
	default:
		return ReplyJob{}, false
	}
	var job ReplyJob
	if err := json.Unmarshal(b, &job); err != nil {
		return ReplyJob{}, false
	}
	return job, true
}

func (q *StreamQueue) Ack(ctx context.Context, id string) error {
	if err := q.redis.XAck(ctx, q.stream, q.group, id).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.redis.XDel(ctx, q.stream, id).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamQueue) Consumer() string {
	return q.consumer
}
