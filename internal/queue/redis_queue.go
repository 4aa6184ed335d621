package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"manageros/internal/models"
)

// RedisQueue coordinates ready, in-flight, scheduled and dead-letter pair
// messages in Redis. Messages are stored as their JSON encoding.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	inflightKey   string
	scheduledKey  string
	dlqKey        string
	visibilityTTL time.Duration
}

// Delivery is a leased message. Ack it when done.
type Delivery struct {
	Message models.PairMessage
	raw     string
}

// NewRedisQueue builds a queue on client.
func NewRedisQueue(client *redis.Client, visibility time.Duration, dlqKey string) *RedisQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	if dlqKey == "" {
		dlqKey = "cron:queue:dlq"
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "cron:queue:ready",
		inflightKey:   "cron:queue:inflight",
		scheduledKey:  "cron:queue:scheduled",
		dlqKey:        dlqKey,
		visibilityTTL: visibility,
	}
}

func encode(msg models.PairMessage) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("encode pair message: %w", err)
	}
	return string(b), nil
}

// Enqueue makes msg immediately available to workers.
func (q *RedisQueue) Enqueue(ctx context.Context, msg models.PairMessage) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return q.client.RPush(ctx, q.readyKey, raw).Err()
}

// Schedule defers msg until runAt.
func (q *RedisQueue) Schedule(ctx context.Context, msg models.PairMessage, runAt time.Time) error {
	raw, err := encode(msg)
	if err != nil {
		return err
	}
	return q.client.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: raw}).Err()
}

// PromoteScheduled moves due scheduled messages into the ready list. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	return q.moveDue(ctx, q.scheduledKey, now, limit)
}

// RequeueExpired reclaims leases whose visibility deadline passed.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) (int, error) {
	return q.moveDue(ctx, q.inflightKey, now, limit)
}

func (q *RedisQueue) moveDue(ctx context.Context, from string, now time.Time, limit int64) (int, error) {
	n, err := moveDueScript.Run(ctx, q.client, []string{from, q.readyKey}, now.UnixMilli(), limit).Int()
	if err != nil {
		return 0, fmt.Errorf("move due from %s: %w", from, err)
	}
	return n, nil
}

// DequeueWithLease pops the next ready message and tracks it as in-flight
// until the visibility timeout. It returns nil when the queue is empty.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (*Delivery, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	raw, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	d := &Delivery{raw: raw}
	if err := json.Unmarshal([]byte(raw), &d.Message); err != nil {
		// Drop poison messages so they do not cycle through reclaim forever.
		_ = q.client.ZRem(ctx, q.inflightKey, raw).Err()
		return nil, fmt.Errorf("decode pair message %q: %w", raw, err)
	}
	return d, nil
}

// Visibility is how long a dequeued message stays leased without renewal.
func (q *RedisQueue) Visibility() time.Duration {
	return q.visibilityTTL
}

// ExtendLease pushes the visibility deadline of an in-flight message one full
// window past now. A message already reclaimed or acked is left alone.
func (q *RedisQueue) ExtendLease(ctx context.Context, d *Delivery) error {
	err := q.client.ZAddXX(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(q.visibilityTTL).UnixMilli()),
		Member: d.raw,
	}).Err()
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	return nil
}

// Ack removes a message from in-flight tracking.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.client.ZRem(ctx, q.inflightKey, d.raw).Err()
}

// DLQPush appends to the dead-letter queue for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, dl models.DeadLetter) error {
	b, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	return q.client.RPush(ctx, q.dlqKey, b).Err()
}

// DLQPeek reads the oldest count dead letters.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]models.DeadLetter, error) {
	items, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.DeadLetter, 0, len(items))
	for _, item := range items {
		var dl models.DeadLetter
		if err := json.Unmarshal([]byte(item), &dl); err != nil {
			return nil, fmt.Errorf("decode dead letter: %w", err)
		}
		out = append(out, dl)
	}
	return out, nil
}

// ReadyDepth returns the length of the ready list.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// InflightDepth returns how many messages are leased.
func (q *RedisQueue) InflightDepth(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.inflightKey).Result()
}

var dequeueScript = redis.NewScript(`
local msg = redis.call('LPOP', KEYS[1])
if msg then
  redis.call('ZADD', KEYS[2], ARGV[1], msg)
  return msg
end
return nil
`)

var moveDueScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, msg in ipairs(due) do
  redis.call('ZREM', KEYS[1], msg)
  redis.call('RPUSH', KEYS[2], msg)
end
return #due
`)
