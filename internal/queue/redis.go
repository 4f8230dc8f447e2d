package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/relay/internal/models"
)

const (
	queueKeyPrefix      = "relay:queue:"
	delayedKeySuffix    = ":delayed"
	processingKeySuffix = ":processing"
)

// RedisQueue is a durable per-worker queue over a redis list. Delayed
// messages sit in a sorted set scored by their due time and are pumped into
// the ready list on receive. Received messages move to a processing list and
// are removed on ack, so an unacked message survives a consumer crash.
type RedisQueue struct {
	client *goredis.Client
	name   string
	logger arbor.ILogger

	// set when the queue dialed its own connection rather than sharing one
	ownsClient bool
}

// NewRedisQueue creates a queue named after the worker on an existing client
func NewRedisQueue(client *goredis.Client, name string, logger arbor.ILogger) *RedisQueue {
	return &RedisQueue{client: client, name: name, logger: logger}
}

// NewRedisQueueFromURL connects to the redis instance a queue URL points at.
// URLs follow the redis scheme, e.g. redis://:password@host:6379/0.
func NewRedisQueueFromURL(rawURL, name string, logger arbor.ILogger) (*RedisQueue, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue url: %w", err)
	}
	client := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping queue redis: %w", err)
	}

	q := NewRedisQueue(client, name, logger)
	q.ownsClient = true
	return q, nil
}

func (q *RedisQueue) readyKey() string      { return queueKeyPrefix + q.name }
func (q *RedisQueue) delayedKey() string    { return queueKeyPrefix + q.name + delayedKeySuffix }
func (q *RedisQueue) processingKey() string { return queueKeyPrefix + q.name + processingKeySuffix }

func (q *RedisQueue) Send(ctx context.Context, msg *models.QueueMessage, delay time.Duration) error {
	data, err := msg.ToJSON()
	if err != nil {
		return err
	}

	if delay <= 0 {
		if err := q.client.LPush(ctx, q.readyKey(), data).Err(); err != nil {
			return models.DispatchError("failed to enqueue message for %s: %v", q.name, err)
		}
		return nil
	}

	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, q.delayedKey(), goredis.Z{Score: due, Member: data}).Err(); err != nil {
		return models.DispatchError("failed to enqueue delayed message for %s: %v", q.name, err)
	}
	return nil
}

// pumpDelayed moves due delayed messages into the ready list
func (q *RedisQueue) pumpDelayed(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil || len(due) == 0 {
		return err
	}

	pipe := q.client.TxPipeline()
	for _, member := range due {
		pipe.ZRem(ctx, q.delayedKey(), member)
		pipe.LPush(ctx, q.readyKey(), member)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Receive(ctx context.Context) (*models.QueueMessage, func(context.Context) error, error) {
	if err := q.pumpDelayed(ctx); err != nil {
		q.logger.Warn().Err(err).Str("queue", q.name).Msg("Failed to pump delayed messages")
	}

	raw, err := q.client.LMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT").Result()
	if err == goredis.Nil {
		return nil, nil, models.NotFoundError("queue %s is empty", q.name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to receive from queue %s: %w", q.name, err)
	}

	msg, err := models.QueueMessageFromJSON([]byte(raw))
	if err != nil {
		// Drop undecodable payloads rather than poisoning the queue
		_ = q.client.LRem(ctx, q.processingKey(), 1, raw).Err()
		return nil, nil, fmt.Errorf("failed to decode queue message: %w", err)
	}
	msg.Receives++

	ack := func(ackCtx context.Context) error {
		return q.client.LRem(ackCtx, q.processingKey(), 1, raw).Err()
	}
	return msg, ack, nil
}

// Close releases the client when this queue dialed it
func (q *RedisQueue) Close() error {
	if !q.ownsClient {
		return nil
	}
	return q.client.Close()
}
