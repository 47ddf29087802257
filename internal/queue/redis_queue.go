// Package queue hands job IDs from the API to the worker pool through Redis.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/endrilickollari/ldp/internal/models"
)

// Queue is the transport between job submission and the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	// Dequeue returns the next job ID, or "" when the queue is empty.
	Dequeue(ctx context.Context) (string, error)
	Depth(ctx context.Context) (int64, error)
}

// Redis is a Queue backed by a Redis list.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis builds a queue on the given client and list key.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = "jobs:ready"
	}
	return &Redis{client: client, key: key}
}

func (q *Redis) Enqueue(ctx context.Context, jobID string) error {
	if err := q.client.RPush(ctx, q.key, jobID).Err(); err != nil {
		return fmt.Errorf("%w: enqueue %s: %v",
			models.Faultf(models.FaultQueueUnavailable, "job queue unavailable"), jobID, err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (string, error) {
	id, err := q.client.LPop(ctx, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	return id, nil
}

func (q *Redis) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}
