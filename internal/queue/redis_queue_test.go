package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/endrilickollari/ldp/internal/models"
)

func newTestQueue(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedis(client, "jobs:ready"), mr
}

func TestRedisQueueFIFO(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, id); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 3 {
		t.Fatalf("Depth = %d, %v, want 3", depth, err)
	}

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if got != want {
			t.Errorf("Dequeue = %s, want %s", got, want)
		}
	}
}

func TestRedisQueueEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	id, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue on empty: %v", err)
	}
	if id != "" {
		t.Errorf("Dequeue on empty = %q, want empty string", id)
	}
}

func TestRedisQueueUnavailable(t *testing.T) {
	q, mr := newTestQueue(t)
	mr.Close()

	err := q.Enqueue(context.Background(), "a")
	if err == nil {
		t.Fatal("Enqueue succeeded against closed redis")
	}
	if kind := models.FaultKind(err); kind != models.FaultQueueUnavailable {
		t.Errorf("fault kind = %s, want %s", kind, models.FaultQueueUnavailable)
	}
}
