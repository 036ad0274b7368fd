package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lennylmiller/pfm-backend-simulator-sub001/internal/alerting/model"
)

// TaskKind names one unit of work.
type TaskKind string

const (
	TaskEvaluateBatch TaskKind = "evaluate_batch"
	TaskEvaluateUser  TaskKind = "evaluate_user"
	TaskEvaluateAlert TaskKind = "evaluate_alert"
	TaskDeliverEvent  TaskKind = "deliver_event"
	TaskRetryDelivery TaskKind = "retry_delivery"
)

// Task is one idempotent, safely re-runnable unit of work. Re-running
// an already-processed task is a no-op thanks to the evaluator's
// cooldown state and the orchestrator's existing-delivery check.
type Task struct {
	ID         string            `json:"id"`
	Kind       TaskKind          `json:"kind"`
	Offset     int               `json:"offset,omitempty"`
	Limit      int               `json:"limit,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Types      []model.AlertType `json:"types,omitempty"`
	AlertID    string            `json:"alertId,omitempty"`
	DeliveryID string            `json:"deliveryId,omitempty"`
	// Event carries the trigger for deliver_event tasks. The cooldown
	// mark is consumed before delivery, so a trigger that fails to
	// deliver must ride its own task; re-evaluating would not re-emit
	// it.
	Event      *model.TriggerEvent `json:"event,omitempty"`
	Attempts   int                 `json:"attempts,omitempty"`
	EnqueuedAt time.Time           `json:"enqueuedAt"`
}

// Queue is the durable work queue the worker pool pulls from. Items
// enqueued for a future time become visible only once that time
// passes.
type Queue interface {
	Enqueue(ctx context.Context, t *Task) error
	EnqueueAt(ctx context.Context, t *Task, at time.Time) error
	// Dequeue returns the next ready task, or nil when none is due.
	Dequeue(ctx context.Context) (*Task, error)
	Len(ctx context.Context) (int64, error)
}

const queueKey = "alert:workqueue"

// popReadyScript atomically claims the earliest ready member so two
// workers can never process the same item.
var popReadyScript = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #items == 0 then return false end
redis.call('ZREM', KEYS[1], items[1])
return items[1]
`)

// RedisQueue is a Redis sorted set keyed by eligible time, which gives
// both durability and delayed retry scheduling with one structure.
type RedisQueue struct {
	redis *redis.Client
	Now   func() time.Time
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{redis: rdb, Now: time.Now}
}

func (q *RedisQueue) Enqueue(ctx context.Context, t *Task) error {
	return q.EnqueueAt(ctx, t, q.Now())
}

func (q *RedisQueue) EnqueueAt(ctx context.Context, t *Task, at time.Time) error {
	if q.redis == nil {
		return fmt.Errorf("redis client is nil")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.Now().UTC()
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}
	if err := q.redis.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: string(data),
	}).Err(); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	if q.redis == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	raw, err := popReadyScript.Run(ctx, q.redis, []string{queueKey},
		q.Now().UnixMilli()).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	var t Task
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("decode task: %w", err)
	}
	return &t, nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	if q.redis == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := q.redis.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue len: %w", err)
	}
	return n, nil
}

// MemoryQueue is an in-process Queue for tests and single-node runs.
type MemoryQueue struct {
	mu    sync.Mutex
	items []memItem
	Now   func() time.Time
}

type memItem struct {
	task    *Task
	readyAt time.Time
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{Now: time.Now}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, t *Task) error {
	return q.EnqueueAt(ctx, t, q.Now())
}

func (q *MemoryQueue) EnqueueAt(_ context.Context, t *Task, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = q.Now().UTC()
	}
	q.items = append(q.items, memItem{task: t, readyAt: at})
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].readyAt.Before(q.items[j].readyAt)
	})
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.Now()
	if len(q.items) == 0 || q.items[0].readyAt.After(now) {
		return nil, nil
	}
	t := q.items[0].task
	q.items = q.items[1:]
	return t, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items)), nil
}
