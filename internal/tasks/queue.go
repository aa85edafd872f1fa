// Package tasks implements a Redis-backed task queue: the consumer
// side of the pipeline enqueues typed tasks and a worker pool executes
// them out of the request path.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const TaskProcessOrder = "process_order"

// SchemaVersion is stamped on every enqueued task so workers can
// evolve the payload independently of producers.
const SchemaVersion = 1

// Task is the queue payload. The order id is the idempotency key:
// upstream delivery is at-least-once, so the same task may be
// submitted more than once.
type Task struct {
	Name          string `json:"name"`
	OrderID       string `json:"order_id"`
	SchemaVersion int    `json:"schema_version"`
	Attempt       int    `json:"attempt"`
}

func queueKey(name string) string {
	return "tasks:queue:" + name
}

func doneKey(t Task) string {
	return "tasks:done:" + t.Name + ":" + t.OrderID
}

func resultKey(t Task) string {
	return "tasks:result:" + t.Name + ":" + t.OrderID
}

type Queue struct {
	rdb *redis.Client
}

func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.Name == "" {
		return errors.New("task name is required")
	}
	if task.SchemaVersion == 0 {
		task.SchemaVersion = SchemaVersion
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := q.rdb.LPush(ctx, queueKey(task.Name), data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", task.Name, err)
	}
	return nil
}

// Dequeue blocks up to timeout on the queues for the given task names.
// A nil task with a nil error means the wait timed out.
func (q *Queue) Dequeue(ctx context.Context, names []string, timeout time.Duration) (*Task, error) {
	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = queueKey(name)
	}

	res, err := q.rdb.BRPop(ctx, timeout, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &task, nil
}

// Result returns the opaque status string a worker stored for the
// task, or "" if none exists.
func (q *Queue) Result(ctx context.Context, task Task) (string, error) {
	result, err := q.rdb.Get(ctx, resultKey(task)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	return result, nil
}
