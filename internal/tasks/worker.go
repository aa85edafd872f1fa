package tasks

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	pollTimeout = time.Second
	maxAttempts = 5
	baseBackoff = 250 * time.Millisecond
	doneTTL     = 24 * time.Hour
	resultTTL   = time.Hour
)

// HandlerFunc executes one task and returns an opaque result string.
type HandlerFunc func(ctx context.Context, task Task) (string, error)

// Worker runs a pool of goroutines draining the task queues. Completed
// tasks leave a done marker keyed by order id, which makes repeated
// execution for the same order a no-op: required, because the consumer
// feeding the queue delivers at least once.
type Worker struct {
	queue       *Queue
	rdb         *redis.Client
	concurrency int
	handlers    map[string]HandlerFunc
	logger      *slog.Logger
}

func NewWorker(rdb *redis.Client, concurrency int, logger *slog.Logger) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		queue:       NewQueue(rdb),
		rdb:         rdb,
		concurrency: concurrency,
		handlers:    make(map[string]HandlerFunc),
		logger:      logger,
	}
}

// Register must be called before Run.
func (w *Worker) Register(name string, handler HandlerFunc) {
	w.handlers[name] = handler
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			return w.loop(ctx, names)
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, names []string) error {
	for {
		task, err := w.queue.Dequeue(ctx, names, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollTimeout):
			}
			continue
		}
		if task == nil {
			continue
		}

		w.process(ctx, *task)
	}
}

func (w *Worker) process(ctx context.Context, task Task) {
	handler, ok := w.handlers[task.Name]
	if !ok {
		w.logger.Error("no handler registered for task", "task", task.Name)
		return
	}

	done, err := w.rdb.Exists(ctx, doneKey(task)).Result()
	if err != nil {
		w.logger.Error("failed to check done marker", "error", err, "task", task.Name, "order_id", task.OrderID)
	}
	if done > 0 {
		w.logger.Info("task already processed, skipping duplicate", "task", task.Name, "order_id", task.OrderID)
		return
	}

	result, err := handler(ctx, task)
	if err != nil {
		w.logger.Error("task failed", "error", err, "task", task.Name, "order_id", task.OrderID, "attempt", task.Attempt)
		w.retry(ctx, task)
		return
	}

	if err := w.rdb.Set(ctx, doneKey(task), "1", doneTTL).Err(); err != nil {
		w.logger.Error("failed to set done marker", "error", err, "task", task.Name, "order_id", task.OrderID)
	}
	if err := w.rdb.Set(ctx, resultKey(task), result, resultTTL).Err(); err != nil {
		w.logger.Error("failed to store task result", "error", err, "task", task.Name, "order_id", task.OrderID)
	}

	w.logger.Info("task complete", "task", task.Name, "order_id", task.OrderID, "result", result)
}

func (w *Worker) retry(ctx context.Context, task Task) {
	task.Attempt++
	if task.Attempt >= maxAttempts {
		w.logger.Error("task exhausted retries, dropping", "task", task.Name, "order_id", task.OrderID)
		return
	}

	backoff := baseBackoff << task.Attempt
	select {
	case <-ctx.Done():
		return
	case <-time.After(backoff):
	}

	if err := w.queue.Enqueue(ctx, task); err != nil {
		w.logger.Error("failed to re-enqueue task", "error", err, "task", task.Name, "order_id", task.OrderID)
	}
}
