// Package pipeline connects the broker to the task queue: it decodes
// order events off the new-orders topic and submits a process_order
// task for each one.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"orderhub/order-pipeline/internal/domain"
	"orderhub/order-pipeline/internal/tasks"
)

type Dispatcher interface {
	Enqueue(ctx context.Context, task tasks.Task) error
}

type Handler struct {
	dispatcher Dispatcher
	logger     *slog.Logger
}

func NewHandler(dispatcher Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Handle decodes one broker message and dispatches it to the task
// queue. Errors returned here make the consumer log and skip the
// message; the offset is committed either way.
func (h *Handler) Handle(ctx context.Context, key, value []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("unmarshal order event: %w", err)
	}

	orderID := string(key)
	if orderID == "" {
		orderID = event.ID
	}
	if orderID == "" {
		return errors.New("order event without an id")
	}

	h.logger.Info("dispatching order event", "order_id", orderID, "status", event.Status)

	task := tasks.Task{
		Name:          tasks.TaskProcessOrder,
		OrderID:       orderID,
		SchemaVersion: tasks.SchemaVersion,
	}
	if err := h.dispatcher.Enqueue(ctx, task); err != nil {
		return fmt.Errorf("dispatch %s for order %s: %w", task.Name, orderID, err)
	}

	return nil
}
