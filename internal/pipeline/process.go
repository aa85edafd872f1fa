package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"orderhub/order-pipeline/internal/tasks"
)

// ProcessOrder returns the handler for the process_order task. The
// work itself is a placeholder; anything that replaces it must stay
// idempotent per order id, since the queue delivers at least once.
func ProcessOrder(logger *slog.Logger) tasks.HandlerFunc {
	return func(ctx context.Context, task tasks.Task) (string, error) {
		logger.Info("processing order", "order_id", task.OrderID, "schema_version", task.SchemaVersion)
		return fmt.Sprintf("order %s processed", task.OrderID), nil
	}
}
