package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"orderhub/order-pipeline/internal/domain"
	"orderhub/order-pipeline/internal/tasks"
)

type fakeDispatcher struct {
	enqueued []tasks.Task
	err      error
}

func (f *fakeDispatcher) Enqueue(_ context.Context, task tasks.Task) error {
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, task)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func orderEventBytes(t *testing.T, id string) []byte {
	t.Helper()

	event := domain.OrderEvent{
		ID:         id,
		UserID:     7,
		Items:      []domain.LineItem{{"name": "ps5", "qty": float64(1)}},
		TotalPrice: decimal.RequireFromString("499.99"),
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return data
}

func TestHandlerHandle(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches a process_order task keyed by the message key", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewHandler(dispatcher, discardLogger())

		err := h.Handle(ctx, []byte("order-1"), orderEventBytes(t, "order-1"))
		if err != nil {
			t.Fatalf("handle failed: %v", err)
		}

		if len(dispatcher.enqueued) != 1 {
			t.Fatalf("expected 1 task, got %d", len(dispatcher.enqueued))
		}
		task := dispatcher.enqueued[0]
		if task.Name != tasks.TaskProcessOrder {
			t.Errorf("expected task %s, got %s", tasks.TaskProcessOrder, task.Name)
		}
		if task.OrderID != "order-1" {
			t.Errorf("expected order-1, got %s", task.OrderID)
		}
		if task.SchemaVersion != tasks.SchemaVersion {
			t.Errorf("expected schema version %d, got %d", tasks.SchemaVersion, task.SchemaVersion)
		}
	})

	t.Run("falls back to the event id when the key is empty", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewHandler(dispatcher, discardLogger())

		if err := h.Handle(ctx, nil, orderEventBytes(t, "order-2")); err != nil {
			t.Fatalf("handle failed: %v", err)
		}
		if dispatcher.enqueued[0].OrderID != "order-2" {
			t.Errorf("expected order-2, got %s", dispatcher.enqueued[0].OrderID)
		}
	})

	t.Run("tolerates duplicate delivery of the same event", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewHandler(dispatcher, discardLogger())

		payload := orderEventBytes(t, "order-3")
		if err := h.Handle(ctx, []byte("order-3"), payload); err != nil {
			t.Fatalf("first delivery failed: %v", err)
		}
		if err := h.Handle(ctx, []byte("order-3"), payload); err != nil {
			t.Fatalf("second delivery must not raise: %v", err)
		}
		if len(dispatcher.enqueued) != 2 {
			t.Fatalf("expected both deliveries dispatched, got %d", len(dispatcher.enqueued))
		}
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewHandler(dispatcher, discardLogger())

		if err := h.Handle(ctx, []byte("order-4"), []byte("not json")); err == nil {
			t.Error("expected an error")
		}
		if len(dispatcher.enqueued) != 0 {
			t.Errorf("malformed payload dispatched %d tasks", len(dispatcher.enqueued))
		}
	})

	t.Run("rejects events without an id", func(t *testing.T) {
		dispatcher := &fakeDispatcher{}
		h := NewHandler(dispatcher, discardLogger())

		if err := h.Handle(ctx, nil, []byte(`{}`)); err == nil {
			t.Error("expected an error")
		}
	})

	t.Run("propagates dispatch failures", func(t *testing.T) {
		dispatcher := &fakeDispatcher{err: errors.New("queue down")}
		h := NewHandler(dispatcher, discardLogger())

		if err := h.Handle(ctx, []byte("order-5"), orderEventBytes(t, "order-5")); err == nil {
			t.Error("expected an error")
		}
	})
}
