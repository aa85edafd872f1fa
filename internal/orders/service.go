package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"orderhub/order-pipeline/internal/cache"
	"orderhub/order-pipeline/internal/domain"
)

// cacheTTL bounds staleness of entries that never get an explicit
// write-through (e.g. after a failed cache update).
const cacheTTL = 5 * time.Minute

const publishTimeout = 10 * time.Second

// CacheKey derives the cache key for an order. It is the single source
// of truth for key construction: the read path and the write-through
// path must both go through it.
func CacheKey(orderID string) string {
	return "order:" + orderID
}

type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, from, to domain.OrderStatus) (*domain.Order, error)
	ListByOwner(ctx context.Context, userID int64) ([]domain.Order, error)
}

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Service orchestrates order mutations against the store while keeping
// the cache and the event pipeline in sync.
type Service struct {
	store     Store
	cache     Cache
	publisher Publisher
	logger    *slog.Logger
}

func NewService(store Store, cache Cache, publisher Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

type CreateOrder struct {
	Items      []domain.LineItem `json:"items"`
	TotalPrice decimal.Decimal   `json:"total_price"`
}

// Create persists a new PENDING order and publishes an OrderEvent for
// it. The publish happens off the request path: a broker failure is
// logged and the create still succeeds (at-least-once, best-effort;
// there is no outbox).
func (s *Service) Create(ctx context.Context, draft CreateOrder, ownerID int64) (*domain.Order, error) {
	if draft.TotalPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: total_price must be positive", domain.ErrValidation)
	}
	if len(draft.Items) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", domain.ErrValidation)
	}

	order := &domain.Order{
		UserID:     ownerID,
		Items:      draft.Items,
		TotalPrice: draft.TotalPrice,
		Status:     domain.OrderStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.store.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	event := domain.NewOrderEvent(order)
	go func() {
		// Detached from the request: the response must not wait on the
		// broker, and a caller timeout must not drop the event.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		defer cancel()

		if err := s.publisher.Publish(ctx, event.ID, event); err != nil {
			s.logger.Error("failed to publish order event", "error", err, "order_id", event.ID)
			return
		}
		s.logger.Info("order event published", "order_id", event.ID)
	}()

	return order, nil
}

// Get serves the order from cache when possible (cache-aside) and
// populates the cache on a store read. Ownership is checked on every
// path, cached or not.
func (s *Service) Get(ctx context.Context, orderID string, requesterID int64) (*domain.Order, error) {
	key := CacheKey(orderID)

	if data, err := s.cache.Get(ctx, key); err == nil {
		var order domain.Order
		if err := json.Unmarshal(data, &order); err == nil {
			if order.UserID != requesterID {
				return nil, domain.ErrForbidden
			}
			return &order, nil
		}
		s.logger.Warn("discarding undecodable cache entry", "key", key)
	} else if !errors.Is(err, cache.ErrMiss) {
		s.logger.Warn("cache read failed", "error", err, "key", key)
	}

	order, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	if order.UserID != requesterID {
		return nil, domain.ErrForbidden
	}

	s.writeCache(ctx, key, order)

	return order, nil
}

// UpdateStatus persists the transition and then writes the new
// snapshot through to the cache before returning, so a subsequent read
// observes the update whether it hits cache or store. A cache failure
// here degrades to an invalidation attempt, never to a failed update.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next domain.OrderStatus, requesterID int64) (*domain.Order, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, string(next))
	}

	current, err := s.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if current == nil {
		return nil, domain.ErrOrderNotFound
	}
	if current.UserID != requesterID {
		return nil, domain.ErrForbidden
	}
	if !current.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, next)
	}

	updated, err := s.store.UpdateStatus(ctx, orderID, current.Status, next)
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}
	if updated == nil {
		// Lost the race against a concurrent transition.
		return nil, fmt.Errorf("%w: order %s changed concurrently", domain.ErrInvalidTransition, orderID)
	}

	// The write-through must complete even if the caller has gone away,
	// otherwise the cache could serve the old status until TTL expiry.
	s.writeCache(context.WithoutCancel(ctx), CacheKey(orderID), updated)

	return updated, nil
}

func (s *Service) ListForUser(ctx context.Context, ownerID, requesterID int64) ([]domain.Order, error) {
	if ownerID != requesterID {
		return nil, domain.ErrForbidden
	}

	orders, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	return orders, nil
}

func (s *Service) writeCache(ctx context.Context, key string, order *domain.Order) {
	data, err := json.Marshal(order)
	if err != nil {
		s.logger.Error("failed to marshal order for cache", "error", err, "order_id", order.ID)
		return
	}

	if err := s.cache.Set(ctx, key, data, cacheTTL); err != nil {
		s.logger.Error("cache write failed, invalidating key", "error", err, "key", key)
		if err := s.cache.Delete(ctx, key); err != nil {
			s.logger.Error("cache invalidation failed, entry may be stale until TTL", "error", err, "key", key)
		}
	}
}
