package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderEvent is the wire snapshot of an order published to the broker.
type OrderEvent struct {
	ID         string          `json:"id"`
	UserID     int64           `json:"user_id"`
	Items      []LineItem      `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	Status     OrderStatus     `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

func NewOrderEvent(order *Order) OrderEvent {
	return OrderEvent{
		ID:         order.ID,
		UserID:     order.UserID,
		Items:      order.Items,
		TotalPrice: order.TotalPrice,
		Status:     order.Status,
		CreatedAt:  order.CreatedAt,
	}
}
