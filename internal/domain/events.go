package domain

import "time"

const (
	TopicOrderCreated       = "order.created"
	TopicOrderStatusChanged = "order.status_changed"
)

type OrderCreatedEvent struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Kind       OrderKind   `json:"kind"`
	Status     OrderStatus `json:"status"`
	Items      []LineItem  `json:"items"`
	Timestamp  time.Time   `json:"timestamp"`
}

type OrderStatusChangedEvent struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Actor      Actor       `json:"actor"`
	Note       string      `json:"note"`
	Timestamp  time.Time   `json:"timestamp"`
}
