package domain

import (
	"fmt"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusAssigned       OrderStatus = "assigned"
	OrderStatusInProduction   OrderStatus = "in_production"
	OrderStatusReadyForReview OrderStatus = "ready_for_review"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusShipped        OrderStatus = "shipped"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// ParseOrderStatus maps an external string onto the closed status set.
// Unknown values are rejected rather than coerced.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPending,
		OrderStatusAssigned,
		OrderStatusInProduction,
		OrderStatusReadyForReview,
		OrderStatusCompleted,
		OrderStatusShipped,
		OrderStatusDelivered,
		OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

type PaymentStatus string

const (
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	PaymentStatusPaid   PaymentStatus = "paid"
)

// OrderKind records how checkout classified the order.
type OrderKind string

const (
	OrderKindShop   OrderKind = "shop"
	OrderKindCustom OrderKind = "custom"
)

type LineItem struct {
	CustomizationID string `json:"customization_id"`
	ProductID       string `json:"product_id,omitempty"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unit_price"`
}

type TimelineEntry struct {
	Status OrderStatus `json:"status"`
	Note   string      `json:"note"`
	At     time.Time   `json:"at"`
}

type Order struct {
	ID                    string          `json:"id"`
	CustomerID            string          `json:"customer_id"`
	DesignerID            string          `json:"designer_id,omitempty"`
	Items                 []LineItem      `json:"items"`
	Status                OrderStatus     `json:"status"`
	Kind                  OrderKind       `json:"kind"`
	PaymentStatus         PaymentStatus   `json:"payment_status"`
	TotalPrice            int64           `json:"total_price"`
	DeliveryAddress       string          `json:"delivery_address"`
	OrderDate             time.Time       `json:"order_date"`
	ProductionStartedAt   *time.Time      `json:"production_started_at,omitempty"`
	ProductionCompletedAt *time.Time      `json:"production_completed_at,omitempty"`
	ShippedAt             *time.Time      `json:"shipped_at,omitempty"`
	DeliveredAt           *time.Time      `json:"delivered_at,omitempty"`
	Timeline              []TimelineEntry `json:"timeline"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Milestone returns the timestamp a status owns, if any.
func (o *Order) Milestone(status OrderStatus) *time.Time {
	switch status {
	case OrderStatusInProduction:
		return o.ProductionStartedAt
	case OrderStatusCompleted:
		return o.ProductionCompletedAt
	case OrderStatusShipped:
		return o.ShippedAt
	case OrderStatusDelivered:
		return o.DeliveredAt
	default:
		return nil
	}
}

// OwnsMilestone reports whether reaching status stamps a milestone.
func OwnsMilestone(status OrderStatus) bool {
	switch status {
	case OrderStatusInProduction, OrderStatusCompleted, OrderStatusShipped, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// StatusUpdate is a compare-and-swap write of one accepted transition.
// It applies only while the stored status still equals Expected.
type StatusUpdate struct {
	OrderID    string
	Expected   OrderStatus
	Next       OrderStatus
	DesignerID string
	Entry      TimelineEntry
	MarkPaid   bool
	StampedAt  time.Time
}

type OrderFilter struct {
	CustomerID string
	DesignerID string
	Status     OrderStatus
}
