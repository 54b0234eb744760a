package domain

import "time"

const MetaOrderID = "order_id"

type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Customization is the cart-line payload. An empty ProductID marks a
// studio-configured design.
type Customization struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id,omitempty"`
}
