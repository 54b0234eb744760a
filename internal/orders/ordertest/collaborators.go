package ordertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Directory is a fixed user list. Assignment is answered from the Store.
type Directory struct {
	Users []domain.User
	Store *Store
}

func (d *Directory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	for _, u := range d.Users {
		if u.ID == id {
			user := u
			return &user, nil
		}
	}
	return nil, nil
}

func (d *Directory) ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	var users []domain.User
	for _, u := range d.Users {
		if u.Role == role {
			users = append(users, u)
		}
	}
	return users, nil
}

func (d *Directory) IsAssignedTo(ctx context.Context, orderID, designerID string) (bool, error) {
	order, err := d.Store.GetByID(ctx, orderID)
	if err != nil || order == nil {
		return false, err
	}
	return order.DesignerID != "" && order.DesignerID == designerID, nil
}

// Notifications records every notification it is handed.
type Notifications struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (n *Notifications) Notify(ctx context.Context, notification domain.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	notification.CreatedAt = time.Now().UTC()
	n.sent = append(n.sent, notification)
}

func (n *Notifications) All() []domain.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.Notification, len(n.sent))
	copy(out, n.sent)
	return out
}

func (n *Notifications) For(userID string) []domain.Notification {
	var out []domain.Notification
	for _, notification := range n.All() {
		if notification.UserID == userID {
			out = append(out, notification)
		}
	}
	return out
}

// Cart records ClearOrderedLines calls.
type Cart struct {
	mu      sync.Mutex
	Cleared map[string][]string
	Err     error
}

func (c *Cart) ClearOrderedLines(ctx context.Context, customerID string, lineRefs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if c.Cleared == nil {
		c.Cleared = make(map[string][]string)
	}
	c.Cleared[customerID] = append(c.Cleared[customerID], lineRefs...)
	return nil
}

// Publisher captures published events keyed by message key.
type Publisher struct {
	mu     sync.Mutex
	Events []any
	Fail   bool
}

var ErrPublish = errors.New("publish failed")

func (p *Publisher) Publish(ctx context.Context, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Fail {
		return ErrPublish
	}
	p.Events = append(p.Events, event)
	return nil
}
