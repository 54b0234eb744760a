// Package ordertest provides in-memory stand-ins for the order store and
// its collaborators so workflow tests can run without Postgres.
package ordertest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
)

// Store keeps orders in memory and honours the same compare-and-swap
// contract as the Postgres repository.
type Store struct {
	mu     sync.Mutex
	orders map[string]*domain.Order

	// BeforeSave, when set, runs inside SaveTransition before the status
	// check. Tests use it to interleave a competing write.
	BeforeSave func(update domain.StatusUpdate)
}

func NewStore() *Store {
	return &Store{orders: make(map[string]*domain.Order)}
}

func (s *Store) Create(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ID == "" {
		order.ID = uuid.New().String()
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = order.OrderDate
	}
	s.orders[order.ID] = clone(order)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	return clone(order), nil
}

func (s *Store) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orders := []domain.Order{}
	for _, o := range s.orders {
		if filter.CustomerID != "" && o.CustomerID != filter.CustomerID {
			continue
		}
		if filter.DesignerID != "" && o.DesignerID != filter.DesignerID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		orders = append(orders, *clone(o))
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].OrderDate.After(orders[j].OrderDate)
	})
	return orders, nil
}

func (s *Store) SaveTransition(ctx context.Context, update domain.StatusUpdate) (*domain.Order, error) {
	if s.BeforeSave != nil {
		s.BeforeSave(update)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[update.OrderID]
	if !ok || order.Status != update.Expected {
		return nil, fulfillment.ErrStatusConflict
	}

	order.Status = update.Next
	order.Timeline = append(order.Timeline, update.Entry)
	order.UpdatedAt = update.StampedAt
	if update.DesignerID != "" {
		order.DesignerID = update.DesignerID
	}
	if update.MarkPaid {
		order.PaymentStatus = domain.PaymentStatusPaid
	}
	stamp := update.StampedAt
	switch update.Next {
	case domain.OrderStatusInProduction:
		if order.ProductionStartedAt == nil {
			order.ProductionStartedAt = &stamp
		}
	case domain.OrderStatusCompleted:
		if order.ProductionCompletedAt == nil {
			order.ProductionCompletedAt = &stamp
		}
	case domain.OrderStatusShipped:
		if order.ShippedAt == nil {
			order.ShippedAt = &stamp
		}
	case domain.OrderStatusDelivered:
		if order.DeliveredAt == nil {
			order.DeliveredAt = &stamp
		}
	}
	return clone(order), nil
}

func (s *Store) MarkPaid(ctx context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok || order.PaymentStatus == domain.PaymentStatusPaid || order.Status == domain.OrderStatusCancelled {
		return nil, fulfillment.ErrStatusConflict
	}
	order.PaymentStatus = domain.PaymentStatusPaid
	return clone(order), nil
}

// Force overwrites an order's status directly, bypassing the workflow.
func (s *Store) Force(id string, status domain.OrderStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order, ok := s.orders[id]; ok {
		order.Status = status
	}
}

func clone(o *domain.Order) *domain.Order {
	c := *o
	c.Items = append([]domain.LineItem(nil), o.Items...)
	c.Timeline = append([]domain.TimelineEntry(nil), o.Timeline...)
	c.ProductionStartedAt = cloneTime(o.ProductionStartedAt)
	c.ProductionCompletedAt = cloneTime(o.ProductionCompletedAt)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	return &c
}
