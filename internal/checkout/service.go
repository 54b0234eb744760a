// Package checkout turns a customer's cart into an order and decides
// whether it follows the ready-made or the custom-design workflow.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
)

const autoApprovalNote = "Order auto-approved (ready-made items)"

var tracer = otel.Tracer("checkout")

type OrderCreator interface {
	Create(ctx context.Context, order *domain.Order) error
}

type CartClearer interface {
	ClearOrderedLines(ctx context.Context, customerID string, lineRefs []string) error
}

// Planner schedules the automatic steps of a shop order.
type Planner interface {
	Plan(ctx context.Context, order *domain.Order) error
}

type CartLine struct {
	Customization domain.Customization `json:"customization"`
	Quantity      int                  `json:"quantity"`
	UnitPrice     int64                `json:"unit_price"`
}

type Service struct {
	orders    OrderCreator
	cart      CartClearer
	notifier  fulfillment.Notifier
	planner   Planner
	publisher fulfillment.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

type Option func(*Service)

// WithPlanner hands shop orders straight to the scheduler.
func WithPlanner(p Planner) Option {
	return func(s *Service) {
		s.planner = p
	}
}

// WithPublisher emits an OrderCreatedEvent for every order. When set, the
// worker consuming the event plans shop orders and WithPlanner is ignored.
func WithPublisher(p fulfillment.Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func NewService(orders OrderCreator, cart CartClearer, notifier fulfillment.Notifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		orders:   orders,
		cart:     cart,
		notifier: notifier,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrderFromCart persists a new order for the given cart lines. Cart
// cleanup, notification and scheduling run after the order is stored and
// never fail the checkout.
func (s *Service) CreateOrderFromCart(ctx context.Context, customerID string, lines []CartLine, deliveryAddress string) (*domain.Order, error) {
	ctx, span := tracer.Start(ctx, "checkout.CreateOrderFromCart")
	defer span.End()

	if err := validate(customerID, lines, deliveryAddress); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	order := &domain.Order{
		CustomerID:      customerID,
		Items:           make([]domain.LineItem, 0, len(lines)),
		PaymentStatus:   domain.PaymentStatusUnpaid,
		DeliveryAddress: strings.TrimSpace(deliveryAddress),
		OrderDate:       now,
		UpdatedAt:       now,
	}
	for _, line := range lines {
		order.Items = append(order.Items, domain.LineItem{
			CustomizationID: line.Customization.ID,
			ProductID:       line.Customization.ProductID,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
		})
		order.TotalPrice += int64(line.Quantity) * line.UnitPrice
	}

	if isShopOrder(lines) {
		order.Kind = domain.OrderKindShop
		order.Status = domain.OrderStatusInProduction
		started := now
		order.ProductionStartedAt = &started
		order.Timeline = []domain.TimelineEntry{{
			Status: domain.OrderStatusInProduction,
			Note:   autoApprovalNote,
			At:     now,
		}}
	} else {
		order.Kind = domain.OrderKindCustom
		order.Status = domain.OrderStatusPending
	}

	span.SetAttributes(
		attribute.String("order.kind", string(order.Kind)),
		attribute.Int("order.lines", len(lines)),
	)

	if err := s.orders.Create(ctx, order); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("create order: %w", err)
	}
	span.SetAttributes(attribute.String("order.id", order.ID))

	s.afterCreate(ctx, order)

	s.logger.Info("order created",
		"order_id", order.ID,
		"customer_id", order.CustomerID,
		"kind", order.Kind,
		"total_price", order.TotalPrice,
	)
	return order, nil
}

func (s *Service) afterCreate(ctx context.Context, order *domain.Order) {
	refs := make([]string, 0, len(order.Items))
	for _, item := range order.Items {
		refs = append(refs, item.CustomizationID)
	}
	if err := s.cart.ClearOrderedLines(ctx, order.CustomerID, refs); err != nil {
		s.logger.Error("failed to clear ordered cart lines", "error", err, "order_id", order.ID)
	}

	s.notifier.Notify(ctx, domain.Notification{
		UserID:  order.CustomerID,
		Title:   "Order placed",
		Message: placedMessage(order),
		Meta: map[string]string{
			domain.MetaOrderID: order.ID,
			"status":           string(order.Status),
		},
	})

	if s.publisher != nil {
		event := domain.OrderCreatedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			Kind:       order.Kind,
			Status:     order.Status,
			Items:      order.Items,
			Timestamp:  order.OrderDate,
		}
		if err := s.publisher.Publish(ctx, order.ID, event); err != nil {
			s.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
		}
		return
	}

	if order.Kind == domain.OrderKindShop && s.planner != nil {
		if err := s.planner.Plan(ctx, order); err != nil {
			s.logger.Error("failed to schedule auto-progression", "error", err, "order_id", order.ID)
		}
	}
}

func placedMessage(order *domain.Order) string {
	if order.Kind == domain.OrderKindShop {
		return fmt.Sprintf("Your order %s has been placed and is being prepared.", order.ID)
	}
	return fmt.Sprintf("Your order %s has been placed and is awaiting designer assignment.", order.ID)
}

func isShopOrder(lines []CartLine) bool {
	for _, line := range lines {
		if line.Customization.ProductID == "" {
			return false
		}
	}
	return true
}

func validate(customerID string, lines []CartLine, deliveryAddress string) error {
	fields := map[string]string{}
	if customerID == "" {
		fields["customer_id"] = "is required"
	}
	if strings.TrimSpace(deliveryAddress) == "" {
		fields["delivery_address"] = "is required"
	}
	if len(lines) == 0 {
		fields["items"] = "must contain at least one line"
	}
	for i, line := range lines {
		key := fmt.Sprintf("items[%d]", i)
		switch {
		case line.Customization.ID == "":
			fields[key] = "customization is required"
		case line.Quantity < 1:
			fields[key] = "quantity must be at least 1"
		case line.UnitPrice < 0:
			fields[key] = "unit price must not be negative"
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &fulfillment.ValidationError{Message: "invalid checkout request", Fields: fields}
}
