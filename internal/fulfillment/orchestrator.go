package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

const maxSaveAttempts = 3

var (
	tracer = otel.Tracer("fulfillment")
	meter  = otel.Meter("fulfillment")
)

// Repository is the order store the orchestrator reads and writes.
// GetByID returns nil, nil when the order does not exist. SaveTransition
// must return ErrStatusConflict when the stored status differs from
// update.Expected, and MarkPaid must return ErrStatusConflict when the
// order is already paid.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	SaveTransition(ctx context.Context, update domain.StatusUpdate) (*domain.Order, error)
	MarkPaid(ctx context.Context, id string) (*domain.Order, error)
}

type Directory interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
	IsAssignedTo(ctx context.Context, orderID, designerID string) (bool, error)
}

// Notifier delivers notifications on a best-effort basis and never fails
// the caller.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification)
}

type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Transition is one requested status change.
type Transition struct {
	OrderID string
	Target  domain.OrderStatus
	Actor   domain.Actor
	Note    string
	// DesignerID is required when Target is assigned.
	DesignerID string
	// Expected, when set, pins the status the caller believes the order is
	// in. A mismatch yields a StaleTransitionError without side effects.
	Expected domain.OrderStatus
}

type Orchestrator struct {
	repo        Repository
	directory   Directory
	notifier    Notifier
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
	transitions metric.Int64Counter
}

type Option func(*Orchestrator)

// WithPublisher emits an OrderStatusChangedEvent after every accepted
// transition.
func WithPublisher(p Publisher) Option {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

func NewOrchestrator(repo Repository, directory Directory, notifier Notifier, logger *slog.Logger, opts ...Option) *Orchestrator {
	counter, err := meter.Int64Counter("fulfillment.transitions",
		metric.WithDescription("Order status transitions by target status and outcome"),
	)
	if err != nil {
		logger.Error("failed to create transitions counter", "error", err)
	}

	o := &Orchestrator{
		repo:        repo,
		directory:   directory,
		notifier:    notifier,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		transitions: counter,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ApplyTransition validates and executes t against the current stored
// state of the order. Either the status, timeline entry, milestone and
// payment flag are all written or nothing is.
func (o *Orchestrator) ApplyTransition(ctx context.Context, t Transition) (order *domain.Order, err error) {
	ctx, span := tracer.Start(ctx, "fulfillment.ApplyTransition",
		trace.WithAttributes(
			attribute.String("order.id", t.OrderID),
			attribute.String("order.target_status", string(t.Target)),
			attribute.String("actor.role", string(t.Actor.Role)),
		),
	)
	defer func() {
		o.record(ctx, t, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := validateTransitionRequest(t); err != nil {
		return nil, err
	}

	var (
		designer  *domain.User
		exhausted bool
	)
	for attempt := 1; ; attempt++ {
		current, err := o.repo.GetByID(ctx, t.OrderID)
		if err != nil {
			return nil, fmt.Errorf("load order %s: %w", t.OrderID, err)
		}
		if current == nil {
			return nil, &NotFoundError{Resource: "order", ID: t.OrderID}
		}

		if t.Expected != "" && current.Status != t.Expected {
			return nil, &StaleTransitionError{Expected: t.Expected, Current: current.Status}
		}

		if err := o.authorize(ctx, current, t.Actor); err != nil {
			return nil, err
		}

		if err := ValidateTransition(current.Status, t.Target, t.Actor.Role); err != nil {
			return nil, err
		}

		// The last pass only re-validates against fresh state so a lost race
		// is reported in terms of the status that won it.
		if exhausted {
			return nil, fmt.Errorf("save transition for order %s: %w", t.OrderID, ErrStatusConflict)
		}

		if t.Target == domain.OrderStatusAssigned && designer == nil {
			designer, err = o.lookupDesigner(ctx, t.DesignerID)
			if err != nil {
				return nil, err
			}
		}

		update := o.buildUpdate(current, t, designer)
		updated, err := o.repo.SaveTransition(ctx, update)
		if errors.Is(err, ErrStatusConflict) {
			o.logger.Debug("order changed under transition, re-validating",
				"order_id", t.OrderID, "target", t.Target, "attempt", attempt)
			exhausted = attempt >= maxSaveAttempts
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save transition for order %s: %w", t.OrderID, err)
		}

		o.afterTransition(ctx, current.Status, updated, t)
		return updated, nil
	}
}

// ConfirmPayment records an explicit payment event for pre-paid flows.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, orderID string, actor domain.Actor) (*domain.Order, error) {
	if actor.Role != domain.RoleManager {
		return nil, &UnauthorizedError{}
	}

	current, err := o.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order %s: %w", orderID, err)
	}
	if current == nil {
		return nil, &NotFoundError{Resource: "order", ID: orderID}
	}
	if current.Status == domain.OrderStatusCancelled {
		return nil, &ValidationError{Message: "cancelled orders cannot be paid"}
	}
	if current.PaymentStatus == domain.PaymentStatusPaid {
		return nil, &ValidationError{Message: "order is already paid"}
	}

	updated, err := o.repo.MarkPaid(ctx, orderID)
	if errors.Is(err, ErrStatusConflict) {
		return nil, &ValidationError{Message: "order is already paid"}
	}
	if err != nil {
		return nil, fmt.Errorf("mark order %s paid: %w", orderID, err)
	}

	o.notify(ctx, updated.CustomerID, updated, notice{
		title:   "Payment Received",
		message: fmt.Sprintf("We received the payment for order #%s.", shortID(updated.ID)),
	})
	o.logger.Info("order payment confirmed", "order_id", orderID, "actor_id", actor.ID)
	return updated, nil
}

func validateTransitionRequest(t Transition) error {
	if t.OrderID == "" {
		return invalidField("order_id", "is required")
	}
	if !t.Target.IsValid() {
		return invalidField("status", "is not a known order status")
	}
	if t.Expected != "" && !t.Expected.IsValid() {
		return invalidField("expected_status", "is not a known order status")
	}
	if _, err := domain.ParseRole(string(t.Actor.Role)); err != nil {
		return invalidField("actor_role", "is not a known role")
	}
	if t.Target == domain.OrderStatusAssigned && t.DesignerID == "" {
		return invalidField("designer_id", "is required")
	}
	return nil
}

// authorize runs the identity checks that do not depend on the workflow
// graph: customers never drive transitions, designers only act on orders
// assigned to them and the auto-progressor only touches shop orders.
func (o *Orchestrator) authorize(ctx context.Context, order *domain.Order, actor domain.Actor) error {
	switch actor.Role {
	case domain.RoleManager:
		return nil
	case domain.RoleSystem:
		if order.Kind != domain.OrderKindShop {
			return &UnauthorizedError{}
		}
		return nil
	case domain.RoleDesigner:
		if actor.ID == "" {
			return &UnauthorizedError{}
		}
		assigned, err := o.directory.IsAssignedTo(ctx, order.ID, actor.ID)
		if err != nil {
			return fmt.Errorf("check designer assignment: %w", err)
		}
		if !assigned {
			return &UnauthorizedError{}
		}
		return nil
	default:
		return &UnauthorizedError{}
	}
}

func (o *Orchestrator) lookupDesigner(ctx context.Context, id string) (*domain.User, error) {
	user, err := o.directory.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load designer %s: %w", id, err)
	}
	if user == nil || user.Role != domain.RoleDesigner {
		return nil, &NotFoundError{Resource: "designer", ID: id}
	}
	return user, nil
}

func (o *Orchestrator) buildUpdate(current *domain.Order, t Transition, designer *domain.User) domain.StatusUpdate {
	now := o.now()

	note := t.Note
	if note == "" {
		note = defaultNote(t.Target, t.Actor, designer)
	}

	update := domain.StatusUpdate{
		OrderID:   current.ID,
		Expected:  current.Status,
		Next:      t.Target,
		Entry:     domain.TimelineEntry{Status: t.Target, Note: note, At: now},
		StampedAt: now,
	}
	if designer != nil {
		update.DesignerID = designer.ID
	}
	if t.Target == domain.OrderStatusDelivered && current.PaymentStatus != domain.PaymentStatusPaid {
		update.MarkPaid = true
	}
	return update
}

func (o *Orchestrator) afterTransition(ctx context.Context, from domain.OrderStatus, order *domain.Order, t Transition) {
	o.notify(ctx, order.CustomerID, order, customerNotice(order))

	if t.Actor.Role == domain.RoleDesigner {
		managers, err := o.directory.ListByRole(ctx, domain.RoleManager)
		if err != nil {
			o.logger.Error("failed to list managers for notification", "error", err, "order_id", order.ID)
		}
		for _, m := range managers {
			o.notify(ctx, m.ID, order, managerNotice(order, t.Actor.ID))
		}
	}

	if t.Target == domain.OrderStatusAssigned && order.DesignerID != "" {
		o.notify(ctx, order.DesignerID, order, designerNotice(order))
	}

	if o.publisher != nil {
		note := ""
		if n := len(order.Timeline); n > 0 {
			note = order.Timeline[n-1].Note
		}
		event := domain.OrderStatusChangedEvent{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			From:       from,
			To:         order.Status,
			Actor:      t.Actor,
			Note:       note,
			Timestamp:  order.UpdatedAt,
		}
		if err := o.publisher.Publish(ctx, order.ID, event); err != nil {
			o.logger.Error("failed to publish order status changed event", "error", err, "order_id", order.ID)
		}
	}

	o.logger.Info("order transitioned",
		"order_id", order.ID,
		"from", from,
		"to", order.Status,
		"actor_role", t.Actor.Role,
		"actor_id", t.Actor.ID,
	)
}

func (o *Orchestrator) notify(ctx context.Context, userID string, order *domain.Order, n notice) {
	o.notifier.Notify(ctx, domain.Notification{
		UserID:  userID,
		Title:   n.title,
		Message: n.message,
		Meta: map[string]string{
			domain.MetaOrderID: order.ID,
			"status":           string(order.Status),
		},
	})
}

func (o *Orchestrator) record(ctx context.Context, t Transition, err error) {
	if o.transitions == nil {
		return
	}
	o.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("to", string(t.Target)),
		attribute.String("actor_role", string(t.Actor.Role)),
		attribute.String("outcome", Outcome(err)),
	))
}

// Outcome classifies a transition result for metrics and logs.
func Outcome(err error) string {
	var (
		notFound     *NotFoundError
		invalid      *InvalidTransitionError
		unauthorized *UnauthorizedError
		validation   *ValidationError
	)
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, ErrStaleTransition):
		return "stale"
	case errors.Is(err, ErrStatusConflict):
		return "conflict"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invalid):
		return "invalid"
	case errors.As(err, &unauthorized):
		return "unauthorized"
	case errors.As(err, &validation):
		return "validation"
	default:
		return "error"
	}
}
