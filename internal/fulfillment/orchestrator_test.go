package fulfillment_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
	"github.com/joao-fontenele/designden-fulfillment/internal/orders/ordertest"
)

var (
	manager   = domain.Actor{Role: domain.RoleManager, ID: "manager-1"}
	designer1 = domain.Actor{Role: domain.RoleDesigner, ID: "designer-1"}
	designer2 = domain.Actor{Role: domain.RoleDesigner, ID: "designer-2"}
	customer  = domain.Actor{Role: domain.RoleCustomer, ID: "customer-1"}
)

type harness struct {
	store     *ordertest.Store
	notes     *ordertest.Notifications
	publisher *ordertest.Publisher
	orch      *fulfillment.Orchestrator
	clock     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     ordertest.NewStore(),
		notes:     &ordertest.Notifications{},
		publisher: &ordertest.Publisher{},
		clock:     time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	dir := &ordertest.Directory{
		Store: h.store,
		Users: []domain.User{
			{ID: "manager-1", Username: "manager", Role: domain.RoleManager},
			{ID: "manager-2", Username: "night-manager", Role: domain.RoleManager},
			{ID: "designer-1", Username: "tailor", Role: domain.RoleDesigner},
			{ID: "designer-2", Username: "apprentice", Role: domain.RoleDesigner},
			{ID: "customer-1", Username: "alice", Role: domain.RoleCustomer},
		},
	}
	h.orch = fulfillment.NewOrchestrator(h.store, dir, h.notes,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		fulfillment.WithPublisher(h.publisher),
		fulfillment.WithClock(h.tick),
	)
	return h
}

func (h *harness) tick() time.Time {
	h.clock = h.clock.Add(time.Minute)
	return h.clock
}

func (h *harness) seed(t *testing.T, status domain.OrderStatus, kind domain.OrderKind, designerID string) string {
	t.Helper()
	order := &domain.Order{
		CustomerID: "customer-1",
		DesignerID: designerID,
		Items: []domain.LineItem{
			{CustomizationID: "cz-1", Quantity: 1, UnitPrice: 500},
			{CustomizationID: "cz-2", Quantity: 1, UnitPrice: 300},
		},
		Status:          status,
		Kind:            kind,
		PaymentStatus:   domain.PaymentStatusUnpaid,
		TotalPrice:      800,
		DeliveryAddress: "12 Main St",
		OrderDate:       h.clock,
	}
	if err := h.store.Create(context.Background(), order); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
	return order.ID
}

func (h *harness) apply(id string, target domain.OrderStatus, actor domain.Actor) (*domain.Order, error) {
	return h.orch.ApplyTransition(context.Background(), fulfillment.Transition{
		OrderID: id,
		Target:  target,
		Actor:   actor,
	})
}

func TestOrchestrator_CustomOrderLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

	order, err := h.orch.ApplyTransition(ctx, fulfillment.Transition{
		OrderID:    id,
		Target:     domain.OrderStatusAssigned,
		Actor:      manager,
		DesignerID: "designer-1",
	})
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if order.Status != domain.OrderStatusAssigned {
		t.Fatalf("expected assigned, got %s", order.Status)
	}
	if order.DesignerID != "designer-1" {
		t.Fatalf("expected designer-1, got %q", order.DesignerID)
	}
	if order.Timeline[0].Note != "Order assigned to tailor" {
		t.Errorf("unexpected assignment note: %q", order.Timeline[0].Note)
	}
	if got := len(h.notes.For("designer-1")); got != 1 {
		t.Errorf("expected designer to be notified once, got %d", got)
	}
	if got := len(h.notes.For("customer-1")); got != 1 {
		t.Errorf("expected customer to be notified once, got %d", got)
	}

	order, err = h.apply(id, domain.OrderStatusInProduction, designer1)
	if err != nil {
		t.Fatalf("accept failed: %v", err)
	}
	if order.ProductionStartedAt == nil {
		t.Fatal("expected production_started_at to be set")
	}
	if got := len(h.notes.For("manager-1")) + len(h.notes.For("manager-2")); got != 2 {
		t.Errorf("expected both managers notified of designer progress, got %d", got)
	}

	order, err = h.orch.ApplyTransition(ctx, fulfillment.Transition{
		OrderID: id,
		Target:  domain.OrderStatusReadyForReview,
		Actor:   designer1,
		Note:    "done",
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if last := order.Timeline[len(order.Timeline)-1]; last.Note != "done" {
		t.Errorf("expected submitted note 'done', got %q", last.Note)
	}

	order, err = h.apply(id, domain.OrderStatusCompleted, manager)
	if err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}
	if order.ProductionCompletedAt == nil {
		t.Fatal("expected production_completed_at to be set")
	}

	order, err = h.apply(id, domain.OrderStatusShipped, manager)
	if err != nil {
		t.Fatalf("mark shipped failed: %v", err)
	}
	if order.ShippedAt == nil {
		t.Fatal("expected shipped_at to be set")
	}

	order, err = h.apply(id, domain.OrderStatusDelivered, manager)
	if err != nil {
		t.Fatalf("mark delivered failed: %v", err)
	}
	if order.DeliveredAt == nil {
		t.Fatal("expected delivered_at to be set")
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Errorf("expected payment status paid, got %s", order.PaymentStatus)
	}
	if order.TotalPrice != 800 {
		t.Errorf("expected total 800, got %d", order.TotalPrice)
	}

	want := []domain.OrderStatus{
		domain.OrderStatusAssigned,
		domain.OrderStatusInProduction,
		domain.OrderStatusReadyForReview,
		domain.OrderStatusCompleted,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
	}
	if len(order.Timeline) != len(want) {
		t.Fatalf("expected %d timeline entries, got %d", len(want), len(order.Timeline))
	}
	for i, status := range want {
		if order.Timeline[i].Status != status {
			t.Errorf("timeline[%d]: expected %s, got %s", i, status, order.Timeline[i].Status)
		}
		if i > 0 && !order.Timeline[i].At.After(order.Timeline[i-1].At) {
			t.Errorf("timeline[%d] is not after timeline[%d]", i, i-1)
		}
	}

	if got := len(h.publisher.Events); got != 6 {
		t.Errorf("expected 6 status events, got %d", got)
	}
}

func TestOrchestrator_DeliveredTwice(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, domain.OrderStatusShipped, domain.OrderKindCustom, "designer-1")

	first, err := h.apply(id, domain.OrderStatusDelivered, manager)
	if err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	notified := len(h.notes.All())

	_, err = h.apply(id, domain.OrderStatusDelivered, manager)
	var invalid *fulfillment.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != domain.OrderStatusDelivered {
		t.Errorf("expected current status delivered in error, got %s", invalid.From)
	}

	stored, _ := h.store.GetByID(context.Background(), id)
	if len(stored.Timeline) != len(first.Timeline) {
		t.Errorf("expected timeline to stay at %d entries, got %d", len(first.Timeline), len(stored.Timeline))
	}
	if len(h.notes.All()) != notified {
		t.Errorf("expected no additional notification, got %d more", len(h.notes.All())-notified)
	}
	if !stored.DeliveredAt.Equal(*first.DeliveredAt) {
		t.Errorf("delivered_at changed from %v to %v", first.DeliveredAt, stored.DeliveredAt)
	}

	_, err = h.apply(id, domain.OrderStatusCancelled, manager)
	if !errors.As(err, &invalid) {
		t.Fatalf("expected cancelling a delivered order to fail, got %v", err)
	}
}

func TestOrchestrator_Authorization(t *testing.T) {
	t.Run("unassigned designer cannot accept", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusAssigned, domain.OrderKindCustom, "designer-1")

		_, err := h.apply(id, domain.OrderStatusInProduction, designer2)
		var unauthorized *fulfillment.UnauthorizedError
		if !errors.As(err, &unauthorized) {
			t.Fatalf("expected UnauthorizedError, got %v", err)
		}

		stored, _ := h.store.GetByID(context.Background(), id)
		if stored.Status != domain.OrderStatusAssigned {
			t.Errorf("expected status to stay assigned, got %s", stored.Status)
		}
		if len(stored.Timeline) != 0 {
			t.Errorf("expected no timeline entries, got %d", len(stored.Timeline))
		}
		if len(h.notes.All()) != 0 {
			t.Errorf("expected no notifications, got %d", len(h.notes.All()))
		}
	})

	t.Run("identity check precedes graph check", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

		_, err := h.apply(id, domain.OrderStatusShipped, designer1)
		var unauthorized *fulfillment.UnauthorizedError
		if !errors.As(err, &unauthorized) {
			t.Fatalf("expected UnauthorizedError, got %v", err)
		}
	})

	t.Run("customers never transition", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

		_, err := h.apply(id, domain.OrderStatusCancelled, customer)
		var unauthorized *fulfillment.UnauthorizedError
		if !errors.As(err, &unauthorized) {
			t.Fatalf("expected UnauthorizedError, got %v", err)
		}
	})

	t.Run("auto-progressor only touches shop orders", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusInProduction, domain.OrderKindCustom, "designer-1")

		_, err := h.apply(id, domain.OrderStatusCompleted, domain.SystemActor)
		var unauthorized *fulfillment.UnauthorizedError
		if !errors.As(err, &unauthorized) {
			t.Fatalf("expected UnauthorizedError, got %v", err)
		}
	})

	t.Run("designer moves an assigned completed order to shipped", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusCompleted, domain.OrderKindCustom, "designer-1")

		order, err := h.apply(id, domain.OrderStatusShipped, designer1)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusShipped {
			t.Errorf("expected shipped, got %s", order.Status)
		}
	})
}

func TestOrchestrator_Errors(t *testing.T) {
	t.Run("missing order", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.apply("does-not-exist", domain.OrderStatusCancelled, manager)
		var notFound *fulfillment.NotFoundError
		if !errors.As(err, &notFound) {
			t.Fatalf("expected NotFoundError, got %v", err)
		}
		if notFound.Resource != "order" {
			t.Errorf("expected order resource, got %s", notFound.Resource)
		}
	})

	t.Run("unknown designer", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

		_, err := h.orch.ApplyTransition(context.Background(), fulfillment.Transition{
			OrderID:    id,
			Target:     domain.OrderStatusAssigned,
			Actor:      manager,
			DesignerID: "customer-1",
		})
		var notFound *fulfillment.NotFoundError
		if !errors.As(err, &notFound) || notFound.Resource != "designer" {
			t.Fatalf("expected designer NotFoundError, got %v", err)
		}

		stored, _ := h.store.GetByID(context.Background(), id)
		if stored.Status != domain.OrderStatusPending || stored.DesignerID != "" {
			t.Errorf("expected order untouched, got status %s designer %q", stored.Status, stored.DesignerID)
		}
	})

	t.Run("assignment without designer", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

		_, err := h.apply(id, domain.OrderStatusAssigned, manager)
		var validation *fulfillment.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := validation.Fields["designer_id"]; !ok {
			t.Errorf("expected designer_id field error, got %v", validation.Fields)
		}
	})

	t.Run("status outside enumeration", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

		_, err := h.apply(id, domain.OrderStatus("Completed"), manager)
		var validation *fulfillment.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})

	t.Run("stale expected status", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusCancelled, domain.OrderKindShop, "")

		_, err := h.orch.ApplyTransition(context.Background(), fulfillment.Transition{
			OrderID:  id,
			Target:   domain.OrderStatusShipped,
			Actor:    domain.SystemActor,
			Expected: domain.OrderStatusCompleted,
		})
		if !errors.Is(err, fulfillment.ErrStaleTransition) {
			t.Fatalf("expected ErrStaleTransition, got %v", err)
		}
		if !fulfillment.IsSkip(err) {
			t.Error("expected stale transition to be a skip")
		}
		var stale *fulfillment.StaleTransitionError
		if !errors.As(err, &stale) || stale.Current != domain.OrderStatusCancelled {
			t.Errorf("expected stale error to carry the current status, got %v", err)
		}
	})

	t.Run("publish failure does not fail the transition", func(t *testing.T) {
		h := newHarness(t)
		h.publisher.Fail = true
		id := h.seed(t, domain.OrderStatusPending, domain.OrderKindCustom, "")

		order, err := h.apply(id, domain.OrderStatusCancelled, manager)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if order.Status != domain.OrderStatusCancelled {
			t.Errorf("expected cancelled, got %s", order.Status)
		}
	})
}

func TestOrchestrator_ConcurrentCancelWins(t *testing.T) {
	h := newHarness(t)
	id := h.seed(t, domain.OrderStatusCompleted, domain.OrderKindShop, "")

	raced := false
	h.store.BeforeSave = func(update domain.StatusUpdate) {
		if !raced {
			raced = true
			h.store.Force(id, domain.OrderStatusCancelled)
		}
	}

	_, err := h.apply(id, domain.OrderStatusShipped, domain.SystemActor)
	var invalid *fulfillment.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError after re-validation, got %v", err)
	}
	if invalid.From != domain.OrderStatusCancelled {
		t.Errorf("expected re-read status cancelled, got %s", invalid.From)
	}

	stored, _ := h.store.GetByID(context.Background(), id)
	if stored.Status != domain.OrderStatusCancelled {
		t.Errorf("expected order to remain cancelled, got %s", stored.Status)
	}
	if len(stored.Timeline) != 0 {
		t.Errorf("expected no timeline entry, got %d", len(stored.Timeline))
	}
	if stored.ShippedAt != nil {
		t.Error("expected shipped_at to stay unset")
	}
}

func TestOrchestrator_SaveRetriesExhausted(t *testing.T) {
	t.Run("reports the status that won the last race", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusInProduction, domain.OrderKindCustom, "")

		races := []domain.OrderStatus{
			domain.OrderStatusReadyForReview,
			domain.OrderStatusInProduction,
			domain.OrderStatusCancelled,
		}
		saves := 0
		h.store.BeforeSave = func(update domain.StatusUpdate) {
			if saves < len(races) {
				h.store.Force(id, races[saves])
			}
			saves++
		}

		_, err := h.apply(id, domain.OrderStatusCompleted, manager)
		var invalid *fulfillment.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("expected InvalidTransitionError, got %v", err)
		}
		if invalid.From != domain.OrderStatusCancelled || invalid.To != domain.OrderStatusCompleted {
			t.Errorf("expected cancelled -> completed, got %s -> %s", invalid.From, invalid.To)
		}
		if saves != 3 {
			t.Errorf("expected 3 save attempts, got %d", saves)
		}
	})

	t.Run("still valid after the last race", func(t *testing.T) {
		h := newHarness(t)
		id := h.seed(t, domain.OrderStatusInProduction, domain.OrderKindCustom, "")

		saves := 0
		h.store.BeforeSave = func(update domain.StatusUpdate) {
			saves++
			if update.Expected == domain.OrderStatusInProduction {
				h.store.Force(id, domain.OrderStatusReadyForReview)
			} else {
				h.store.Force(id, domain.OrderStatusInProduction)
			}
		}

		_, err := h.apply(id, domain.OrderStatusCompleted, manager)
		if !errors.Is(err, fulfillment.ErrStatusConflict) {
			t.Fatalf("expected ErrStatusConflict, got %v", err)
		}
		if saves != 3 {
			t.Errorf("expected 3 save attempts, got %d", saves)
		}

		stored, _ := h.store.GetByID(context.Background(), id)
		if len(stored.Timeline) != 0 {
			t.Errorf("expected no timeline entry, got %d", len(stored.Timeline))
		}
	})
}

func TestOrchestrator_ConfirmPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seed(t, domain.OrderStatusInProduction, domain.OrderKindShop, "")

	if _, err := h.orch.ConfirmPayment(ctx, id, designer1); err == nil {
		t.Fatal("expected designer to be refused")
	}

	order, err := h.orch.ConfirmPayment(ctx, id, manager)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if order.PaymentStatus != domain.PaymentStatusPaid {
		t.Errorf("expected paid, got %s", order.PaymentStatus)
	}
	if order.Status != domain.OrderStatusInProduction {
		t.Errorf("expected status untouched, got %s", order.Status)
	}

	_, err = h.orch.ConfirmPayment(ctx, id, manager)
	var validation *fulfillment.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError on second payment, got %v", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "applied"},
		{fulfillment.ErrStaleTransition, "stale"},
		{&fulfillment.NotFoundError{Resource: "order", ID: "x"}, "not_found"},
		{&fulfillment.InvalidTransitionError{}, "invalid"},
		{&fulfillment.UnauthorizedError{}, "unauthorized"},
		{&fulfillment.ValidationError{}, "validation"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := fulfillment.Outcome(tt.err); got != tt.want {
			t.Errorf("Outcome(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
