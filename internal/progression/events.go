package progression

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

type planner interface {
	Plan(ctx context.Context, order *domain.Order) error
}

// EventHandler plans auto-progression for orders announced on the
// order.created topic.
type EventHandler struct {
	planner planner
	logger  *slog.Logger
}

func NewEventHandler(p planner, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		planner: p,
		logger:  logger,
	}
}

// Handle is a messaging.Consumer handler. Malformed payloads are logged and
// acknowledged so they do not block the partition.
func (h *EventHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.OrderCreatedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("discarding malformed order created event", "error", err)
		return nil
	}

	h.logger.Info("processing order created event", "order_id", event.OrderID, "kind", event.Kind)

	if event.Kind != domain.OrderKindShop {
		return nil
	}

	order := &domain.Order{
		ID:         event.OrderID,
		CustomerID: event.CustomerID,
		Items:      event.Items,
		Status:     event.Status,
		Kind:       event.Kind,
		OrderDate:  event.Timestamp,
	}
	if err := h.planner.Plan(ctx, order); err != nil {
		return fmt.Errorf("plan order %s: %w", event.OrderID, err)
	}
	return nil
}
