package progression

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

type Scheduler struct {
	queue   Queue
	profile Profile
	logger  *slog.Logger
}

func NewScheduler(queue Queue, profile Profile, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		queue:   queue,
		profile: profile,
		logger:  logger,
	}
}

// Plan queues every profile step for a freshly placed shop order. Other
// orders are ignored.
func (s *Scheduler) Plan(ctx context.Context, order *domain.Order) error {
	if order.Kind != domain.OrderKindShop || order.Status != domain.OrderStatusInProduction {
		s.logger.Debug("order not eligible for auto-progression",
			"order_id", order.ID, "kind", order.Kind, "status", order.Status)
		return nil
	}

	for _, step := range s.profile.Steps {
		job := Job{
			ID:       uuid.New().String(),
			OrderID:  order.ID,
			Expected: step.From,
			Next:     step.To,
			RunAt:    order.OrderDate.Add(step.After).UTC(),
		}
		if err := s.queue.Push(ctx, job); err != nil {
			return fmt.Errorf("schedule %s step for order %s: %w", step.To, order.ID, err)
		}
	}

	s.logger.Info("auto-progression planned", "order_id", order.ID, "steps", len(s.profile.Steps))
	return nil
}
