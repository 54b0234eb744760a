package notifications

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

var meter = otel.Meter("notifications")

type Writer interface {
	Create(ctx context.Context, n *domain.Notification) error
}

// Sink delivers notifications without ever failing the caller. Write
// errors are logged and counted.
type Sink struct {
	writer    Writer
	logger    *slog.Logger
	delivered metric.Int64Counter
}

func NewSink(writer Writer, logger *slog.Logger) *Sink {
	counter, err := meter.Int64Counter("notifications.delivered",
		metric.WithDescription("Notification writes by result"),
	)
	if err != nil {
		logger.Error("failed to create notifications counter", "error", err)
	}
	return &Sink{writer: writer, logger: logger, delivered: counter}
}

func (s *Sink) Notify(ctx context.Context, n domain.Notification) {
	result := "ok"
	if err := s.writer.Create(ctx, &n); err != nil {
		result = "failed"
		s.logger.Error("failed to deliver notification",
			"error", err,
			"user_id", n.UserID,
			"title", n.Title,
			"order_id", n.Meta[domain.MetaOrderID],
		)
	}
	if s.delivered != nil {
		s.delivered.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}
