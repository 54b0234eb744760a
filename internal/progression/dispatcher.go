package progression

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
)

var meter = otel.Meter("progression")

const (
	outcomeApplied       = "applied"
	outcomeSkipped       = "skipped"
	outcomeWaiting       = "waiting"
	outcomeRetried       = "retried"
	outcomeDropped       = "dropped"
	outcomeRequeueFailed = "requeue_failed"
)

type Applier interface {
	ApplyTransition(ctx context.Context, t fulfillment.Transition) (*domain.Order, error)
}

type Dispatcher struct {
	queue        Queue
	applier      Applier
	profile      Profile
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	backoff      time.Duration
	now          func() time.Time
	steps        metric.Int64Counter
}

type DispatcherOption func(*Dispatcher)

func WithPollInterval(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.pollInterval = d
	}
}

// WithProfile sets the step chain used to tell a step that is waiting on
// its predecessor from one the order has moved away from.
func WithProfile(p Profile) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.profile = p
	}
}

func WithBatchSize(n int) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.batchSize = n
	}
}

// WithRetry sets how many times a failing step is attempted and the base
// delay, doubled on every retry.
func WithRetry(maxAttempts int, backoff time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		disp.maxAttempts = maxAttempts
		disp.backoff = backoff
	}
}

func NewDispatcher(queue Queue, applier Applier, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	counter, err := meter.Int64Counter("progression.steps",
		metric.WithDescription("Scheduled auto-progression steps by outcome"),
	)
	if err != nil {
		logger.Error("failed to create steps counter", "error", err)
	}

	d := &Dispatcher{
		queue:        queue,
		applier:      applier,
		profile:      DefaultProfile(),
		logger:       logger,
		pollInterval: time.Second,
		batchSize:    50,
		maxAttempts:  5,
		backoff:      2 * time.Second,
		now:          func() time.Time { return time.Now().UTC() },
		steps:        counter,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run polls the queue until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	d.logger.Info("progression dispatcher started", "poll_interval", d.pollInterval)
	for {
		if _, err := d.RunOnce(ctx, d.now()); err != nil && ctx.Err() == nil {
			d.logger.Error("progression poll failed", "error", err)
		}

		select {
		case <-ctx.Done():
			d.logger.Info("progression dispatcher stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims and executes every job due at now and reports how many
// jobs it handled.
func (d *Dispatcher) RunOnce(ctx context.Context, now time.Time) (int, error) {
	jobs, err := d.queue.Claim(ctx, now, d.batchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		outcome := d.execute(ctx, job, now)
		if outcome == outcomeRequeueFailed {
			// Left unacknowledged, the job reappears when its lease expires.
			d.record(ctx, job, outcome)
			continue
		}
		if err := d.queue.Ack(ctx, job); err != nil {
			d.logger.Error("failed to acknowledge progression job", "error", err, "job_id", job.ID, "order_id", job.OrderID)
		}
		d.record(ctx, job, outcome)
	}
	return len(jobs), nil
}

func (d *Dispatcher) execute(ctx context.Context, job Job, now time.Time) string {
	_, err := d.applier.ApplyTransition(ctx, fulfillment.Transition{
		OrderID:  job.OrderID,
		Target:   job.Next,
		Actor:    domain.SystemActor,
		Expected: job.Expected,
	})
	if err == nil {
		return outcomeApplied
	}

	var stale *fulfillment.StaleTransitionError
	if errors.As(err, &stale) && d.profile.Precedes(stale.Current, job.Expected) {
		// An earlier step has not landed yet, usually because it is
		// itself waiting on a retry.
		return d.requeue(ctx, job, now, err, outcomeWaiting)
	}

	if fulfillment.IsSkip(err) {
		d.logger.Debug("skipping auto-progression step",
			"order_id", job.OrderID, "expected", job.Expected, "next", job.Next, "reason", err)
		return outcomeSkipped
	}

	var (
		unauthorized *fulfillment.UnauthorizedError
		validation   *fulfillment.ValidationError
	)
	if errors.As(err, &unauthorized) || errors.As(err, &validation) {
		d.logger.Error("dropping auto-progression step", "error", err, "order_id", job.OrderID, "next", job.Next)
		return outcomeDropped
	}

	return d.requeue(ctx, job, now, err, outcomeRetried)
}

// requeue pushes a copy of job back with exponential backoff until the
// attempts run out.
func (d *Dispatcher) requeue(ctx context.Context, job Job, now time.Time, cause error, outcome string) string {
	attempt := job.Attempt + 1
	if attempt >= d.maxAttempts {
		d.logger.Error("auto-progression step exhausted retries",
			"error", cause, "order_id", job.OrderID, "next", job.Next, "attempts", attempt)
		return outcomeDropped
	}

	retry := job
	retry.ID = uuid.New().String()
	retry.Attempt = attempt
	retry.RunAt = now.Add(d.backoff << (attempt - 1))
	retry.member = ""
	if err := d.queue.Push(ctx, retry); err != nil {
		d.logger.Error("failed to re-queue auto-progression step", "error", err, "order_id", job.OrderID)
		return outcomeRequeueFailed
	}
	d.logger.Warn("auto-progression step deferred",
		"reason", cause, "order_id", job.OrderID, "next", job.Next, "attempt", attempt, "run_at", retry.RunAt)
	return outcome
}

func (d *Dispatcher) record(ctx context.Context, job Job, outcome string) {
	if d.steps == nil {
		return
	}
	d.steps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("next", string(job.Next)),
		attribute.String("outcome", outcome),
	))
}
