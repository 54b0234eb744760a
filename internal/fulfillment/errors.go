package fulfillment

import (
	"errors"
	"fmt"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

var (
	// ErrStatusConflict is returned by a Repository when the stored status no
	// longer matches the expected predecessor of a compare-and-swap write.
	ErrStatusConflict = errors.New("order status changed concurrently")

	// ErrStaleTransition matches every StaleTransitionError.
	ErrStaleTransition = errors.New("order is not in expected status")
)

// StaleTransitionError means the caller pinned an expected status the order
// is not in. Current may be ahead of Expected or still behind it.
type StaleTransitionError struct {
	Expected domain.OrderStatus
	Current  domain.OrderStatus
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("order is %s, expected %s", e.Current, e.Expected)
}

func (e *StaleTransitionError) Is(target error) bool {
	return target == ErrStaleTransition
}

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.From == e.To {
		return fmt.Sprintf("order is already %s", e.From)
	}
	switch e.To {
	case domain.OrderStatusAssigned:
		return fmt.Sprintf("Only pending orders can be assigned; current status: %s", e.From)
	case domain.OrderStatusInProduction:
		return fmt.Sprintf("Order must be assigned before production can start; current status: %s", e.From)
	case domain.OrderStatusReadyForReview:
		return fmt.Sprintf("Order must be in production before it can be submitted; current status: %s", e.From)
	case domain.OrderStatusCompleted:
		return fmt.Sprintf("Order must be in production or ready for review to be completed; current status: %s", e.From)
	case domain.OrderStatusShipped:
		return fmt.Sprintf("Order must be completed before shipping; current status: %s", e.From)
	case domain.OrderStatusDelivered:
		return fmt.Sprintf("Order must be shipped before delivery; current status: %s", e.From)
	case domain.OrderStatusCancelled:
		return fmt.Sprintf("Order can no longer be cancelled; current status: %s", e.From)
	default:
		return fmt.Sprintf("invalid state transition from %s to %s", e.From, e.To)
	}
}

// UnauthorizedError deliberately carries no detail about which check failed.
type UnauthorizedError struct{}

func (e *UnauthorizedError) Error() string {
	return "not permitted"
}

type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "validation failed"
}

func invalidField(field, reason string) *ValidationError {
	return &ValidationError{
		Message: fmt.Sprintf("%s %s", field, reason),
		Fields:  map[string]string{field: reason},
	}
}

// IsSkip reports whether err means a scheduled step should quietly drop.
// Callers that know the step order must first rule out a stale error whose
// Current is still behind Expected.
func IsSkip(err error) bool {
	if errors.Is(err, ErrStaleTransition) {
		return true
	}
	var invalid *InvalidTransitionError
	if errors.As(err, &invalid) {
		return true
	}
	var notFound *NotFoundError
	return errors.As(err, &notFound)
}
