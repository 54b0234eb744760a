package fulfillment

import (
	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

type edge struct {
	from domain.OrderStatus
	to   domain.OrderStatus
}

// allowedTransitions is the order workflow graph and the roles permitted to
// drive each edge. Cancellation from any non-terminal state is added by
// buildTransitionTable.
var allowedTransitions = map[edge][]domain.Role{
	{domain.OrderStatusPending, domain.OrderStatusAssigned}:            {domain.RoleManager},
	{domain.OrderStatusAssigned, domain.OrderStatusInProduction}:       {domain.RoleDesigner},
	{domain.OrderStatusInProduction, domain.OrderStatusReadyForReview}: {domain.RoleDesigner},
	{domain.OrderStatusInProduction, domain.OrderStatusCompleted}:      {domain.RoleManager, domain.RoleSystem},
	{domain.OrderStatusReadyForReview, domain.OrderStatusCompleted}:    {domain.RoleManager},
	{domain.OrderStatusCompleted, domain.OrderStatusShipped}:           {domain.RoleManager, domain.RoleDesigner, domain.RoleSystem},
	{domain.OrderStatusShipped, domain.OrderStatusDelivered}:           {domain.RoleManager, domain.RoleDesigner, domain.RoleSystem},
}

var allStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusAssigned,
	domain.OrderStatusInProduction,
	domain.OrderStatusReadyForReview,
	domain.OrderStatusCompleted,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
}

var transitionTable = buildTransitionTable(allowedTransitions)

func buildTransitionTable(edges map[edge][]domain.Role) map[edge]map[domain.Role]struct{} {
	table := make(map[edge]map[domain.Role]struct{}, len(edges)+len(allStatuses))
	for e, roles := range edges {
		set := make(map[domain.Role]struct{}, len(roles))
		for _, r := range roles {
			set[r] = struct{}{}
		}
		table[e] = set
	}
	for _, s := range allStatuses {
		if s.IsTerminal() {
			continue
		}
		table[edge{s, domain.OrderStatusCancelled}] = map[domain.Role]struct{}{domain.RoleManager: {}}
	}
	return table
}

// ValidateTransition decides whether role may move an order from one status
// to another. It has no side effects.
func ValidateTransition(from, to domain.OrderStatus, role domain.Role) error {
	if !to.IsValid() {
		return invalidField("status", "is not a known order status")
	}
	roles, ok := transitionTable[edge{from, to}]
	if !ok {
		return &InvalidTransitionError{From: from, To: to}
	}
	if _, ok := roles[role]; !ok {
		return &UnauthorizedError{}
	}
	return nil
}

// AllowedTargets lists the statuses role may move an order to next, in
// workflow order.
func AllowedTargets(from domain.OrderStatus, role domain.Role) []domain.OrderStatus {
	var targets []domain.OrderStatus
	for _, to := range allStatuses {
		if ValidateTransition(from, to, role) == nil {
			targets = append(targets, to)
		}
	}
	return targets
}
