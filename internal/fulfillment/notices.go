package fulfillment

import (
	"fmt"

	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
)

func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[len(id)-6:]
}

func defaultNote(to domain.OrderStatus, actor domain.Actor, designer *domain.User) string {
	switch to {
	case domain.OrderStatusAssigned:
		if designer != nil && designer.Username != "" {
			return "Order assigned to " + designer.Username
		}
		return "Order assigned to designer"
	case domain.OrderStatusInProduction:
		return "Designer accepted the order and started production"
	case domain.OrderStatusReadyForReview:
		return "Design work submitted for manager review"
	case domain.OrderStatusCompleted:
		if actor.Role == domain.RoleSystem {
			return "Order packed automatically"
		}
		return "Order packing completed by manager"
	case domain.OrderStatusShipped:
		return "Order shipped - Out for delivery"
	case domain.OrderStatusDelivered:
		return "Order delivered successfully - Payment confirmed (COD)"
	case domain.OrderStatusCancelled:
		return "Order cancelled by manager"
	default:
		return "Status changed to " + string(to)
	}
}

type notice struct {
	title   string
	message string
}

func customerNotice(order *domain.Order) notice {
	ref := shortID(order.ID)
	switch order.Status {
	case domain.OrderStatusAssigned:
		return notice{"Order Assigned to Designer", fmt.Sprintf("Your order #%s has been assigned to our designer and will be processed soon.", ref)}
	case domain.OrderStatusInProduction:
		return notice{"Order In Production", fmt.Sprintf("Your order #%s is now in production.", ref)}
	case domain.OrderStatusReadyForReview:
		return notice{"Order Under Review", fmt.Sprintf("Work on your order #%s is done and is being reviewed.", ref)}
	case domain.OrderStatusCompleted:
		return notice{"Order Packing Complete", fmt.Sprintf("Your order #%s has been packed and is ready for shipping.", ref)}
	case domain.OrderStatusShipped:
		return notice{"Order Shipped", fmt.Sprintf("Your order #%s is out for delivery and on its way to you!", ref)}
	case domain.OrderStatusDelivered:
		return notice{"Order Delivered", fmt.Sprintf("Your order #%s has been delivered successfully! Thank you for shopping with us!", ref)}
	case domain.OrderStatusCancelled:
		return notice{"Order Cancelled", fmt.Sprintf("Your order #%s was cancelled by the manager.", ref)}
	default:
		return notice{"Order Updated", fmt.Sprintf("Your order #%s is now %s.", ref, order.Status)}
	}
}

func managerNotice(order *domain.Order, designerID string) notice {
	return notice{
		title:   "Designer Progress",
		message: fmt.Sprintf("Designer %s moved order #%s to %s.", designerID, shortID(order.ID), order.Status),
	}
}

func designerNotice(order *domain.Order) notice {
	return notice{
		title:   "New Order Assigned",
		message: fmt.Sprintf("You have been assigned order %s", order.ID),
	}
}
