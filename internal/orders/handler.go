package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/joao-fontenele/designden-fulfillment/internal/checkout"
	"github.com/joao-fontenele/designden-fulfillment/internal/domain"
	"github.com/joao-fontenele/designden-fulfillment/internal/fulfillment"
)

const (
	headerActorRole = "X-Actor-Role"
	headerActorID   = "X-Actor-ID"
)

type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
}

type Designers interface {
	ListByRole(ctx context.Context, role domain.Role) ([]domain.User, error)
}

type Handler struct {
	store        Store
	orchestrator *fulfillment.Orchestrator
	checkout     *checkout.Service
	designers    Designers
	flashes      *Flashes
	logger       *slog.Logger
}

func NewHandler(store Store, orchestrator *fulfillment.Orchestrator, checkoutService *checkout.Service, designers Designers, flashes *Flashes, logger *slog.Logger) *Handler {
	return &Handler{
		store:        store,
		orchestrator: orchestrator,
		checkout:     checkoutService,
		designers:    designers,
		flashes:      flashes,
		logger:       logger,
	}
}

type checkoutItem struct {
	CustomizationID string `json:"customization_id"`
	ProductID       string `json:"product_id"`
	Quantity        int    `json:"quantity"`
	UnitPrice       int64  `json:"unit_price"`
}

type checkoutRequest struct {
	CustomerID      string         `json:"customer_id"`
	DeliveryAddress string         `json:"delivery_address"`
	Items           []checkoutItem `json:"items"`
}

func (h *Handler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if actor, err := actorFromRequest(r); err == nil && actor.Role == domain.RoleCustomer {
		if req.CustomerID == "" {
			req.CustomerID = actor.ID
		}
		if req.CustomerID != actor.ID {
			h.writeError(w, http.StatusForbidden, "not permitted")
			return
		}
	}

	lines := make([]checkout.CartLine, 0, len(req.Items))
	for _, item := range req.Items {
		lines = append(lines, checkout.CartLine{
			Customization: domain.Customization{ID: item.CustomizationID, ProductID: item.ProductID},
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
		})
	}

	order, err := h.checkout.CreateOrderFromCart(r.Context(), req.CustomerID, lines, req.DeliveryAddress)
	if err != nil {
		status, message := h.errorStatus(err)
		h.writeJSON(w, status, errorBody(message, err))
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := domain.OrderFilter{
		CustomerID: query.Get("customer_id"),
		DesignerID: query.Get("designer_id"),
	}
	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = status
	}
	// Customers only ever see their own orders.
	if actor, err := actorFromRequest(r); err == nil && actor.Role == domain.RoleCustomer {
		if actor.ID == "" {
			h.writeJSON(w, http.StatusOK, []domain.Order{})
			return
		}
		filter.CustomerID = actor.ID
	}

	orders, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type orderDetail struct {
	*domain.Order
	AllowedTransitions []domain.OrderStatus `json:"allowed_transitions"`
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.store.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	actor, actorErr := actorFromRequest(r)
	if order == nil || (actorErr == nil && actor.Role == domain.RoleCustomer && order.CustomerID != actor.ID) {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	detail := orderDetail{Order: order, AllowedTransitions: []domain.OrderStatus{}}
	if actorErr == nil {
		if actor.Role != domain.RoleDesigner || order.DesignerID == actor.ID {
			detail.AllowedTransitions = fulfillment.AllowedTargets(order.Status, actor.Role)
		}
	}

	h.writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) HandleListDesigners(w http.ResponseWriter, r *http.Request) {
	designers, err := h.designers.ListByRole(r.Context(), domain.RoleDesigner)
	if err != nil {
		h.logger.Error("failed to list designers", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if designers == nil {
		designers = []domain.User{}
	}
	h.writeJSON(w, http.StatusOK, designers)
}

func (h *Handler) HandleFlashes(w http.ResponseWriter, r *http.Request) {
	messages := h.flashes.Pop(w, r)
	if messages == nil {
		messages = []FlashMessage{}
	}
	h.writeJSON(w, http.StatusOK, messages)
}

type transitionRequest struct {
	DesignerID     string `json:"designer_id"`
	CompletionNote string `json:"completion_note"`
	Note           string `json:"note"`
}

// HandleTransition returns the handler for one workflow action that moves
// an order to target. success is the message queued for non-AJAX callers.
func (h *Handler) HandleTransition(target domain.OrderStatus, success string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			h.respond(w, r, actor, nil, &fulfillment.UnauthorizedError{}, "")
			return
		}

		req, err := decodeTransitionRequest(r)
		if err != nil {
			h.respond(w, r, actor, nil, &fulfillment.ValidationError{Message: "invalid request body"}, "")
			return
		}

		note := req.Note
		if req.CompletionNote != "" {
			note = req.CompletionNote
		}

		order, err := h.orchestrator.ApplyTransition(r.Context(), fulfillment.Transition{
			OrderID:    r.PathValue("id"),
			Target:     target,
			Actor:      actor,
			Note:       strings.TrimSpace(note),
			DesignerID: req.DesignerID,
		})
		h.respond(w, r, actor, order, err, success)
	}
}

func (h *Handler) HandleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		h.respond(w, r, actor, nil, &fulfillment.UnauthorizedError{}, "")
		return
	}

	order, err := h.orchestrator.ConfirmPayment(r.Context(), r.PathValue("id"), actor)
	h.respond(w, r, actor, order, err, "Payment recorded")
}

type actionResponse struct {
	OK       bool              `json:"ok"`
	Order    *domain.Order     `json:"order,omitempty"`
	Error    string            `json:"error,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Redirect string            `json:"redirect"`
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, actor domain.Actor, order *domain.Order, err error, success string) {
	redirect := dashboardFor(actor.Role)

	if err != nil {
		status, message := h.errorStatus(err)
		if wantsJSON(r) {
			body := actionResponse{Error: message, Redirect: redirect}
			var validation *fulfillment.ValidationError
			if errors.As(err, &validation) {
				body.Fields = validation.Fields
			}
			h.writeJSON(w, status, body)
			return
		}
		h.flashes.Add(w, r, FlashMessage{Type: "error", Message: message})
		http.Redirect(w, r, redirect, http.StatusSeeOther)
		return
	}

	if wantsJSON(r) {
		h.writeJSON(w, http.StatusOK, actionResponse{OK: true, Order: order, Redirect: redirect})
		return
	}
	h.flashes.Add(w, r, FlashMessage{Type: "success", Message: success})
	http.Redirect(w, r, redirect, http.StatusSeeOther)
}

// errorStatus maps a workflow error onto an HTTP status and the message
// shown to the caller. Unexpected errors are logged and never leaked.
func (h *Handler) errorStatus(err error) (int, string) {
	var (
		notFound     *fulfillment.NotFoundError
		invalid      *fulfillment.InvalidTransitionError
		unauthorized *fulfillment.UnauthorizedError
		validation   *fulfillment.ValidationError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, validation.Error()
	case errors.As(err, &unauthorized):
		return http.StatusForbidden, unauthorized.Error()
	case errors.As(err, &notFound):
		if notFound.Resource == "designer" {
			return http.StatusNotFound, "designer not found"
		}
		return http.StatusNotFound, "order not found"
	case errors.As(err, &invalid):
		return http.StatusConflict, invalid.Error()
	case errors.Is(err, fulfillment.ErrStatusConflict), errors.Is(err, fulfillment.ErrStaleTransition):
		return http.StatusConflict, "order was updated by someone else, please reload"
	default:
		h.logger.Error("order action failed", "error", err)
		return http.StatusInternalServerError, "internal server error"
	}
}

func actorFromRequest(r *http.Request) (domain.Actor, error) {
	role, err := domain.ParseRole(r.Header.Get(headerActorRole))
	if err != nil {
		return domain.Actor{}, err
	}
	// The auto-progressor never acts over HTTP.
	if role == domain.RoleSystem {
		return domain.Actor{}, errors.New("system role is internal")
	}
	return domain.Actor{Role: role, ID: r.Header.Get(headerActorID)}, nil
}

func decodeTransitionRequest(r *http.Request) (transitionRequest, error) {
	var req transitionRequest
	if r.Body == nil || r.ContentLength == 0 {
		return req, nil
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, err
		}
		return req, nil
	}

	if err := r.ParseForm(); err != nil {
		return req, err
	}
	req.DesignerID = r.PostForm.Get("designer_id")
	req.CompletionNote = r.PostForm.Get("completion_note")
	req.Note = r.PostForm.Get("note")
	return req, nil
}

func wantsJSON(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func dashboardFor(role domain.Role) string {
	switch role {
	case domain.RoleManager:
		return "/manager"
	case domain.RoleDesigner:
		return "/designer/dashboard"
	case domain.RoleCustomer:
		return "/customer/orders"
	default:
		return "/"
	}
}

func errorBody(message string, err error) map[string]any {
	body := map[string]any{"error": message}
	var validation *fulfillment.ValidationError
	if errors.As(err, &validation) && len(validation.Fields) > 0 {
		body["fields"] = validation.Fields
	}
	return body
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// Register mounts the order routes on mux. wrap decorates every handler,
// typically with route-aware tracing.
func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	mux.HandleFunc("POST /checkout", wrap(h.HandleCheckout))
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("POST /orders/{id}/assign", wrap(h.HandleTransition(domain.OrderStatusAssigned,
		"Designer assigned successfully")))
	mux.HandleFunc("POST /orders/{id}/accept", wrap(h.HandleTransition(domain.OrderStatusInProduction,
		"Order accepted, production started")))
	mux.HandleFunc("POST /orders/{id}/submit-to-manager", wrap(h.HandleTransition(domain.OrderStatusReadyForReview,
		"Work submitted for manager review")))
	mux.HandleFunc("POST /orders/{id}/mark-completed", wrap(h.HandleTransition(domain.OrderStatusCompleted,
		"Order marked as completed (packing done)")))
	mux.HandleFunc("POST /orders/{id}/mark-shipped", wrap(h.HandleTransition(domain.OrderStatusShipped,
		"Order marked as shipped (out for delivery)")))
	mux.HandleFunc("POST /orders/{id}/mark-delivered", wrap(h.HandleTransition(domain.OrderStatusDelivered,
		"Order marked as delivered, payment collected")))
	mux.HandleFunc("POST /orders/{id}/reject", wrap(h.HandleTransition(domain.OrderStatusCancelled,
		"Order rejected, the customer has been notified")))
	mux.HandleFunc("POST /orders/{id}/confirm-payment", wrap(h.HandleConfirmPayment))
	mux.HandleFunc("GET /designers", wrap(h.HandleListDesigners))
	mux.HandleFunc("GET /flashes", wrap(h.HandleFlashes))
}
