package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/currency"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/httpx"
	"github.com/yomnaalset/bookstore/internal/platform/requestctx"
	"github.com/yomnaalset/bookstore/internal/services"
)

// OrderService submits orders and coordinates their status changes with the backend.
type OrderService interface {
	Submit(ctx context.Context, draft domain.Order) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	RequestTransition(ctx context.Context, cmd services.TransitionCommand) (domain.Order, error)
	AssignDelivery(ctx context.Context, cmd services.AssignDeliveryCommand) (domain.Order, error)
	RespondDelivery(ctx context.Context, cmd services.RespondDeliveryCommand) (domain.Order, error)
	StartDelivery(ctx context.Context, cmd services.DeliveryStepCommand) (domain.Order, error)
	CompleteDelivery(ctx context.Context, cmd services.DeliveryStepCommand) (domain.Order, error)
	ReassignDelivery(ctx context.Context, cmd services.AssignDeliveryCommand) (domain.Order, error)
	RecordFinePayment(ctx context.Context, cmd services.FinePaymentCommand) (domain.Order, error)
	ConfirmCashPayment(ctx context.Context, cmd services.CashConfirmationCommand) (domain.Order, error)
	AppendNote(ctx context.Context, cmd services.NoteCommand) (domain.Order, error)
	EditNote(ctx context.Context, cmd services.NoteCommand) (domain.Order, error)
	DeleteNote(ctx context.Context, cmd services.NoteCommand) (domain.Order, error)
}

// OrderHandlers exposes order submission, lookup and lifecycle endpoints.
type OrderHandlers struct {
	orders   OrderService
	quotes   QuoteService
	catalog  TransitionCatalog
	currency currency.Unit
}

// OrderHandlersDeps bundles collaborators for OrderHandlers.
type OrderHandlersDeps struct {
	Orders   OrderService
	Quotes   QuoteService
	Catalog  TransitionCatalog
	Currency currency.Unit
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	return &OrderHandlers{
		orders:   deps.Orders,
		quotes:   deps.Quotes,
		catalog:  deps.Catalog,
		currency: deps.Currency,
	}
}

// Routes registers order endpoints under the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	r.Route("/orders", func(rt chi.Router) {
		rt.Post("/", h.submit)
		rt.Get("/{orderID}", h.get)
		rt.Post("/{orderID}/transitions", h.transition)
		rt.Post("/{orderID}/delivery/assign", h.assignDelivery)
		rt.Post("/{orderID}/delivery/respond", h.respondDelivery)
		rt.Post("/{orderID}/delivery/start", h.startDelivery)
		rt.Post("/{orderID}/delivery/complete", h.completeDelivery)
		rt.Post("/{orderID}/delivery/reassign", h.reassignDelivery)
		rt.Post("/{orderID}/fine/payments", h.payFine)
		rt.Post("/{orderID}/fine/cash-confirmation", h.confirmCash)
		rt.Post("/{orderID}/notes", h.appendNote)
		rt.Put("/{orderID}/notes/{noteID}", h.editNote)
		rt.Delete("/{orderID}/notes/{noteID}", h.deleteNote)
	})
}

type orderResponse struct {
	Order orderView `json:"order"`
}

func (h *OrderHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != domain.RoleCustomer {
		writeForbidden(w, r, "only customers submit orders")
		return
	}
	var req draftPayload
	if !decodeBody(w, r, &req, false) {
		return
	}
	if id := strings.TrimSpace(req.CustomerID); id != "" && id != actor.ID {
		writeForbidden(w, r, "customers submit orders for themselves only")
		return
	}
	cmd, err := req.toCommand(actor.ID)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	draft, err := h.quotes.Quote(ctx, services.QuoteCommand{Draft: cmd, DiscountCode: req.DiscountCode})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	created, err := h.orders.Submit(ctx, draft)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusCreated, created, actor.Role)
}

func (h *OrderHandlers) get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	order, err := h.orders.Get(ctx, orderIDParam(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	if actor.Role == domain.RoleCustomer && order.CustomerID != actor.ID {
		writeForbidden(w, r, "order belongs to another customer")
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

type transitionRequest struct {
	To     string `json:"to"`
	Reason string `json:"reason"`
}

func (h *OrderHandlers) transition(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	to := domain.Status(strings.ToLower(strings.TrimSpace(req.To)))
	if to == "" {
		writeBadRequest(w, r, "to is required")
		return
	}
	order, err := h.orders.RequestTransition(ctx, services.TransitionCommand{
		OrderID: orderIDParam(r),
		ActorID: actor.ID,
		To:      to,
		Role:    actor.Role,
		Reason:  req.Reason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

type assignDeliveryRequest struct {
	AgentID string `json:"delivery_agent_id"`
}

func (h *OrderHandlers) assignDelivery(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, h.orders.AssignDelivery)
}

func (h *OrderHandlers) reassignDelivery(w http.ResponseWriter, r *http.Request) {
	h.assign(w, r, h.orders.ReassignDelivery)
}

func (h *OrderHandlers) assign(w http.ResponseWriter, r *http.Request, fn func(context.Context, services.AssignDeliveryCommand) (domain.Order, error)) {
	ctx := r.Context()
	actor, ok := h.requireRole(w, r, domain.RoleAdmin)
	if !ok {
		return
	}
	var req assignDeliveryRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	order, err := fn(ctx, services.AssignDeliveryCommand{OrderID: orderIDParam(r), ActorID: actor.ID, AgentID: req.AgentID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

type respondDeliveryRequest struct {
	Accept          *bool  `json:"accept"`
	RejectionReason string `json:"rejection_reason"`
}

func (h *OrderHandlers) respondDelivery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireRole(w, r, domain.RoleDeliveryAgent)
	if !ok {
		return
	}
	var req respondDeliveryRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Accept == nil {
		writeBadRequest(w, r, "accept is required")
		return
	}
	order, err := h.orders.RespondDelivery(ctx, services.RespondDeliveryCommand{
		OrderID: orderIDParam(r),
		ActorID: actor.ID,
		Accept:  *req.Accept,
		Reason:  req.RejectionReason,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

func (h *OrderHandlers) startDelivery(w http.ResponseWriter, r *http.Request) {
	h.agentStep(w, r, h.orders.StartDelivery)
}

func (h *OrderHandlers) completeDelivery(w http.ResponseWriter, r *http.Request) {
	h.agentStep(w, r, h.orders.CompleteDelivery)
}

func (h *OrderHandlers) agentStep(w http.ResponseWriter, r *http.Request, fn func(context.Context, services.DeliveryStepCommand) (domain.Order, error)) {
	ctx := r.Context()
	actor, ok := h.requireRole(w, r, domain.RoleDeliveryAgent)
	if !ok {
		return
	}
	order, err := fn(ctx, services.DeliveryStepCommand{OrderID: orderIDParam(r), ActorID: actor.ID})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

type finePaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
	Approved      *bool  `json:"approved"`
}

func (h *OrderHandlers) payFine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.requireRole(w, r, domain.RoleCustomer)
	if !ok {
		return
	}
	var req finePaymentRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod)))
	if method == "" {
		writeBadRequest(w, r, "payment_method is required")
		return
	}
	// Cash is settled later by confirmation; card and online attempts report the provider result.
	approved := req.Approved != nil && *req.Approved
	if method != domain.PaymentMethodCash && req.Approved == nil {
		writeBadRequest(w, r, "approved is required for card and online payments")
		return
	}
	order, err := h.orders.RecordFinePayment(ctx, services.FinePaymentCommand{
		OrderID: orderIDParam(r),
		ActorID: actor.ID,
		Attempt: services.PaymentAttempt{Method: method, Approved: approved},
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

type cashConfirmationRequest struct {
	Collected *bool `json:"collected"`
}

func (h *OrderHandlers) confirmCash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req cashConfirmationRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Collected == nil {
		writeBadRequest(w, r, "collected is required")
		return
	}
	order, err := h.orders.ConfirmCashPayment(ctx, services.CashConfirmationCommand{
		OrderID:   orderIDParam(r),
		ActorID:   actor.ID,
		Role:      actor.Role,
		Collected: *req.Collected,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

type noteRequest struct {
	Body string `json:"body"`
}

func (h *OrderHandlers) appendNote(w http.ResponseWriter, r *http.Request) {
	h.note(w, r, true, h.orders.AppendNote)
}

func (h *OrderHandlers) editNote(w http.ResponseWriter, r *http.Request) {
	h.note(w, r, true, h.orders.EditNote)
}

func (h *OrderHandlers) deleteNote(w http.ResponseWriter, r *http.Request) {
	h.note(w, r, false, h.orders.DeleteNote)
}

func (h *OrderHandlers) note(w http.ResponseWriter, r *http.Request, withBody bool, fn func(context.Context, services.NoteCommand) (domain.Order, error)) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	cmd := services.NoteCommand{
		OrderID: orderIDParam(r),
		NoteID:  strings.TrimSpace(chi.URLParam(r, "noteID")),
		ActorID: actor.ID,
		Role:    actor.Role,
	}
	if withBody {
		var req noteRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		cmd.Body = req.Body
	}
	order, err := fn(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	h.writeOrder(w, http.StatusOK, order, actor.Role)
}

func (h *OrderHandlers) requireRole(w http.ResponseWriter, r *http.Request, role domain.Role) (requestctx.Actor, bool) {
	actor, ok := requireActor(w, r)
	if !ok {
		return requestctx.Actor{}, false
	}
	if actor.Role != role {
		writeForbidden(w, r, "this action requires the "+string(role)+" role")
		return requestctx.Actor{}, false
	}
	return actor, true
}

func (h *OrderHandlers) writeOrder(w http.ResponseWriter, status int, order domain.Order, role domain.Role) {
	var allowed []domain.Status
	if h.catalog != nil {
		allowed = h.catalog.AllowedTransitions(order.Kind, order.Status, role)
	}
	httpx.WriteJSON(w, status, orderResponse{Order: newOrderView(order, h.currency, allowed)})
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderID"))
}

func writeForbidden(w http.ResponseWriter, r *http.Request, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError("unauthorized", message, http.StatusForbidden).WithMessageKey("lifecycle.unauthorized"))
}
