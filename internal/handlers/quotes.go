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

// QuoteService prices drafts and checks discount codes.
type QuoteService interface {
	Quote(ctx context.Context, cmd services.QuoteCommand) (domain.Order, error)
	Revise(ctx context.Context, cmd services.ReviseCommand) (domain.Order, error)
	ValidateDiscount(ctx context.Context, code string, cmd services.NewDraftCommand) (domain.DiscountApplication, error)
}

// QuoteHandlers exposes pricing quotes and discount validation.
type QuoteHandlers struct {
	quotes   QuoteService
	currency currency.Unit
}

// NewQuoteHandlers constructs quote handlers.
func NewQuoteHandlers(quotes QuoteService, unit currency.Unit) *QuoteHandlers {
	return &QuoteHandlers{quotes: quotes, currency: unit}
}

// Routes registers quote endpoints under the provided router.
func (h *QuoteHandlers) Routes(r chi.Router) {
	r.Post("/quotes", h.quote)
	r.Post("/quotes/revise", h.revise)
	r.Post("/discounts/validate", h.validateDiscount)
}

type quoteResponse struct {
	Order orderView `json:"order"`
}

func (h *QuoteHandlers) quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req draftPayload
	if !decodeBody(w, r, &req, false) {
		return
	}
	actor, _ := requestctx.ActorFromContext(ctx)
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
	httpx.WriteJSON(w, http.StatusOK, quoteResponse{Order: newOrderView(draft, h.currency, nil)})
}

type draftEditPayload struct {
	Op       string       `json:"op"`
	BookID   string       `json:"book_id"`
	Title    string       `json:"title,omitempty"`
	Quantity int          `json:"quantity"`
	Price    domain.Money `json:"unit_price"`
}

type reviseRequest struct {
	draftPayload
	Edits []draftEditPayload `json:"edits"`
}

// revise replays cart edits on the posted draft so the client sees prices after each change.
func (h *QuoteHandlers) revise(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var req reviseRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	cmd, err := req.toCommand(actor.ID)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	edits := make([]services.DraftEdit, 0, len(req.Edits))
	for _, e := range req.Edits {
		bookID := strings.TrimSpace(e.BookID)
		edits = append(edits, services.DraftEdit{
			Op:       services.DraftEditOp(strings.ToLower(strings.TrimSpace(e.Op))),
			BookID:   bookID,
			Quantity: e.Quantity,
			Item: domain.OrderItem{
				BookID:    bookID,
				Title:     strings.TrimSpace(e.Title),
				Quantity:  e.Quantity,
				UnitPrice: e.Price,
			},
		})
	}

	draft, err := h.quotes.Revise(ctx, services.ReviseCommand{
		Quote: services.QuoteCommand{Draft: cmd, DiscountCode: req.DiscountCode},
		Role:  actor.Role,
		Edits: edits,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, quoteResponse{Order: newOrderView(draft, h.currency, nil)})
}

type validateDiscountResponse struct {
	Valid    bool         `json:"valid"`
	Discount discountView `json:"discount"`
}

func (h *QuoteHandlers) validateDiscount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req draftPayload
	if !decodeBody(w, r, &req, false) {
		return
	}
	if strings.TrimSpace(req.DiscountCode) == "" {
		writeBadRequest(w, r, "discount_code is required")
		return
	}
	actor, _ := requestctx.ActorFromContext(ctx)
	cmd, err := req.toCommand(actor.ID)
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	app, err := h.quotes.ValidateDiscount(ctx, req.DiscountCode, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, validateDiscountResponse{Valid: true, Discount: newDiscountView(app)})
}
