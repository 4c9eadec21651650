package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/httpx"
	"github.com/yomnaalset/bookstore/internal/platform/requestctx"
	"github.com/yomnaalset/bookstore/internal/services"
)

// TransitionCatalog answers which statuses a role may move an order to.
type TransitionCatalog interface {
	AllowedTransitions(kind domain.RequestKind, from domain.Status, role domain.Role) []domain.Status
}

// FineAssessor computes overdue fines.
type FineAssessor interface {
	Assess(dueDate, returnedOn time.Time) *domain.Fine
}

// LifecycleHandlers exposes the transition tables and fine assessment for UI gating.
type LifecycleHandlers struct {
	catalog TransitionCatalog
	fines   FineAssessor
}

// NewLifecycleHandlers constructs lifecycle handlers.
func NewLifecycleHandlers(catalog TransitionCatalog, fines FineAssessor) *LifecycleHandlers {
	return &LifecycleHandlers{catalog: catalog, fines: fines}
}

// Routes registers lifecycle endpoints under the provided router.
func (h *LifecycleHandlers) Routes(r chi.Router) {
	r.Get("/lifecycle/{kind}/transitions", h.transitions)
	r.Post("/fines/assess", h.assessFine)
}

type transitionsResponse struct {
	OrderType string   `json:"order_type"`
	From      string   `json:"from"`
	Role      string   `json:"role"`
	Allowed   []string `json:"allowed"`
	Terminal  bool     `json:"terminal"`
}

func (h *LifecycleHandlers) transitions(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseRequestKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}
	from, err := services.ParseStatus(kind, r.URL.Query().Get("from"))
	if err != nil {
		writeBadRequest(w, r, err.Error())
		return
	}

	var role domain.Role
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		if role, err = domain.ParseRole(raw); err != nil {
			writeBadRequest(w, r, err.Error())
			return
		}
	} else if actor, ok := requestctx.ActorFromContext(r.Context()); ok {
		role = actor.Role
	} else {
		writeBadRequest(w, r, "role is required")
		return
	}

	allowed := h.catalog.AllowedTransitions(kind, from, role)
	resp := transitionsResponse{
		OrderType: string(kind),
		From:      string(from),
		Role:      string(role),
		Allowed:   make([]string, 0, len(allowed)),
		Terminal:  services.IsTerminal(kind, from),
	}
	for _, status := range allowed {
		resp.Allowed = append(resp.Allowed, string(status))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type assessFineRequest struct {
	DueDate    string `json:"due_date"`
	ReturnDate string `json:"return_date"`
}

type assessFineResponse struct {
	Fine *fineView `json:"fine"`
}

func (h *LifecycleHandlers) assessFine(w http.ResponseWriter, r *http.Request) {
	var req assessFineRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	due, err := parseDate(req.DueDate)
	if err != nil {
		writeBadRequest(w, r, "due_date: "+err.Error())
		return
	}
	returned, err := parseDate(req.ReturnDate)
	if err != nil {
		writeBadRequest(w, r, "return_date: "+err.Error())
		return
	}
	httpx.WriteJSON(w, http.StatusOK, assessFineResponse{Fine: newFineView(h.fines.Assess(due, returned))})
}
