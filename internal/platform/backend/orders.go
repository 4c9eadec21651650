package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/services"
)

// OrderGateway exposes the backend order endpoints to the order coordinator.
type OrderGateway struct {
	client *Client
}

var _ services.OrderGateway = (*OrderGateway)(nil)

// NewOrderGateway wraps a Client.
func NewOrderGateway(client *Client) (*OrderGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("backend order gateway: client is required")
	}
	return &OrderGateway{client: client}, nil
}

type changeRoute struct {
	method string
	suffix string
	// perNote routes address an existing note by id.
	perNote bool
}

var changeRoutes = map[services.OrderChangeAction]changeRoute{
	services.OrderChangeTransition:         {method: http.MethodPost, suffix: "status"},
	services.OrderChangeAssignDelivery:     {method: http.MethodPost, suffix: "delivery/assign"},
	services.OrderChangeRespondDelivery:    {method: http.MethodPost, suffix: "delivery/respond"},
	services.OrderChangeStartDelivery:      {method: http.MethodPost, suffix: "delivery/start"},
	services.OrderChangeCompleteDelivery:   {method: http.MethodPost, suffix: "delivery/complete"},
	services.OrderChangeReassignDelivery:   {method: http.MethodPost, suffix: "delivery/reassign"},
	services.OrderChangeRecordFinePayment:  {method: http.MethodPost, suffix: "fine/pay"},
	services.OrderChangeConfirmCashPayment: {method: http.MethodPost, suffix: "fine/confirm-cash"},
	services.OrderChangeAppendNote:         {method: http.MethodPost, suffix: "notes"},
	services.OrderChangeEditNote:           {method: http.MethodPatch, suffix: "notes", perNote: true},
	services.OrderChangeDeleteNote:         {method: http.MethodDelete, suffix: "notes", perNote: true},
}

// FetchOrder loads one order.
func (g *OrderGateway) FetchOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var res orderResource
	if err := g.client.do(ctx, http.MethodGet, orderPath(orderID, ""), nil, &res); err != nil {
		return domain.Order{}, err
	}
	return res.toDomain()
}

// CreateOrder persists a priced draft.
func (g *OrderGateway) CreateOrder(ctx context.Context, draft domain.Order) (domain.Order, error) {
	var res orderResource
	if err := g.client.do(ctx, http.MethodPost, "/orders/", newOrderResource(draft), &res); err != nil {
		return domain.Order{}, err
	}
	return res.toDomain()
}

// SubmitChange sends a lifecycle, delivery, fine or note change and returns the updated order.
func (g *OrderGateway) SubmitChange(ctx context.Context, change services.OrderChange) (domain.Order, error) {
	route, ok := changeRoutes[change.Action]
	if !ok {
		return domain.Order{}, fmt.Errorf("backend: unsupported order change %q", change.Action)
	}
	suffix := route.suffix
	if route.perNote {
		noteID := strings.TrimSpace(change.NoteID)
		if noteID == "" {
			return domain.Order{}, fmt.Errorf("backend: %s requires a note id", change.Action)
		}
		suffix += "/" + url.PathEscape(noteID)
	}
	body := changeRequest{
		Status:          string(change.TargetStatus),
		DeliveryAgentID: change.AgentID,
		ActorID:         change.ActorID,
	}
	if !change.ExpectedUpdatedAt.IsZero() {
		expected := change.ExpectedUpdatedAt.UTC()
		body.ExpectedUpdatedAt = &expected
	}
	switch change.Action {
	case services.OrderChangeTransition:
		if change.TargetStatus == domain.StatusCancelled {
			body.CancellationReason = change.Reason
		}
	case services.OrderChangeRespondDelivery:
		accept := change.Accept
		body.Accept = &accept
		body.RejectionReason = change.Reason
	case services.OrderChangeRecordFinePayment:
		approved := change.Accept
		body.PaymentMethod = string(change.PaymentMethod)
		body.Approved = &approved
	case services.OrderChangeConfirmCashPayment:
		collected := change.Accept
		body.Collected = &collected
	case services.OrderChangeAppendNote, services.OrderChangeEditNote:
		body.NoteID = change.NoteID
		body.Content = change.NoteBody
	}

	var res orderResource
	if err := g.client.do(ctx, route.method, orderPath(change.OrderID, suffix), body, &res); err != nil {
		return domain.Order{}, err
	}
	return res.toDomain()
}

func orderPath(orderID, suffix string) string {
	path := "/orders/" + url.PathEscape(strings.TrimSpace(orderID)) + "/"
	if suffix != "" {
		path += suffix + "/"
	}
	return path
}

type changeRequest struct {
	Status             string     `json:"status,omitempty"`
	ActorID            string     `json:"actor_id,omitempty"`
	DeliveryAgentID    string     `json:"delivery_agent_id,omitempty"`
	Accept             *bool      `json:"accept,omitempty"`
	RejectionReason    string     `json:"rejection_reason,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	PaymentMethod      string     `json:"payment_method,omitempty"`
	Approved           *bool      `json:"approved,omitempty"`
	Collected          *bool      `json:"collected,omitempty"`
	NoteID             string     `json:"note_id,omitempty"`
	Content            string     `json:"content,omitempty"`
	ExpectedUpdatedAt  *time.Time `json:"expected_updated_at,omitempty"`
}
