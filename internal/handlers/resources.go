package handlers

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/currency"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/textutil"
	"github.com/yomnaalset/bookstore/internal/services"
)

const dateLayout = "2006-01-02"

type itemPayload struct {
	BookID    string       `json:"book_id"`
	Title     string       `json:"title,omitempty"`
	Quantity  int          `json:"quantity"`
	UnitPrice domain.Money `json:"unit_price"`
}

type addressPayload struct {
	Recipient  string `json:"recipient"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`
}

type draftPayload struct {
	OrderType       string          `json:"order_type"`
	CustomerID      string          `json:"customer_id"`
	Items           []itemPayload   `json:"items"`
	DeliveryCost    domain.Money    `json:"delivery_cost"`
	DeliveryAddress *addressPayload `json:"delivery_address"`
	PaymentMethod   string          `json:"payment_method"`
	DueDate         string          `json:"due_date"`
	DiscountCode    string          `json:"discount_code"`
}

// toCommand converts the payload. The actor's id is used when the body names no customer.
func (p draftPayload) toCommand(actorID string) (services.NewDraftCommand, error) {
	kind := domain.RequestKindPurchase
	if raw := strings.TrimSpace(p.OrderType); raw != "" {
		parsed, err := domain.ParseRequestKind(raw)
		if err != nil {
			return services.NewDraftCommand{}, err
		}
		kind = parsed
	}
	customerID := strings.TrimSpace(p.CustomerID)
	if customerID == "" {
		customerID = actorID
	}
	cmd := services.NewDraftCommand{
		Kind:         kind,
		CustomerID:   customerID,
		DeliveryCost: p.DeliveryCost,
	}
	for _, item := range p.Items {
		cmd.Items = append(cmd.Items, domain.OrderItem{
			BookID:    strings.TrimSpace(item.BookID),
			Title:     strings.TrimSpace(item.Title),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}
	if addr := p.DeliveryAddress; addr != nil {
		cmd.DeliveryAddress = &domain.Address{
			Recipient:  strings.TrimSpace(addr.Recipient),
			Line1:      strings.TrimSpace(addr.Line1),
			Line2:      strings.TrimSpace(addr.Line2),
			City:       strings.TrimSpace(addr.City),
			PostalCode: strings.TrimSpace(addr.PostalCode),
			Phone:      strings.TrimSpace(addr.Phone),
		}
	}
	if method := strings.TrimSpace(p.PaymentMethod); method != "" {
		cmd.Payment = &domain.PaymentInfo{Method: domain.PaymentMethod(strings.ToLower(method))}
	}
	if strings.TrimSpace(p.DueDate) != "" {
		due, err := parseDate(p.DueDate)
		if err != nil {
			return services.NewDraftCommand{}, fmt.Errorf("due_date: %w", err)
		}
		cmd.DueDate = due
	}
	return cmd, nil
}

// parseDate accepts a calendar date or a full RFC 3339 timestamp.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(dateLayout, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", raw)
	}
	return t, nil
}

type pricingView struct {
	Subtotal       domain.Money `json:"subtotal"`
	TaxAmount      domain.Money `json:"tax_amount"`
	DeliveryCost   domain.Money `json:"delivery_cost"`
	DiscountAmount domain.Money `json:"discount_amount"`
	FineAmount     domain.Money `json:"fine_amount"`
	TotalAmount    domain.Money `json:"total_amount"`
	DisplayTotal   string       `json:"display_total"`
}

func newPricingView(p domain.Pricing, unit currency.Unit) pricingView {
	return pricingView{
		Subtotal:       p.Subtotal,
		TaxAmount:      p.TaxAmount,
		DeliveryCost:   p.DeliveryCost,
		DiscountAmount: p.DiscountAmount,
		FineAmount:     p.FineAmount,
		TotalAmount:    p.FinalTotal,
		DisplayTotal:   textutil.FormatMoney(p.FinalTotal, unit),
	}
}

type itemView struct {
	BookID     string       `json:"book_id"`
	Title      string       `json:"title,omitempty"`
	Quantity   int          `json:"quantity"`
	UnitPrice  domain.Money `json:"unit_price"`
	TotalPrice domain.Money `json:"total_price"`
}

type discountView struct {
	Type            string        `json:"type"`
	Code            string        `json:"code"`
	Percentage      string        `json:"percentage,omitempty"`
	BookID          string        `json:"book_id,omitempty"`
	DiscountedPrice *domain.Money `json:"discounted_price,omitempty"`
	UsageLimit      int           `json:"usage_limit"`
	StartDate       string        `json:"start_date,omitempty"`
	EndDate         string        `json:"end_date,omitempty"`
}

func newDiscountView(app domain.DiscountApplication) discountView {
	view := discountView{
		Type:       string(app.Kind),
		Code:       app.Code(),
		UsageLimit: app.PerCustomerLimit(),
	}
	window := app.ValidityWindow()
	if !window.StartDate.IsZero() {
		view.StartDate = window.StartDate.Format(dateLayout)
	}
	if !window.EndDate.IsZero() {
		view.EndDate = window.EndDate.Format(dateLayout)
	}
	switch app.Kind {
	case domain.DiscountKindInvoice:
		view.Percentage = app.Invoice.Percentage.String()
	case domain.DiscountKindItem:
		view.BookID = app.Item.BookID
		price := app.Item.DiscountedPrice
		view.DiscountedPrice = &price
	}
	return view
}

type fineView struct {
	DaysOverdue   int          `json:"days_overdue"`
	PerDayRate    domain.Money `json:"per_day_rate"`
	Amount        domain.Money `json:"amount"`
	PaymentStatus string       `json:"payment_status"`
	DueDate       string       `json:"due_date"`
}

func newFineView(f *domain.Fine) *fineView {
	if f == nil {
		return nil
	}
	return &fineView{
		DaysOverdue:   f.DaysOverdue,
		PerDayRate:    f.PerDayRate,
		Amount:        f.Amount,
		PaymentStatus: string(f.PaymentStatus),
		DueDate:       f.DueDate.Format(dateLayout),
	}
}

type assignmentView struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"delivery_agent_id"`
	Status          string     `json:"status"`
	AssignedAt      time.Time  `json:"assigned_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

type orderView struct {
	ID                 string          `json:"id,omitempty"`
	OrderNumber        string          `json:"order_number,omitempty"`
	OrderType          string          `json:"order_type"`
	Status             string          `json:"status"`
	CustomerID         string          `json:"customer_id"`
	Items              []itemView      `json:"items"`
	Pricing            pricingView     `json:"pricing"`
	DiscountCode       string          `json:"discount_code,omitempty"`
	Discount           *discountView   `json:"discount,omitempty"`
	DeliveryAssignment *assignmentView `json:"delivery_assignment,omitempty"`
	DueDate            string          `json:"due_date,omitempty"`
	Fine               *fineView       `json:"fine,omitempty"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	AllowedTransitions []string        `json:"allowed_transitions"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func newOrderView(order domain.Order, unit currency.Unit, allowed []domain.Status) orderView {
	view := orderView{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		OrderType:          string(order.Kind),
		Status:             string(order.Status),
		CustomerID:         order.CustomerID,
		Items:              make([]itemView, 0, len(order.Items)),
		Pricing:            newPricingView(order.Pricing, unit),
		DiscountCode:       order.DiscountCode,
		Fine:               newFineView(order.Fine),
		CancellationReason: order.CancellationReason,
		AllowedTransitions: make([]string, 0, len(allowed)),
		UpdatedAt:          order.UpdatedAt,
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, itemView{
			BookID:     item.BookID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.LineTotal,
		})
	}
	if order.Discount != nil {
		d := newDiscountView(*order.Discount)
		view.Discount = &d
	}
	if a := order.DeliveryAssignment; a != nil {
		view.DeliveryAssignment = &assignmentView{
			ID:              a.ID,
			AgentID:         a.AgentID,
			Status:          string(a.Status),
			AssignedAt:      a.AssignedAt,
			StartedAt:       a.StartedAt,
			CompletedAt:     a.CompletedAt,
			RejectionReason: a.RejectionReason,
		}
	}
	if order.Borrow != nil {
		view.DueDate = order.Borrow.DueDate.Format(dateLayout)
	}
	for _, status := range allowed {
		view.AllowedTransitions = append(view.AllowedTransitions, string(status))
	}
	return view
}
