package backend

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/services"
)

type orderResource struct {
	ID                 string              `json:"id,omitempty"`
	OrderNumber        string              `json:"order_number,omitempty"`
	Status             string              `json:"status"`
	OrderType          string              `json:"order_type"`
	CustomerID         string              `json:"customer_id"`
	Items              []orderItemResource `json:"items"`
	Subtotal           *domain.Money       `json:"subtotal,omitempty"`
	TaxAmount          domain.Money        `json:"tax_amount"`
	DeliveryCost       domain.Money        `json:"delivery_cost"`
	DiscountCode       string              `json:"discount_code,omitempty"`
	CouponCode         string              `json:"coupon_code,omitempty"`
	DiscountAmount     domain.Money        `json:"discount_amount"`
	FineAmount         domain.Money        `json:"fine_amount"`
	TotalAmount        domain.Money        `json:"total_amount"`
	DeliveryAddress    *addressResource    `json:"delivery_address,omitempty"`
	PaymentMethod      string              `json:"payment_method,omitempty"`
	PaymentReference   string              `json:"payment_reference,omitempty"`
	DeliveryAssignment *assignmentResource `json:"delivery_assignment,omitempty"`
	DueDate            *time.Time          `json:"due_date,omitempty"`
	DeliveredAt        *time.Time          `json:"delivered_at,omitempty"`
	ActualReturnDate   *time.Time          `json:"actual_return_date,omitempty"`
	Fine               *fineResource       `json:"fine,omitempty"`
	Notes              []noteResource      `json:"notes,omitempty"`
	CanEditNotes       bool                `json:"can_edit_notes"`
	CanDeleteNotes     bool                `json:"can_delete_notes"`
	CancellationReason string              `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	UpdatedAt          time.Time           `json:"updated_at"`
}

type orderItemResource struct {
	BookID     string       `json:"book_id"`
	Title      string       `json:"title,omitempty"`
	Quantity   int          `json:"quantity"`
	UnitPrice  domain.Money `json:"unit_price"`
	TotalPrice domain.Money `json:"total_price"`
}

type addressResource struct {
	Recipient  string `json:"recipient,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

type assignmentResource struct {
	ID              string     `json:"id,omitempty"`
	AgentID         string     `json:"delivery_agent_id"`
	Status          string     `json:"status"`
	AssignedAt      time.Time  `json:"assigned_at"`
	RespondedAt     *time.Time `json:"responded_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

type fineResource struct {
	DaysOverdue   int          `json:"days_overdue"`
	PerDayRate    domain.Money `json:"per_day_rate"`
	Amount        domain.Money `json:"amount"`
	PaymentStatus string       `json:"payment_status"`
	PaymentMethod string       `json:"payment_method,omitempty"`
	AssessedAt    time.Time    `json:"assessed_at"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
}

type noteResource struct {
	ID         string     `json:"id"`
	AuthorID   string     `json:"author_id"`
	AuthorRole string     `json:"author_role"`
	Body       string     `json:"body"`
	CreatedAt  time.Time  `json:"created_at"`
	EditedAt   *time.Time `json:"edited_at,omitempty"`
}

func newOrderResource(order domain.Order) orderResource {
	res := orderResource{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		Status:         string(order.Status),
		OrderType:      string(order.Kind),
		CustomerID:     order.CustomerID,
		TaxAmount:      order.Pricing.TaxAmount,
		DeliveryCost:   order.Pricing.DeliveryCost,
		DiscountCode:   order.DiscountCode,
		DiscountAmount: order.Pricing.DiscountAmount,
		FineAmount:     order.Pricing.FineAmount,
		TotalAmount:    order.Pricing.FinalTotal,
	}
	subtotal := order.Pricing.Subtotal
	res.Subtotal = &subtotal
	for _, item := range order.Items {
		res.Items = append(res.Items, orderItemResource{
			BookID:     item.BookID,
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			TotalPrice: item.LineTotal,
		})
	}
	if addr := order.DeliveryAddress; addr != nil {
		res.DeliveryAddress = &addressResource{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Phone:      addr.Phone,
		}
	}
	if order.Payment != nil {
		res.PaymentMethod = string(order.Payment.Method)
		res.PaymentReference = order.Payment.Reference
	}
	if order.Borrow != nil {
		due := order.Borrow.DueDate
		res.DueDate = &due
	}
	return res
}

func (r orderResource) toDomain() (domain.Order, error) {
	kind, err := domain.ParseRequestKind(r.OrderType)
	if err != nil {
		return domain.Order{}, fmt.Errorf("backend: order %s: %w", r.ID, err)
	}
	status, err := services.ParseStatus(kind, r.Status)
	if err != nil {
		return domain.Order{}, fmt.Errorf("backend: order %s: %w", r.ID, err)
	}

	order := domain.Order{
		ID:                 r.ID,
		OrderNumber:        r.OrderNumber,
		Kind:               kind,
		Status:             status,
		CustomerID:         r.CustomerID,
		DiscountCode:       strings.TrimSpace(r.DiscountCode),
		NotePermissions:    domain.NotePermissions{CanEditNotes: r.CanEditNotes, CanDeleteNotes: r.CanDeleteNotes},
		CancellationReason: r.CancellationReason,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if order.DiscountCode == "" {
		order.DiscountCode = strings.TrimSpace(r.CouponCode)
	}

	var itemsTotal domain.Money
	for _, item := range r.Items {
		order.Items = append(order.Items, domain.OrderItem{
			BookID:    item.BookID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.TotalPrice,
		})
		itemsTotal += item.TotalPrice
	}
	order.Pricing = domain.Pricing{
		Subtotal:       itemsTotal,
		TaxAmount:      r.TaxAmount,
		DeliveryCost:   r.DeliveryCost,
		DiscountAmount: r.DiscountAmount,
		FineAmount:     r.FineAmount,
		FinalTotal:     r.TotalAmount,
	}
	if r.Subtotal != nil {
		order.Pricing.Subtotal = *r.Subtotal
	}

	if addr := r.DeliveryAddress; addr != nil {
		order.DeliveryAddress = &domain.Address{
			Recipient:  addr.Recipient,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			PostalCode: addr.PostalCode,
			Phone:      addr.Phone,
		}
	}
	if r.PaymentMethod != "" {
		order.Payment = &domain.PaymentInfo{Method: domain.PaymentMethod(r.PaymentMethod), Reference: r.PaymentReference}
	}
	if a := r.DeliveryAssignment; a != nil {
		order.DeliveryAssignment = &domain.DeliveryAssignment{
			ID:              a.ID,
			AgentID:         a.AgentID,
			Status:          domain.AssignmentStatus(a.Status),
			AssignedAt:      a.AssignedAt,
			RespondedAt:     a.RespondedAt,
			StartedAt:       a.StartedAt,
			CompletedAt:     a.CompletedAt,
			RejectionReason: a.RejectionReason,
		}
	}
	if r.DueDate != nil {
		order.Borrow = &domain.BorrowTerms{
			DueDate:          *r.DueDate,
			DeliveredAt:      r.DeliveredAt,
			ActualReturnDate: r.ActualReturnDate,
		}
	}
	if f := r.Fine; f != nil {
		order.Fine = &domain.Fine{
			DaysOverdue:   f.DaysOverdue,
			PerDayRate:    f.PerDayRate,
			Amount:        f.Amount,
			PaymentStatus: domain.FinePaymentStatus(f.PaymentStatus),
			PaymentMethod: domain.PaymentMethod(f.PaymentMethod),
			AssessedAt:    f.AssessedAt,
			PaidAt:        f.PaidAt,
		}
		if order.Borrow != nil {
			order.Fine.DueDate = order.Borrow.DueDate
		}
	}
	for _, n := range r.Notes {
		order.Notes = append(order.Notes, domain.Note{
			ID:         n.ID,
			AuthorID:   n.AuthorID,
			AuthorRole: domain.Role(n.AuthorRole),
			Body:       n.Body,
			CreatedAt:  n.CreatedAt,
			EditedAt:   n.EditedAt,
		})
	}
	return order, nil
}
