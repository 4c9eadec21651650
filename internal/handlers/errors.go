package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/yomnaalset/bookstore/internal/platform/httpx"
	"github.com/yomnaalset/bookstore/internal/platform/requestctx"
	"github.com/yomnaalset/bookstore/internal/services"
)

var errorStatuses = []struct {
	err    error
	code   string
	status int
}{
	{services.ErrOrderNotFound, "order_not_found", http.StatusNotFound},
	{services.ErrStaleState, "stale_state", http.StatusConflict},
	{services.ErrAlreadyTerminal, "already_terminal", http.StatusConflict},
	{services.ErrUnauthorized, "unauthorized", http.StatusForbidden},
	{services.ErrInvalidTransition, "invalid_transition", http.StatusConflict},
	{services.ErrInvalidPaymentTransition, "invalid_payment_transition", http.StatusConflict},
	{services.ErrOrderInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrDeliveryInvalidState, "invalid_state", http.StatusConflict},
	{services.ErrOrderInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrDeliveryInvalidInput, "invalid_request", http.StatusBadRequest},
	{services.ErrPricingInvalidInput, "invalid_request", http.StatusBadRequest},
}

// writeServiceError maps service errors onto the JSON envelope. Discount errors are 422 and keep
// their wire code so clients can branch on it.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var discountErr *services.DiscountError
	if errors.As(err, &discountErr) {
		httpx.WriteError(ctx, w, httpx.NewError(string(discountErr.Code), err.Error(), http.StatusUnprocessableEntity).
			WithMessageKey(discountErr.MessageKey()))
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		httpx.WriteError(ctx, w, httpx.NewError("timeout", "request timed out", http.StatusGatewayTimeout).WithMessageKey("error.timeout"))
		return
	}
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.err) {
			httpx.WriteError(ctx, w, httpx.NewError(entry.code, err.Error(), entry.status).WithMessageKey(services.MessageKey(err)))
			return
		}
	}

	var gwErr services.GatewayError
	if errors.As(err, &gwErr) {
		requestctx.Logger(ctx).Warn("backend request failed", zap.Int("backend_status", gwErr.HTTPStatus()), zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("backend_error", "the order service rejected the request", http.StatusBadGateway).
			WithMessageKey("error.backend"))
		return
	}

	requestctx.Logger(ctx).Error("unexpected service error", zap.Error(err))
	httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError).
		WithMessageKey(services.MessageKey(err)))
}
