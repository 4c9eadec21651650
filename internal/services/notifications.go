package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	domain "github.com/yomnaalset/bookstore/internal/domain"
	"github.com/yomnaalset/bookstore/internal/platform/textutil"
)

const (
	NotificationTemplateOrderCreated       = "order.created"
	NotificationTemplateOrderStatusChanged = "order.status_changed"
	NotificationTemplateLegacyMessage      = "legacy.message"
)

// NotificationPayload is a structured notification. Clients substitute Params into their own
// localised template for TemplateID.
type NotificationPayload struct {
	TemplateID string            `json:"template_id"`
	Params     map[string]string `json:"params,omitempty"`
}

type rawNotification struct {
	TemplateID string            `json:"template_id"`
	Params     map[string]string `json:"params"`
	Message    string            `json:"message"`
	Body       string            `json:"body"`
}

// legacyStatusPattern recognises sentences such as "Your order #ORD-12 status has been updated to In Delivery".
var legacyStatusPattern = regexp.MustCompile(`(?i)order\s+#?([A-Za-z0-9-]+)\b.*?\b(?:updated to|changed to|is now|has been marked as)\s+([A-Za-z _]+?)\s*[.!]?\s*$`)

// DecodeNotification reads a notification body. Structured payloads are returned as is; bodies without
// a template id fall back to pattern matching the English message.
func DecodeNotification(data []byte) (NotificationPayload, error) {
	var raw rawNotification
	if err := json.Unmarshal(data, &raw); err != nil {
		return NotificationPayload{}, fmt.Errorf("notification: decode: %w", err)
	}
	if id := strings.TrimSpace(raw.TemplateID); id != "" {
		return NotificationPayload{TemplateID: id, Params: textutil.NotificationParams(raw.Params)}, nil
	}
	message := strings.TrimSpace(raw.Message)
	if message == "" {
		message = strings.TrimSpace(raw.Body)
	}
	if message == "" {
		return NotificationPayload{}, errors.New("notification: payload has neither template_id nor message")
	}
	return legacyNotification(message), nil
}

func legacyNotification(message string) NotificationPayload {
	match := legacyStatusPattern.FindStringSubmatch(message)
	if match == nil {
		return NotificationPayload{
			TemplateID: NotificationTemplateLegacyMessage,
			Params:     map[string]string{"message": message},
		}
	}
	status := strings.ToLower(strings.Join(strings.Fields(match[2]), "_"))
	return NotificationPayload{
		TemplateID: NotificationTemplateOrderStatusChanged,
		Params: map[string]string{
			"order_number": match[1],
			"status":       status,
		},
	}
}

func orderNotification(order domain.Order, previous domain.Status) NotificationPayload {
	params := map[string]string{
		"order_number": order.OrderNumber,
		"order_type":   string(order.Kind),
		"status":       string(order.Status),
	}
	if previous == "" {
		return NotificationPayload{TemplateID: NotificationTemplateOrderCreated, Params: params}
	}
	params["previous_status"] = string(previous)
	return NotificationPayload{TemplateID: NotificationTemplateOrderStatusChanged, Params: params}
}
