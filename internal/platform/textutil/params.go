package textutil

import "strings"

var paramKeyReplacer = strings.NewReplacer(" ", "_", "-", "_", ".", "_")

// NotificationParams cleans template parameters received from the backend. Keys become
// lower snake case and values are reduced to plain text; blank keys are dropped.
func NotificationParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for key, value := range params {
		key = paramKeyReplacer.Replace(strings.ToLower(strings.TrimSpace(key)))
		if key == "" {
			continue
		}
		out[key] = PlainText(value)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
