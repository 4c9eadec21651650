package services

import (
	"regexp"
	"strings"
)

var backendDiscountCodes = map[string]DiscountErrorCode{
	"invalid_code":         DiscountInvalidCode,
	"code_inactive":        DiscountInactive,
	"code_expired":         DiscountExpired,
	"already_applied":      DiscountAlreadyApplied,
	"usage_limit_exceeded": DiscountUsageLimitExceeded,
}

// Legacy backends only send English prose. Patterns are checked in order; the first match wins.
var legacyDiscountPatterns = []struct {
	pattern *regexp.Regexp
	code    DiscountErrorCode
}{
	{regexp.MustCompile(`(?i)\bexpired\b`), DiscountExpired},
	{regexp.MustCompile(`(?i)\b(inactive|not active|disabled)\b`), DiscountInactive},
	{regexp.MustCompile(`(?i)\balready (been )?applied\b`), DiscountAlreadyApplied},
	{regexp.MustCompile(`(?i)\b(usage limit|maximum (number of )?uses|used the maximum)\b`), DiscountUsageLimitExceeded},
	{regexp.MustCompile(`(?i)\b(invalid|not found|does not exist|unknown)\b`), DiscountInvalidCode},
}

// MapBackendDiscountError converts a backend redemption failure into a DiscountError. The error code
// is authoritative; the message is only pattern-matched when the code is absent or unrecognised.
// It returns nil when neither identifies a discount failure.
func MapBackendDiscountError(code, message string) error {
	if mapped, ok := backendDiscountCodes[strings.ToLower(strings.TrimSpace(code))]; ok {
		return &DiscountError{Code: mapped, Detail: strings.TrimSpace(message), FromServer: true}
	}
	for _, entry := range legacyDiscountPatterns {
		if entry.pattern.MatchString(message) {
			return &DiscountError{Code: entry.code, Detail: strings.TrimSpace(message), FromServer: true}
		}
	}
	return nil
}
