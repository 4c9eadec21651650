package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a currency amount held in minor units (cents). Arithmetic on Money never goes through
// floating point; rates and percentages are applied with decimal math and rounded once.
type Money int64

const minorUnitExponent = 2

// MoneyFromDecimal converts a decimal amount into Money, rounding half away from zero to cents.
func MoneyFromDecimal(value decimal.Decimal) Money {
	return Money(value.Shift(minorUnitExponent).Round(0).IntPart())
}

// ParseMoney parses a wire amount such as "19.98" or "5".
func ParseMoney(raw string) (Money, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, nil
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", raw, err)
	}
	return MoneyFromDecimal(value), nil
}

// MustParseMoney is ParseMoney for literals known to be valid.
func MustParseMoney(raw string) Money {
	m, err := ParseMoney(raw)
	if err != nil {
		panic(err)
	}
	return m
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -minorUnitExponent)
}

// String renders the amount with exactly two decimal places.
func (m Money) String() string {
	return m.Decimal().StringFixed(minorUnitExponent)
}

// Times multiplies the amount by a non-negative quantity, reporting overflow.
func (m Money) Times(quantity int) (Money, bool) {
	if quantity == 0 || m == 0 {
		return 0, true
	}
	q := int64(quantity)
	if q < 0 || int64(m) > math.MaxInt64/q || int64(m) < math.MinInt64/q {
		return 0, false
	}
	return Money(int64(m) * q), true
}

// ApplyRate multiplies the amount by rate and rounds the product to cents.
func (m Money) ApplyRate(rate decimal.Decimal) Money {
	return MoneyFromDecimal(m.Decimal().Mul(rate))
}

// AddChecked adds two amounts, reporting overflow.
func (m Money) AddChecked(other Money) (Money, bool) {
	if (other > 0 && m > math.MaxInt64-other) || (other < 0 && m < math.MinInt64-other) {
		return 0, false
	}
	return m + other, true
}

// MarshalJSON encodes the amount as a fixed two-place decimal string, matching the backend.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both string ("19.98") and numeric (19.98) encodings.
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("money: %w", err)
		}
	}
	parsed, err := ParseMoney(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
