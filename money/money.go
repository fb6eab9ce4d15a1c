package money

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount of currency in minor units (cents). All ledger
// arithmetic is done on this type so that repeated additions stay exact;
// float64 only ever appears at the JSON boundary.
type Money int64

// ErrMalformed is returned when a decimal string can't be parsed as money
var ErrMalformed = errors.New("malformed amount")

// FromCents wraps a raw minor-unit amount
func FromCents(cents int64) Money {
	return Money(cents)
}

// FromFloat converts a decimal number of major units to Money, rounding
// half away from zero. Any value representable with at most two fractional
// digits converts exactly, which makes the JSON boundary round-trip safe.
func FromFloat(f float64) Money {
	return Money(math.Round(f * 100))
}

// Cents returns the raw minor-unit amount
func (m Money) Cents() int64 {
	return int64(m)
}

// Float64 returns the amount in major units. Only for handing amounts to
// the JSON boundary, never for arithmetic.
func (m Money) Float64() float64 {
	return float64(m) / 100
}

// String formats the amount with exactly two fractional digits, e.g.
// "12.34" or "-0.05"
func (m Money) String() string {
	cents := int64(m)
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// Parse converts a decimal string with at most two fractional digits into
// Money. More than two fractional digits is rejected rather than rounded.
func Parse(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMalformed
	}

	negative := false
	if s[0] == '+' || s[0] == '-' {
		negative = s[0] == '-'
		s = s[1:]
	}

	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrMalformed
	}
	if len(frac) > 2 {
		return 0, ErrMalformed
	}

	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, ErrMalformed
	}

	cents := int64(0)
	if frac != "" {
		cents, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, ErrMalformed
		}
		if len(frac) == 1 {
			cents *= 10
		}
	}

	total := units*100 + cents
	if negative {
		total = -total
	}
	return Money(total), nil
}

// MarshalJSON emits the amount as a plain JSON number with two fractional
// digits, matching what the clients send and expect.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON accepts a JSON number (or quoted decimal string) and
// converts it to minor units. Anything with more than two fractional
// digits is rejected, never rounded.
func (m *Money) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
