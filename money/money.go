// Package money holds the currency arithmetic every derived amount goes through.
// Each operation rounds its result to 2 places, half away from zero.
package money

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

const Places = 2

var Zero = decimal.Zero

// Round rounds d to 2 places, half away from zero (-0.005 -> -0.01).
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

func Add(a decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	sum := a
	for _, r := range rest {
		sum = sum.Add(r)
	}
	return Round(sum)
}

func Subtract(a decimal.Decimal, rest ...decimal.Decimal) decimal.Decimal {
	out := a
	for _, r := range rest {
		out = out.Sub(r)
	}
	return Round(out)
}

func Multiply(a, b decimal.Decimal) decimal.Decimal {
	return Round(a.Mul(b))
}

// Divide returns 0 when b is zero.
func Divide(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return Zero
	}
	// keep guard digits so the final rounding decides the half
	return Round(a.DivRound(b, 8))
}

// PercentOf returns pct percent of amount.
func PercentOf(amount, pct decimal.Decimal) decimal.Decimal {
	return Round(amount.Mul(pct).Div(decimal.NewFromInt(100)))
}

// Value dereferences a nullable amount, treating nil as 0.
func Value(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return Zero
	}
	return *d
}

// Ptr returns a pointer to a copy of d.
func Ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Differs reports whether |a-b| is strictly greater than tolerance.
func Differs(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().GreaterThan(tolerance)
}

var ErrInvalidAmount = errors.New("invalid amount")

// Parse accepts user-formatted strings like "£20,000", "GBP -1,250.50" or "18000".
// Keep digits, '.', and a leading '-' only.
func Parse(v string) (decimal.Decimal, error) {
	s := strings.TrimSpace(v)
	s = strings.ReplaceAll(s, ",", "")
	for _, token := range []string{"GBP", "gbp", "£"} {
		s = strings.ReplaceAll(s, token, "")
	}
	s = strings.TrimSpace(s)

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}
	var b strings.Builder
	b.Grow(len(s) + 1)
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if clean == "" {
		return Zero, ErrInvalidAmount
	}
	if neg {
		clean = "-" + clean
	}
	val, err := decimal.NewFromString(clean)
	if err != nil {
		return Zero, ErrInvalidAmount
	}
	return val, nil
}

// Coerce turns any loosely typed numeric input into an amount.
// nil and malformed values become 0; it never fails.
func Coerce(i interface{}) decimal.Decimal {
	switch v := i.(type) {
	case nil:
		return Zero
	case decimal.Decimal:
		return v
	case *decimal.Decimal:
		return Value(v)
	case decimal.NullDecimal:
		if !v.Valid {
			return Zero
		}
		return v.Decimal
	case string:
		d, err := Parse(v)
		if err != nil {
			return Zero
		}
		return d
	case *string:
		if v == nil {
			return Zero
		}
		return Coerce(*v)
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	case *float64:
		if v == nil {
			return Zero
		}
		return decimal.NewFromFloat(*v)
	case float32:
		return decimal.NewFromFloat32(v)
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case int32:
		return decimal.NewFromInt32(v)
	default:
		return Zero
	}
}
