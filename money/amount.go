package money

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a request-side amount that never fails to decode:
// numbers and numeric strings are parsed, null and garbage become 0.
type Amount struct {
	decimal.Decimal
}

func (a *Amount) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	switch {
	case s == "null":
		a.Decimal = Zero
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			a.Decimal = Zero
			return nil
		}
		a.Decimal = Coerce(str)
	default:
		d, err := decimal.NewFromString(s)
		if err != nil {
			d = Zero
		}
		a.Decimal = d
	}
	return nil
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return a.Decimal.MarshalJSON()
}

// Ptr returns the amount as a nullable decimal; a nil Amount stays nil.
func (a *Amount) Ptr() *decimal.Decimal {
	if a == nil {
		return nil
	}
	d := a.Decimal
	return &d
}
