package money

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRound(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"24999.999996", "25000"},
		{"-0.005", "-0.01"},
		{"0.005", "0.01"},
		{"1.234", "1.23"},
		{"-1.235", "-1.24"},
		{"0", "0"},
	}
	for _, tc := range cases {
		if got := Round(d(tc.in)); !got.Equal(d(tc.want)) {
			t.Fatalf("Round(%s): got %s want %s", tc.in, got, tc.want)
		}
	}
	if got := Round(d("24999.999996")).StringFixed(2); got != "25000.00" {
		t.Fatalf("fixed: got %s", got)
	}
}

func TestRoundFloatDrift(t *testing.T) {
	f := 0.0
	for i := 0; i < 3; i++ {
		f += 8333.333332
	}
	if got := Round(decimal.NewFromFloat(f)).StringFixed(2); got != "25000.00" {
		t.Fatalf("got %s", got)
	}
}

func TestArithmetic(t *testing.T) {
	if got := Add(d("0.1"), d("0.2")); !got.Equal(d("0.3")) {
		t.Fatalf("add: %s", got)
	}
	if got := Subtract(d("23000"), d("18000"), d("0.004")); !got.Equal(d("5000")) {
		t.Fatalf("subtract: %s", got)
	}
	if got := Multiply(d("1.005"), d("1")); !got.Equal(d("1.01")) {
		t.Fatalf("multiply: %s", got)
	}
	if got := Divide(d("10"), d("3")); !got.Equal(d("3.33")) {
		t.Fatalf("divide: %s", got)
	}
	if got := Divide(d("10"), Zero); !got.IsZero() {
		t.Fatalf("divide by zero: %s", got)
	}
	if got := PercentOf(d("1999.99"), d("20")); !got.Equal(d("400")) {
		t.Fatalf("percent: %s", got)
	}
}

func TestDiffers(t *testing.T) {
	tol := d("0.01")
	if Differs(d("100.00"), d("100.01"), tol) {
		t.Fatalf("0.01 apart is within tolerance")
	}
	if !Differs(d("100.00"), d("100.02"), tol) {
		t.Fatalf("0.02 apart is drift")
	}
}

func TestParse(t *testing.T) {
	cases := map[string]string{
		"20,000":        "20000",
		"£20,000":       "20000",
		"GBP -1,250.50": "-1250.5",
		"  18000 ":      "18000",
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("%q: unexpected error %v", in, err)
		}
		if !got.Equal(d(want)) {
			t.Fatalf("%q: got %s want %s", in, got, want)
		}
	}
	if _, err := Parse("n/a"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestCoerce(t *testing.T) {
	var nilStr *string
	var nilDec *decimal.Decimal
	cases := []struct {
		in   interface{}
		want string
	}{
		{nil, "0"},
		{nilStr, "0"},
		{nilDec, "0"},
		{"garbage", "0"},
		{"", "0"},
		{json.Number("12.5"), "12.5"},
		{42, "42"},
		{3.25, "3.25"},
		{decimal.NullDecimal{}, "0"},
		{struct{}{}, "0"},
	}
	for _, tc := range cases {
		if got := Coerce(tc.in); !got.Equal(d(tc.want)) {
			t.Fatalf("Coerce(%#v): got %s want %s", tc.in, got, tc.want)
		}
	}
}
