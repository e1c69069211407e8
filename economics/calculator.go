// Package economics computes the derived margin fields of a sale.
package economics

import (
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/salesdesk_backend/money"
)

// DriftTolerance is the largest stored-vs-computed difference still treated as equal.
var DriftTolerance = decimal.NewFromFloat(0.01)

// Inputs are the commercial fields margins depend on. Nil means 0.
type Inputs struct {
	SaleAmountExVat      *decimal.Decimal
	BuyPrice             *decimal.Decimal
	ShippingCost         *decimal.Decimal
	CardFees             *decimal.Decimal
	DirectCosts          *decimal.Decimal
	IntroducerCommission *decimal.Decimal
}

type Margins struct {
	GrossMargin          decimal.Decimal `json:"grossMargin"`
	CommissionableMargin decimal.Decimal `json:"commissionableMargin"`
}

// Calculate is pure and deterministic.
//
// Gross margin excludes all cost add-ons; they come off commissionable margin only.
func Calculate(in Inputs) Margins {
	gross := money.Subtract(money.Value(in.SaleAmountExVat), money.Value(in.BuyPrice))
	commissionable := money.Subtract(gross,
		money.Value(in.ShippingCost),
		money.Value(in.CardFees),
		money.Value(in.DirectCosts),
		money.Value(in.IntroducerCommission),
	)
	return Margins{
		GrossMargin:          gross,
		CommissionableMargin: commissionable,
	}
}

// CalculateLoose coerces loosely typed values (strings, floats, nil) before calculating.
// Unparseable input counts as 0.
func CalculateLoose(saleExVat, buyPrice, shipping, cardFees, directCosts, introducer interface{}) Margins {
	return Calculate(Inputs{
		SaleAmountExVat:      money.Ptr(money.Coerce(saleExVat)),
		BuyPrice:             money.Ptr(money.Coerce(buyPrice)),
		ShippingCost:         money.Ptr(money.Coerce(shipping)),
		CardFees:             money.Ptr(money.Coerce(cardFees)),
		DirectCosts:          money.Ptr(money.Coerce(directCosts)),
		IntroducerCommission: money.Ptr(money.Coerce(introducer)),
	})
}

// Drifted reports whether stored margins disagree with computed ones beyond DriftTolerance.
// A nil stored value counts as 0.
func Drifted(storedGross, storedCommissionable *decimal.Decimal, computed Margins) bool {
	return money.Differs(money.Value(storedGross), computed.GrossMargin, DriftTolerance) ||
		money.Differs(money.Value(storedCommissionable), computed.CommissionableMargin, DriftTolerance)
}
