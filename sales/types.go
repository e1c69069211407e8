package sales

import (
	"time"

	"github.com/mmdatafocus/salesdesk_backend/money"
)

// NewSale is a hand-authored trade.
type NewSale struct {
	ItemTitle            string        `json:"itemTitle" validate:"required,max=255"`
	BuyerId              *string       `json:"buyerId" validate:"omitempty,uuid"`
	SupplierId           *string       `json:"supplierId" validate:"omitempty,uuid"`
	ShopperId            *string       `json:"shopperId" validate:"omitempty,uuid"`
	BuyPrice             *money.Amount `json:"buyPrice"`
	SaleAmountExVat      *money.Amount `json:"saleAmountExVat"`
	SaleAmountIncVat     *money.Amount `json:"saleAmountIncVat"`
	ShippingCost         *money.Amount `json:"shippingCost"`
	CardFees             *money.Amount `json:"cardFees"`
	DirectCosts          *money.Amount `json:"directCosts"`
	IntroducerCommission *money.Amount `json:"introducerCommission"`
}

// NewImport is an invoice discovered in the external ledger.
type NewImport struct {
	ExternalInvoiceId     string        `json:"externalInvoiceId" validate:"required,max=64"`
	ExternalInvoiceNumber string        `json:"externalInvoiceNumber" validate:"max=64"`
	ExternalInvoiceUrl    string        `json:"externalInvoiceUrl" validate:"omitempty,url,max=512"`
	InvoiceStatus         string        `json:"invoiceStatus" validate:"max=32"`
	InvoicePaidDate       *time.Time    `json:"invoicePaidDate"`
	ItemTitle             string        `json:"itemTitle" validate:"max=255"`
	BuyerId               *string       `json:"buyerId" validate:"omitempty,uuid"`
	SaleAmountExVat       *money.Amount `json:"saleAmountExVat"`
	SaleAmountIncVat      *money.Amount `json:"saleAmountIncVat"`
}

// CommercialPatch carries only the commercial fields being changed.
type CommercialPatch struct {
	BuyPrice             *money.Amount `json:"buyPrice"`
	SaleAmountExVat      *money.Amount `json:"saleAmountExVat"`
	SaleAmountIncVat     *money.Amount `json:"saleAmountIncVat"`
	ShippingCost         *money.Amount `json:"shippingCost"`
	CardFees             *money.Amount `json:"cardFees"`
	DirectCosts          *money.Amount `json:"directCosts"`
	IntroducerCommission *money.Amount `json:"introducerCommission"`
}

func (p CommercialPatch) Empty() bool {
	return p.BuyPrice == nil && p.SaleAmountExVat == nil && p.SaleAmountIncVat == nil &&
		p.ShippingCost == nil && p.CardFees == nil && p.DirectCosts == nil && p.IntroducerCommission == nil
}
