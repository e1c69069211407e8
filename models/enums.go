package models

type SaleSource string

const (
	SaleSourceAuthored       SaleSource = "authored"
	SaleSourceExternalImport SaleSource = "external_import"
)

func (s SaleSource) IsValid() bool {
	return s == SaleSourceAuthored || s == SaleSourceExternalImport
}

type SaleStatus string

const (
	SaleStatusActive    SaleStatus = "active"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Invoice statuses mirrored from the external ledger. The field is free-form;
// only PAID carries meaning here.
const (
	InvoiceStatusDraft      = "DRAFT"
	InvoiceStatusSubmitted  = "SUBMITTED"
	InvoiceStatusAuthorised = "AUTHORISED"
	InvoiceStatusPaid       = "PAID"
	InvoiceStatusVoided     = "VOIDED"
)
