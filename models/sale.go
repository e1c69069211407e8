package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mmdatafocus/salesdesk_backend/economics"
)

// Sale is one trade on the desk's internal ledger.
// It is never hard-deleted; DeletedAt retires it from active views.
type Sale struct {
	ID     string     `gorm:"type:char(36);primary_key" json:"id"`
	Source SaleSource `gorm:"size:20;not null;index" json:"source"`
	Status SaleStatus `gorm:"size:20;not null;default:active;index" json:"status"`

	ItemTitle  string  `gorm:"size:255" json:"item_title"`
	BuyerId    *string `gorm:"type:char(36);index" json:"buyer_id"`
	SupplierId *string `gorm:"type:char(36);index" json:"supplier_id"`
	ShopperId  *string `gorm:"type:char(36);index" json:"shopper_id"`

	ExternalInvoiceId     *string    `gorm:"size:64;index" json:"external_invoice_id"`
	ExternalInvoiceNumber *string    `gorm:"size:64" json:"external_invoice_number"`
	ExternalInvoiceUrl    *string    `gorm:"size:512" json:"external_invoice_url"`
	InvoiceStatus         *string    `gorm:"size:32;index" json:"invoice_status"`
	InvoicePaidDate       *time.Time `json:"invoice_paid_date"`

	BuyPrice             *decimal.Decimal `gorm:"type:decimal(20,2)" json:"buy_price"`
	SaleAmountExVat      *decimal.Decimal `gorm:"type:decimal(20,2)" json:"sale_amount_ex_vat"`
	SaleAmountIncVat     *decimal.Decimal `gorm:"type:decimal(20,2)" json:"sale_amount_inc_vat"`
	ShippingCost         *decimal.Decimal `gorm:"type:decimal(20,2)" json:"shipping_cost"`
	CardFees             *decimal.Decimal `gorm:"type:decimal(20,2)" json:"card_fees"`
	DirectCosts          *decimal.Decimal `gorm:"type:decimal(20,2)" json:"direct_costs"`
	IntroducerCommission *decimal.Decimal `gorm:"type:decimal(20,2)" json:"introducer_commission"`
	GrossMargin          *decimal.Decimal `gorm:"type:decimal(20,2)" json:"gross_margin"`
	CommissionableMargin *decimal.Decimal `gorm:"type:decimal(20,2)" json:"commissionable_margin"`

	NeedsAllocation bool       `gorm:"not null;default:false;index" json:"needs_allocation"`
	AllocatedAt     *time.Time `json:"allocated_at"`
	Dismissed       *bool      `gorm:"default:false" json:"dismissed"`
	DismissedAt     *time.Time `json:"dismissed_at"`
	DismissedBy     *string    `gorm:"size:64" json:"dismissed_by"`

	LinkedImportId   *string    `gorm:"type:char(36)" json:"linked_import_id"`
	LinkedIntoSaleId *string    `gorm:"type:char(36);index" json:"linked_into_sale_id"`
	LinkedAt         *time.Time `json:"linked_at"`

	DeletedAt   *time.Time `gorm:"index" json:"deleted_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CompletedBy *string    `gorm:"size:64" json:"completed_by"`

	CreatedBy *string   `gorm:"size:64" json:"created_by"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Column names used in queries and guarded updates.
const (
	ColId                    = "id"
	ColSource                = "source"
	ColStatus                = "status"
	ColItemTitle             = "item_title"
	ColBuyerId               = "buyer_id"
	ColSupplierId            = "supplier_id"
	ColShopperId             = "shopper_id"
	ColExternalInvoiceId     = "external_invoice_id"
	ColExternalInvoiceNumber = "external_invoice_number"
	ColExternalInvoiceUrl    = "external_invoice_url"
	ColInvoiceStatus         = "invoice_status"
	ColInvoicePaidDate       = "invoice_paid_date"
	ColBuyPrice              = "buy_price"
	ColSaleAmountExVat       = "sale_amount_ex_vat"
	ColSaleAmountIncVat      = "sale_amount_inc_vat"
	ColShippingCost          = "shipping_cost"
	ColCardFees              = "card_fees"
	ColDirectCosts           = "direct_costs"
	ColIntroducerCommission  = "introducer_commission"
	ColGrossMargin           = "gross_margin"
	ColCommissionableMargin  = "commissionable_margin"
	ColNeedsAllocation       = "needs_allocation"
	ColAllocatedAt           = "allocated_at"
	ColDismissed             = "dismissed"
	ColDismissedAt           = "dismissed_at"
	ColDismissedBy           = "dismissed_by"
	ColLinkedImportId        = "linked_import_id"
	ColLinkedIntoSaleId      = "linked_into_sale_id"
	ColLinkedAt              = "linked_at"
	ColDeletedAt             = "deleted_at"
	ColCompletedAt           = "completed_at"
	ColCompletedBy           = "completed_by"
	ColCreatedBy             = "created_by"
	ColCreatedAt             = "created_at"
	ColUpdatedAt             = "updated_at"
)

var saleColumns = map[string]struct{}{
	ColId: {}, ColSource: {}, ColStatus: {}, ColItemTitle: {}, ColBuyerId: {}, ColSupplierId: {}, ColShopperId: {},
	ColExternalInvoiceId: {}, ColExternalInvoiceNumber: {}, ColExternalInvoiceUrl: {}, ColInvoiceStatus: {}, ColInvoicePaidDate: {},
	ColBuyPrice: {}, ColSaleAmountExVat: {}, ColSaleAmountIncVat: {}, ColShippingCost: {}, ColCardFees: {}, ColDirectCosts: {},
	ColIntroducerCommission: {}, ColGrossMargin: {}, ColCommissionableMargin: {},
	ColNeedsAllocation: {}, ColAllocatedAt: {}, ColDismissed: {}, ColDismissedAt: {}, ColDismissedBy: {},
	ColLinkedImportId: {}, ColLinkedIntoSaleId: {}, ColLinkedAt: {},
	ColDeletedAt: {}, ColCompletedAt: {}, ColCompletedBy: {}, ColCreatedBy: {}, ColCreatedAt: {}, ColUpdatedAt: {},
}

func IsSaleColumn(col string) bool {
	_, ok := saleColumns[col]
	return ok
}

func (s *Sale) BeforeCreate(tx *gorm.DB) error {
	s.ensureDefaults()
	return nil
}

func (s *Sale) ensureDefaults() {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.Status == "" {
		s.Status = SaleStatusActive
	}
	if s.Dismissed == nil {
		f := false
		s.Dismissed = &f
	}
}

// MarginInputs maps the commercial fields onto the calculator inputs.
func (s *Sale) MarginInputs() economics.Inputs {
	return economics.Inputs{
		SaleAmountExVat:      s.SaleAmountExVat,
		BuyPrice:             s.BuyPrice,
		ShippingCost:         s.ShippingCost,
		CardFees:             s.CardFees,
		DirectCosts:          s.DirectCosts,
		IntroducerCommission: s.IntroducerCommission,
	}
}

func (s *Sale) IsDismissed() bool {
	return s.Dismissed != nil && *s.Dismissed
}

type LifecycleState int

const (
	LifecycleActive LifecycleState = iota
	LifecycleDeleted
)

func (s LifecycleState) String() string {
	switch s {
	case LifecycleActive:
		return "active"
	case LifecycleDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Lifecycle is the soft-delete state of a sale. DeletedAt is set only when State is LifecycleDeleted.
type Lifecycle struct {
	State     LifecycleState
	DeletedAt time.Time
}

func (s *Sale) Lifecycle() Lifecycle {
	if s.DeletedAt == nil {
		return Lifecycle{State: LifecycleActive}
	}
	return Lifecycle{State: LifecycleDeleted, DeletedAt: *s.DeletedAt}
}

func (s *Sale) Clone() *Sale {
	if s == nil {
		return nil
	}
	c := *s
	c.BuyerId = clonePtr(s.BuyerId)
	c.SupplierId = clonePtr(s.SupplierId)
	c.ShopperId = clonePtr(s.ShopperId)
	c.ExternalInvoiceId = clonePtr(s.ExternalInvoiceId)
	c.ExternalInvoiceNumber = clonePtr(s.ExternalInvoiceNumber)
	c.ExternalInvoiceUrl = clonePtr(s.ExternalInvoiceUrl)
	c.InvoiceStatus = clonePtr(s.InvoiceStatus)
	c.InvoicePaidDate = clonePtr(s.InvoicePaidDate)
	c.BuyPrice = clonePtr(s.BuyPrice)
	c.SaleAmountExVat = clonePtr(s.SaleAmountExVat)
	c.SaleAmountIncVat = clonePtr(s.SaleAmountIncVat)
	c.ShippingCost = clonePtr(s.ShippingCost)
	c.CardFees = clonePtr(s.CardFees)
	c.DirectCosts = clonePtr(s.DirectCosts)
	c.IntroducerCommission = clonePtr(s.IntroducerCommission)
	c.GrossMargin = clonePtr(s.GrossMargin)
	c.CommissionableMargin = clonePtr(s.CommissionableMargin)
	c.AllocatedAt = clonePtr(s.AllocatedAt)
	c.Dismissed = clonePtr(s.Dismissed)
	c.DismissedAt = clonePtr(s.DismissedAt)
	c.DismissedBy = clonePtr(s.DismissedBy)
	c.LinkedImportId = clonePtr(s.LinkedImportId)
	c.LinkedIntoSaleId = clonePtr(s.LinkedIntoSaleId)
	c.LinkedAt = clonePtr(s.LinkedAt)
	c.DeletedAt = clonePtr(s.DeletedAt)
	c.CompletedAt = clonePtr(s.CompletedAt)
	c.CompletedBy = clonePtr(s.CompletedBy)
	c.CreatedBy = clonePtr(s.CreatedBy)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
