package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Table shapes as each migration created or extended them. These are frozen:
// a change to a live model needs a new snapshot and a new migration version.

type buyerV1 struct {
	ID        string  `gorm:"type:char(36);primary_key"`
	Name      string  `gorm:"size:255;not null"`
	OwnerId   *string `gorm:"type:char(36);index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (buyerV1) TableName() string { return "buyers" }

type shopperV1 struct {
	ID        string  `gorm:"type:char(36);primary_key"`
	Name      string  `gorm:"size:255;not null"`
	UserId    *string `gorm:"size:64;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (shopperV1) TableName() string { return "shoppers" }

type supplierV1 struct {
	ID        string `gorm:"type:char(36);primary_key"`
	Name      string `gorm:"size:255;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (supplierV1) TableName() string { return "suppliers" }

type salesV2 struct {
	ID                    string  `gorm:"type:char(36);primary_key"`
	Source                string  `gorm:"size:20;not null;index"`
	Status                string  `gorm:"size:20;not null;default:active;index"`
	ItemTitle             string  `gorm:"size:255"`
	BuyerId               *string `gorm:"type:char(36);index"`
	SupplierId            *string `gorm:"type:char(36);index"`
	ShopperId             *string `gorm:"type:char(36);index"`
	ExternalInvoiceId     *string `gorm:"size:64;index"`
	ExternalInvoiceNumber *string `gorm:"size:64"`
	ExternalInvoiceUrl    *string `gorm:"size:512"`
	InvoiceStatus         *string `gorm:"size:32;index"`
	InvoicePaidDate       *time.Time

	BuyPrice             *decimal.Decimal `gorm:"type:decimal(20,2)"`
	SaleAmountExVat      *decimal.Decimal `gorm:"type:decimal(20,2)"`
	SaleAmountIncVat     *decimal.Decimal `gorm:"type:decimal(20,2)"`
	ShippingCost         *decimal.Decimal `gorm:"type:decimal(20,2)"`
	CardFees             *decimal.Decimal `gorm:"type:decimal(20,2)"`
	DirectCosts          *decimal.Decimal `gorm:"type:decimal(20,2)"`
	IntroducerCommission *decimal.Decimal `gorm:"type:decimal(20,2)"`
	GrossMargin          *decimal.Decimal `gorm:"type:decimal(20,2)"`
	CommissionableMargin *decimal.Decimal `gorm:"type:decimal(20,2)"`

	NeedsAllocation bool  `gorm:"not null;default:false;index"`
	Dismissed       *bool `gorm:"default:false"`
	DismissedAt     *time.Time
	DismissedBy     *string    `gorm:"size:64"`
	DeletedAt       *time.Time `gorm:"index"`
	CreatedBy       *string    `gorm:"size:64"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (salesV2) TableName() string { return "sales" }

type batchRunV3 struct {
	ID          uint    `gorm:"primary_key"`
	Kind        string  `gorm:"size:32;not null;index"`
	Status      string  `gorm:"size:20;not null"`
	TriggeredBy string  `gorm:"size:20"`
	ActorId     *string `gorm:"size:64"`
	DryRun      bool    `gorm:"default:false"`
	Checked     int
	Updated     int
	Skipped     int
	ErrorCount  int
	StartedAt   *time.Time
	FinishedAt  *time.Time
	DurationMs  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (batchRunV3) TableName() string { return "batch_runs" }

type batchRunErrorV3 struct {
	ID         uint   `gorm:"primary_key"`
	RunId      uint   `gorm:"index;not null"`
	SaleId     string `gorm:"size:36"`
	ExternalId string `gorm:"size:64"`
	ErrorCode  string `gorm:"size:64"`
	Message    string `gorm:"type:text"`
	CreatedAt  time.Time
}

func (batchRunErrorV3) TableName() string { return "batch_run_errors" }

type idempotencyKeyV4 struct {
	ID          int     `gorm:"primary_key"`
	HandlerName string  `gorm:"size:100;not null;index:uniq_idem,unique"`
	MessageId   string  `gorm:"size:255;not null;index:uniq_idem,unique"`
	Status      string  `gorm:"size:20;not null;index"`
	LastError   *string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (idempotencyKeyV4) TableName() string { return "idempotency_keys" }

type salesLinkColumnsV5 struct {
	LinkedImportId   *string `gorm:"type:char(36)"`
	LinkedIntoSaleId *string `gorm:"type:char(36);index"`
	LinkedAt         *time.Time
}

func (salesLinkColumnsV5) TableName() string { return "sales" }

type salesAllocationColumnsV6 struct {
	AllocatedAt *time.Time
	CompletedAt *time.Time
	CompletedBy *string `gorm:"size:64"`
}

func (salesAllocationColumnsV6) TableName() string { return "sales" }

type batchRunRemainingV8 struct {
	Remaining int `gorm:"not null;default:0"`
}

func (batchRunRemainingV8) TableName() string { return "batch_runs" }
