package models

import (
	"context"
	"errors"
)

var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// ErrDuplicateExternalInvoice is returned when a write would give two sales of the
// same source one external invoice id.
var ErrDuplicateExternalInvoice = errors.New("external invoice already recorded")

// SaleStore is the record store the engines work against.
// Lookups of missing rows return utils.ErrorRecordNotFound.
type SaleStore interface {
	GetSale(ctx context.Context, id string) (*Sale, error)
	FindSales(ctx context.Context, q Query) ([]*Sale, error)
	CreateSale(ctx context.Context, sale *Sale) error
	// UpdateSale applies changes to the row only while every guard holds and
	// reports whether a row matched.
	UpdateSale(ctx context.Context, id string, guards []Cond, changes map[string]interface{}) (bool, error)

	GetBuyer(ctx context.Context, id string) (*Buyer, error)
	FindBuyers(ctx context.Context, ids []string) (map[string]*Buyer, error)
	CreateBuyer(ctx context.Context, buyer *Buyer) error
	// SetBuyerOwner reassigns or clears (nil) the shopper owning a buyer.
	SetBuyerOwner(ctx context.Context, buyerId string, ownerId *string) error
	FindShopperByUser(ctx context.Context, userId string) (*Shopper, error)
	CreateShopper(ctx context.Context, shopper *Shopper) error

	// Transaction runs fn against a store whose writes commit only if fn returns nil.
	Transaction(ctx context.Context, fn func(tx SaleStore) error) error
}

type RunStore interface {
	CreateRun(ctx context.Context, run *BatchRun) error
	FinishRun(ctx context.Context, run *BatchRun, errs []BatchRunError) error
	ListRuns(ctx context.Context, kind string, limit int) ([]*BatchRun, error)
	GetRun(ctx context.Context, id uint) (*BatchRun, []*BatchRunError, error)
}

type IdempotencyStore interface {
	// BeginIdempotency returns skip=true when the message already succeeded.
	BeginIdempotency(ctx context.Context, handlerName, messageId string) (skip bool, err error)
	MarkIdempotencySucceeded(ctx context.Context, handlerName, messageId string) error
	MarkIdempotencyFailed(ctx context.Context, handlerName, messageId string, cause error) error
}

type Store interface {
	SaleStore
	RunStore
	IdempotencyStore
}
