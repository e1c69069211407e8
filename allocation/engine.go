// Package allocation decides who may claim unallocated sales and runs the
// claim, dismiss and restore transitions.
package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const moduleName = "allocation"

type Engine struct {
	store  models.SaleStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewEngine(store models.SaleStore, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Engine{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// InPool reports whether sale is waiting in the allocation pool.
func InPool(sale *models.Sale) bool {
	return sale.NeedsAllocation &&
		sale.Lifecycle().State == models.LifecycleActive &&
		sale.ShopperId == nil &&
		!sale.IsDismissed()
}

// IsClaimable applies buyer ownership on top of InPool. A sale without a buyer,
// or whose buyer has no owner, is open to anyone.
func IsClaimable(sale *models.Sale, buyer *models.Buyer, shopperId string) bool {
	if !InPool(sale) {
		return false
	}
	if buyer == nil || buyer.OwnerId == nil || *buyer.OwnerId == "" {
		return true
	}
	return shopperId != "" && *buyer.OwnerId == shopperId
}

// poolGuards restate InPool as store conditions for compare-and-set writes.
func poolGuards() []models.Cond {
	return models.ActiveSales(
		models.Eq(models.ColNeedsAllocation, true),
		models.IsNull(models.ColShopperId),
		models.NotTrue(models.ColDismissed),
	)
}

type ClaimableResult struct {
	Sales   []*models.Sale `json:"sales"`
	OwnerId *string        `json:"ownerId"`
}

// ClaimableSales lists the pool as seen by requester.
func (e *Engine) ClaimableSales(ctx context.Context, requester auth.Identity) (*ClaimableResult, error) {
	shopperId, err := e.shopperIdOf(ctx, requester)
	if err != nil {
		return nil, err
	}
	pool, err := e.store.FindSales(ctx, models.Query{Conds: poolGuards(), OrderBy: models.ColCreatedAt, Desc: true})
	if err != nil {
		return nil, utils.Internal("load pool", err)
	}
	buyers, err := e.buyersOf(ctx, pool)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Sale, 0, len(pool))
	for _, s := range pool {
		var buyer *models.Buyer
		if s.BuyerId != nil {
			buyer = buyers[*s.BuyerId]
		}
		if IsClaimable(s, buyer, shopperId) {
			out = append(out, s)
		}
	}
	return &ClaimableResult{Sales: out, OwnerId: utils.NilIfEmpty(shopperId)}, nil
}

// ListPool is the admin view of the pool, ignoring buyer ownership.
func (e *Engine) ListPool(ctx context.Context, includeDismissed bool) ([]*models.Sale, error) {
	conds := models.ActiveSales(
		models.Eq(models.ColNeedsAllocation, true),
		models.IsNull(models.ColShopperId),
	)
	if !includeDismissed {
		conds = append(conds, models.NotTrue(models.ColDismissed))
	}
	sales, err := e.store.FindSales(ctx, models.Query{Conds: conds, OrderBy: models.ColCreatedAt, Desc: true})
	if err != nil {
		return nil, utils.Internal("load pool", err)
	}
	return sales, nil
}

// Claim assigns the requester's shopper to the sale. Of two concurrent claimants
// exactly one wins; the other gets a validation error.
func (e *Engine) Claim(ctx context.Context, saleId string, requester auth.Identity) (*models.Sale, error) {
	shopperId, err := e.shopperIdOf(ctx, requester)
	if err != nil {
		return nil, err
	}
	if shopperId == "" {
		return nil, utils.Validation("caller has no shopper profile")
	}

	sale, err := e.getSale(ctx, saleId)
	if err != nil {
		return nil, err
	}
	if sale.ShopperId != nil {
		return nil, utils.Validation("already claimed")
	}
	var buyer *models.Buyer
	if sale.BuyerId != nil {
		buyer, err = e.store.GetBuyer(ctx, *sale.BuyerId)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, utils.Internal("load buyer", err)
		}
	}
	if !IsClaimable(sale, buyer, shopperId) {
		return nil, utils.Validation("sale is not claimable")
	}

	now := e.now()
	ok, err := e.store.UpdateSale(ctx, saleId, poolGuards(), map[string]interface{}{
		models.ColShopperId:       shopperId,
		models.ColNeedsAllocation: false,
		models.ColAllocatedAt:     now,
	})
	if err != nil {
		return nil, utils.Internal("claim sale", err)
	}
	if !ok {
		return nil, utils.Validation("already claimed")
	}
	e.logger.WithFields(logrus.Fields{"module": moduleName, "sale_id": saleId, "shopper_id": shopperId}).Info("sale claimed")

	sale.ShopperId = &shopperId
	sale.NeedsAllocation = false
	sale.AllocatedAt = &now
	return sale, nil
}

// Dismiss hides a pool sale without deleting it. A sale that already left the pool
// is an error so a stale client learns the state moved.
func (e *Engine) Dismiss(ctx context.Context, saleId string, actor auth.Identity) (*models.Sale, error) {
	sale, err := e.getSale(ctx, saleId)
	if err != nil {
		return nil, err
	}
	if !sale.NeedsAllocation || sale.Lifecycle().State == models.LifecycleDeleted || sale.IsDismissed() {
		return nil, utils.Validation("not allocatable")
	}

	now := e.now()
	by := actor.Actor()
	guards := models.ActiveSales(
		models.Eq(models.ColNeedsAllocation, true),
		models.NotTrue(models.ColDismissed),
	)
	ok, err := e.store.UpdateSale(ctx, saleId, guards, map[string]interface{}{
		models.ColDismissed:   true,
		models.ColDismissedAt: now,
		models.ColDismissedBy: by,
	})
	if err != nil {
		return nil, utils.Internal("dismiss sale", err)
	}
	if !ok {
		return nil, utils.Validation("not allocatable")
	}

	dismissed := true
	sale.Dismissed = &dismissed
	sale.DismissedAt = &now
	sale.DismissedBy = &by
	return sale, nil
}

// Undismiss returns a dismissed sale to the pool.
func (e *Engine) Undismiss(ctx context.Context, saleId string) (*models.Sale, error) {
	sale, err := e.getSale(ctx, saleId)
	if err != nil {
		return nil, err
	}
	if !sale.IsDismissed() || sale.Lifecycle().State == models.LifecycleDeleted {
		return nil, utils.Validation("not dismissed")
	}
	ok, err := e.store.UpdateSale(ctx, saleId,
		models.ActiveSales(models.Eq(models.ColDismissed, true)),
		map[string]interface{}{
			models.ColDismissed:   false,
			models.ColDismissedAt: nil,
			models.ColDismissedBy: nil,
		})
	if err != nil {
		return nil, utils.Internal("undismiss sale", err)
	}
	if !ok {
		return nil, utils.Validation("not dismissed")
	}
	notDismissed := false
	sale.Dismissed = &notDismissed
	sale.DismissedAt = nil
	sale.DismissedBy = nil
	return sale, nil
}

// Restore brings a soft-deleted sale back into active views.
// An import retired by linking stays retired.
func (e *Engine) Restore(ctx context.Context, saleId string, actor auth.Identity) (*models.Sale, error) {
	sale, err := e.getSale(ctx, saleId)
	if err != nil {
		return nil, err
	}
	switch sale.Lifecycle().State {
	case models.LifecycleActive:
		return nil, utils.Validation("not deleted")
	case models.LifecycleDeleted:
		if sale.LinkedIntoSaleId != nil {
			return nil, utils.Validation("linked import cannot be restored")
		}
	}

	ok, err := e.store.UpdateSale(ctx, saleId,
		[]models.Cond{models.NotNull(models.ColDeletedAt), models.IsNull(models.ColLinkedIntoSaleId)},
		map[string]interface{}{models.ColDeletedAt: nil})
	if err != nil {
		return nil, utils.Internal("restore sale", err)
	}
	if !ok {
		return nil, utils.Validation("not deleted")
	}
	e.logger.WithFields(logrus.Fields{"module": moduleName, "sale_id": saleId, "actor": actor.UserId}).Info("sale restored")
	sale.DeletedAt = nil
	return sale, nil
}

func (e *Engine) getSale(ctx context.Context, id string) (*models.Sale, error) {
	sale, err := e.store.GetSale(ctx, id)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, utils.NotFound("sale not found")
	}
	if err != nil {
		return nil, utils.Internal("load sale", err)
	}
	return sale, nil
}

// shopperIdOf resolves the requester to a shopper id, "" when they have none.
func (e *Engine) shopperIdOf(ctx context.Context, requester auth.Identity) (string, error) {
	if requester.UserId == "" {
		return "", utils.Unauthenticated("no identity")
	}
	shopper, err := e.store.FindShopperByUser(ctx, requester.UserId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", utils.Internal("resolve shopper", err)
	}
	return shopper.ID, nil
}

func (e *Engine) buyersOf(ctx context.Context, sales []*models.Sale) (map[string]*models.Buyer, error) {
	ids := make([]string, 0, len(sales))
	for _, s := range sales {
		if s.BuyerId != nil {
			ids = append(ids, *s.BuyerId)
		}
	}
	buyers, err := e.store.FindBuyers(ctx, utils.UniqueSlice(ids))
	if err != nil {
		return nil, utils.Internal("load buyers", err)
	}
	return buyers, nil
}
