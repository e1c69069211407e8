// Package sales handles sale intake, commercial edits and the data-completion workflow.
package sales

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/economics"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/money"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const moduleName = "sales"

type Service struct {
	store  models.SaleStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewService(store models.SaleStore, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Service{store: store, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Get(ctx context.Context, id string) (*models.Sale, error) {
	sale, err := s.store.GetSale(ctx, id)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, utils.NotFound("sale not found")
	}
	return sale, err
}

func (s *Service) CreateAuthored(ctx context.Context, in NewSale, actor auth.Identity) (*models.Sale, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := s.ensureBuyer(ctx, in.BuyerId); err != nil {
		return nil, err
	}

	sale := &models.Sale{
		Source:               models.SaleSourceAuthored,
		Status:               models.SaleStatusActive,
		ItemTitle:            strings.TrimSpace(in.ItemTitle),
		BuyerId:              in.BuyerId,
		SupplierId:           in.SupplierId,
		ShopperId:            in.ShopperId,
		BuyPrice:             roundedPtr(in.BuyPrice),
		SaleAmountExVat:      roundedPtr(in.SaleAmountExVat),
		SaleAmountIncVat:     roundedPtr(in.SaleAmountIncVat),
		ShippingCost:         roundedPtr(in.ShippingCost),
		CardFees:             roundedPtr(in.CardFees),
		DirectCosts:          roundedPtr(in.DirectCosts),
		IntroducerCommission: roundedPtr(in.IntroducerCommission),
		NeedsAllocation:      in.ShopperId == nil,
		CreatedBy:            utils.NilIfEmpty(actor.Actor()),
	}
	applyMargins(sale)

	if err := s.store.CreateSale(ctx, sale); err != nil {
		return nil, utils.Internal("create sale", err)
	}
	s.logger.WithFields(logrus.Fields{"module": moduleName, "sale_id": sale.ID, "actor": actor.UserId}).Info("authored sale created")
	return sale, nil
}

// RecordImport stores an externally discovered invoice. An invoice already known
// under any row (an active or retired import, or the authored sale it was linked
// into) is returned with created=false and never re-enters the pool.
func (s *Service) RecordImport(ctx context.Context, in NewImport) (sale *models.Sale, created bool, err error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, false, err
	}
	externalId := strings.TrimSpace(in.ExternalInvoiceId)
	if err := s.ensureBuyer(ctx, in.BuyerId); err != nil {
		return nil, false, err
	}

	existing, err := s.findByExternalId(ctx, externalId)
	if err != nil {
		return nil, false, utils.Internal("look up import", err)
	}
	if existing != nil {
		return existing, false, nil
	}

	sale = &models.Sale{
		Source:                models.SaleSourceExternalImport,
		Status:                models.SaleStatusActive,
		ItemTitle:             strings.TrimSpace(in.ItemTitle),
		BuyerId:               in.BuyerId,
		ExternalInvoiceId:     &externalId,
		ExternalInvoiceNumber: utils.NilIfEmpty(strings.TrimSpace(in.ExternalInvoiceNumber)),
		ExternalInvoiceUrl:    utils.NilIfEmpty(strings.TrimSpace(in.ExternalInvoiceUrl)),
		InvoiceStatus:         utils.NilIfEmpty(strings.ToUpper(strings.TrimSpace(in.InvoiceStatus))),
		InvoicePaidDate:       in.InvoicePaidDate,
		SaleAmountExVat:       roundedPtr(in.SaleAmountExVat),
		SaleAmountIncVat:      roundedPtr(in.SaleAmountIncVat),
		NeedsAllocation:       true,
	}
	applyMargins(sale)
	err = s.store.CreateSale(ctx, sale)
	if errors.Is(err, models.ErrDuplicateExternalInvoice) {
		// a concurrent import of the same invoice won the insert
		existing, err = s.findByExternalId(ctx, externalId)
		if err != nil {
			return nil, false, utils.Internal("look up import", err)
		}
		if existing == nil {
			return nil, false, utils.Internal("look up import", errors.New("duplicate invoice row not found"))
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, utils.Internal("record import", err)
	}
	s.logger.WithFields(logrus.Fields{"module": moduleName, "sale_id": sale.ID, "external_invoice_id": externalId}).Info("external import recorded")
	return sale, true, nil
}

// findByExternalId returns the row that currently owns the invoice: an active row
// when there is one, otherwise the oldest retired one.
func (s *Service) findByExternalId(ctx context.Context, externalId string) (*models.Sale, error) {
	rows, err := s.store.FindSales(ctx, models.Query{Conds: []models.Cond{
		models.Eq(models.ColExternalInvoiceId, externalId),
	}})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	for _, r := range rows {
		if r.Lifecycle().State == models.LifecycleActive {
			return r, nil
		}
	}
	return rows[0], nil
}

// UpdateCommercials applies the patch and rewrites both margins in the same write.
func (s *Service) UpdateCommercials(ctx context.Context, id string, patch CommercialPatch) (*models.Sale, error) {
	if patch.Empty() {
		return nil, utils.Validation("no commercial fields given")
	}
	var updated *models.Sale
	err := s.store.Transaction(ctx, func(tx models.SaleStore) error {
		sale, err := tx.GetSale(ctx, id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return utils.NotFound("sale not found")
		}
		if err != nil {
			return err
		}
		if sale.Lifecycle().State == models.LifecycleDeleted {
			return utils.Validation("sale is deleted")
		}

		changes := map[string]interface{}{}
		set := func(col string, dst **decimal.Decimal, v *money.Amount) {
			if v == nil {
				return
			}
			r := money.Round(v.Decimal)
			*dst = &r
			changes[col] = r
		}
		set(models.ColBuyPrice, &sale.BuyPrice, patch.BuyPrice)
		set(models.ColSaleAmountExVat, &sale.SaleAmountExVat, patch.SaleAmountExVat)
		set(models.ColSaleAmountIncVat, &sale.SaleAmountIncVat, patch.SaleAmountIncVat)
		set(models.ColShippingCost, &sale.ShippingCost, patch.ShippingCost)
		set(models.ColCardFees, &sale.CardFees, patch.CardFees)
		set(models.ColDirectCosts, &sale.DirectCosts, patch.DirectCosts)
		set(models.ColIntroducerCommission, &sale.IntroducerCommission, patch.IntroducerCommission)

		margins := applyMargins(sale)
		changes[models.ColGrossMargin] = margins.GrossMargin
		changes[models.ColCommissionableMargin] = margins.CommissionableMargin

		ok, err := tx.UpdateSale(ctx, id, []models.Cond{models.IsNull(models.ColDeletedAt)}, changes)
		if err != nil {
			return err
		}
		if !ok {
			return utils.Validation("sale is deleted")
		}
		updated = sale
		return nil
	})
	if err != nil {
		return nil, wrapInternal("update commercials", err)
	}
	return updated, nil
}

// Complete stamps the data-completion fields. Completing twice is a validation error.
func (s *Service) Complete(ctx context.Context, id string, actor auth.Identity) (*models.Sale, error) {
	sale, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sale.Lifecycle().State == models.LifecycleDeleted {
		return nil, utils.Validation("sale is deleted")
	}
	if sale.CompletedAt != nil {
		return nil, utils.Validation("sale already completed")
	}
	now := s.now()
	by := actor.Actor()
	ok, err := s.store.UpdateSale(ctx, id,
		[]models.Cond{models.IsNull(models.ColCompletedAt), models.IsNull(models.ColDeletedAt)},
		map[string]interface{}{models.ColCompletedAt: now, models.ColCompletedBy: by},
	)
	if err != nil {
		return nil, utils.Internal("complete sale", err)
	}
	if !ok {
		return nil, utils.Validation("sale already completed")
	}
	sale.CompletedAt = &now
	sale.CompletedBy = &by
	return sale, nil
}

func (s *Service) ensureBuyer(ctx context.Context, buyerId *string) error {
	if buyerId == nil {
		return nil
	}
	if _, err := s.store.GetBuyer(ctx, *buyerId); err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return utils.NotFound("buyer not found")
		}
		return utils.Internal("load buyer", err)
	}
	return nil
}

// applyMargins recomputes the derived fields on sale from its commercial fields.
func applyMargins(sale *models.Sale) economics.Margins {
	m := economics.Calculate(sale.MarginInputs())
	sale.GrossMargin = money.Ptr(m.GrossMargin)
	sale.CommissionableMargin = money.Ptr(m.CommissionableMargin)
	return m
}

func roundedPtr(a *money.Amount) *decimal.Decimal {
	if a == nil {
		return nil
	}
	return money.Ptr(money.Round(a.Decimal))
}

func wrapInternal(op string, err error) error {
	var ae *utils.AppError
	if errors.As(err, &ae) {
		return err
	}
	return utils.Internal(op, err)
}
