// Package reconciliation fuses authored sales with their ledger imports and keeps
// invoice payment status in step with the ledger.
package reconciliation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/ledger"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const moduleName = "reconciliation"

var tracer = otel.Tracer("salesdesk-reconciliation")

// InvoiceFetcher is the ledger read the engine depends on.
type InvoiceFetcher interface {
	GetInvoice(ctx context.Context, id string) (*ledger.Invoice, error)
}

type Linker struct {
	store   models.SaleStore
	fetcher InvoiceFetcher
	logger  *logrus.Logger
	now     func() time.Time
}

// NewLinker returns a linker. fetcher may be nil, in which case the import's
// stored status is copied as is.
func NewLinker(store models.SaleStore, fetcher InvoiceFetcher, logger *logrus.Logger) *Linker {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Linker{store: store, fetcher: fetcher, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

type LinkResult struct {
	Success               bool    `json:"success"`
	SaleId                string  `json:"saleId"`
	ExternalInvoiceNumber *string `json:"externalInvoiceNumber"`
}

// Link copies the import's invoice identity onto the authored target and retires
// the import. Both writes commit together or not at all; an import can be
// consumed by at most one link.
func (l *Linker) Link(ctx context.Context, targetId, importId string, actor auth.Identity) (*LinkResult, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.Link")
	defer span.End()
	span.SetAttributes(attribute.String("sale.id", targetId), attribute.String("import.id", importId))

	res, err := l.link(ctx, targetId, importId, actor)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, utils.PublicMessage(err))
		if utils.KindOf(err) == utils.KindInternal {
			config.LogError(l.logger, moduleName, "Link", "link failed, check both records for manual remediation",
				map[string]string{"target_id": targetId, "import_id": importId}, err)
		}
		return nil, err
	}
	return res, nil
}

func (l *Linker) link(ctx context.Context, targetId, importId string, actor auth.Identity) (*LinkResult, error) {
	targetId = strings.TrimSpace(targetId)
	importId = strings.TrimSpace(importId)
	if importId == "" {
		return nil, utils.Validation("externalImportId is required")
	}
	if targetId == importId {
		return nil, utils.Validation("a sale cannot be linked to itself")
	}

	target, err := l.load(ctx, targetId, "target sale not found")
	if err != nil {
		return nil, err
	}
	imp, err := l.load(ctx, importId, "import record not found")
	if err != nil {
		return nil, err
	}
	if target.Source != models.SaleSourceAuthored {
		return nil, utils.Validation("target is not an authored sale")
	}
	if target.Lifecycle().State == models.LifecycleDeleted {
		return nil, utils.Validation("target sale is deleted")
	}
	if imp.Source != models.SaleSourceExternalImport {
		return nil, utils.Validation("source is not an external import")
	}
	if imp.Lifecycle().State == models.LifecycleDeleted {
		return nil, utils.Validation("already linked or deleted")
	}

	now := l.now()
	status, paidDate, err := l.invoiceState(ctx, imp, now)
	if err != nil {
		return nil, err
	}

	targetChanges := map[string]interface{}{
		models.ColExternalInvoiceId:     imp.ExternalInvoiceId,
		models.ColExternalInvoiceNumber: imp.ExternalInvoiceNumber,
		models.ColExternalInvoiceUrl:    imp.ExternalInvoiceUrl,
		models.ColInvoiceStatus:         status,
		models.ColInvoicePaidDate:       paidDate,
		models.ColLinkedImportId:        imp.ID,
		models.ColLinkedAt:              now,
	}
	err = l.store.Transaction(ctx, func(tx models.SaleStore) error {
		ok, err := tx.UpdateSale(ctx, importId,
			models.ActiveSales(models.Eq(models.ColSource, models.SaleSourceExternalImport)),
			map[string]interface{}{
				models.ColDeletedAt:        now,
				models.ColLinkedIntoSaleId: targetId,
			})
		if err != nil {
			return utils.Internal("retire import", err)
		}
		if !ok {
			return utils.Validation("already linked or deleted")
		}
		ok, err = tx.UpdateSale(ctx, targetId,
			models.ActiveSales(models.Eq(models.ColSource, models.SaleSourceAuthored)),
			targetChanges)
		if errors.Is(err, models.ErrDuplicateExternalInvoice) {
			return utils.Validation("invoice is already linked to another sale")
		}
		if err != nil {
			return utils.Internal("update target", err)
		}
		if !ok {
			return utils.Validation("target is no longer an active authored sale")
		}
		return nil
	})
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, utils.Internal("link transaction", err)
	}

	l.logger.WithFields(logrus.Fields{
		"module":    moduleName,
		"sale_id":   targetId,
		"import_id": importId,
		"actor":     actor.UserId,
		"relink":    target.LinkedImportId != nil,
	}).Info("import linked")
	return &LinkResult{Success: true, SaleId: targetId, ExternalInvoiceNumber: imp.ExternalInvoiceNumber}, nil
}

// invoiceState returns the status and paid date to copy onto the target. With a
// fetcher configured the ledger's current status replaces the import's snapshot.
func (l *Linker) invoiceState(ctx context.Context, imp *models.Sale, now time.Time) (*string, *time.Time, error) {
	if l.fetcher == nil || imp.ExternalInvoiceId == nil || *imp.ExternalInvoiceId == "" {
		return imp.InvoiceStatus, imp.InvoicePaidDate, nil
	}
	inv, err := l.fetcher.GetInvoice(ctx, *imp.ExternalInvoiceId)
	if err != nil {
		var appErr *utils.AppError
		if errors.As(err, &appErr) {
			return nil, nil, err
		}
		return nil, nil, utils.ExternalSystem("fetch invoice status", err)
	}
	status := normalizeStatus(inv.Status)
	if status == "" {
		return imp.InvoiceStatus, imp.InvoicePaidDate, nil
	}
	if status != models.InvoiceStatusPaid {
		return &status, nil, nil
	}
	paid := imp.InvoicePaidDate
	if paid == nil {
		paid = &now
	}
	return &status, paid, nil
}

func (l *Linker) load(ctx context.Context, id, missing string) (*models.Sale, error) {
	sale, err := l.store.GetSale(ctx, id)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, utils.NotFound(missing)
	}
	if err != nil {
		return nil, utils.Internal("load sale", err)
	}
	return sale, nil
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
