// Package margins re-derives stored margins from commercial fields and reports or
// repairs the rows that drifted.
package margins

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/economics"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const (
	moduleName = "margins"
	LockKey    = "margin-recalc"
	lockTTL    = 30 * time.Minute
)

var tracer = otel.Tracer("salesdesk-margins")

type Store interface {
	models.SaleStore
	models.RunStore
}

// Options selects the rows and the mode. A nil DryRun means dry run.
type Options struct {
	DryRun      *bool
	SaleIds     []string
	TriggeredBy string
	Actor       *auth.Identity
}

func (o Options) dryRun() bool {
	return o.DryRun == nil || *o.DryRun
}

type Change struct {
	SaleId                     string           `json:"saleId"`
	ItemTitle                  string           `json:"itemTitle"`
	StoredGrossMargin          *decimal.Decimal `json:"storedGrossMargin"`
	StoredCommissionableMargin *decimal.Decimal `json:"storedCommissionableMargin"`
	GrossMargin                decimal.Decimal  `json:"grossMargin"`
	CommissionableMargin       decimal.Decimal  `json:"commissionableMargin"`
	Applied                    bool             `json:"applied"`
}

type Summary struct {
	Processed   int `json:"processed"`
	NeedsUpdate int `json:"needsUpdate"`
	Updated     int `json:"updated"`
	Skipped     int `json:"skipped"`
	Errors      int `json:"errors"`
}

type RowError struct {
	SaleId  string `json:"saleId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Result struct {
	DryRun  bool       `json:"dryRun"`
	RunId   uint       `json:"runId"`
	Summary Summary    `json:"summary"`
	Changes []Change   `json:"changes"`
	Errors  []RowError `json:"errors"`
}

type Recalculator struct {
	store  Store
	locker utils.Locker
	logger *logrus.Logger
	now    func() time.Time
}

func NewRecalculator(store Store, locker utils.Locker, logger *logrus.Logger) *Recalculator {
	if logger == nil {
		logger = config.GetLogger()
	}
	if locker == nil {
		locker = utils.NewLocalLocker()
	}
	return &Recalculator{store: store, locker: locker, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Run compares every selected row's stored margins with freshly computed ones.
// Only write mode touches the store, and only for rows outside the tolerance.
// Explicit ids that do not exist are row errors; explicit deleted or inactive
// ids are skipped.
func (r *Recalculator) Run(ctx context.Context, opts Options) (*Result, error) {
	dry := opts.dryRun()
	ctx, span := tracer.Start(ctx, "margins.Recalculate", trace.WithAttributes(
		attribute.Bool("recalc.dry_run", dry),
		attribute.Int("recalc.explicit_ids", len(opts.SaleIds)),
	))
	defer span.End()

	if !dry {
		lease, err := r.locker.Acquire(ctx, LockKey, lockTTL)
		if err != nil {
			if errors.Is(err, utils.ErrLockHeld) {
				return nil, err
			}
			return nil, utils.Internal("acquire margin lock", err)
		}
		defer lease.Release()
	}

	started := r.now()
	run := &models.BatchRun{
		Kind:        models.BatchKindMarginRecalc,
		Status:      models.BatchRunStatusRunning,
		TriggeredBy: opts.TriggeredBy,
		DryRun:      dry,
		StartedAt:   &started,
	}
	if run.TriggeredBy == "" {
		run.TriggeredBy = models.BatchTriggeredManual
	}
	if opts.Actor != nil {
		id := opts.Actor.UserId
		run.ActorId = &id
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, utils.Internal("record margin run", err)
	}

	res := &Result{DryRun: dry, RunId: run.ID, Changes: []Change{}, Errors: []RowError{}}
	if len(opts.SaleIds) > 0 {
		for _, id := range utils.UniqueSlice(utils.SplitAndTrim(strings.Join(opts.SaleIds, ","))) {
			res.Summary.Processed++
			sale, err := r.store.GetSale(ctx, id)
			if errors.Is(err, utils.ErrorRecordNotFound) {
				r.rowError(res, id, utils.KindNotFound, "sale not found")
				continue
			}
			if err != nil {
				r.rowError(res, id, utils.KindInternal, err.Error())
				continue
			}
			if sale.Lifecycle().State == models.LifecycleDeleted || sale.Status != models.SaleStatusActive {
				res.Summary.Skipped++
				continue
			}
			r.process(ctx, res, sale, dry)
		}
	} else {
		sales, err := r.store.FindSales(ctx, models.Query{
			Conds:   models.ActiveSales(models.Eq(models.ColStatus, models.SaleStatusActive)),
			OrderBy: models.ColCreatedAt,
		})
		if err != nil {
			return nil, utils.Internal("load sales", err)
		}
		for _, sale := range sales {
			res.Summary.Processed++
			r.process(ctx, res, sale, dry)
		}
	}
	res.Summary.Errors = len(res.Errors)

	r.finish(ctx, run, res, started)
	span.SetAttributes(
		attribute.Int("recalc.needs_update", res.Summary.NeedsUpdate),
		attribute.Int("recalc.updated", res.Summary.Updated),
	)
	return res, nil
}

func (r *Recalculator) process(ctx context.Context, res *Result, sale *models.Sale, dry bool) {
	computed := economics.Calculate(sale.MarginInputs())
	if !economics.Drifted(sale.GrossMargin, sale.CommissionableMargin, computed) {
		return
	}
	res.Summary.NeedsUpdate++
	change := Change{
		SaleId:                     sale.ID,
		ItemTitle:                  sale.ItemTitle,
		StoredGrossMargin:          sale.GrossMargin,
		StoredCommissionableMargin: sale.CommissionableMargin,
		GrossMargin:                computed.GrossMargin,
		CommissionableMargin:       computed.CommissionableMargin,
	}
	if dry {
		res.Changes = append(res.Changes, change)
		return
	}

	guards := models.ActiveSales(
		decimalGuard(models.ColGrossMargin, sale.GrossMargin),
		decimalGuard(models.ColCommissionableMargin, sale.CommissionableMargin),
	)
	ok, err := r.store.UpdateSale(ctx, sale.ID, guards, map[string]interface{}{
		models.ColGrossMargin:          computed.GrossMargin,
		models.ColCommissionableMargin: computed.CommissionableMargin,
	})
	switch {
	case err != nil:
		r.rowError(res, sale.ID, utils.KindInternal, err.Error())
	case !ok:
		// the row moved since it was read; its own write recomputed the margins
		res.Summary.Skipped++
	default:
		change.Applied = true
		res.Summary.Updated++
	}
	res.Changes = append(res.Changes, change)
}

// decimalGuard matches the stored value observed before the write.
func decimalGuard(col string, observed *decimal.Decimal) models.Cond {
	if observed == nil {
		return models.IsNull(col)
	}
	return models.Eq(col, *observed)
}

func (r *Recalculator) rowError(res *Result, saleId string, kind utils.ErrorKind, msg string) {
	res.Errors = append(res.Errors, RowError{SaleId: saleId, Code: string(kind), Message: msg})
	r.logger.WithFields(logrus.Fields{"module": moduleName, "sale_id": saleId, "code": kind}).Warn(msg)
}

func (r *Recalculator) finish(ctx context.Context, run *models.BatchRun, res *Result, started time.Time) {
	finished := r.now()
	run.Checked = res.Summary.Processed
	run.Updated = res.Summary.Updated
	run.Skipped = res.Summary.Skipped
	run.ErrorCount = res.Summary.Errors
	run.Status = models.BatchStatus(res.Summary.Processed, res.Summary.Errors)
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(started).Milliseconds()

	rows := make([]models.BatchRunError, 0, len(res.Errors))
	for _, e := range res.Errors {
		rows = append(rows, models.BatchRunError{RunId: run.ID, SaleId: e.SaleId, ErrorCode: e.Code, Message: e.Message})
	}
	if err := r.store.FinishRun(context.WithoutCancel(ctx), run, rows); err != nil {
		config.LogError(r.logger, moduleName, "Recalculator.finish", "record run result", run.ID, err)
	}
	r.logger.WithFields(logrus.Fields{
		"module":       moduleName,
		"run_id":       run.ID,
		"dry_run":      res.DryRun,
		"processed":    res.Summary.Processed,
		"needs_update": res.Summary.NeedsUpdate,
		"updated":      res.Summary.Updated,
		"skipped":      res.Summary.Skipped,
		"errors":       res.Summary.Errors,
	}).Info("margin recalculation finished")
}
