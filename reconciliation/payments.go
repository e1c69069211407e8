package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const PaymentSyncLockKey = "payment-sync"

// SyncStore is what a payment poll reads, writes and records runs in.
type SyncStore interface {
	models.SaleStore
	models.RunStore
}

type SyncSummary struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

type ItemError struct {
	SaleId            string `json:"saleId"`
	ExternalInvoiceId string `json:"externalInvoiceId,omitempty"`
	Code              string `json:"code"`
	Message           string `json:"message"`
}

// SyncResult is returned for every poll, including ones with item failures.
// Success means the batch ran to the end; an interrupted run reports how many
// candidates it never reached.
type SyncResult struct {
	Success     bool        `json:"success"`
	RunId       uint        `json:"runId"`
	Summary     SyncSummary `json:"summary"`
	Errors      []ItemError `json:"errors"`
	Interrupted bool        `json:"interrupted,omitempty"`
	Remaining   int         `json:"remaining,omitempty"`
}

type PaymentSyncer struct {
	store   SyncStore
	fetcher InvoiceFetcher
	locker  utils.Locker
	logger  *logrus.Logger
	delay   time.Duration
	lockTTL time.Duration
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration)
}

func NewPaymentSyncer(store SyncStore, fetcher InvoiceFetcher, locker utils.Locker, s config.Settings, logger *logrus.Logger) *PaymentSyncer {
	if logger == nil {
		logger = config.GetLogger()
	}
	if locker == nil {
		locker = utils.NewLocalLocker()
	}
	lockTTL := s.PaymentSyncLockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &PaymentSyncer{
		store:   store,
		fetcher: fetcher,
		locker:  locker,
		logger:  logger,
		delay:   s.PaymentSyncDelay,
		lockTTL: lockTTL,
		now:     func() time.Time { return time.Now().UTC() },
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// candidates are active sales carrying an invoice id whose stored status is not PAID.
func candidateQuery() models.Query {
	return models.Query{
		Conds: models.ActiveSales(
			models.NotNull(models.ColExternalInvoiceId),
			models.Ne(models.ColExternalInvoiceId, ""),
			models.Ne(models.ColInvoiceStatus, models.InvoiceStatusPaid),
		),
		OrderBy: models.ColCreatedAt,
	}
}

// Run polls the ledger once for every candidate, one at a time with a fixed pause
// after each call. Item failures are collected and never stop the batch. A run
// already in progress elsewhere yields utils.ErrLockHeld.
func (p *PaymentSyncer) Run(ctx context.Context, trigger string, actor *auth.Identity) (*SyncResult, error) {
	if p.fetcher == nil {
		return nil, utils.ExternalSystem("ledger client is not configured", nil)
	}
	lease, err := p.locker.Acquire(ctx, PaymentSyncLockKey, p.lockTTL)
	if err != nil {
		if errors.Is(err, utils.ErrLockHeld) {
			return nil, err
		}
		return nil, utils.Internal("acquire payment sync lock", err)
	}
	defer lease.Release()
	refreshed := p.now()

	ctx, span := tracer.Start(ctx, "reconciliation.PaymentSync")
	defer span.End()

	sales, err := p.store.FindSales(ctx, candidateQuery())
	if err != nil {
		return nil, utils.Internal("load payment candidates", err)
	}

	started := p.now()
	run := &models.BatchRun{
		Kind:        models.BatchKindPaymentSync,
		Status:      models.BatchRunStatusRunning,
		TriggeredBy: trigger,
		StartedAt:   &started,
	}
	if actor != nil {
		id := actor.UserId
		run.ActorId = &id
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, utils.Internal("record payment sync run", err)
	}

	result := &SyncResult{Success: true, RunId: run.ID, Errors: []ItemError{}}
	for i, sale := range sales {
		if reason := p.keepGoing(ctx, lease, &refreshed); reason != "" {
			result.Success, result.Interrupted, result.Remaining = false, true, len(sales)-i
			p.logger.WithFields(logrus.Fields{"module": moduleName, "run_id": run.ID, "remaining": result.Remaining}).
				Warn("payment sync interrupted: " + reason)
			break
		}
		result.Summary.Checked++
		updated, itemErr := p.syncOne(ctx, sale)
		switch {
		case itemErr != nil:
			result.Errors = append(result.Errors, *itemErr)
			p.logger.WithFields(logrus.Fields{
				"module":      moduleName,
				"run_id":      run.ID,
				"sale_id":     itemErr.SaleId,
				"external_id": itemErr.ExternalInvoiceId,
				"code":        itemErr.Code,
			}).Warn(itemErr.Message)
		case updated:
			result.Summary.Updated++
		}
		if i < len(sales)-1 {
			p.sleep(ctx, p.delay)
		}
	}
	result.Summary.Errors = len(result.Errors)
	result.Summary.Skipped = result.Summary.Checked - result.Summary.Updated - result.Summary.Errors

	p.finish(ctx, run, result, started)
	span.SetAttributes(
		attribute.Int("sync.checked", result.Summary.Checked),
		attribute.Int("sync.updated", result.Summary.Updated),
		attribute.Int("sync.errors", result.Summary.Errors),
		attribute.Int("sync.remaining", result.Remaining),
	)
	return result, nil
}

// keepGoing returns why the run must stop, or "". The lease is extended once a
// third of its TTL has passed so long runs never outlive it.
func (p *PaymentSyncer) keepGoing(ctx context.Context, lease utils.Lease, refreshed *time.Time) string {
	if ctx.Err() != nil {
		return "context cancelled"
	}
	if p.now().Sub(*refreshed) < p.lockTTL/3 {
		return ""
	}
	if err := lease.Refresh(ctx, p.lockTTL); err != nil {
		return fmt.Sprintf("lock refresh failed: %v", err)
	}
	*refreshed = p.now()
	return ""
}

// syncOne reports whether the sale's status was written. A changed status is
// written only if the stored status is still the one read at the start of the run.
func (p *PaymentSyncer) syncOne(ctx context.Context, sale *models.Sale) (bool, *ItemError) {
	externalId := utils.DereferencePtr(sale.ExternalInvoiceId)
	fail := func(code, msg string) (bool, *ItemError) {
		return false, &ItemError{SaleId: sale.ID, ExternalInvoiceId: externalId, Code: code, Message: msg}
	}

	inv, err := p.fetcher.GetInvoice(ctx, externalId)
	if err != nil {
		return fail(string(utils.KindOf(err)), err.Error())
	}
	fresh := normalizeStatus(inv.Status)
	if fresh == "" {
		return fail("EMPTY_STATUS", "ledger returned no status")
	}
	stored := sale.InvoiceStatus
	if stored != nil && normalizeStatus(*stored) == fresh {
		return false, nil
	}

	statusGuard := models.IsNull(models.ColInvoiceStatus)
	if stored != nil {
		statusGuard = models.Eq(models.ColInvoiceStatus, *stored)
	}
	var paidDate interface{}
	if fresh == models.InvoiceStatusPaid {
		paidDate = p.now()
	}
	ok, err := p.store.UpdateSale(ctx, sale.ID, models.ActiveSales(statusGuard), map[string]interface{}{
		models.ColInvoiceStatus:   fresh,
		models.ColInvoicePaidDate: paidDate,
	})
	if err != nil {
		return fail(string(utils.KindInternal), fmt.Sprintf("update invoice status: %v", err))
	}
	return ok, nil
}

func (p *PaymentSyncer) finish(ctx context.Context, run *models.BatchRun, result *SyncResult, started time.Time) {
	finished := p.now()
	run.Checked = result.Summary.Checked
	run.Updated = result.Summary.Updated
	run.Skipped = result.Summary.Skipped
	run.ErrorCount = result.Summary.Errors
	run.Remaining = result.Remaining
	run.Status = models.BatchStatus(result.Summary.Checked, result.Summary.Errors)
	if result.Interrupted {
		run.Status = models.BatchRunStatusInterrupted
	}
	run.FinishedAt = &finished
	run.DurationMs = finished.Sub(started).Milliseconds()

	rows := make([]models.BatchRunError, 0, len(result.Errors))
	for _, e := range result.Errors {
		rows = append(rows, models.BatchRunError{
			RunId:      run.ID,
			SaleId:     e.SaleId,
			ExternalId: e.ExternalInvoiceId,
			ErrorCode:  e.Code,
			Message:    e.Message,
		})
	}
	if err := p.store.FinishRun(context.WithoutCancel(ctx), run, rows); err != nil {
		config.LogError(p.logger, moduleName, "PaymentSyncer.finish", "record run result", run.ID, err)
	}
	p.logger.WithFields(logrus.Fields{
		"module":      moduleName,
		"run_id":      run.ID,
		"status":      run.Status,
		"checked":     run.Checked,
		"updated":     run.Updated,
		"errors":      run.ErrorCount,
		"duration_ms": run.DurationMs,
	}).Info("payment sync finished")
}
