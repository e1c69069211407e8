package models_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

func strPtr(s string) *string { return &s }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// runStoreContract exercises the behaviour every Store implementation must share.
func runStoreContract(t *testing.T, store models.Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := &models.Sale{Source: models.SaleSourceAuthored, BuyPrice: decPtr("100.50")}
		require.NoError(t, store.CreateSale(ctx, s))
		require.NotEmpty(t, s.ID)

		got, err := store.GetSale(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SaleStatusActive, got.Status)
		assert.True(t, got.BuyPrice.Equal(decimal.RequireFromString("100.5")))
		assert.False(t, got.IsDismissed())

		_, err = store.GetSale(ctx, "00000000-0000-0000-0000-000000000000")
		assert.True(t, errors.Is(err, utils.ErrorRecordNotFound))
	})

	t.Run("guarded update is compare and set", func(t *testing.T) {
		s := &models.Sale{Source: models.SaleSourceExternalImport, NeedsAllocation: true}
		require.NoError(t, store.CreateSale(ctx, s))

		guards := []models.Cond{models.IsNull(models.ColShopperId), models.IsNull(models.ColDeletedAt)}
		ok, err := store.UpdateSale(ctx, s.ID, guards, map[string]interface{}{models.ColShopperId: "shopper-1"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = store.UpdateSale(ctx, s.ID, guards, map[string]interface{}{models.ColShopperId: "shopper-2"})
		require.NoError(t, err)
		assert.False(t, ok, "second claimant must not match")

		got, err := store.GetSale(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "shopper-1", *got.ShopperId)
	})

	t.Run("ne matches null and not true matches null or false", func(t *testing.T) {
		paid := &models.Sale{Source: models.SaleSourceAuthored, ExternalInvoiceId: strPtr("inv-paid"), InvoiceStatus: strPtr(models.InvoiceStatusPaid)}
		open := &models.Sale{Source: models.SaleSourceAuthored, ExternalInvoiceId: strPtr("inv-open"), InvoiceStatus: strPtr(models.InvoiceStatusAuthorised)}
		blank := &models.Sale{Source: models.SaleSourceAuthored, ExternalInvoiceId: strPtr("inv-blank")}
		for _, s := range []*models.Sale{paid, open, blank} {
			require.NoError(t, store.CreateSale(ctx, s))
		}
		sales, err := store.FindSales(ctx, models.Query{Conds: []models.Cond{
			models.In(models.ColId, []string{paid.ID, open.ID, blank.ID}),
			models.Ne(models.ColInvoiceStatus, models.InvoiceStatusPaid),
			models.NotTrue(models.ColDismissed),
		}})
		require.NoError(t, err)
		ids := []string{}
		for _, s := range sales {
			ids = append(ids, s.ID)
		}
		assert.ElementsMatch(t, []string{open.ID, blank.ID}, ids)
	})

	t.Run("null assignment and lifecycle", func(t *testing.T) {
		now := time.Now().UTC().Truncate(time.Second)
		s := &models.Sale{Source: models.SaleSourceAuthored, DeletedAt: &now}
		require.NoError(t, store.CreateSale(ctx, s))
		got, err := store.GetSale(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LifecycleDeleted, got.Lifecycle().State)

		ok, err := store.UpdateSale(ctx, s.ID, []models.Cond{models.NotNull(models.ColDeletedAt)}, map[string]interface{}{models.ColDeletedAt: nil})
		require.NoError(t, err)
		require.True(t, ok)
		got, err = store.GetSale(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, models.LifecycleActive, got.Lifecycle().State)
		assert.Nil(t, got.DeletedAt)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		s := &models.Sale{Source: models.SaleSourceAuthored}
		require.NoError(t, store.CreateSale(ctx, s))
		boom := errors.New("boom")
		err := store.Transaction(ctx, func(tx models.SaleStore) error {
			ok, err := tx.UpdateSale(ctx, s.ID, nil, map[string]interface{}{models.ColItemTitle: "changed"})
			require.NoError(t, err)
			require.True(t, ok)
			return boom
		})
		assert.ErrorIs(t, err, boom)
		got, err := store.GetSale(ctx, s.ID)
		require.NoError(t, err)
		assert.Equal(t, "", got.ItemTitle)
	})

	t.Run("one row per source and external invoice", func(t *testing.T) {
		imp := &models.Sale{Source: models.SaleSourceExternalImport, ExternalInvoiceId: strPtr("inv-uniq")}
		require.NoError(t, store.CreateSale(ctx, imp))
		dup := &models.Sale{Source: models.SaleSourceExternalImport, ExternalInvoiceId: strPtr("inv-uniq")}
		assert.ErrorIs(t, store.CreateSale(ctx, dup), models.ErrDuplicateExternalInvoice)

		// the authored sale an import is linked into carries the same id
		target := &models.Sale{Source: models.SaleSourceAuthored}
		require.NoError(t, store.CreateSale(ctx, target))
		ok, err := store.UpdateSale(ctx, target.ID, nil, map[string]interface{}{models.ColExternalInvoiceId: "inv-uniq"})
		require.NoError(t, err)
		assert.True(t, ok)

		other := &models.Sale{Source: models.SaleSourceAuthored}
		require.NoError(t, store.CreateSale(ctx, other))
		_, err = store.UpdateSale(ctx, other.ID, nil, map[string]interface{}{models.ColExternalInvoiceId: "inv-uniq"})
		assert.ErrorIs(t, err, models.ErrDuplicateExternalInvoice)
		got, err := store.GetSale(ctx, other.ID)
		require.NoError(t, err)
		assert.Nil(t, got.ExternalInvoiceId)
	})

	t.Run("unknown columns are rejected", func(t *testing.T) {
		_, err := store.FindSales(ctx, models.Query{Conds: []models.Cond{models.Eq("1=1; DROP TABLE sales; --", 1)}})
		assert.Error(t, err)
		_, err = store.UpdateSale(ctx, "x", nil, map[string]interface{}{"id": "y"})
		assert.Error(t, err)
	})

	t.Run("buyers and shoppers", func(t *testing.T) {
		b := &models.Buyer{Name: "Client A", OwnerId: strPtr("shopper-9")}
		require.NoError(t, store.CreateBuyer(ctx, b))
		found, err := store.FindBuyers(ctx, []string{b.ID, "missing"})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "shopper-9", *found[b.ID].OwnerId)

		require.NoError(t, store.SetBuyerOwner(ctx, b.ID, nil))
		cleared, err := store.GetBuyer(ctx, b.ID)
		require.NoError(t, err)
		assert.Nil(t, cleared.OwnerId)

		sh := &models.Shopper{Name: "S", UserId: strPtr("user-77")}
		require.NoError(t, store.CreateShopper(ctx, sh))
		got, err := store.FindShopperByUser(ctx, "user-77")
		require.NoError(t, err)
		assert.Equal(t, sh.ID, got.ID)
		_, err = store.FindShopperByUser(ctx, "nobody")
		assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
	})

	t.Run("runs", func(t *testing.T) {
		started := time.Now().UTC()
		run := &models.BatchRun{Kind: models.BatchKindPaymentSync, Status: models.BatchRunStatusRunning, TriggeredBy: models.BatchTriggeredManual, StartedAt: &started}
		require.NoError(t, store.CreateRun(ctx, run))
		require.NotZero(t, run.ID)

		run.Status = models.BatchRunStatusPartial
		run.Checked, run.Updated, run.ErrorCount, run.Remaining = 5, 2, 1, 3
		require.NoError(t, store.FinishRun(ctx, run, []models.BatchRunError{{SaleId: "s-3", ErrorCode: "EXTERNAL_SYSTEM", Message: "timeout"}}))

		got, errs, err := store.GetRun(ctx, run.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BatchRunStatusPartial, got.Status)
		assert.Equal(t, 5, got.Checked)
		assert.Equal(t, 3, got.Remaining)
		require.Len(t, errs, 1)
		assert.Equal(t, "s-3", errs[0].SaleId)

		runs, err := store.ListRuns(ctx, models.BatchKindPaymentSync, 10)
		require.NoError(t, err)
		require.NotEmpty(t, runs)
		assert.Equal(t, run.ID, runs[0].ID)
	})

	t.Run("idempotency", func(t *testing.T) {
		skip, err := store.BeginIdempotency(ctx, "payment-sync", "msg-1")
		require.NoError(t, err)
		assert.False(t, skip)

		_, err = store.BeginIdempotency(ctx, "payment-sync", "msg-1")
		assert.ErrorIs(t, err, models.ErrIdempotencyInProgress)

		require.NoError(t, store.MarkIdempotencySucceeded(ctx, "payment-sync", "msg-1"))
		skip, err = store.BeginIdempotency(ctx, "payment-sync", "msg-1")
		require.NoError(t, err)
		assert.True(t, skip)

		_, err = store.BeginIdempotency(ctx, "payment-sync", "msg-2")
		require.NoError(t, err)
		require.NoError(t, store.MarkIdempotencyFailed(ctx, "payment-sync", "msg-2", errors.New("ledger down")))
		skip, err = store.BeginIdempotency(ctx, "payment-sync", "msg-2")
		require.NoError(t, err)
		assert.False(t, skip, "failed messages are retried")
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, models.NewMemoryStore())
}

func TestFindSalesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	var ids []string
	for i := 0; i < 3; i++ {
		s := &models.Sale{Source: models.SaleSourceAuthored}
		require.NoError(t, store.CreateSale(ctx, s))
		ids = append(ids, s.ID)
	}
	sales, err := store.FindSales(ctx, models.Query{OrderBy: models.ColCreatedAt, Desc: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, sales, 2)
	assert.Equal(t, ids[2], sales[0].ID)
	assert.Equal(t, ids[1], sales[1].ID)
}

func TestBatchStatus(t *testing.T) {
	assert.Equal(t, models.BatchRunStatusSuccess, models.BatchStatus(5, 0))
	assert.Equal(t, models.BatchRunStatusPartial, models.BatchStatus(5, 1))
	assert.Equal(t, models.BatchRunStatusFailed, models.BatchStatus(5, 5))
	assert.Equal(t, models.BatchRunStatusSuccess, models.BatchStatus(0, 0))
}

func TestPendingMigrationsInVersionOrder(t *testing.T) {
	pending := models.PendingMigrations(models.Migrations, map[int]bool{1: true, 3: true})
	versions := []int{}
	for _, m := range pending {
		versions = append(versions, m.Version)
	}
	assert.Equal(t, []int{2, 4, 5, 6, 7, 8}, versions)

	seen := map[int]bool{}
	for _, m := range models.Migrations {
		require.False(t, seen[m.Version], "duplicate migration version %d", m.Version)
		seen[m.Version] = true
		require.NotNil(t, m.Up)
	}
}
