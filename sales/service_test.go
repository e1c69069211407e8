package sales

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/salesdesk_backend/allocation"
	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/money"
	"github.com/mmdatafocus/salesdesk_backend/reconciliation"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

func amt(s string) *money.Amount {
	return &money.Amount{Decimal: decimal.RequireFromString(s)}
}

var ops = auth.Identity{UserId: "u-ops", Name: "Ops", Role: auth.RoleOperations}

func TestCreateAuthoredComputesMargins(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	svc := NewService(store, nil)

	sale, err := svc.CreateAuthored(ctx, NewSale{
		ItemTitle:            "Birkin 25",
		BuyPrice:             amt("18000"),
		SaleAmountExVat:      amt("23000"),
		IntroducerCommission: amt("400"),
	}, ops)
	require.NoError(t, err)
	assert.Equal(t, models.SaleSourceAuthored, sale.Source)
	assert.True(t, sale.NeedsAllocation, "no shopper means the sale waits for allocation")
	assert.Equal(t, "5000.00", sale.GrossMargin.StringFixed(2))
	assert.Equal(t, "4600.00", sale.CommissionableMargin.StringFixed(2))

	stored, err := store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ops", *stored.CreatedBy)
}

func TestCreateAuthoredValidation(t *testing.T) {
	svc := NewService(models.NewMemoryStore(), nil)
	_, err := svc.CreateAuthored(context.Background(), NewSale{}, ops)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	missing := "7f0c4c1e-8d7e-4a52-9f43-3f0a3b6cf001"
	_, err = svc.CreateAuthored(context.Background(), NewSale{ItemTitle: "x", BuyerId: &missing}, ops)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestRecordImportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewService(models.NewMemoryStore(), nil)
	in := NewImport{ExternalInvoiceId: "xero-1", ExternalInvoiceNumber: "INV-001", InvoiceStatus: "authorised", SaleAmountExVat: amt("1000")}

	first, created, err := svc.RecordImport(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.SaleSourceExternalImport, first.Source)
	assert.True(t, first.NeedsAllocation)
	assert.Equal(t, models.InvoiceStatusAuthorised, *first.InvoiceStatus)

	second, created, err := svc.RecordImport(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestRecordImportAfterLinkDoesNotRefillPool(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	svc := NewService(store, nil)
	target, err := svc.CreateAuthored(ctx, NewSale{ItemTitle: "Kelly 28"}, ops)
	require.NoError(t, err)
	in := NewImport{ExternalInvoiceId: "xero-1", InvoiceStatus: "authorised"}
	imp, created, err := svc.RecordImport(ctx, in)
	require.NoError(t, err)
	require.True(t, created)
	_, err = reconciliation.NewLinker(store, nil, nil).Link(ctx, target.ID, imp.ID, ops)
	require.NoError(t, err)

	again, created, err := svc.RecordImport(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, target.ID, again.ID, "the invoice now lives on the authored sale")

	active, err := store.FindSales(ctx, models.Query{Conds: models.ActiveSales(models.Eq(models.ColExternalInvoiceId, "xero-1"))})
	require.NoError(t, err)
	assert.Len(t, active, 1)
	pool, err := allocation.NewEngine(store, nil).ListPool(ctx, true)
	require.NoError(t, err)
	for _, p := range pool {
		assert.NotEqual(t, models.SaleSourceExternalImport, p.Source, "import %s back in the pool", p.ID)
	}
}

func TestRecordImportReturnsRetiredImport(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	svc := NewService(store, nil)
	first, _, err := svc.RecordImport(ctx, NewImport{ExternalInvoiceId: "xero-9"})
	require.NoError(t, err)
	_, err = store.UpdateSale(ctx, first.ID, nil, map[string]interface{}{models.ColDeletedAt: time.Now()})
	require.NoError(t, err)

	again, created, err := svc.RecordImport(ctx, NewImport{ExternalInvoiceId: " xero-9 "})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, models.LifecycleDeleted, again.Lifecycle().State)
}

// blindStore hides existing rows from the first lookups, as a concurrent insert
// that committed after the read would.
type blindStore struct {
	*models.MemoryStore
	misses int
}

func (b *blindStore) FindSales(ctx context.Context, q models.Query) ([]*models.Sale, error) {
	if b.misses > 0 {
		b.misses--
		return nil, nil
	}
	return b.MemoryStore.FindSales(ctx, q)
}

func TestRecordImportLosingInsertReturnsWinner(t *testing.T) {
	ctx := context.Background()
	store := &blindStore{MemoryStore: models.NewMemoryStore()}
	winner, created, err := NewService(store.MemoryStore, nil).RecordImport(ctx, NewImport{ExternalInvoiceId: "xero-2"})
	require.NoError(t, err)
	require.True(t, created)

	store.misses = 1
	got, created, err := NewService(store, nil).RecordImport(ctx, NewImport{ExternalInvoiceId: "xero-2"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.ID, got.ID)

	all, err := store.MemoryStore.FindSales(ctx, models.Query{Conds: []models.Cond{models.Eq(models.ColExternalInvoiceId, "xero-2")}})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestUpdateCommercialsRecomputes(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	svc := NewService(store, nil)
	sale, err := svc.CreateAuthored(ctx, NewSale{ItemTitle: "Kelly", BuyPrice: amt("18000"), SaleAmountExVat: amt("23000")}, ops)
	require.NoError(t, err)

	updated, err := svc.UpdateCommercials(ctx, sale.ID, CommercialPatch{ShippingCost: amt("120.005"), CardFees: amt("79.99")})
	require.NoError(t, err)
	assert.Equal(t, "5000.00", updated.GrossMargin.StringFixed(2), "costs never touch gross margin")
	// 5000 - 120.01 - 79.99
	assert.Equal(t, "4800.00", updated.CommissionableMargin.StringFixed(2))

	stored, err := store.GetSale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "4800.00", stored.CommissionableMargin.StringFixed(2))
	assert.Equal(t, "120.01", stored.ShippingCost.StringFixed(2))
}

func TestUpdateCommercialsPreconditions(t *testing.T) {
	ctx := context.Background()
	store := models.NewMemoryStore()
	svc := NewService(store, nil)

	_, err := svc.UpdateCommercials(ctx, "missing", CommercialPatch{BuyPrice: amt("1")})
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	_, err = svc.UpdateCommercials(ctx, "missing", CommercialPatch{})
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	deletedAt := time.Now()
	s := &models.Sale{Source: models.SaleSourceAuthored, DeletedAt: &deletedAt}
	require.NoError(t, store.CreateSale(ctx, s))
	_, err = svc.UpdateCommercials(ctx, s.ID, CommercialPatch{BuyPrice: amt("1")})
	assert.True(t, utils.IsKind(err, utils.KindValidation))
}

func TestCompleteOnlyOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(models.NewMemoryStore(), nil)
	sale, err := svc.CreateAuthored(ctx, NewSale{ItemTitle: "Constance"}, ops)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, sale.ID, ops)
	require.NoError(t, err)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "Ops", *done.CompletedBy)

	_, err = svc.Complete(ctx, sale.ID, ops)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = svc.Complete(ctx, "missing", ops)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}
