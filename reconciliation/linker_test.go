package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/ledger"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

var founder = auth.Identity{UserId: "u-founder", Role: auth.RoleFounder}

func strPtr(s string) *string { return &s }

type fakeFetcher struct {
	mu       sync.Mutex
	invoices map[string]*ledger.Invoice
	errs     map[string]error
	calls    []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{invoices: map[string]*ledger.Invoice{}, errs: map[string]error{}}
}

func (f *fakeFetcher) GetInvoice(_ context.Context, id string) (*ledger.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id)
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	inv, ok := f.invoices[id]
	if !ok {
		return nil, utils.NotFound("invoice not found in ledger")
	}
	c := *inv
	return &c, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingStore fails the nth UpdateSale, counting calls made inside transactions too.
type failingStore struct {
	models.SaleStore
	failOn  int
	counter *int
}

func newFailingStore(inner models.SaleStore, failOn int) *failingStore {
	return &failingStore{SaleStore: inner, failOn: failOn, counter: new(int)}
}

func (f *failingStore) UpdateSale(ctx context.Context, id string, guards []models.Cond, changes map[string]interface{}) (bool, error) {
	*f.counter++
	if *f.counter == f.failOn {
		return false, errors.New("connection reset")
	}
	return f.SaleStore.UpdateSale(ctx, id, guards, changes)
}

func (f *failingStore) Transaction(ctx context.Context, fn func(tx models.SaleStore) error) error {
	return f.SaleStore.Transaction(ctx, func(tx models.SaleStore) error {
		return fn(&failingStore{SaleStore: tx, failOn: f.failOn, counter: f.counter})
	})
}

type linkFixture struct {
	ctx    context.Context
	store  *models.MemoryStore
	target *models.Sale
	imp    *models.Sale
}

func newLinkFixture(t *testing.T) *linkFixture {
	t.Helper()
	ctx := context.Background()
	store := models.NewMemoryStore()
	target := &models.Sale{Source: models.SaleSourceAuthored, ItemTitle: "Kelly 28"}
	paid := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	imp := &models.Sale{
		Source:                models.SaleSourceExternalImport,
		NeedsAllocation:       true,
		ExternalInvoiceId:     strPtr("inv-1"),
		ExternalInvoiceNumber: strPtr("INV-0001"),
		ExternalInvoiceUrl:    strPtr("https://ledger.example/inv-1"),
		InvoiceStatus:         strPtr(models.InvoiceStatusPaid),
		InvoicePaidDate:       &paid,
	}
	require.NoError(t, store.CreateSale(ctx, target))
	require.NoError(t, store.CreateSale(ctx, imp))
	return &linkFixture{ctx: ctx, store: store, target: target, imp: imp}
}

func (f *linkFixture) reload(t *testing.T, id string) *models.Sale {
	t.Helper()
	s, err := f.store.GetSale(f.ctx, id)
	require.NoError(t, err)
	return s
}

func TestLinkCopiesInvoiceFieldsAndRetiresImport(t *testing.T) {
	f := newLinkFixture(t)
	res, err := NewLinker(f.store, nil, nil).Link(f.ctx, f.target.ID, f.imp.ID, founder)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "INV-0001", *res.ExternalInvoiceNumber)

	target := f.reload(t, f.target.ID)
	assert.Equal(t, "inv-1", *target.ExternalInvoiceId)
	assert.Equal(t, "INV-0001", *target.ExternalInvoiceNumber)
	assert.Equal(t, "https://ledger.example/inv-1", *target.ExternalInvoiceUrl)
	assert.Equal(t, models.InvoiceStatusPaid, *target.InvoiceStatus)
	assert.True(t, target.InvoicePaidDate.Equal(*f.imp.InvoicePaidDate))
	assert.Equal(t, f.imp.ID, *target.LinkedImportId)
	assert.NotNil(t, target.LinkedAt)
	assert.Equal(t, models.LifecycleActive, target.Lifecycle().State)

	imp := f.reload(t, f.imp.ID)
	assert.Equal(t, models.LifecycleDeleted, imp.Lifecycle().State)
	assert.Equal(t, f.target.ID, *imp.LinkedIntoSaleId)
}

func TestLinkPreconditions(t *testing.T) {
	f := newLinkFixture(t)
	now := time.Now()
	otherAuthored := &models.Sale{Source: models.SaleSourceAuthored}
	deletedImport := &models.Sale{Source: models.SaleSourceExternalImport, DeletedAt: &now}
	deletedTarget := &models.Sale{Source: models.SaleSourceAuthored, DeletedAt: &now}
	for _, s := range []*models.Sale{otherAuthored, deletedImport, deletedTarget} {
		require.NoError(t, f.store.CreateSale(f.ctx, s))
	}
	linker := NewLinker(f.store, nil, nil)

	cases := []struct {
		name     string
		targetId string
		importId string
		kind     utils.ErrorKind
		msg      string
	}{
		{"missing target", "nope", f.imp.ID, utils.KindNotFound, "target sale not found"},
		{"missing import", f.target.ID, "nope", utils.KindNotFound, "import record not found"},
		{"target is an import", f.imp.ID, deletedImport.ID, utils.KindValidation, "target is not an authored sale"},
		{"target deleted", deletedTarget.ID, f.imp.ID, utils.KindValidation, "target sale is deleted"},
		{"source is authored", f.target.ID, otherAuthored.ID, utils.KindValidation, "source is not an external import"},
		{"source already deleted", f.target.ID, deletedImport.ID, utils.KindValidation, "already linked or deleted"},
		{"self link", f.target.ID, f.target.ID, utils.KindValidation, "a sale cannot be linked to itself"},
		{"empty import id", f.target.ID, " ", utils.KindValidation, "externalImportId is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := linker.Link(f.ctx, tc.targetId, tc.importId, founder)
			require.Error(t, err)
			assert.Equal(t, tc.kind, utils.KindOf(err))
			assert.Equal(t, tc.msg, utils.PublicMessage(err))
		})
	}
	assert.Equal(t, models.LifecycleActive, f.reload(t, f.imp.ID).Lifecycle().State)
}

func TestLinkSameImportTwice(t *testing.T) {
	f := newLinkFixture(t)
	linker := NewLinker(f.store, nil, nil)
	_, err := linker.Link(f.ctx, f.target.ID, f.imp.ID, founder)
	require.NoError(t, err)

	_, err = linker.Link(f.ctx, f.target.ID, f.imp.ID, founder)
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindValidation))
	assert.Equal(t, "already linked or deleted", utils.PublicMessage(err))
}

func TestRelinkOverwritesPreviousInvoice(t *testing.T) {
	f := newLinkFixture(t)
	second := &models.Sale{
		Source:                models.SaleSourceExternalImport,
		ExternalInvoiceId:     strPtr("inv-2"),
		ExternalInvoiceNumber: strPtr("INV-0002"),
		InvoiceStatus:         strPtr(models.InvoiceStatusAuthorised),
	}
	require.NoError(t, f.store.CreateSale(f.ctx, second))
	linker := NewLinker(f.store, nil, nil)

	_, err := linker.Link(f.ctx, f.target.ID, f.imp.ID, founder)
	require.NoError(t, err)
	res, err := linker.Link(f.ctx, f.target.ID, second.ID, founder)
	require.NoError(t, err)
	assert.Equal(t, "INV-0002", *res.ExternalInvoiceNumber)

	target := f.reload(t, f.target.ID)
	assert.Equal(t, "inv-2", *target.ExternalInvoiceId)
	assert.Nil(t, target.ExternalInvoiceUrl)
	assert.Equal(t, models.InvoiceStatusAuthorised, *target.InvoiceStatus)
	assert.Nil(t, target.InvoicePaidDate)
	assert.Equal(t, second.ID, *target.LinkedImportId)

	// the first import stays retired
	assert.Equal(t, models.LifecycleDeleted, f.reload(t, f.imp.ID).Lifecycle().State)
	assert.Equal(t, models.LifecycleDeleted, f.reload(t, second.ID).Lifecycle().State)
}

func TestLinkIsAtomic(t *testing.T) {
	for _, failOn := range []int{1, 2} {
		f := newLinkFixture(t)
		linker := NewLinker(newFailingStore(f.store, failOn), nil, nil)

		_, err := linker.Link(f.ctx, f.target.ID, f.imp.ID, founder)
		require.Error(t, err)
		assert.True(t, utils.IsKind(err, utils.KindInternal), "failOn=%d", failOn)

		assert.Nil(t, f.reload(t, f.target.ID).ExternalInvoiceId, "failOn=%d", failOn)
		imp := f.reload(t, f.imp.ID)
		assert.Nil(t, imp.DeletedAt, "failOn=%d", failOn)
		assert.Nil(t, imp.LinkedIntoSaleId, "failOn=%d", failOn)
	}
}

func TestConcurrentLinksOfOneImport(t *testing.T) {
	f := newLinkFixture(t)
	other := &models.Sale{Source: models.SaleSourceAuthored}
	require.NoError(t, f.store.CreateSale(f.ctx, other))
	linker := NewLinker(f.store, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, target := range []string{f.target.ID, other.ID} {
		wg.Add(1)
		go func(i int, target string) {
			defer wg.Done()
			_, errs[i] = linker.Link(f.ctx, target, f.imp.ID, founder)
		}(i, target)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, utils.IsKind(err, utils.KindValidation))
	}
	assert.Equal(t, 1, wins)
}

func TestLinkReadsFreshStatus(t *testing.T) {
	f := newLinkFixture(t)
	_, err := f.store.UpdateSale(f.ctx, f.imp.ID, nil, map[string]interface{}{
		models.ColInvoiceStatus:   models.InvoiceStatusAuthorised,
		models.ColInvoicePaidDate: nil,
	})
	require.NoError(t, err)
	fetcher := newFakeFetcher()
	fetcher.invoices["inv-1"] = &ledger.Invoice{ID: "inv-1", Status: "paid"}
	linker := NewLinker(f.store, fetcher, nil)
	fixed := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	linker.now = func() time.Time { return fixed }

	_, err = linker.Link(f.ctx, f.target.ID, f.imp.ID, founder)
	require.NoError(t, err)
	target := f.reload(t, f.target.ID)
	assert.Equal(t, models.InvoiceStatusPaid, *target.InvoiceStatus)
	require.NotNil(t, target.InvoicePaidDate)
	assert.True(t, target.InvoicePaidDate.Equal(fixed))
}

func TestLinkAbortsOnLedgerFailure(t *testing.T) {
	f := newLinkFixture(t)
	fetcher := newFakeFetcher()
	fetcher.errs["inv-1"] = utils.ExternalSystem("ledger request failed", errors.New("timeout"))

	_, err := NewLinker(f.store, fetcher, nil).Link(f.ctx, f.target.ID, f.imp.ID, founder)
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindExternalSystem))
	assert.Equal(t, models.LifecycleActive, f.reload(t, f.imp.ID).Lifecycle().State)
	assert.Nil(t, f.reload(t, f.target.ID).ExternalInvoiceId)
}
