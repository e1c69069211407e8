package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmdatafocus/salesdesk_backend/auth"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

func strPtr(s string) *string { return &s }

type fixture struct {
	ctx    context.Context
	store  *models.MemoryStore
	engine *Engine
	s1, s2 auth.Identity
	s1Id   string
	s2Id   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := models.NewMemoryStore()
	f := &fixture{
		ctx:    ctx,
		store:  store,
		engine: NewEngine(store, nil),
		s1:     auth.Identity{UserId: "user-s1", Name: "S1", Role: auth.RoleShopper},
		s2:     auth.Identity{UserId: "user-s2", Name: "S2", Role: auth.RoleShopper},
	}
	sh1 := &models.Shopper{Name: "S1", UserId: strPtr("user-s1")}
	sh2 := &models.Shopper{Name: "S2", UserId: strPtr("user-s2")}
	require.NoError(t, store.CreateShopper(ctx, sh1))
	require.NoError(t, store.CreateShopper(ctx, sh2))
	f.s1Id, f.s2Id = sh1.ID, sh2.ID
	return f
}

func (f *fixture) poolSale(t *testing.T, buyerId *string) *models.Sale {
	t.Helper()
	s := &models.Sale{Source: models.SaleSourceExternalImport, NeedsAllocation: true, BuyerId: buyerId}
	require.NoError(t, f.store.CreateSale(f.ctx, s))
	return s
}

func ids(sales []*models.Sale) []string {
	out := make([]string, 0, len(sales))
	for _, s := range sales {
		out = append(out, s.ID)
	}
	return out
}

func TestIsClaimable(t *testing.T) {
	owner := "shopper-1"
	pool := &models.Sale{NeedsAllocation: true}
	assert.True(t, IsClaimable(pool, nil, "anyone"), "no buyer is open to anyone")
	assert.True(t, IsClaimable(pool, &models.Buyer{}, "anyone"), "unowned buyer is open to anyone")
	assert.True(t, IsClaimable(pool, &models.Buyer{OwnerId: &owner}, "shopper-1"))
	assert.False(t, IsClaimable(pool, &models.Buyer{OwnerId: &owner}, "shopper-2"))
	assert.False(t, IsClaimable(pool, &models.Buyer{OwnerId: &owner}, ""))

	now := time.Now()
	dismissed := true
	assert.False(t, IsClaimable(&models.Sale{NeedsAllocation: false}, nil, "x"))
	assert.False(t, IsClaimable(&models.Sale{NeedsAllocation: true, DeletedAt: &now}, nil, "x"))
	assert.False(t, IsClaimable(&models.Sale{NeedsAllocation: true, ShopperId: &owner}, nil, "x"))
	assert.False(t, IsClaimable(&models.Sale{NeedsAllocation: true, Dismissed: &dismissed}, nil, "x"))
}

func TestClaimableFollowsBuyerOwnership(t *testing.T) {
	f := newFixture(t)
	buyer := &models.Buyer{Name: "Client", OwnerId: &f.s1Id}
	require.NoError(t, f.store.CreateBuyer(f.ctx, buyer))
	owned := f.poolSale(t, &buyer.ID)
	open := f.poolSale(t, nil)

	res, err := f.engine.ClaimableSales(f.ctx, f.s1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{owned.ID, open.ID}, ids(res.Sales))
	assert.Equal(t, f.s1Id, *res.OwnerId)

	res, err = f.engine.ClaimableSales(f.ctx, f.s2)
	require.NoError(t, err)
	assert.Equal(t, []string{open.ID}, ids(res.Sales))

	// clearing the owner opens the sale to everyone
	require.NoError(t, f.store.SetBuyerOwner(f.ctx, buyer.ID, nil))
	res, err = f.engine.ClaimableSales(f.ctx, f.s2)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{owned.ID, open.ID}, ids(res.Sales))

	// the admin pool ignores ownership
	pool, err := f.engine.ListPool(f.ctx, false)
	require.NoError(t, err)
	assert.Len(t, pool, 2)
}

func TestClaimSetsOwnerAndLeavesPool(t *testing.T) {
	f := newFixture(t)
	s := f.poolSale(t, nil)

	claimed, err := f.engine.Claim(f.ctx, s.ID, f.s1)
	require.NoError(t, err)
	assert.Equal(t, f.s1Id, *claimed.ShopperId)

	stored, err := f.store.GetSale(f.ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.NeedsAllocation)
	assert.NotNil(t, stored.AllocatedAt)

	_, err = f.engine.Claim(f.ctx, s.ID, f.s2)
	require.Error(t, err)
	assert.Equal(t, "already claimed", utils.PublicMessage(err))
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	f := newFixture(t)
	s := f.poolSale(t, nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i, who := range []auth.Identity{f.s1, f.s2} {
		wg.Add(1)
		go func(i int, who auth.Identity) {
			defer wg.Done()
			_, results[i] = f.engine.Claim(f.ctx, s.ID, who)
		}(i, who)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.True(t, utils.IsKind(err, utils.KindValidation))
		}
	}
	assert.Equal(t, 1, wins)
}

func TestClaimRejectsOtherOwnersBuyer(t *testing.T) {
	f := newFixture(t)
	buyer := &models.Buyer{Name: "Client", OwnerId: &f.s1Id}
	require.NoError(t, f.store.CreateBuyer(f.ctx, buyer))
	s := f.poolSale(t, &buyer.ID)

	_, err := f.engine.Claim(f.ctx, s.ID, f.s2)
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = f.engine.Claim(f.ctx, s.ID, auth.Identity{UserId: "no-profile", Role: auth.RoleOperations})
	assert.True(t, utils.IsKind(err, utils.KindValidation))

	_, err = f.engine.Claim(f.ctx, "missing", f.s1)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))
}

func TestDismissPreconditions(t *testing.T) {
	f := newFixture(t)
	ops := auth.Identity{UserId: "u-ops", Name: "Ops", Role: auth.RoleOperations}

	allocated := &models.Sale{Source: models.SaleSourceAuthored, NeedsAllocation: false}
	require.NoError(t, f.store.CreateSale(f.ctx, allocated))
	_, err := f.engine.Dismiss(f.ctx, allocated.ID, ops)
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindValidation))
	assert.Equal(t, "not allocatable", utils.PublicMessage(err))

	_, err = f.engine.Dismiss(f.ctx, "missing", ops)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	s := f.poolSale(t, nil)
	dismissed, err := f.engine.Dismiss(f.ctx, s.ID, ops)
	require.NoError(t, err)
	assert.True(t, dismissed.IsDismissed())

	stored, err := f.store.GetSale(f.ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDismissed())
	assert.Equal(t, "Ops", *stored.DismissedBy)
	assert.Nil(t, stored.DeletedAt, "dismissing never soft-deletes")
	assert.True(t, stored.NeedsAllocation)

	_, err = f.engine.Dismiss(f.ctx, s.ID, ops)
	assert.True(t, utils.IsKind(err, utils.KindValidation), "second dismiss tells the client the state moved")

	pool, err := f.engine.ListPool(f.ctx, false)
	require.NoError(t, err)
	assert.NotContains(t, ids(pool), s.ID)
	pool, err = f.engine.ListPool(f.ctx, true)
	require.NoError(t, err)
	assert.Contains(t, ids(pool), s.ID)

	_, err = f.engine.Undismiss(f.ctx, s.ID)
	require.NoError(t, err)
	stored, err = f.store.GetSale(f.ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsDismissed())
	assert.Nil(t, stored.DismissedAt)

	_, err = f.engine.Undismiss(f.ctx, s.ID)
	assert.True(t, utils.IsKind(err, utils.KindValidation))
}

func TestRestorePreconditions(t *testing.T) {
	f := newFixture(t)
	admin := auth.Identity{UserId: "u-admin", Role: auth.RoleAdmin}

	live := &models.Sale{Source: models.SaleSourceAuthored}
	require.NoError(t, f.store.CreateSale(f.ctx, live))
	_, err := f.engine.Restore(f.ctx, live.ID, admin)
	require.Error(t, err)
	assert.Equal(t, "not deleted", utils.PublicMessage(err))

	_, err = f.engine.Restore(f.ctx, "missing", admin)
	assert.True(t, utils.IsKind(err, utils.KindNotFound))

	deletedAt := time.Now().UTC()
	gone := &models.Sale{Source: models.SaleSourceExternalImport, NeedsAllocation: true, DeletedAt: &deletedAt}
	require.NoError(t, f.store.CreateSale(f.ctx, gone))

	pool, err := f.engine.ListPool(f.ctx, true)
	require.NoError(t, err)
	assert.NotContains(t, ids(pool), gone.ID)

	restored, err := f.engine.Restore(f.ctx, gone.ID, admin)
	require.NoError(t, err)
	assert.Nil(t, restored.DeletedAt)

	active, err := f.store.FindSales(f.ctx, models.Query{Conds: models.ActiveSales()})
	require.NoError(t, err)
	assert.Contains(t, ids(active), gone.ID, "restored sale reappears in active views")

	linked := &models.Sale{Source: models.SaleSourceExternalImport, DeletedAt: &deletedAt, LinkedIntoSaleId: strPtr(live.ID)}
	require.NoError(t, f.store.CreateSale(f.ctx, linked))
	_, err = f.engine.Restore(f.ctx, linked.ID, admin)
	assert.True(t, utils.IsKind(err, utils.KindValidation))
}
