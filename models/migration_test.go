package models

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/schema"
)

func columnsOf(t *testing.T, model interface{}) (string, []string) {
	t.Helper()
	s, err := schema.Parse(model, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	cols := append([]string(nil), s.DBNames...)
	sort.Strings(cols)
	return s.Table, cols
}

// union of the columns the migrations create for each table
func migratedColumns(t *testing.T, snapshots ...interface{}) (string, []string) {
	t.Helper()
	table := ""
	seen := map[string]bool{}
	for _, snap := range snapshots {
		tbl, cols := columnsOf(t, snap)
		if table == "" {
			table = tbl
		}
		require.Equal(t, table, tbl)
		for _, c := range cols {
			seen[c] = true
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return table, out
}

func TestMigrationSnapshotsMatchModels(t *testing.T) {
	cases := []struct {
		name      string
		model     interface{}
		snapshots []interface{}
	}{
		{"buyers", &Buyer{}, []interface{}{&buyerV1{}}},
		{"shoppers", &Shopper{}, []interface{}{&shopperV1{}}},
		{"suppliers", &Supplier{}, []interface{}{&supplierV1{}}},
		{"sales", &Sale{}, []interface{}{&salesV2{}, &salesLinkColumnsV5{}, &salesAllocationColumnsV6{}}},
		{"batch_runs", &BatchRun{}, []interface{}{&batchRunV3{}, &batchRunRemainingV8{}}},
		{"batch_run_errors", &BatchRunError{}, []interface{}{&batchRunErrorV3{}}},
		{"idempotency_keys", &IdempotencyKey{}, []interface{}{&idempotencyKeyV4{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			liveTable, liveCols := columnsOf(t, tc.model)
			table, cols := migratedColumns(t, tc.snapshots...)
			assert.Equal(t, liveTable, table)
			assert.Equal(t, liveCols, cols, "model columns must come from a migration")
		})
	}
}

func TestCreateSalesLeavesLaterColumnsToTheirOwnVersions(t *testing.T) {
	_, v2 := columnsOf(t, &salesV2{})
	for _, col := range []string{ColLinkedImportId, ColLinkedIntoSaleId, ColLinkedAt, ColAllocatedAt, ColCompletedAt, ColCompletedBy} {
		assert.NotContains(t, v2, col)
	}
}
