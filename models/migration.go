package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SchemaMigration records an applied schema version.
type SchemaMigration struct {
	Version   int       `gorm:"primary_key;autoIncrement:false" json:"version"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	AppliedAt time.Time `gorm:"not null" json:"applied_at"`
}

type Migration struct {
	Version int
	Name    string
	Up      func(tx *gorm.DB) error
}

// SaleExternalInvoiceIndex keeps one row per (source, external invoice id).
const SaleExternalInvoiceIndex = "idx_sales_source_external_invoice"

// Migrations is the ordered schema history. Append only; never edit an applied entry.
// Each entry migrates a frozen snapshot, never the live model.
var Migrations = []Migration{
	{Version: 1, Name: "create_parties", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&buyerV1{}, &shopperV1{}, &supplierV1{})
	}},
	{Version: 2, Name: "create_sales", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&salesV2{})
	}},
	{Version: 3, Name: "create_batch_runs", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&batchRunV3{}, &batchRunErrorV3{})
	}},
	{Version: 4, Name: "create_idempotency_keys", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&idempotencyKeyV4{})
	}},
	{Version: 5, Name: "sales_link_columns", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&salesLinkColumnsV5{})
	}},
	{Version: 6, Name: "sales_allocation_columns", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&salesAllocationColumnsV6{})
	}},
	{Version: 7, Name: "sales_unique_external_invoice", Up: func(tx *gorm.DB) error {
		if tx.Migrator().HasIndex(&salesV2{}, SaleExternalInvoiceIndex) {
			return nil
		}
		return tx.Exec("CREATE UNIQUE INDEX " + SaleExternalInvoiceIndex + " ON sales (source, external_invoice_id)").Error
	}},
	{Version: 8, Name: "batch_runs_remaining", Up: func(tx *gorm.DB) error {
		return tx.AutoMigrate(&batchRunRemainingV8{})
	}},
}

// PendingMigrations returns the migrations not yet in applied, in version order.
func PendingMigrations(all []Migration, applied map[int]bool) []Migration {
	sorted := append([]Migration(nil), all...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	out := make([]Migration, 0, len(sorted))
	for _, m := range sorted {
		if !applied[m.Version] {
			out = append(out, m)
		}
	}
	return out
}

// AppliedVersions reads the versions recorded in schema_migrations.
func AppliedVersions(db *gorm.DB) (map[int]bool, error) {
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return nil, err
	}
	var rows []SchemaMigration
	if err := db.Find(&rows).Error; err != nil {
		return nil, err
	}
	applied := make(map[int]bool, len(rows))
	for _, r := range rows {
		applied[r.Version] = true
	}
	return applied, nil
}

// MigrateTable applies pending migrations in order, each inside its own transaction.
func MigrateTable(db *gorm.DB, logger *logrus.Logger) error {
	applied, err := AppliedVersions(db)
	if err != nil {
		return err
	}

	for _, m := range PendingMigrations(Migrations, applied) {
		m := m
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Up(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Version: m.Version, Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{"version": m.Version, "name": m.Name}).Info("schema migration applied")
		}
	}
	return nil
}
