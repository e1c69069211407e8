package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/models"
)

func main() {
	status := flag.Bool("status", false, "List pending migrations without applying them")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	if *status {
		applied, err := models.AppliedVersions(db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed: %v\n", err)
			os.Exit(1)
		}
		pending := models.PendingMigrations(models.Migrations, applied)
		for _, m := range pending {
			fmt.Printf("pending version=%d name=%s\n", m.Version, m.Name)
		}
		fmt.Printf("applied=%d pending=%d\n", len(applied), len(pending))
		return
	}

	if err := models.MigrateTable(db, logger); err != nil {
		fmt.Fprintf(os.Stderr, "failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("migrations applied")
}
