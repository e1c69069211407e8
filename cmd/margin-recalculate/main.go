package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/margins"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

const confirmWord = "RECALCULATE"

func main() {
	dryRun := flag.Bool("dry-run", true, "Report drift only (no writes)")
	saleIds := flag.String("sale-ids", "", "Optional: comma separated sale ids (default: all active sales)")
	confirm := flag.String("confirm", "", "Required with --dry-run=false: must be "+confirmWord)
	report := flag.String("report", "", "Optional: write the change list to this .xlsx file")
	useRedisLock := flag.Bool("redis-lock", true, "Hold the shared Redis lock while writing")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != confirmWord {
		fmt.Fprintf(os.Stderr, "--confirm=%s is required when --dry-run=false\n", confirmWord)
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := config.GetLogger()

	var locker utils.Locker = utils.NewLocalLocker()
	if !*dryRun && *useRedisLock {
		config.ConnectRedisWithRetry()
		locker = utils.NewRedisLocker(config.GetRedisLock())
	}

	recalc := margins.NewRecalculator(models.NewGormStore(db), locker, logger)
	res, err := recalc.Run(context.Background(), margins.Options{
		DryRun:      dryRun,
		SaleIds:     utils.SplitAndTrim(*saleIds),
		TriggeredBy: models.BatchTriggeredCLI,
	})
	if errors.Is(err, utils.ErrLockHeld) {
		fmt.Fprintln(os.Stderr, "another margin recalculation is writing; try again later")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed: %v\n", err)
		os.Exit(1)
	}

	for _, c := range res.Changes {
		fmt.Printf("sale_id=%s stored_gross=%s gross=%s stored_commissionable=%s commissionable=%s applied=%t\n",
			c.SaleId,
			formatPtr(c.StoredGrossMargin),
			c.GrossMargin.StringFixed(2),
			formatPtr(c.StoredCommissionableMargin),
			c.CommissionableMargin.StringFixed(2),
			c.Applied,
		)
	}
	for _, e := range res.Errors {
		fmt.Printf("error sale_id=%s code=%s message=%q\n", e.SaleId, e.Code, e.Message)
	}
	s := res.Summary
	fmt.Printf("run_id=%d dry_run=%t processed=%d needs_update=%d updated=%d skipped=%d errors=%d\n",
		res.RunId, res.DryRun, s.Processed, s.NeedsUpdate, s.Updated, s.Skipped, s.Errors)

	if *report != "" {
		if err := margins.SaveReport(*report, res); err != nil {
			fmt.Fprintf(os.Stderr, "write report: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("report=%s\n", *report)
	}
	if s.Errors > 0 {
		os.Exit(3)
	}
}

func formatPtr(d *decimal.Decimal) string {
	if d == nil {
		return "null"
	}
	return d.StringFixed(2)
}
