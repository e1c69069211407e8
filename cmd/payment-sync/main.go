package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mmdatafocus/salesdesk_backend/config"
	"github.com/mmdatafocus/salesdesk_backend/ledger"
	"github.com/mmdatafocus/salesdesk_backend/models"
	"github.com/mmdatafocus/salesdesk_backend/reconciliation"
	"github.com/mmdatafocus/salesdesk_backend/utils"
)

func main() {
	trigger := flag.String("triggered-by", models.BatchTriggeredSchedule, "Run origin recorded on the batch run (schedule|manual|cli)")
	useRedisLock := flag.Bool("redis-lock", true, "Use the shared Redis lock so runs never overlap with the API")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings := config.LoadSettings()
	logger := config.GetLogger()

	client, err := ledger.NewClient(ctx, settings)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledger: %v\n", err)
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var locker utils.Locker = utils.NewLocalLocker()
	if *useRedisLock {
		config.ConnectRedisWithRetry()
		locker = utils.NewRedisLocker(config.GetRedisLock())
	}

	syncer := reconciliation.NewPaymentSyncer(models.NewGormStore(db), client, locker, settings, logger)
	res, err := syncer.Run(ctx, *trigger, nil)
	if errors.Is(err, utils.ErrLockHeld) {
		fmt.Println("payment sync already running; nothing to do")
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed: %v\n", err)
		os.Exit(1)
	}

	for _, e := range res.Errors {
		fmt.Printf("error sale_id=%s external_id=%s code=%s message=%q\n", e.SaleId, e.ExternalInvoiceId, e.Code, e.Message)
	}
	fmt.Printf("run_id=%d checked=%d updated=%d skipped=%d errors=%d remaining=%d\n",
		res.RunId, res.Summary.Checked, res.Summary.Updated, res.Summary.Skipped, res.Summary.Errors, res.Remaining)
	if res.Interrupted {
		fmt.Fprintln(os.Stderr, "payment sync interrupted before every candidate was checked")
		os.Exit(4)
	}
	if res.Summary.Errors > 0 && res.Summary.Errors == res.Summary.Checked {
		os.Exit(3)
	}
}
