package models

import "time"

const (
	BatchKindPaymentSync  = "payment_sync"
	BatchKindMarginRecalc = "margin_recalc"
)

const (
	BatchRunStatusRunning = "running"
	BatchRunStatusSuccess = "success"
	BatchRunStatusPartial = "partial"
	BatchRunStatusFailed  = "failed"
	// a run stopped before reaching every item; Remaining counts the rest
	BatchRunStatusInterrupted = "interrupted"
)

const (
	BatchTriggeredManual   = "manual"
	BatchTriggeredSchedule = "schedule"
	BatchTriggeredPubSub   = "pubsub"
	BatchTriggeredCLI      = "cli"
)

// BatchRun records one execution of a multi-item job.
type BatchRun struct {
	ID          uint       `gorm:"primary_key" json:"id"`
	Kind        string     `gorm:"size:32;not null;index" json:"kind"`
	Status      string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy string     `gorm:"size:20" json:"triggered_by"`
	ActorId     *string    `gorm:"size:64" json:"actor_id"`
	DryRun      bool       `gorm:"default:false" json:"dry_run"`
	Checked     int        `json:"checked"`
	Updated     int        `json:"updated"`
	Skipped     int        `json:"skipped"`
	ErrorCount  int        `json:"error_count"`
	Remaining   int        `gorm:"not null;default:0" json:"remaining"`
	StartedAt   *time.Time `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type BatchRunError struct {
	ID         uint      `gorm:"primary_key" json:"id"`
	RunId      uint      `gorm:"index;not null" json:"run_id"`
	SaleId     string    `gorm:"size:36" json:"sale_id"`
	ExternalId string    `gorm:"size:64" json:"external_id"`
	ErrorCode  string    `gorm:"size:64" json:"error_code"`
	Message    string    `gorm:"type:text" json:"message"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// BatchStatus is success with no errors, failed when every processed item errored,
// partial otherwise.
func BatchStatus(processed, errorCount int) string {
	switch {
	case errorCount == 0:
		return BatchRunStatusSuccess
	case errorCount >= processed:
		return BatchRunStatusFailed
	default:
		return BatchRunStatusPartial
	}
}
