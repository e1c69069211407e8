package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/mmdatafocus/salesdesk_backend/utils"
)

// GormStore is the MySQL-backed Store.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.ErrorRecordNotFound
	}
	return err
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func applyConds(q *gorm.DB, conds []Cond) (*gorm.DB, error) {
	if err := validateConds(conds); err != nil {
		return nil, err
	}
	for _, c := range conds {
		switch c.Op {
		case OpEq:
			q = q.Where(c.Column+" = ?", c.Value)
		case OpNe:
			q = q.Where("("+c.Column+" IS NULL OR "+c.Column+" <> ?)", c.Value)
		case OpIsNull:
			q = q.Where(c.Column + " IS NULL")
		case OpNotNull:
			q = q.Where(c.Column + " IS NOT NULL")
		case OpNotTrue:
			q = q.Where("("+c.Column+" IS NULL OR "+c.Column+" = ?)", false)
		case OpIn:
			q = q.Where(c.Column+" IN ?", c.Value)
		default:
			return nil, fmt.Errorf("unsupported condition op %d", c.Op)
		}
	}
	return q, nil
}

func (s *GormStore) GetSale(ctx context.Context, id string) (*Sale, error) {
	var sale Sale
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sale).Error; err != nil {
		return nil, translateErr(err)
	}
	return &sale, nil
}

func (s *GormStore) FindSales(ctx context.Context, q Query) ([]*Sale, error) {
	dbCtx, err := applyConds(s.db.WithContext(ctx).Model(&Sale{}), q.Conds)
	if err != nil {
		return nil, err
	}
	order := ColCreatedAt
	if q.OrderBy != "" {
		if !IsSaleColumn(q.OrderBy) {
			return nil, fmt.Errorf("unknown sale column %q", q.OrderBy)
		}
		order = q.OrderBy
	}
	if q.Desc {
		order += " DESC"
	}
	dbCtx = dbCtx.Order(order).Order("id")
	if q.Limit > 0 {
		dbCtx = dbCtx.Limit(q.Limit)
	}
	var sales []*Sale
	if err := dbCtx.Find(&sales).Error; err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *GormStore) CreateSale(ctx context.Context, sale *Sale) error {
	err := s.db.WithContext(ctx).Create(sale).Error
	if isDuplicateKeyErr(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateExternalInvoice, err)
	}
	return err
}

func (s *GormStore) UpdateSale(ctx context.Context, id string, guards []Cond, changes map[string]interface{}) (bool, error) {
	for col := range changes {
		if !IsSaleColumn(col) || col == ColId {
			return false, fmt.Errorf("cannot update sale column %q", col)
		}
	}
	dbCtx, err := applyConds(s.db.WithContext(ctx).Model(&Sale{}).Where("id = ?", id), guards)
	if err != nil {
		return false, err
	}
	values := make(map[string]interface{}, len(changes)+1)
	for k, v := range changes {
		values[k] = v
	}
	values[ColUpdatedAt] = time.Now().UTC()
	// DSN sets clientFoundRows, so RowsAffected counts matched rows.
	res := dbCtx.Updates(values)
	if isDuplicateKeyErr(res.Error) {
		return false, fmt.Errorf("%w: %v", ErrDuplicateExternalInvoice, res.Error)
	}
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) GetBuyer(ctx context.Context, id string) (*Buyer, error) {
	var buyer Buyer
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&buyer).Error; err != nil {
		return nil, translateErr(err)
	}
	return &buyer, nil
}

func (s *GormStore) FindBuyers(ctx context.Context, ids []string) (map[string]*Buyer, error) {
	out := make(map[string]*Buyer, len(ids))
	ids = utils.UniqueSlice(ids)
	if len(ids) == 0 {
		return out, nil
	}
	var buyers []*Buyer
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&buyers).Error; err != nil {
		return nil, err
	}
	for _, b := range buyers {
		out[b.ID] = b
	}
	return out, nil
}

func (s *GormStore) CreateBuyer(ctx context.Context, buyer *Buyer) error {
	return s.db.WithContext(ctx).Create(buyer).Error
}

func (s *GormStore) SetBuyerOwner(ctx context.Context, buyerId string, ownerId *string) error {
	res := s.db.WithContext(ctx).Model(&Buyer{}).Where("id = ?", buyerId).Update("owner_id", ownerId)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrorRecordNotFound
	}
	return nil
}

func (s *GormStore) FindShopperByUser(ctx context.Context, userId string) (*Shopper, error) {
	var shopper Shopper
	if err := s.db.WithContext(ctx).Where("user_id = ?", userId).First(&shopper).Error; err != nil {
		return nil, translateErr(err)
	}
	return &shopper, nil
}

func (s *GormStore) CreateShopper(ctx context.Context, shopper *Shopper) error {
	return s.db.WithContext(ctx).Create(shopper).Error
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx SaleStore) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

func (s *GormStore) CreateRun(ctx context.Context, run *BatchRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

func (s *GormStore) FinishRun(ctx context.Context, run *BatchRun, errs []BatchRunError) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&BatchRun{}).Where("id = ?", run.ID).Updates(map[string]interface{}{
			"status":      run.Status,
			"checked":     run.Checked,
			"updated":     run.Updated,
			"skipped":     run.Skipped,
			"error_count": run.ErrorCount,
			"remaining":   run.Remaining,
			"finished_at": run.FinishedAt,
			"duration_ms": run.DurationMs,
		}).Error; err != nil {
			return err
		}
		if len(errs) == 0 {
			return nil
		}
		for i := range errs {
			errs[i].RunId = run.ID
		}
		return tx.CreateInBatches(errs, 100).Error
	})
}

func (s *GormStore) ListRuns(ctx context.Context, kind string, limit int) ([]*BatchRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&BatchRun{})
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	var runs []*BatchRun
	if err := q.Order("id DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, err
	}
	return runs, nil
}

func (s *GormStore) GetRun(ctx context.Context, id uint) (*BatchRun, []*BatchRunError, error) {
	var run BatchRun
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error; err != nil {
		return nil, nil, translateErr(err)
	}
	var errs []*BatchRunError
	if err := s.db.WithContext(ctx).Where("run_id = ?", id).Order("id").Find(&errs).Error; err != nil {
		return nil, nil, err
	}
	return &run, errs, nil
}

// BeginIdempotency inserts STARTED. If SUCCEEDED exists, returns (true, nil) meaning "skip safely".
func (s *GormStore) BeginIdempotency(ctx context.Context, handlerName, messageId string) (bool, error) {
	tx := s.db.WithContext(ctx)
	key := IdempotencyKey{
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      IdempotencyStatusStarted,
	}
	if err := tx.Create(&key).Error; err == nil {
		return false, nil
	} else if !isDuplicateKeyErr(err) {
		return false, err
	}

	var existing IdempotencyKey
	if err := tx.Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}

	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		// Another worker is processing; ask Pub/Sub to retry unless the row is stale.
		if time.Since(existing.UpdatedAt) < idempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	return false, tx.Model(&IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{"status": IdempotencyStatusStarted, "last_error": nil}).Error
}

func (s *GormStore) MarkIdempotencySucceeded(ctx context.Context, handlerName, messageId string) error {
	return s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": IdempotencyStatusSucceeded, "last_error": nil}).Error
}

func (s *GormStore) MarkIdempotencyFailed(ctx context.Context, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return s.db.WithContext(ctx).Model(&IdempotencyKey{}).
		Where("handler_name = ? AND message_id = ?", handlerName, messageId).
		Updates(map[string]interface{}{"status": IdempotencyStatusFailed, "last_error": &msg}).Error
}
