package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/salesdesk_backend/utils"
)

// MemoryStore is an in-process Store with the same guard semantics as GormStore.
// Transactions are serialized and commit by swapping in the working copy.
type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

type memState struct {
	sales    map[string]*Sale
	buyers   map[string]*Buyer
	shoppers map[string]*Shopper
	runs     []*BatchRun
	runErrs  []*BatchRunError
	idem     map[string]*IdempotencyKey
	nextRun  uint
	nextErr  uint
	seq      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

func newMemState() *memState {
	return &memState{
		sales:    map[string]*Sale{},
		buyers:   map[string]*Buyer{},
		shoppers: map[string]*Shopper{},
		idem:     map[string]*IdempotencyKey{},
	}
}

func (st *memState) clone() *memState {
	c := newMemState()
	for k, v := range st.sales {
		c.sales[k] = v.Clone()
	}
	for k, v := range st.buyers {
		b := *v
		b.OwnerId = clonePtr(v.OwnerId)
		c.buyers[k] = &b
	}
	for k, v := range st.shoppers {
		s := *v
		s.UserId = clonePtr(v.UserId)
		c.shoppers[k] = &s
	}
	for _, r := range st.runs {
		rc := *r
		c.runs = append(c.runs, &rc)
	}
	for _, e := range st.runErrs {
		ec := *e
		c.runErrs = append(c.runErrs, &ec)
	}
	for k, v := range st.idem {
		ic := *v
		c.idem[k] = &ic
	}
	c.nextRun, c.nextErr, c.seq = st.nextRun, st.nextErr, st.seq
	return c
}

// tick keeps created_at strictly increasing so default ordering is stable.
func (st *memState) tick() time.Time {
	st.seq++
	return time.Now().UTC().Add(time.Duration(st.seq) * time.Microsecond)
}

func (m *MemoryStore) GetSale(_ context.Context, id string) (*Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.sales[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) FindSales(_ context.Context, q Query) ([]*Sale, error) {
	if err := validateConds(q.Conds); err != nil {
		return nil, err
	}
	order := ColCreatedAt
	if q.OrderBy != "" {
		if !IsSaleColumn(q.OrderBy) {
			return nil, fmt.Errorf("unknown sale column %q", q.OrderBy)
		}
		order = q.OrderBy
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Sale, 0)
	for _, s := range m.state.sales {
		if matchAll(s, q.Conds) {
			out = append(out, s.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		c := compareValues(saleValue(out[i], order), saleValue(out[j], order))
		if c == 0 {
			return out[i].ID < out[j].ID
		}
		if q.Desc {
			return c > 0
		}
		return c < 0
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *MemoryStore) CreateSale(_ context.Context, sale *Sale) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale.ensureDefaults()
	if _, exists := m.state.sales[sale.ID]; exists {
		return fmt.Errorf("duplicate sale id %s", sale.ID)
	}
	if m.state.externalInvoiceTaken(sale) {
		return ErrDuplicateExternalInvoice
	}
	now := m.state.tick()
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = now
	}
	sale.UpdatedAt = now
	m.state.sales[sale.ID] = sale.Clone()
	return nil
}

func (m *MemoryStore) UpdateSale(_ context.Context, id string, guards []Cond, changes map[string]interface{}) (bool, error) {
	if err := validateConds(guards); err != nil {
		return false, err
	}
	for col := range changes {
		if !IsSaleColumn(col) || col == ColId {
			return false, fmt.Errorf("cannot update sale column %q", col)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.state.sales[id]
	if !ok || !matchAll(s, guards) {
		return false, nil
	}
	next := s.Clone()
	for col, v := range changes {
		if err := setSaleValue(next, col, v); err != nil {
			return false, err
		}
	}
	if m.state.externalInvoiceTaken(next) {
		return false, ErrDuplicateExternalInvoice
	}
	next.UpdatedAt = m.state.tick()
	m.state.sales[id] = next
	return true, nil
}

// externalInvoiceTaken mirrors the unique (source, external_invoice_id) index.
func (st *memState) externalInvoiceTaken(sale *Sale) bool {
	if sale.ExternalInvoiceId == nil {
		return false
	}
	for id, other := range st.sales {
		if id != sale.ID && other.Source == sale.Source &&
			other.ExternalInvoiceId != nil && *other.ExternalInvoiceId == *sale.ExternalInvoiceId {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetBuyer(_ context.Context, id string) (*Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.buyers[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	c := *b
	return &c, nil
}

func (m *MemoryStore) FindBuyers(_ context.Context, ids []string) (map[string]*Buyer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*Buyer, len(ids))
	for _, id := range ids {
		if b, ok := m.state.buyers[id]; ok {
			c := *b
			out[id] = &c
		}
	}
	return out, nil
}

func (m *MemoryStore) CreateBuyer(_ context.Context, buyer *Buyer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buyer.ID == "" {
		buyer.ID = uuid.NewString()
	}
	buyer.CreatedAt = m.state.tick()
	c := *buyer
	m.state.buyers[buyer.ID] = &c
	return nil
}

func (m *MemoryStore) SetBuyerOwner(_ context.Context, buyerId string, ownerId *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.buyers[buyerId]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	b.OwnerId = clonePtr(ownerId)
	return nil
}

func (m *MemoryStore) FindShopperByUser(_ context.Context, userId string) (*Shopper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.state.shoppers {
		if s.UserId != nil && *s.UserId == userId {
			c := *s
			return &c, nil
		}
	}
	return nil, utils.ErrorRecordNotFound
}

func (m *MemoryStore) CreateShopper(_ context.Context, shopper *Shopper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shopper.ID == "" {
		shopper.ID = uuid.NewString()
	}
	if shopper.UserId != nil {
		for _, s := range m.state.shoppers {
			if s.UserId != nil && *s.UserId == *shopper.UserId {
				return fmt.Errorf("duplicate shopper user_id %s", *shopper.UserId)
			}
		}
	}
	shopper.CreatedAt = m.state.tick()
	c := *shopper
	m.state.shoppers[shopper.ID] = &c
	return nil
}

// Transaction holds the store lock for the whole of fn; other callers wait.
func (m *MemoryStore) Transaction(ctx context.Context, fn func(tx SaleStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	work := &MemoryStore{state: m.state.clone()}
	if err := fn(work); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.state = work.state
	return nil
}

func (m *MemoryStore) CreateRun(_ context.Context, run *BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.nextRun++
	run.ID = m.state.nextRun
	run.CreatedAt = m.state.tick()
	c := *run
	m.state.runs = append(m.state.runs, &c)
	return nil
}

func (m *MemoryStore) FinishRun(_ context.Context, run *BatchRun, errs []BatchRunError) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, r := range m.state.runs {
		if r.ID == run.ID {
			c := *run
			c.UpdatedAt = m.state.tick()
			m.state.runs[i] = &c
			for _, e := range errs {
				e := e
				m.state.nextErr++
				e.ID = m.state.nextErr
				e.RunId = run.ID
				e.CreatedAt = c.UpdatedAt
				m.state.runErrs = append(m.state.runErrs, &e)
			}
			return nil
		}
	}
	return utils.ErrorRecordNotFound
}

func (m *MemoryStore) ListRuns(_ context.Context, kind string, limit int) ([]*BatchRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BatchRun, 0)
	for i := len(m.state.runs) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.state.runs[i]
		if kind != "" && r.Kind != kind {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	return out, nil
}

func (m *MemoryStore) GetRun(_ context.Context, id uint) (*BatchRun, []*BatchRunError, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.state.runs {
		if r.ID != id {
			continue
		}
		c := *r
		errs := make([]*BatchRunError, 0)
		for _, e := range m.state.runErrs {
			if e.RunId == id {
				ec := *e
				errs = append(errs, &ec)
			}
		}
		return &c, errs, nil
	}
	return nil, nil, utils.ErrorRecordNotFound
}

func idemKey(handlerName, messageId string) string {
	return handlerName + "\x00" + messageId
}

func (m *MemoryStore) BeginIdempotency(_ context.Context, handlerName, messageId string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idemKey(handlerName, messageId)
	existing, ok := m.state.idem[k]
	now := time.Now()
	if !ok {
		m.state.idem[k] = &IdempotencyKey{HandlerName: handlerName, MessageId: messageId, Status: IdempotencyStatusStarted, CreatedAt: now, UpdatedAt: now}
		return false, nil
	}
	switch existing.Status {
	case IdempotencyStatusSucceeded:
		return true, nil
	case IdempotencyStatusStarted:
		if now.Sub(existing.UpdatedAt) < idempotencyStaleAfter {
			return false, ErrIdempotencyInProgress
		}
	}
	existing.Status = IdempotencyStatusStarted
	existing.LastError = nil
	existing.UpdatedAt = now
	return false, nil
}

func (m *MemoryStore) MarkIdempotencySucceeded(_ context.Context, handlerName, messageId string) error {
	return m.markIdem(handlerName, messageId, IdempotencyStatusSucceeded, nil)
}

func (m *MemoryStore) MarkIdempotencyFailed(_ context.Context, handlerName, messageId string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return m.markIdem(handlerName, messageId, IdempotencyStatusFailed, &msg)
}

func (m *MemoryStore) markIdem(handlerName, messageId string, status IdempotencyStatus, lastErr *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.state.idem[idemKey(handlerName, messageId)]; ok {
		k.Status = status
		k.LastError = lastErr
		k.UpdatedAt = time.Now()
	}
	return nil
}

func matchAll(s *Sale, conds []Cond) bool {
	for _, c := range conds {
		if !matchCond(s, c) {
			return false
		}
	}
	return true
}

func matchCond(s *Sale, c Cond) bool {
	v := saleValue(s, c.Column)
	switch c.Op {
	case OpEq:
		return v != nil && compareValues(v, normalize(c.Value)) == 0
	case OpNe:
		return v == nil || compareValues(v, normalize(c.Value)) != 0
	case OpIsNull:
		return v == nil
	case OpNotNull:
		return v != nil
	case OpNotTrue:
		b, ok := v.(bool)
		return v == nil || (ok && !b)
	case OpIn:
		for _, want := range c.Value.([]string) {
			if v != nil && compareValues(v, want) == 0 {
				return true
			}
		}
		return false
	}
	return false
}

// normalize flattens pointers and named string types so values compare directly.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case nil:
		return nil
	case *string:
		if x == nil {
			return nil
		}
		return *x
	case SaleSource:
		return string(x)
	case SaleStatus:
		return string(x)
	case *bool:
		if x == nil {
			return nil
		}
		return *x
	case *decimal.Decimal:
		if x == nil {
			return nil
		}
		return *x
	case *time.Time:
		if x == nil {
			return nil
		}
		return *x
	default:
		return v
	}
}

// compareValues orders two normalized values of the same kind; nil sorts first.
func compareValues(a, b interface{}) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch x := a.(type) {
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	case decimal.Decimal:
		if y, ok := b.(decimal.Decimal); ok {
			return x.Cmp(y)
		}
	case time.Time:
		if y, ok := b.(time.Time); ok {
			return x.Compare(y)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func saleValue(s *Sale, col string) interface{} {
	switch col {
	case ColId:
		return s.ID
	case ColSource:
		return string(s.Source)
	case ColStatus:
		return string(s.Status)
	case ColItemTitle:
		return s.ItemTitle
	case ColBuyerId:
		return normalize(s.BuyerId)
	case ColSupplierId:
		return normalize(s.SupplierId)
	case ColShopperId:
		return normalize(s.ShopperId)
	case ColExternalInvoiceId:
		return normalize(s.ExternalInvoiceId)
	case ColExternalInvoiceNumber:
		return normalize(s.ExternalInvoiceNumber)
	case ColExternalInvoiceUrl:
		return normalize(s.ExternalInvoiceUrl)
	case ColInvoiceStatus:
		return normalize(s.InvoiceStatus)
	case ColInvoicePaidDate:
		return normalize(s.InvoicePaidDate)
	case ColBuyPrice:
		return normalize(s.BuyPrice)
	case ColSaleAmountExVat:
		return normalize(s.SaleAmountExVat)
	case ColSaleAmountIncVat:
		return normalize(s.SaleAmountIncVat)
	case ColShippingCost:
		return normalize(s.ShippingCost)
	case ColCardFees:
		return normalize(s.CardFees)
	case ColDirectCosts:
		return normalize(s.DirectCosts)
	case ColIntroducerCommission:
		return normalize(s.IntroducerCommission)
	case ColGrossMargin:
		return normalize(s.GrossMargin)
	case ColCommissionableMargin:
		return normalize(s.CommissionableMargin)
	case ColNeedsAllocation:
		return s.NeedsAllocation
	case ColAllocatedAt:
		return normalize(s.AllocatedAt)
	case ColDismissed:
		return normalize(s.Dismissed)
	case ColDismissedAt:
		return normalize(s.DismissedAt)
	case ColDismissedBy:
		return normalize(s.DismissedBy)
	case ColLinkedImportId:
		return normalize(s.LinkedImportId)
	case ColLinkedIntoSaleId:
		return normalize(s.LinkedIntoSaleId)
	case ColLinkedAt:
		return normalize(s.LinkedAt)
	case ColDeletedAt:
		return normalize(s.DeletedAt)
	case ColCompletedAt:
		return normalize(s.CompletedAt)
	case ColCompletedBy:
		return normalize(s.CompletedBy)
	case ColCreatedBy:
		return normalize(s.CreatedBy)
	case ColCreatedAt:
		return s.CreatedAt
	case ColUpdatedAt:
		return s.UpdatedAt
	}
	return nil
}

func setSaleValue(s *Sale, col string, v interface{}) error {
	var err error
	switch col {
	case ColSource:
		var p *string
		if p, err = asString(col, v); err == nil && p != nil {
			s.Source = SaleSource(*p)
		}
	case ColStatus:
		var p *string
		if p, err = asString(col, v); err == nil && p != nil {
			s.Status = SaleStatus(*p)
		}
	case ColItemTitle:
		var p *string
		if p, err = asString(col, v); err == nil {
			s.ItemTitle = utils.DereferencePtr(p)
		}
	case ColBuyerId:
		s.BuyerId, err = asString(col, v)
	case ColSupplierId:
		s.SupplierId, err = asString(col, v)
	case ColShopperId:
		s.ShopperId, err = asString(col, v)
	case ColExternalInvoiceId:
		s.ExternalInvoiceId, err = asString(col, v)
	case ColExternalInvoiceNumber:
		s.ExternalInvoiceNumber, err = asString(col, v)
	case ColExternalInvoiceUrl:
		s.ExternalInvoiceUrl, err = asString(col, v)
	case ColInvoiceStatus:
		s.InvoiceStatus, err = asString(col, v)
	case ColInvoicePaidDate:
		s.InvoicePaidDate, err = asTime(col, v)
	case ColBuyPrice:
		s.BuyPrice, err = asDecimal(col, v)
	case ColSaleAmountExVat:
		s.SaleAmountExVat, err = asDecimal(col, v)
	case ColSaleAmountIncVat:
		s.SaleAmountIncVat, err = asDecimal(col, v)
	case ColShippingCost:
		s.ShippingCost, err = asDecimal(col, v)
	case ColCardFees:
		s.CardFees, err = asDecimal(col, v)
	case ColDirectCosts:
		s.DirectCosts, err = asDecimal(col, v)
	case ColIntroducerCommission:
		s.IntroducerCommission, err = asDecimal(col, v)
	case ColGrossMargin:
		s.GrossMargin, err = asDecimal(col, v)
	case ColCommissionableMargin:
		s.CommissionableMargin, err = asDecimal(col, v)
	case ColNeedsAllocation:
		var p *bool
		if p, err = asBool(col, v); err == nil {
			s.NeedsAllocation = utils.DereferencePtr(p)
		}
	case ColAllocatedAt:
		s.AllocatedAt, err = asTime(col, v)
	case ColDismissed:
		s.Dismissed, err = asBool(col, v)
	case ColDismissedAt:
		s.DismissedAt, err = asTime(col, v)
	case ColDismissedBy:
		s.DismissedBy, err = asString(col, v)
	case ColLinkedImportId:
		s.LinkedImportId, err = asString(col, v)
	case ColLinkedIntoSaleId:
		s.LinkedIntoSaleId, err = asString(col, v)
	case ColLinkedAt:
		s.LinkedAt, err = asTime(col, v)
	case ColDeletedAt:
		s.DeletedAt, err = asTime(col, v)
	case ColCompletedAt:
		s.CompletedAt, err = asTime(col, v)
	case ColCompletedBy:
		s.CompletedBy, err = asString(col, v)
	case ColCreatedBy:
		s.CreatedBy, err = asString(col, v)
	default:
		err = fmt.Errorf("cannot update sale column %q", col)
	}
	return err
}

func asString(col string, v interface{}) (*string, error) {
	switch x := normalize(v).(type) {
	case nil:
		return nil, nil
	case string:
		return &x, nil
	}
	return nil, fmt.Errorf("column %s: expected string, got %T", col, v)
}

func asTime(col string, v interface{}) (*time.Time, error) {
	switch x := normalize(v).(type) {
	case nil:
		return nil, nil
	case time.Time:
		return &x, nil
	}
	return nil, fmt.Errorf("column %s: expected time, got %T", col, v)
}

func asDecimal(col string, v interface{}) (*decimal.Decimal, error) {
	switch x := normalize(v).(type) {
	case nil:
		return nil, nil
	case decimal.Decimal:
		return &x, nil
	}
	return nil, fmt.Errorf("column %s: expected decimal, got %T", col, v)
}

func asBool(col string, v interface{}) (*bool, error) {
	switch x := normalize(v).(type) {
	case nil:
		return nil, nil
	case bool:
		return &x, nil
	}
	return nil, fmt.Errorf("column %s: expected bool, got %T", col, v)
}
