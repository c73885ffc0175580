package inventory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/martynvhouten/MedStock-Pro/internal/ids"
	"github.com/martynvhouten/MedStock-Pro/internal/obs"
)

var (
	ErrNotFound     = errors.New("inventory: not found")
	ErrInvalidInput = errors.New("inventory: invalid input")
)

// Store is the caller-held batch-tracking state. The backend remains the
// source of truth; the cached rows exist for UI-facing reads and are guarded
// by a mutex under a single-writer discipline.
type Store struct {
	db  *sql.DB
	now func() time.Time

	mu      sync.Mutex
	batches []BatchDetails
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) StoreOption {
	return func(s *Store) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewStore constructs a Store over an open database handle.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const batchColumns = `
	b.id, b.practice_id, b.product_id, b.location_id, b.batch_number,
	coalesce(b.supplier_id,''), coalesce(b.supplier_batch_number,''),
	coalesce(b.purchase_order_number,''), coalesce(b.invoice_number,''),
	b.expiry_date, b.received_date,
	b.initial_quantity, b.current_quantity, b.reserved_quantity,
	b.unit_cost, b.currency, b.status, b.quality_check_passed,
	coalesce(b.quality_notes,''), b.created_at, b.updated_at,
	p.name, p.sku, l.name, l.code, coalesce(s.name,'')`

const batchJoins = `
	from product_batches b
	join products p on p.id = b.product_id
	join practice_locations l on l.id = b.location_id
	left join suppliers s on s.id = b.supplier_id`

func (s *Store) scanDetails(row interface{ Scan(...any) error }) (BatchDetails, error) {
	var d BatchDetails
	if err := row.Scan(
		&d.ID, &d.PracticeID, &d.ProductID, &d.LocationID, &d.BatchNumber,
		&d.SupplierID, &d.SupplierBatchNumber,
		&d.PurchaseOrderNumber, &d.InvoiceNumber,
		&d.ExpiryDate, &d.ReceivedDate,
		&d.InitialQuantity, &d.CurrentQuantity, &d.ReservedQuantity,
		&d.UnitCost, &d.Currency, &d.Status, &d.QualityCheckPassed,
		&d.QualityNotes, &d.CreatedAt, &d.UpdatedAt,
		&d.ProductName, &d.ProductSKU, &d.LocationName, &d.LocationCode, &d.SupplierName,
	); err != nil {
		return BatchDetails{}, err
	}
	d.DaysUntilExpiry = daysUntil(d.ExpiryDate, s.now())
	d.UrgencyLevel = urgencyFor(d.DaysUntilExpiry)
	return d, nil
}

// Fetch loads active batches matching the filter, replaces the cached rows,
// and returns the result ordered by soonest expiry first.
func (s *Store) Fetch(ctx context.Context, filter Filter) ([]BatchDetails, error) {
	var (
		conds = []string{"b.status = 'active'"}
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.PracticeID != "" {
		add("b.practice_id = $%d", filter.PracticeID)
	}
	if filter.ProductID != "" {
		add("b.product_id = $%d", filter.ProductID)
	}
	if filter.LocationID != "" {
		add("b.location_id = $%d", filter.LocationID)
	}
	if !filter.IncludeExpired {
		add("b.expiry_date >= $%d", s.now())
	}

	query := `select ` + batchColumns + batchJoins +
		` where ` + strings.Join(conds, " and ") +
		` order by b.expiry_date asc`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []BatchDetails
	for rows.Next() {
		d, err := s.scanDetails(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.batches = result
	s.mu.Unlock()
	return result, nil
}

// Get loads a single batch with its joined details.
func (s *Store) Get(ctx context.Context, id string) (BatchDetails, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+batchColumns+batchJoins+` where b.id = $1`, id)
	d, err := s.scanDetails(row)
	if errors.Is(err, sql.ErrNoRows) {
		return BatchDetails{}, ErrNotFound
	}
	return d, err
}

// Create registers a new batch. Quality checks default to passed.
func (s *Store) Create(ctx context.Context, req CreateBatchRequest) (*ProductBatch, error) {
	if req.PracticeID == "" || req.ProductID == "" || req.LocationID == "" || req.BatchNumber == "" {
		return nil, fmt.Errorf("%w: practice, product, location and batch number are required", ErrInvalidInput)
	}
	if req.InitialQuantity <= 0 {
		return nil, fmt.Errorf("%w: initial quantity must be positive", ErrInvalidInput)
	}
	now := s.now()
	b := &ProductBatch{
		ID:                  ids.New(),
		PracticeID:          req.PracticeID,
		ProductID:           req.ProductID,
		LocationID:          req.LocationID,
		BatchNumber:         req.BatchNumber,
		SupplierID:          req.SupplierID,
		SupplierBatchNumber: req.SupplierBatchNumber,
		PurchaseOrderNumber: req.PurchaseOrderNumber,
		InvoiceNumber:       req.InvoiceNumber,
		ExpiryDate:          req.ExpiryDate,
		ReceivedDate:        req.ReceivedDate,
		InitialQuantity:     req.InitialQuantity,
		CurrentQuantity:     req.InitialQuantity,
		UnitCost:            req.UnitCost,
		Currency:            req.Currency,
		Status:              StatusActive,
		QualityCheckPassed:  true,
		QualityNotes:        req.QualityNotes,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if b.ReceivedDate.IsZero() {
		b.ReceivedDate = now
	}
	if b.Currency == "" {
		b.Currency = "EUR"
	}
	if req.QualityCheckPassed != nil {
		b.QualityCheckPassed = *req.QualityCheckPassed
	}

	_, err := s.db.ExecContext(ctx, `
		insert into product_batches(
			id, practice_id, product_id, location_id, batch_number,
			supplier_id, supplier_batch_number, purchase_order_number, invoice_number,
			expiry_date, received_date,
			initial_quantity, current_quantity, reserved_quantity,
			unit_cost, currency, status, quality_check_passed, quality_notes,
			created_at, updated_at)
		values ($1,$2,$3,$4,$5,nullif($6,''),nullif($7,''),nullif($8,''),nullif($9,''),
		        $10,$11,$12,$13,0,$14,$15,$16,$17,nullif($18,''),$19,$19)
	`, b.ID, b.PracticeID, b.ProductID, b.LocationID, b.BatchNumber,
		b.SupplierID, b.SupplierBatchNumber, b.PurchaseOrderNumber, b.InvoiceNumber,
		b.ExpiryDate, b.ReceivedDate,
		b.InitialQuantity, b.CurrentQuantity,
		b.UnitCost, b.Currency, b.Status, b.QualityCheckPassed, b.QualityNotes,
		now)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Update applies the non-nil fields and refreshes the cached row.
func (s *Store) Update(ctx context.Context, id string, upd UpdateBatchRequest) (BatchDetails, error) {
	var (
		setClauses []string
		args       []any
	)
	set := func(col string, v any) {
		args = append(args, v)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if upd.CurrentQuantity != nil {
		set("current_quantity", *upd.CurrentQuantity)
	}
	if upd.ReservedQuantity != nil {
		set("reserved_quantity", *upd.ReservedQuantity)
	}
	if upd.Status != nil {
		set("status", *upd.Status)
	}
	if upd.QualityNotes != nil {
		set("quality_notes", *upd.QualityNotes)
	}
	if len(setClauses) > 0 {
		set("updated_at", s.now())
		args = append(args, id)
		query := fmt.Sprintf(`update product_batches set %s where id = $%d`,
			strings.Join(setClauses, ", "), len(args))
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return BatchDetails{}, err
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return BatchDetails{}, err
		}
		if aff == 0 {
			return BatchDetails{}, ErrNotFound
		}
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		return BatchDetails{}, err
	}

	s.mu.Lock()
	for i := range s.batches {
		if s.batches[i].ID == id {
			s.batches[i] = d
			break
		}
	}
	s.mu.Unlock()
	return d, nil
}

// Delete removes a batch and drops it from the cache.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from product_batches where id = $1`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return ErrNotFound
	}

	s.mu.Lock()
	for i := range s.batches {
		if s.batches[i].ID == id {
			s.batches = append(s.batches[:i], s.batches[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	return nil
}

// ExpiringBatches reports batches expiring within daysAhead days.
func (s *Store) ExpiringBatches(ctx context.Context, practiceID string, daysAhead int) ([]ExpiringBatch, error) {
	if daysAhead <= 0 {
		daysAhead = 30
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`select batch_id, product_id, product_name, batch_number, location_name,
		        expiry_date, current_quantity, days_until_expiry, urgency_level
		 from get_expiring_batches($1, $2)`, practiceID, daysAhead)
	obs.ObserveBackendCall("get_expiring_batches", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []ExpiringBatch
	for rows.Next() {
		var e ExpiringBatch
		if err := rows.Scan(&e.BatchID, &e.ProductID, &e.ProductName, &e.BatchNumber,
			&e.LocationName, &e.ExpiryDate, &e.CurrentQuantity,
			&e.DaysUntilExpiry, &e.UrgencyLevel); err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	return result, rows.Err()
}

// FIFOBatches returns the consumption plan covering the needed quantity,
// oldest expiry first.
func (s *Store) FIFOBatches(ctx context.Context, productID, locationID string, quantity int) ([]FIFOBatch, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`select batch_id, batch_number, expiry_date, available_quantity, quantity_to_use
		 from get_fifo_batches($1, $2, $3)`, productID, locationID, quantity)
	obs.ObserveBackendCall("get_fifo_batches", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []FIFOBatch
	for rows.Next() {
		var f FIFOBatch
		if err := rows.Scan(&f.BatchID, &f.BatchNumber, &f.ExpiryDate,
			&f.AvailableQuantity, &f.QuantityToUse); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

// ProcessMovements applies a set of stock movements atomically server-side.
func (s *Store) ProcessMovements(ctx context.Context, movements []Movement) (json.RawMessage, error) {
	if len(movements) == 0 {
		return nil, fmt.Errorf("%w: no movements given", ErrInvalidInput)
	}
	payload, err := json.Marshal(movements)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	var raw []byte
	err = s.db.QueryRowContext(ctx,
		`select process_batch_stock_movement($1::jsonb)`, payload).Scan(&raw)
	obs.ObserveBackendCall("process_batch_stock_movement", start, err)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(raw), nil
}

// Cached-view helpers -------------------------------------------------------

// Cached returns a copy of the last fetched rows.
func (s *Store) Cached() []BatchDetails {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BatchDetails, len(s.batches))
	copy(out, s.batches)
	return out
}

// ByProduct filters the cached rows by product.
func (s *Store) ByProduct(productID string) []BatchDetails {
	var out []BatchDetails
	for _, b := range s.Cached() {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	return out
}

// ByLocation filters the cached rows by location.
func (s *Store) ByLocation(locationID string) []BatchDetails {
	var out []BatchDetails
	for _, b := range s.Cached() {
		if b.LocationID == locationID {
			out = append(out, b)
		}
	}
	return out
}

// ExpiringCount counts cached batches expiring within 30 days but not yet
// expired.
func (s *Store) ExpiringCount() int {
	now := s.now()
	cutoff := now.AddDate(0, 0, 30)
	count := 0
	for _, b := range s.Cached() {
		if b.ExpiryDate.After(now) && !b.ExpiryDate.After(cutoff) {
			count++
		}
	}
	return count
}

// LowStock returns cached batches at or below the reorder threshold.
func (s *Store) LowStock() []BatchDetails {
	var out []BatchDetails
	for _, b := range s.Cached() {
		if b.CurrentQuantity <= 10 {
			out = append(out, b)
		}
	}
	return out
}

// TotalValue sums current_quantity * unit_cost over the cached rows, in
// minor currency units.
func (s *Store) TotalValue() int64 {
	var total int64
	for _, b := range s.Cached() {
		total += int64(b.CurrentQuantity) * b.UnitCost
	}
	return total
}

func daysUntil(expiry, now time.Time) int {
	d := expiry.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}

func urgencyFor(daysUntilExpiry int) string {
	switch {
	case daysUntilExpiry <= 7:
		return UrgencyCritical
	case daysUntilExpiry <= 14:
		return UrgencyHigh
	case daysUntilExpiry <= 30:
		return UrgencyWarning
	default:
		return UrgencyNormal
	}
}
