package inventory

import "time"

// Batch statuses.
const (
	StatusActive   = "active"
	StatusDepleted = "depleted"
	StatusExpired  = "expired"
)

// Urgency levels derived from days until expiry.
const (
	UrgencyCritical = "critical" // 7 days or less
	UrgencyHigh     = "high"     // 14 days or less
	UrgencyWarning  = "warning"  // 30 days or less
	UrgencyNormal   = "normal"
)

// ProductBatch is a received lot of a product at a location, tracked for
// expiry and FIFO consumption.
type ProductBatch struct {
	ID          string
	PracticeID  string
	ProductID   string
	LocationID  string
	BatchNumber string

	SupplierID          string
	SupplierBatchNumber string
	PurchaseOrderNumber string
	InvoiceNumber       string

	ExpiryDate   time.Time
	ReceivedDate time.Time

	InitialQuantity  int
	CurrentQuantity  int
	ReservedQuantity int

	// UnitCost is in minor currency units (cents).
	UnitCost int64
	Currency string

	Status             string
	QualityCheckPassed bool
	QualityNotes       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// BatchDetails joins a batch with its product, location and supplier labels
// plus derived expiry annotations.
type BatchDetails struct {
	ProductBatch

	ProductName  string
	ProductSKU   string
	LocationName string
	LocationCode string
	SupplierName string

	DaysUntilExpiry int
	UrgencyLevel    string
}

// ExpiringBatch is a row of the expiring-batch report.
type ExpiringBatch struct {
	BatchID         string
	ProductID       string
	ProductName     string
	BatchNumber     string
	LocationName    string
	ExpiryDate      time.Time
	CurrentQuantity int
	DaysUntilExpiry int
	UrgencyLevel    string
}

// FIFOBatch is one slice of a FIFO consumption plan: take QuantityToUse from
// the batch expiring soonest, then continue down the list.
type FIFOBatch struct {
	BatchID           string
	BatchNumber       string
	ExpiryDate        time.Time
	AvailableQuantity int
	QuantityToUse     int
}

// Movement describes a stock mutation applied to a batch.
type Movement struct {
	BatchID      string `json:"batch_id"`
	QuantityDelta int   `json:"quantity_delta"`
	MovementType string `json:"movement_type"`
	Reason       string `json:"reason,omitempty"`
}

// CreateBatchRequest carries the fields needed to register a batch.
type CreateBatchRequest struct {
	PracticeID  string
	ProductID   string
	LocationID  string
	BatchNumber string

	ExpiryDate   time.Time
	ReceivedDate time.Time

	InitialQuantity int
	UnitCost        int64
	Currency        string

	SupplierID          string
	SupplierBatchNumber string
	PurchaseOrderNumber string
	InvoiceNumber       string
	QualityCheckPassed  *bool
	QualityNotes        string
}

// UpdateBatchRequest carries optional field updates; nil means unchanged.
type UpdateBatchRequest struct {
	CurrentQuantity  *int
	ReservedQuantity *int
	Status           *string
	QualityNotes     *string
}

// Filter narrows a batch listing.
type Filter struct {
	PracticeID     string
	ProductID      string
	LocationID     string
	IncludeExpired bool
}
