package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/martynvhouten/MedStock-Pro/internal/audit"
	"github.com/martynvhouten/MedStock-Pro/internal/authz"
	"github.com/martynvhouten/MedStock-Pro/internal/inventory"
)

type batchPayload struct {
	ID          string `json:"id"`
	PracticeID  string `json:"practice_id"`
	ProductID   string `json:"product_id"`
	LocationID  string `json:"location_id"`
	BatchNumber string `json:"batch_number"`

	ProductName  string `json:"product_name"`
	ProductSKU   string `json:"product_sku"`
	LocationName string `json:"location_name"`
	LocationCode string `json:"location_code"`
	SupplierName string `json:"supplier_name,omitempty"`

	ExpiryDate   time.Time `json:"expiry_date"`
	ReceivedDate time.Time `json:"received_date"`

	InitialQuantity  int `json:"initial_quantity"`
	CurrentQuantity  int `json:"current_quantity"`
	ReservedQuantity int `json:"reserved_quantity"`

	UnitCost int64  `json:"unit_cost"`
	Currency string `json:"currency"`
	Status   string `json:"status"`

	DaysUntilExpiry int    `json:"days_until_expiry"`
	UrgencyLevel    string `json:"urgency_level"`
}

func toBatchPayload(d inventory.BatchDetails) batchPayload {
	return batchPayload{
		ID:               d.ID,
		PracticeID:       d.PracticeID,
		ProductID:        d.ProductID,
		LocationID:       d.LocationID,
		BatchNumber:      d.BatchNumber,
		ProductName:      d.ProductName,
		ProductSKU:       d.ProductSKU,
		LocationName:     d.LocationName,
		LocationCode:     d.LocationCode,
		SupplierName:     d.SupplierName,
		ExpiryDate:       d.ExpiryDate,
		ReceivedDate:     d.ReceivedDate,
		InitialQuantity:  d.InitialQuantity,
		CurrentQuantity:  d.CurrentQuantity,
		ReservedQuantity: d.ReservedQuantity,
		UnitCost:         d.UnitCost,
		Currency:         d.Currency,
		Status:           d.Status,
		DaysUntilExpiry:  d.DaysUntilExpiry,
		UrgencyLevel:     d.UrgencyLevel,
	}
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listBatches(w, r)
	case http.MethodPost:
		a.createBatch(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listBatches(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requirePermission(w, r, authz.PermissionRead, authz.ResourceInventory)
	if !ok {
		return
	}
	q := r.URL.Query()
	batches, err := a.batches.Fetch(r.Context(), inventory.Filter{
		PracticeID:     ident.PracticeID,
		ProductID:      q.Get("product_id"),
		LocationID:     q.Get("location_id"),
		IncludeExpired: q.Get("include_expired") == "true",
	})
	if err != nil {
		a.handleBatchError(w, r, err)
		return
	}
	out := make([]batchPayload, 0, len(batches))
	for _, b := range batches {
		out = append(out, toBatchPayload(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

type createBatchRequest struct {
	ProductID   string `json:"product_id"`
	LocationID  string `json:"location_id"`
	BatchNumber string `json:"batch_number"`

	ExpiryDate   time.Time `json:"expiry_date"`
	ReceivedDate time.Time `json:"received_date"`

	InitialQuantity int    `json:"initial_quantity"`
	UnitCost        int64  `json:"unit_cost"`
	Currency        string `json:"currency"`

	SupplierID          string `json:"supplier_id"`
	SupplierBatchNumber string `json:"supplier_batch_number"`
	PurchaseOrderNumber string `json:"purchase_order_number"`
	InvoiceNumber       string `json:"invoice_number"`
	QualityCheckPassed  *bool  `json:"quality_check_passed"`
	QualityNotes        string `json:"quality_notes"`
}

func (a *API) createBatch(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.requirePermission(w, r, authz.PermissionWrite, authz.ResourceInventory)
	if !ok {
		return
	}
	var req createBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	b, err := a.batches.Create(r.Context(), inventory.CreateBatchRequest{
		PracticeID:          ident.PracticeID,
		ProductID:           req.ProductID,
		LocationID:          req.LocationID,
		BatchNumber:         req.BatchNumber,
		ExpiryDate:          req.ExpiryDate,
		ReceivedDate:        req.ReceivedDate,
		InitialQuantity:     req.InitialQuantity,
		UnitCost:            req.UnitCost,
		Currency:            req.Currency,
		SupplierID:          req.SupplierID,
		SupplierBatchNumber: req.SupplierBatchNumber,
		PurchaseOrderNumber: req.PurchaseOrderNumber,
		InvoiceNumber:       req.InvoiceNumber,
		QualityCheckPassed:  req.QualityCheckPassed,
		QualityNotes:        req.QualityNotes,
	})
	if err != nil {
		a.handleBatchError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.batch.created", map[string]any{
		"batch_id":     b.ID,
		"product_id":   b.ProductID,
		"batch_number": b.BatchNumber,
	})
	writeJSON(w, http.StatusCreated, map[string]any{"id": b.ID})
}

func (a *API) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/batches/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		if _, ok := a.requirePermission(w, r, authz.PermissionRead, authz.ResourceInventory); !ok {
			return
		}
		d, err := a.batches.Get(r.Context(), id)
		if err != nil {
			a.handleBatchError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toBatchPayload(d))
	case http.MethodPatch:
		a.updateBatch(w, r, id)
	case http.MethodDelete:
		if _, ok := a.requirePermission(w, r, authz.PermissionWrite, authz.ResourceInventory); !ok {
			return
		}
		if err := a.batches.Delete(r.Context(), id); err != nil {
			a.handleBatchError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "inventory.batch.deleted", map[string]any{"batch_id": id})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

type updateBatchRequest struct {
	CurrentQuantity  *int    `json:"current_quantity"`
	ReservedQuantity *int    `json:"reserved_quantity"`
	Status           *string `json:"status"`
	QualityNotes     *string `json:"quality_notes"`
}

func (a *API) updateBatch(w http.ResponseWriter, r *http.Request, id string) {
	if _, ok := a.requirePermission(w, r, authz.PermissionWrite, authz.ResourceInventory); !ok {
		return
	}
	var req updateBatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	d, err := a.batches.Update(r.Context(), id, inventory.UpdateBatchRequest{
		CurrentQuantity:  req.CurrentQuantity,
		ReservedQuantity: req.ReservedQuantity,
		Status:           req.Status,
		QualityNotes:     req.QualityNotes,
	})
	if err != nil {
		a.handleBatchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBatchPayload(d))
}

func (a *API) handleExpiringBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	ident, ok := a.requirePermission(w, r, authz.PermissionRead, authz.ResourceInventory)
	if !ok {
		return
	}
	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}
	batches, err := a.batches.ExpiringBatches(r.Context(), ident.PracticeID, days)
	if err != nil {
		a.handleBatchError(w, r, err)
		return
	}
	type expiringPayload struct {
		BatchID         string    `json:"batch_id"`
		ProductID       string    `json:"product_id"`
		ProductName     string    `json:"product_name"`
		BatchNumber     string    `json:"batch_number"`
		LocationName    string    `json:"location_name"`
		ExpiryDate      time.Time `json:"expiry_date"`
		CurrentQuantity int       `json:"current_quantity"`
		DaysUntilExpiry int       `json:"days_until_expiry"`
		UrgencyLevel    string    `json:"urgency_level"`
	}
	out := make([]expiringPayload, 0, len(batches))
	for _, b := range batches {
		out = append(out, expiringPayload(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

type fifoRequest struct {
	ProductID  string `json:"product_id"`
	LocationID string `json:"location_id"`
	Quantity   int    `json:"quantity"`
}

func (a *API) handleFIFOBatches(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requirePermission(w, r, authz.PermissionRead, authz.ResourceInventory); !ok {
		return
	}
	var req fifoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	plan, err := a.batches.FIFOBatches(r.Context(), req.ProductID, req.LocationID, req.Quantity)
	if err != nil {
		a.handleBatchError(w, r, err)
		return
	}
	type fifoPayload struct {
		BatchID           string    `json:"batch_id"`
		BatchNumber       string    `json:"batch_number"`
		ExpiryDate        time.Time `json:"expiry_date"`
		AvailableQuantity int       `json:"available_quantity"`
		QuantityToUse     int       `json:"quantity_to_use"`
	}
	out := make([]fifoPayload, 0, len(plan))
	for _, b := range plan {
		out = append(out, fifoPayload(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

type movementsRequest struct {
	Movements []inventory.Movement `json:"movements"`
}

func (a *API) handleMovements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	ident, ok := a.requirePermission(w, r, authz.PermissionWrite, authz.ResourceInventory)
	if !ok {
		return
	}
	var req movementsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.batches.ProcessMovements(r.Context(), req.Movements)
	if err != nil {
		a.handleBatchError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "inventory.movements.processed", map[string]any{
		"user_id": ident.UserID,
		"count":   len(req.Movements),
	})
	writeJSON(w, http.StatusOK, map[string]any{"result": json.RawMessage(result)})
}

func (a *API) handleBatchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, inventory.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, inventory.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "batch not found")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
