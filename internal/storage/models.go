// Package storage provides database models and repositories for Backroom.
package storage

import (
	"time"

	"github.com/google/uuid"
)

// ProductStatus is the review lifecycle state of a product record.
type ProductStatus string

const (
	// StatusDraft is an extracted candidate awaiting operator review.
	StatusDraft ProductStatus = "DRAFT"
	// StatusPendingImage is created from a catalog file and waiting for a
	// visual match from a PDF extraction run.
	StatusPendingImage ProductStatus = "PENDING_IMAGE"
	// StatusApproved has been persisted from the review session.
	StatusApproved ProductStatus = "APPROVED"
)

// POStatus is the lifecycle state of a purchase order.
type POStatus string

const (
	POStatusPending   POStatus = "PENDING"
	POStatusInTransit POStatus = "IN_TRANSIT"
	POStatusReceived  POStatus = "RECEIVED"
)

// POItemStatus is the receiving state of one purchase-order line.
type POItemStatus string

const (
	POItemStatusPending   POItemStatus = "PENDING"
	POItemStatusPartial   POItemStatus = "PARTIAL"
	POItemStatusCompleted POItemStatus = "COMPLETED"
	// POItemStatusOverfilled flags qty_received > qty_ordered. Over-receipt is
	// representable and flagged, never blocked.
	POItemStatusOverfilled POItemStatus = "OVERFILLED"
)

// Supplier is a catalog source. Supplier management UI lives outside this
// service; the record exists so orders and products can reference it.
type Supplier struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Product is a catalog product, either extracted from a visual catalog or
// imported from a supplier order file.
type Product struct {
	ID          uuid.UUID     `json:"id"`
	SKU         string        `json:"sku"`
	Barcode     string        `json:"barcode"`
	SupplierID  *int64        `json:"supplier_id,omitempty"`
	Title       string        `json:"title"`
	StockOnHand int           `json:"stock_on_hand"`
	ImagePath   string        `json:"image_path"`
	Status      ProductStatus `json:"status"`

	// Recrop context: the full page the image was cut from, its natural pixel
	// dimensions as a JSON [w, h] pair, and the crop rect as JSON [x, y, w, h].
	SourcePageImagePath string `json:"source_page_image_path,omitempty"`
	SourcePageDims      string `json:"source_page_dims,omitempty"`
	ImageRect           string `json:"image_rect,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PurchaseOrder groups the line items imported from one supplier order file.
type PurchaseOrder struct {
	ID           int64     `json:"id"`
	SupplierName string    `json:"supplier_name"`
	FileName     string    `json:"file_name"`
	Status       POStatus  `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Items        []POItem  `json:"items,omitempty"`
}

// POItem is one receivable line of a purchase order.
type POItem struct {
	ID          int64        `json:"id"`
	POID        int64        `json:"po_id"`
	SKU         string       `json:"sku"`
	QtyOrdered  int          `json:"qty_ordered"`
	QtyReceived int          `json:"qty_received"`
	Status      POItemStatus `json:"status"`
}

// SourceFile records a raw uploaded document.
type SourceFile struct {
	ID        int64     `json:"id"`
	FileName  string    `json:"file_name"`
	FileSize  int64     `json:"file_size"`
	FilePath  string    `json:"file_path"`
	Status    string    `json:"status"` // Uploaded or Processed
	CreatedAt time.Time `json:"created_at"`
}

// OpenCandidate is an open purchase-order line that could absorb a receipt
// for a given SKU.
type OpenCandidate struct {
	POID         int64
	SupplierName string
	QtyOrdered   int
	QtyReceived  int
}

// MissingQty is the deficit still expected on this line.
func (c OpenCandidate) MissingQty() int {
	return c.QtyOrdered - c.QtyReceived
}
