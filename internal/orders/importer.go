// Package orders imports supplier order files into purchase orders.
//
// File decoding (Excel, CSV) is owned by external collaborators; the importer
// consumes already-parsed rows and owns everything after that: placeholder
// products for unknown SKUs, duplicate-file conflict handling, and receipt
// preservation across overwrites.
package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/storage"
)

var (
	// ErrDuplicate means an order from this file already exists for the
	// supplier. Recoverable: retry with overwrite after operator confirmation.
	ErrDuplicate = errors.New("orders: duplicate order file")
	// ErrNoItems means no row survived filtering.
	ErrNoItems = errors.New("orders: no valid items in file")
)

// Row is one parsed line of a supplier order file.
type Row struct {
	SKU     string
	Barcode string
	Title   string
	Qty     int
}

// ProductStore is the product surface the importer needs.
type ProductStore interface {
	GetBySKU(ctx context.Context, sku string) (*storage.Product, error)
	Create(ctx context.Context, p *storage.Product) error
	Update(ctx context.Context, p *storage.Product) error
}

// OrderStore is the purchase-order surface the importer needs.
type OrderStore interface {
	Create(ctx context.Context, po *storage.PurchaseOrder) error
	FindBySupplierAndFile(ctx context.Context, supplierName, fileName string) (*storage.PurchaseOrder, error)
	ReplaceItems(ctx context.Context, poID int64, items []storage.POItem) error
}

// Result summarizes one import.
type Result struct {
	POID        int64    `json:"po_id"`
	ItemsCount  int      `json:"items_count"`
	FoundSKUs   []string `json:"found_skus_list"`
	MissingSKUs []string `json:"missing_skus"`
	Action      string   `json:"action"` // created or updated
}

// Importer turns parsed order rows into purchase orders.
type Importer struct {
	logger   *observability.Logger
	products ProductStore
	orders   OrderStore
}

// NewImporter creates an importer.
func NewImporter(logger *observability.Logger, products ProductStore, orders OrderStore) *Importer {
	return &Importer{
		logger:   logger.WithComponent("orders"),
		products: products,
		orders:   orders,
	}
}

// Import creates or overwrites the purchase order for one supplier file.
//
// Without overwrite, re-importing a file the supplier already has fails with
// ErrDuplicate and changes nothing. With overwrite, line items are replaced
// but quantities already received on matching SKUs are preserved, so an
// overwrite never resets receiving progress.
func (imp *Importer) Import(ctx context.Context, supplier *storage.Supplier, fileName string, rows []Row, overwrite bool) (*Result, error) {
	items, found, missing, err := imp.buildItems(ctx, supplier, rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}

	existing, err := imp.orders.FindBySupplierAndFile(ctx, supplier.Name, fileName)
	switch {
	case err == nil:
		if !overwrite {
			return nil, ErrDuplicate
		}
		restoreReceipts(items, existing.Items)
		if err := imp.orders.ReplaceItems(ctx, existing.ID, items); err != nil {
			return nil, fmt.Errorf("replace order items: %w", err)
		}
		imp.logger.Info().
			Int64("po_id", existing.ID).
			Str("file", fileName).
			Int("items", len(items)).
			Msg("Order overwritten, receipts preserved")
		return &Result{
			POID:        existing.ID,
			ItemsCount:  len(items),
			FoundSKUs:   found,
			MissingSKUs: missing,
			Action:      "updated",
		}, nil

	case errors.Is(err, storage.ErrNotFound):
		po := &storage.PurchaseOrder{
			SupplierName: supplier.Name,
			FileName:     fileName,
			Status:       storage.POStatusPending,
			Items:        items,
		}
		if err := imp.orders.Create(ctx, po); err != nil {
			// A concurrent upload of the same file can win the race; the
			// unique index turns that into a conflict, not a double order.
			if errors.Is(err, storage.ErrConflict) {
				return nil, ErrDuplicate
			}
			return nil, fmt.Errorf("create order: %w", err)
		}
		imp.logger.Info().
			Int64("po_id", po.ID).
			Str("file", fileName).
			Int("items", len(items)).
			Strs("missing_skus", missing).
			Msg("Order created")
		return &Result{
			POID:        po.ID,
			ItemsCount:  len(items),
			FoundSKUs:   found,
			MissingSKUs: missing,
			Action:      "created",
		}, nil

	default:
		return nil, fmt.Errorf("check for duplicate order: %w", err)
	}
}

func (imp *Importer) buildItems(ctx context.Context, supplier *storage.Supplier, rows []Row) ([]storage.POItem, []string, []string, error) {
	var items []storage.POItem
	var found, missing []string

	for _, row := range rows {
		sku := strings.TrimSpace(row.SKU)
		if sku == "" || row.Qty <= 0 {
			continue
		}

		product, err := imp.products.GetBySKU(ctx, sku)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			missing = append(missing, sku)
			title := row.Title
			if title == "" {
				title = "Imported " + sku
			}
			supplierID := supplier.ID
			placeholder := &storage.Product{
				SKU:        sku,
				Barcode:    row.Barcode,
				Title:      title,
				SupplierID: &supplierID,
				Status:     storage.StatusDraft,
			}
			if err := imp.products.Create(ctx, placeholder); err != nil {
				return nil, nil, nil, fmt.Errorf("create placeholder product %s: %w", sku, err)
			}
			found = append(found, sku+" (created)")
		case err != nil:
			return nil, nil, nil, fmt.Errorf("look up product %s: %w", sku, err)
		default:
			if product.Barcode == "" && row.Barcode != "" {
				product.Barcode = row.Barcode
				if err := imp.products.Update(ctx, product); err != nil {
					return nil, nil, nil, fmt.Errorf("backfill barcode for %s: %w", sku, err)
				}
			}
			found = append(found, sku)
		}

		items = append(items, storage.POItem{
			SKU:         sku,
			QtyOrdered:  row.Qty,
			QtyReceived: 0,
			Status:      storage.POItemStatusPending,
		})
	}

	return items, found, missing, nil
}

// restoreReceipts carries received quantities from the old items onto the new
// ones by SKU and recomputes each line's status.
func restoreReceipts(items []storage.POItem, old []storage.POItem) {
	received := make(map[string]int, len(old))
	for _, item := range old {
		if item.QtyReceived > 0 {
			received[item.SKU] = item.QtyReceived
		}
	}

	for i := range items {
		qty, ok := received[items[i].SKU]
		if !ok {
			continue
		}
		items[i].QtyReceived = qty
		switch {
		case qty > items[i].QtyOrdered:
			items[i].Status = storage.POItemStatusOverfilled
		case qty == items[i].QtyOrdered:
			items[i].Status = storage.POItemStatusCompleted
		default:
			items[i].Status = storage.POItemStatusPartial
		}
	}
}
