package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const productColumns = `id, sku, barcode, supplier_id, title, stock_on_hand,
	image_path, status, source_page_image_path, source_page_dims, image_rect,
	created_at, updated_at`

// ProductRepository handles product records.
type ProductRepository struct {
	db DB
}

// NewProductRepository creates a new product repository.
func NewProductRepository(db DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// Create inserts a product. A nil ID is generated.
func (r *ProductRepository) Create(ctx context.Context, p *Product) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID.String(), p.SKU, p.Barcode, p.SupplierID, p.Title, p.StockOnHand,
		p.ImagePath, p.Status, p.SourcePageImagePath, p.SourcePageDims,
		p.ImageRect, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a product by ID.
func (r *ProductRepository) GetByID(ctx context.Context, id uuid.UUID) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id.String()))
}

// GetBySKU retrieves a product by exact SKU.
func (r *ProductRepository) GetBySKU(ctx context.Context, sku string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sku))
}

// GetByCode retrieves a product by scannable code, matching SKU or barcode.
func (r *ProductRepository) GetByCode(ctx context.Context, code string) (*Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE sku = $1 OR barcode = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, code))
}

// Update persists mutable product fields.
func (r *ProductRepository) Update(ctx context.Context, p *Product) error {
	p.UpdatedAt = time.Now()
	// Placeholders are numbered in order of appearance: sqlite binds $N
	// parameters by first occurrence, not by N.
	query := `
		UPDATE products SET sku = $1, barcode = $2, supplier_id = $3, title = $4,
			stock_on_hand = $5, image_path = $6, status = $7,
			source_page_image_path = $8, source_page_dims = $9, image_rect = $10,
			updated_at = $11
		WHERE id = $12
	`
	res, err := r.db.ExecContext(ctx, query,
		p.SKU, p.Barcode, p.SupplierID, p.Title, p.StockOnHand,
		p.ImagePath, p.Status, p.SourcePageImagePath, p.SourcePageDims,
		p.ImageRect, p.UpdatedAt, p.ID.String(),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// Delete removes a product.
func (r *ProductRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id.String())
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// List returns all products, newest first.
func (r *ProductRepository) List(ctx context.Context) ([]Product, error) {
	query := `SELECT ` + productColumns + ` FROM products ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}

// SKUsForSupplier returns the non-empty SKUs attached to a supplier, used as
// the target list for supplier-scoped extraction runs.
func (r *ProductRepository) SKUsForSupplier(ctx context.Context, supplierID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT sku FROM products WHERE supplier_id = $1 AND sku != ''`, supplierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var skus []string
	for rows.Next() {
		var sku string
		if err := rows.Scan(&sku); err != nil {
			return nil, err
		}
		skus = append(skus, sku)
	}
	return skus, rows.Err()
}

// IncrementStock bumps stock_on_hand by one in a single statement so
// concurrent scanning sessions cannot lose updates.
func (r *ProductRepository) IncrementStock(ctx context.Context, id uuid.UUID) (int, error) {
	var stock int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products SET stock_on_hand = stock_on_hand + 1, updated_at = $1
		WHERE id = $2
		RETURNING stock_on_hand
	`, time.Now(), id.String()).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return stock, err
}

func (r *ProductRepository) scanOne(row *sql.Row) (*Product, error) {
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(s scanner) (*Product, error) {
	p := &Product{}
	var id string
	err := s.Scan(
		&id, &p.SKU, &p.Barcode, &p.SupplierID, &p.Title, &p.StockOnHand,
		&p.ImagePath, &p.Status, &p.SourcePageImagePath, &p.SourcePageDims,
		&p.ImageRect, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse product id: %w", err)
	}
	return p, nil
}

// OrderRepository handles purchase orders and their line items.
type OrderRepository struct {
	db DB
}

// NewOrderRepository creates a new order repository.
func NewOrderRepository(db DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts a purchase order with its items. The unique index on
// (supplier_name, file_name) makes the duplicate check-then-act safe under
// concurrent uploads of the same file.
func (r *OrderRepository) Create(ctx context.Context, po *PurchaseOrder) error {
	if po.Status == "" {
		po.Status = POStatusPending
	}
	po.CreatedAt = time.Now()
	po.UpdatedAt = po.CreatedAt

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO purchase_orders (supplier_name, file_name, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, po.SupplierName, po.FileName, po.Status, po.CreatedAt, po.UpdatedAt).Scan(&po.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return err
	}

	return r.insertItems(ctx, po.ID, po.Items)
}

// GetByID retrieves a purchase order with its items.
func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, supplier_name, file_name, status, created_at, updated_at
		FROM purchase_orders WHERE id = $1
	`, id).Scan(&po.ID, &po.SupplierName, &po.FileName, &po.Status, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	po.Items, err = r.itemsFor(ctx, po.ID)
	return po, err
}

// FindBySupplierAndFile looks for an order already imported from this file.
func (r *OrderRepository) FindBySupplierAndFile(ctx context.Context, supplierName, fileName string) (*PurchaseOrder, error) {
	po := &PurchaseOrder{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, supplier_name, file_name, status, created_at, updated_at
		FROM purchase_orders WHERE supplier_name = $1 AND file_name = $2
	`, supplierName, fileName).Scan(&po.ID, &po.SupplierName, &po.FileName, &po.Status, &po.CreatedAt, &po.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	po.Items, err = r.itemsFor(ctx, po.ID)
	return po, err
}

// List returns all purchase orders with items, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]PurchaseOrder, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, supplier_name, file_name, status, created_at, updated_at
		FROM purchase_orders ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []PurchaseOrder
	for rows.Next() {
		var po PurchaseOrder
		if err := rows.Scan(&po.ID, &po.SupplierName, &po.FileName, &po.Status, &po.CreatedAt, &po.UpdatedAt); err != nil {
			return nil, err
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		orders[i].Items, err = r.itemsFor(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// ReplaceItems swaps an order's line items, e.g. on an overwrite import.
func (r *OrderRepository) ReplaceItems(ctx context.Context, poID int64, items []POItem) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM po_items WHERE po_id = $1`, poID); err != nil {
		return err
	}
	if err := r.insertItems(ctx, poID, items); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE purchase_orders SET updated_at = $1 WHERE id = $2`, time.Now(), poID)
	return err
}

// OpenCandidates returns the open purchase-order lines that could absorb a
// receipt for the given SKU: line still PENDING or PARTIAL and order not yet
// fully received.
func (r *OrderRepository) OpenCandidates(ctx context.Context, sku string) ([]OpenCandidate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT po.id, po.supplier_name, pi.qty_ordered, pi.qty_received
		FROM po_items pi
		JOIN purchase_orders po ON po.id = pi.po_id
		WHERE pi.sku = $1
		  AND pi.status IN ($2, $3)
		  AND po.status != $4
	`, sku, POItemStatusPending, POItemStatusPartial, POStatusReceived)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []OpenCandidate
	for rows.Next() {
		var c OpenCandidate
		if err := rows.Scan(&c.POID, &c.SupplierName, &c.QtyOrdered, &c.QtyReceived); err != nil {
			return nil, err
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// GetItem fetches one line of an order by SKU.
func (r *OrderRepository) GetItem(ctx context.Context, poID int64, sku string) (*POItem, error) {
	item := &POItem{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, po_id, sku, qty_ordered, qty_received, status
		FROM po_items WHERE po_id = $1 AND sku = $2
	`, poID, sku).Scan(&item.ID, &item.POID, &item.SKU, &item.QtyOrdered, &item.QtyReceived, &item.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

// ApplyReceipt increments qty_received by exactly one and recomputes the line
// status, in a single statement. The read-modify-write happens inside the
// database, so concurrent scanning sessions targeting the same line cannot
// lose an increment.
func (r *OrderRepository) ApplyReceipt(ctx context.Context, poID int64, sku string) (*POItem, error) {
	item := &POItem{}
	err := r.db.QueryRowContext(ctx, `
		UPDATE po_items SET
			qty_received = qty_received + 1,
			status = CASE
				WHEN qty_received + 1 < qty_ordered THEN $1
				WHEN qty_received + 1 = qty_ordered THEN $2
				ELSE $3
			END
		WHERE po_id = $4 AND sku = $5
		RETURNING id, po_id, sku, qty_ordered, qty_received, status
	`, POItemStatusPartial, POItemStatusCompleted, POItemStatusOverfilled, poID, sku).
		Scan(&item.ID, &item.POID, &item.SKU, &item.QtyOrdered, &item.QtyReceived, &item.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return item, err
}

func (r *OrderRepository) insertItems(ctx context.Context, poID int64, items []POItem) error {
	for i := range items {
		item := &items[i]
		item.POID = poID
		if item.Status == "" {
			item.Status = POItemStatusPending
		}
		err := r.db.QueryRowContext(ctx, `
			INSERT INTO po_items (po_id, sku, qty_ordered, qty_received, status)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, item.POID, item.SKU, item.QtyOrdered, item.QtyReceived, item.Status).Scan(&item.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *OrderRepository) itemsFor(ctx context.Context, poID int64) ([]POItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, po_id, sku, qty_ordered, qty_received, status
		FROM po_items WHERE po_id = $1 ORDER BY id
	`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []POItem
	for rows.Next() {
		var item POItem
		if err := rows.Scan(&item.ID, &item.POID, &item.SKU, &item.QtyOrdered, &item.QtyReceived, &item.Status); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// SupplierRepository handles supplier records.
type SupplierRepository struct {
	db DB
}

// NewSupplierRepository creates a new supplier repository.
func NewSupplierRepository(db DB) *SupplierRepository {
	return &SupplierRepository{db: db}
}

// Create inserts a supplier.
func (r *SupplierRepository) Create(ctx context.Context, s *Supplier) error {
	s.CreatedAt = time.Now()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO suppliers (name, created_at) VALUES ($1, $2) RETURNING id
	`, s.Name, s.CreatedAt).Scan(&s.ID)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// GetByID retrieves a supplier.
func (r *SupplierRepository) GetByID(ctx context.Context, id int64) (*Supplier, error) {
	s := &Supplier{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM suppliers WHERE id = $1`, id).
		Scan(&s.ID, &s.Name, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// List returns all suppliers.
func (r *SupplierRepository) List(ctx context.Context) ([]Supplier, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, created_at FROM suppliers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suppliers []Supplier
	for rows.Next() {
		var s Supplier
		if err := rows.Scan(&s.ID, &s.Name, &s.CreatedAt); err != nil {
			return nil, err
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}

// SourceFileRepository records raw uploaded documents.
type SourceFileRepository struct {
	db DB
}

// NewSourceFileRepository creates a new source file repository.
func NewSourceFileRepository(db DB) *SourceFileRepository {
	return &SourceFileRepository{db: db}
}

// Create records an uploaded file.
func (r *SourceFileRepository) Create(ctx context.Context, f *SourceFile) error {
	f.CreatedAt = time.Now()
	if f.Status == "" {
		f.Status = "Uploaded"
	}
	return r.db.QueryRowContext(ctx, `
		INSERT INTO source_files (file_name, file_size, file_path, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, f.FileName, f.FileSize, f.FilePath, f.Status, f.CreatedAt).Scan(&f.ID)
}

// List returns uploaded files, newest first.
func (r *SourceFileRepository) List(ctx context.Context) ([]SourceFile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, file_name, file_size, file_path, status, created_at
		FROM source_files ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []SourceFile
	for rows.Next() {
		var f SourceFile
		if err := rows.Scan(&f.ID, &f.FileName, &f.FileSize, &f.FilePath, &f.Status, &f.CreatedAt); err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
