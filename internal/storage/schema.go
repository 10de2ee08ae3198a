package storage

// Schema DDL is written to the common subset of SQLite and Postgres.
const schema = `
CREATE TABLE IF NOT EXISTS suppliers (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS products (
	id TEXT PRIMARY KEY,
	sku TEXT NOT NULL UNIQUE,
	barcode TEXT NOT NULL DEFAULT '',
	supplier_id INTEGER,
	title TEXT NOT NULL DEFAULT '',
	stock_on_hand INTEGER NOT NULL DEFAULT 0,
	image_path TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'DRAFT',
	source_page_image_path TEXT NOT NULL DEFAULT '',
	source_page_dims TEXT NOT NULL DEFAULT '',
	image_rect TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_products_barcode ON products (barcode);
CREATE INDEX IF NOT EXISTS idx_products_supplier ON products (supplier_id);

CREATE TABLE IF NOT EXISTS purchase_orders (
	id INTEGER PRIMARY KEY,
	supplier_name TEXT NOT NULL,
	file_name TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_po_supplier_file ON purchase_orders (supplier_name, file_name);

CREATE TABLE IF NOT EXISTS po_items (
	id INTEGER PRIMARY KEY,
	po_id INTEGER NOT NULL REFERENCES purchase_orders (id),
	sku TEXT NOT NULL,
	qty_ordered INTEGER NOT NULL,
	qty_received INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'PENDING'
);

CREATE INDEX IF NOT EXISTS idx_po_items_sku ON po_items (sku);

CREATE TABLE IF NOT EXISTS source_files (
	id INTEGER PRIMARY KEY,
	file_name TEXT NOT NULL,
	file_size INTEGER NOT NULL DEFAULT 0,
	file_path TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Uploaded',
	created_at TIMESTAMP NOT NULL
);
`
