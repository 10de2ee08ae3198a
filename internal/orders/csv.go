package orders

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseCSV decodes a comma-separated order file into rows. The first
// record must be a header naming at least a SKU column and a quantity
// column; header matching is case-insensitive and accepts the common
// supplier spellings. Rows with an unparsable quantity get qty 0 and are
// filtered by the importer.
func ParseCSV(_ string, r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty file")
	}

	cols := mapColumns(records[0])
	if cols.sku < 0 {
		return nil, fmt.Errorf("no sku column in header %v", records[0])
	}
	if cols.qty < 0 {
		return nil, fmt.Errorf("no quantity column in header %v", records[0])
	}

	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := Row{
			SKU:     field(rec, cols.sku),
			Barcode: field(rec, cols.barcode),
			Title:   field(rec, cols.title),
		}
		if qty, err := strconv.Atoi(field(rec, cols.qty)); err == nil {
			row.Qty = qty
		}
		rows = append(rows, row)
	}
	return rows, nil
}

type columnMap struct {
	sku, barcode, title, qty int
}

func mapColumns(header []string) columnMap {
	cols := columnMap{sku: -1, barcode: -1, title: -1, qty: -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "sku", "article", "artikel":
			cols.sku = i
		case "barcode", "ean", "gtin":
			cols.barcode = i
		case "title", "name", "description":
			cols.title = i
		case "qty", "quantity", "qty_ordered", "amount":
			cols.qty = i
		}
	}
	return cols
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
