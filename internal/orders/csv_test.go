package orders

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV_MapsHeaderColumns(t *testing.T) {
	data := "EAN,SKU,Name,Qty\n4006381333931,SKU-A,Organic Honey,12\n,SKU-B,Olive Oil,3\n"

	rows, err := ParseCSV("order.csv", strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, Row{SKU: "SKU-A", Barcode: "4006381333931", Title: "Organic Honey", Qty: 12}, rows[0])
	assert.Equal(t, Row{SKU: "SKU-B", Title: "Olive Oil", Qty: 3}, rows[1])
}

func TestParseCSV_UnparsableQtyBecomesZero(t *testing.T) {
	data := "sku,quantity\nSKU-A,many\nSKU-B,5\n"

	rows, err := ParseCSV("order.csv", strings.NewReader(data))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 0, rows[0].Qty)
	assert.Equal(t, 5, rows[1].Qty)
}

func TestParseCSV_MissingSKUColumn(t *testing.T) {
	_, err := ParseCSV("order.csv", strings.NewReader("name,qty\nHoney,3\n"))
	assert.Error(t, err)
}

func TestParseCSV_MissingQtyColumn(t *testing.T) {
	_, err := ParseCSV("order.csv", strings.NewReader("sku,name\nSKU-A,Honey\n"))
	assert.Error(t, err)
}

func TestParseCSV_EmptyFile(t *testing.T) {
	_, err := ParseCSV("order.csv", strings.NewReader(""))
	assert.Error(t, err)
}
