package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/storage"
)

type fakeProducts struct {
	bySKU   map[string]*storage.Product
	created []string
	updated []string
}

func newFakeProducts() *fakeProducts {
	return &fakeProducts{bySKU: make(map[string]*storage.Product)}
}

func (f *fakeProducts) add(sku, barcode string) {
	f.bySKU[sku] = &storage.Product{ID: uuid.New(), SKU: sku, Barcode: barcode, Title: "Existing " + sku}
}

func (f *fakeProducts) GetBySKU(_ context.Context, sku string) (*storage.Product, error) {
	p, ok := f.bySKU[sku]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (f *fakeProducts) Create(_ context.Context, p *storage.Product) error {
	p.ID = uuid.New()
	f.bySKU[p.SKU] = p
	f.created = append(f.created, p.SKU)
	return nil
}

func (f *fakeProducts) Update(_ context.Context, p *storage.Product) error {
	f.bySKU[p.SKU] = p
	f.updated = append(f.updated, p.SKU)
	return nil
}

type fakeOrders struct {
	nextID   int64
	existing map[string]*storage.PurchaseOrder // supplier|file
	replaced map[int64][]storage.POItem
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{nextID: 1, existing: make(map[string]*storage.PurchaseOrder), replaced: make(map[int64][]storage.POItem)}
}

func (f *fakeOrders) key(supplier, file string) string { return supplier + "|" + file }

func (f *fakeOrders) Create(_ context.Context, po *storage.PurchaseOrder) error {
	k := f.key(po.SupplierName, po.FileName)
	if _, ok := f.existing[k]; ok {
		return storage.ErrConflict
	}
	po.ID = f.nextID
	f.nextID++
	f.existing[k] = po
	return nil
}

func (f *fakeOrders) FindBySupplierAndFile(_ context.Context, supplier, file string) (*storage.PurchaseOrder, error) {
	po, ok := f.existing[f.key(supplier, file)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return po, nil
}

func (f *fakeOrders) ReplaceItems(_ context.Context, poID int64, items []storage.POItem) error {
	f.replaced[poID] = items
	for _, po := range f.existing {
		if po.ID == poID {
			po.Items = items
		}
	}
	return nil
}

func newTestImporter(products *fakeProducts, orders *fakeOrders) *Importer {
	return NewImporter(observability.Nop(), products, orders)
}

func testSupplier() *storage.Supplier {
	return &storage.Supplier{ID: 7, Name: "Acme Foods"}
}

func TestImport_CreatesOrderWithPlaceholders(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "111")
	orders := newFakeOrders()
	imp := newTestImporter(products, orders)

	rows := []Row{
		{SKU: "SKU-A", Qty: 5},
		{SKU: "SKU-NEW", Barcode: "222", Title: "Brand New", Qty: 3},
	}
	res, err := imp.Import(context.Background(), testSupplier(), "week34.xlsx", rows, false)
	require.NoError(t, err)

	assert.Equal(t, "created", res.Action)
	assert.Equal(t, 2, res.ItemsCount)
	assert.Equal(t, []string{"SKU-NEW"}, res.MissingSKUs)
	assert.Contains(t, res.FoundSKUs, "SKU-A")

	require.Equal(t, []string{"SKU-NEW"}, products.created)
	created := products.bySKU["SKU-NEW"]
	assert.Equal(t, storage.StatusDraft, created.Status)
	assert.Equal(t, "Brand New", created.Title)
	require.NotNil(t, created.SupplierID)
	assert.Equal(t, int64(7), *created.SupplierID)
}

func TestImport_SkipsBlankAndNonPositiveRows(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "")
	imp := newTestImporter(products, newFakeOrders())

	rows := []Row{
		{SKU: "  ", Qty: 5},
		{SKU: "SKU-A", Qty: 0},
		{SKU: "SKU-A", Qty: -2},
		{SKU: "SKU-A", Qty: 4},
	}
	res, err := imp.Import(context.Background(), testSupplier(), "f.xlsx", rows, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsCount)
}

func TestImport_AllRowsInvalid(t *testing.T) {
	imp := newTestImporter(newFakeProducts(), newFakeOrders())

	_, err := imp.Import(context.Background(), testSupplier(), "f.xlsx", []Row{{SKU: "", Qty: 1}}, false)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestImport_DuplicateFileRejected(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "")
	orders := newFakeOrders()
	imp := newTestImporter(products, orders)

	rows := []Row{{SKU: "SKU-A", Qty: 5}}
	_, err := imp.Import(context.Background(), testSupplier(), "week34.xlsx", rows, false)
	require.NoError(t, err)

	_, err = imp.Import(context.Background(), testSupplier(), "week34.xlsx", rows, false)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestImport_OverwritePreservesReceipts(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "")
	products.add("SKU-B", "")
	orders := newFakeOrders()
	imp := newTestImporter(products, orders)

	rows := []Row{
		{SKU: "SKU-A", Qty: 10},
		{SKU: "SKU-B", Qty: 4},
	}
	res, err := imp.Import(context.Background(), testSupplier(), "week34.xlsx", rows, false)
	require.NoError(t, err)

	// Receiving happens between the two uploads.
	po := orders.existing[orders.key("Acme Foods", "week34.xlsx")]
	po.Items[0].QtyReceived = 3
	po.Items[0].Status = storage.POItemStatusPartial
	po.Items[1].QtyReceived = 4
	po.Items[1].Status = storage.POItemStatusCompleted

	// Overwrite changes quantities and drops SKU-B.
	rows = []Row{
		{SKU: "SKU-A", Qty: 3},
		{SKU: "SKU-C", Qty: 2},
	}
	res2, err := imp.Import(context.Background(), testSupplier(), "week34.xlsx", rows, true)
	require.NoError(t, err)
	assert.Equal(t, "updated", res2.Action)
	assert.Equal(t, res.POID, res2.POID)

	items := orders.replaced[res.POID]
	require.Len(t, items, 2)

	bySKU := make(map[string]storage.POItem)
	for _, item := range items {
		bySKU[item.SKU] = item
	}
	// SKU-A had 3 received against a new order of 3: now completed.
	assert.Equal(t, 3, bySKU["SKU-A"].QtyReceived)
	assert.Equal(t, storage.POItemStatusCompleted, bySKU["SKU-A"].Status)
	// SKU-C is new and starts from zero.
	assert.Equal(t, 0, bySKU["SKU-C"].QtyReceived)
	assert.Equal(t, storage.POItemStatusPending, bySKU["SKU-C"].Status)
}

func TestImport_OverwriteFlagsOverfilledLines(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "")
	orders := newFakeOrders()
	imp := newTestImporter(products, orders)

	_, err := imp.Import(context.Background(), testSupplier(), "f.xlsx", []Row{{SKU: "SKU-A", Qty: 10}}, false)
	require.NoError(t, err)

	po := orders.existing[orders.key("Acme Foods", "f.xlsx")]
	po.Items[0].QtyReceived = 8

	res, err := imp.Import(context.Background(), testSupplier(), "f.xlsx", []Row{{SKU: "SKU-A", Qty: 5}}, true)
	require.NoError(t, err)

	items := orders.replaced[res.POID]
	require.Len(t, items, 1)
	assert.Equal(t, 8, items[0].QtyReceived)
	assert.Equal(t, storage.POItemStatusOverfilled, items[0].Status)
}

func TestImport_BackfillsMissingBarcode(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "")
	imp := newTestImporter(products, newFakeOrders())

	rows := []Row{{SKU: "SKU-A", Barcode: "4006381333931", Qty: 1}}
	_, err := imp.Import(context.Background(), testSupplier(), "f.xlsx", rows, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"SKU-A"}, products.updated)
	assert.Equal(t, "4006381333931", products.bySKU["SKU-A"].Barcode)
}

func TestImport_ExistingBarcodeNotOverwritten(t *testing.T) {
	products := newFakeProducts()
	products.add("SKU-A", "original")
	imp := newTestImporter(products, newFakeOrders())

	rows := []Row{{SKU: "SKU-A", Barcode: "different", Qty: 1}}
	_, err := imp.Import(context.Background(), testSupplier(), "f.xlsx", rows, false)
	require.NoError(t, err)

	assert.Empty(t, products.updated)
	assert.Equal(t, "original", products.bySKU["SKU-A"].Barcode)
}
