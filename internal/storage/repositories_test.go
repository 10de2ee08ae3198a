package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db, err := Open(OpenOptions{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepositories(db)
}

func TestProductRepository_CreateAndLookup(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	p := &Product{SKU: "SKU-A", Barcode: "4006381333931", Title: "Organic Honey"}
	require.NoError(t, repos.Products.Create(ctx, p))
	assert.NotEqual(t, uuid.Nil, p.ID)
	assert.Equal(t, StatusDraft, p.Status)

	bySKU, err := repos.Products.GetByCode(ctx, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, p.ID, bySKU.ID)

	byBarcode, err := repos.Products.GetByCode(ctx, "4006381333931")
	require.NoError(t, err)
	assert.Equal(t, p.ID, byBarcode.ID)

	_, err = repos.Products.GetByCode(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductRepository_DuplicateSKU(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.Products.Create(ctx, &Product{SKU: "SKU-A"}))
	err := repos.Products.Create(ctx, &Product{SKU: "SKU-A"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestProductRepository_Update(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	p := &Product{SKU: "SKU-A", Title: "Before"}
	require.NoError(t, repos.Products.Create(ctx, p))

	p.Title = "After"
	p.Barcode = "111"
	p.Status = StatusApproved
	require.NoError(t, repos.Products.Update(ctx, p))

	got, err := repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)
	assert.Equal(t, "111", got.Barcode)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestProductRepository_UpdateMissing(t *testing.T) {
	repos := newTestRepos(t)
	err := repos.Products.Update(context.Background(), &Product{ID: uuid.New(), SKU: "ghost"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductRepository_IncrementStock(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	p := &Product{SKU: "SKU-A"}
	require.NoError(t, repos.Products.Create(ctx, p))

	stock, err := repos.Products.IncrementStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stock)

	stock, err = repos.Products.IncrementStock(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stock)

	_, err = repos.Products.IncrementStock(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductRepository_SKUsForSupplier(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	supplierID := int64(1)
	require.NoError(t, repos.Products.Create(ctx, &Product{SKU: "SKU-A", SupplierID: &supplierID}))
	require.NoError(t, repos.Products.Create(ctx, &Product{SKU: "SKU-B", SupplierID: &supplierID}))
	require.NoError(t, repos.Products.Create(ctx, &Product{SKU: "SKU-C"}))

	skus, err := repos.Products.SKUsForSupplier(ctx, supplierID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SKU-A", "SKU-B"}, skus)
}

func TestOrderRepository_DuplicateFileConflict(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	po := &PurchaseOrder{SupplierName: "Acme", FileName: "week34.xlsx",
		Items: []POItem{{SKU: "SKU-A", QtyOrdered: 5}}}
	require.NoError(t, repos.Orders.Create(ctx, po))
	assert.NotZero(t, po.ID)

	err := repos.Orders.Create(ctx, &PurchaseOrder{SupplierName: "Acme", FileName: "week34.xlsx"})
	assert.ErrorIs(t, err, ErrConflict)

	// Same file name for a different supplier is fine.
	require.NoError(t, repos.Orders.Create(ctx, &PurchaseOrder{SupplierName: "Other", FileName: "week34.xlsx"}))
}

func TestOrderRepository_FindBySupplierAndFile(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	po := &PurchaseOrder{SupplierName: "Acme", FileName: "f.csv",
		Items: []POItem{{SKU: "SKU-A", QtyOrdered: 2}, {SKU: "SKU-B", QtyOrdered: 1}}}
	require.NoError(t, repos.Orders.Create(ctx, po))

	got, err := repos.Orders.FindBySupplierAndFile(ctx, "Acme", "f.csv")
	require.NoError(t, err)
	assert.Equal(t, po.ID, got.ID)
	require.Len(t, got.Items, 2)
	assert.Equal(t, POItemStatusPending, got.Items[0].Status)

	_, err = repos.Orders.FindBySupplierAndFile(ctx, "Acme", "other.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderRepository_ApplyReceiptTransitions(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	po := &PurchaseOrder{SupplierName: "Acme", FileName: "f.csv",
		Items: []POItem{{SKU: "SKU-A", QtyOrdered: 2}}}
	require.NoError(t, repos.Orders.Create(ctx, po))

	item, err := repos.Orders.ApplyReceipt(ctx, po.ID, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, 1, item.QtyReceived)
	assert.Equal(t, POItemStatusPartial, item.Status)

	item, err = repos.Orders.ApplyReceipt(ctx, po.ID, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, 2, item.QtyReceived)
	assert.Equal(t, POItemStatusCompleted, item.Status)

	// Over-receipt stays representable and gets flagged.
	item, err = repos.Orders.ApplyReceipt(ctx, po.ID, "SKU-A")
	require.NoError(t, err)
	assert.Equal(t, 3, item.QtyReceived)
	assert.Equal(t, POItemStatusOverfilled, item.Status)

	_, err = repos.Orders.ApplyReceipt(ctx, po.ID, "SKU-MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderRepository_OpenCandidates(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	open := &PurchaseOrder{SupplierName: "Acme", FileName: "a.csv",
		Items: []POItem{{SKU: "SKU-A", QtyOrdered: 10}}}
	require.NoError(t, repos.Orders.Create(ctx, open))

	done := &PurchaseOrder{SupplierName: "Beta", FileName: "b.csv",
		Items: []POItem{{SKU: "SKU-A", QtyOrdered: 1, QtyReceived: 1, Status: POItemStatusCompleted}}}
	require.NoError(t, repos.Orders.Create(ctx, done))

	other := &PurchaseOrder{SupplierName: "Gamma", FileName: "c.csv",
		Items: []POItem{{SKU: "SKU-B", QtyOrdered: 4}}}
	require.NoError(t, repos.Orders.Create(ctx, other))

	candidates, err := repos.Orders.OpenCandidates(ctx, "SKU-A")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, open.ID, candidates[0].POID)
	assert.Equal(t, "Acme", candidates[0].SupplierName)
	assert.Equal(t, 10, candidates[0].MissingQty())
}

func TestOrderRepository_ReplaceItems(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	po := &PurchaseOrder{SupplierName: "Acme", FileName: "f.csv",
		Items: []POItem{{SKU: "SKU-A", QtyOrdered: 5}}}
	require.NoError(t, repos.Orders.Create(ctx, po))

	require.NoError(t, repos.Orders.ReplaceItems(ctx, po.ID, []POItem{
		{SKU: "SKU-B", QtyOrdered: 2},
		{SKU: "SKU-C", QtyOrdered: 1, QtyReceived: 1, Status: POItemStatusCompleted},
	}))

	got, err := repos.Orders.GetByID(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "SKU-B", got.Items[0].SKU)
	assert.Equal(t, POItemStatusCompleted, got.Items[1].Status)
}

func TestSupplierRepository_RoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	s := &Supplier{Name: "Acme Foods"}
	require.NoError(t, repos.Suppliers.Create(ctx, s))
	assert.NotZero(t, s.ID)

	got, err := repos.Suppliers.GetByID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "Acme Foods", got.Name)

	assert.ErrorIs(t, repos.Suppliers.Create(ctx, &Supplier{Name: "Acme Foods"}), ErrConflict)

	_, err = repos.Suppliers.GetByID(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSourceFileRepository_RoundTrip(t *testing.T) {
	repos := newTestRepos(t)
	ctx := context.Background()

	require.NoError(t, repos.SourceFiles.Create(ctx, &SourceFile{FileName: "catalog.pdf", FilePath: "/tmp/catalog.pdf"}))
	files, err := repos.SourceFiles.List(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "Uploaded", files[0].Status)
}
