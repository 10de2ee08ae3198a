package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backroomhq/backroom/internal/cache"
	"github.com/backroomhq/backroom/internal/ingest"
	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/orders"
	"github.com/backroomhq/backroom/internal/receiving"
	"github.com/backroomhq/backroom/internal/storage"
)

type testEnv struct {
	handler   http.Handler
	repos     *storage.Repositories
	sharedDir string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := storage.Open(storage.OpenOptions{
		Driver: "sqlite",
		DSN:    filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := observability.Nop()
	repos := storage.NewRepositories(db)
	memCache := cache.NewMemoryClient(100)
	t.Cleanup(func() { memCache.Close() })

	sharedDir := filepath.Join(dir, "shared")
	engine := receiving.NewEngine(logger, repos.Products, repos.Orders, memCache, receiving.Config{})
	store := ingest.NewStore(logger, sharedDir, "/media", repos.Products, repos.SourceFiles)
	importer := orders.NewImporter(logger, repos.Products, repos.Orders)

	cfg := Config{SharedDir: sharedDir, MediaBase: "/media"}
	server := NewServer(logger, repos, engine, store, importer, orders.ParseCSV, cfg)

	return &testEnv{
		handler:   server.Router(cfg),
		repos:     repos,
		sharedDir: sharedDir,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) postJSON(t *testing.T, path string, body string) *httptest.ResponseRecorder {
	return e.do(t, http.MethodPost, path, strings.NewReader(body), "application/json")
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), "body: %s", rec.Body.String())
	return body
}

func multipartFile(t *testing.T, fields map[string]string, fileField, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	part, err := mw.CreateFormFile(fileField, filename)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) createSupplier(t *testing.T, name string) int64 {
	t.Helper()
	s := &storage.Supplier{Name: name}
	require.NoError(t, e.repos.Suppliers.Create(context.Background(), s))
	return s.ID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestScan_UnknownCodeIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	rec := env.postJSON(t, "/api/scan/item", `{"code":"UNKNOWN-1"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody(t, rec)["status"])
}

func TestScan_SingleOpenOrderAutoApplies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.repos.Products.Create(ctx, &storage.Product{SKU: "SKU-A", Barcode: "111"}))
	po := &storage.PurchaseOrder{SupplierName: "Acme", FileName: "f.csv",
		Items: []storage.POItem{{SKU: "SKU-A", QtyOrdered: 3}}}
	require.NoError(t, env.repos.Orders.Create(ctx, po))

	rec := env.postJSON(t, "/api/scan/item", `{"code":"111"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "received", body["status"])
	item := body["po_item"].(map[string]interface{})
	assert.EqualValues(t, 1, item["qty_received"])
	assert.Equal(t, string(storage.POItemStatusPartial), item["status"])
}

func TestScan_MultipleOrdersPromptSortedByMissingQty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.repos.Products.Create(ctx, &storage.Product{SKU: "SKU-A"}))
	for i, qty := range []int{3, 10, 1} {
		po := &storage.PurchaseOrder{
			SupplierName: fmt.Sprintf("Supplier-%d", i+1),
			FileName:     fmt.Sprintf("f%d.csv", i+1),
			Items:        []storage.POItem{{SKU: "SKU-A", QtyOrdered: qty}},
		}
		require.NoError(t, env.repos.Orders.Create(ctx, po))
	}

	rec := env.postJSON(t, "/api/scan/item", `{"code":"SKU-A"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "multiple_pos", body["status"])
	options := body["po_options"].([]interface{})
	require.Len(t, options, 3)

	var missing []float64
	for _, o := range options {
		missing = append(missing, o.(map[string]interface{})["missing_qty"].(float64))
	}
	assert.Equal(t, []float64{10, 3, 1}, missing)
}

func TestOrderUpload_ConflictAndOverwritePreservesReceipts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	supplierID := env.createSupplier(t, "Acme Foods")

	csv := "sku,barcode,title,qty\nSKU-A,111,Honey,5\nSKU-B,,Oil,2\n"
	fields := map[string]string{"supplier_id": fmt.Sprintf("%d", supplierID)}

	buf, ct := multipartFile(t, fields, "file", "week34.csv", csv)
	rec := env.do(t, http.MethodPost, "/api/orders", buf, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "created", body["action"])
	assert.EqualValues(t, 2, body["items_count"])
	poID := int64(body["po_id"].(float64))

	// Same file again without overwrite.
	buf, ct = multipartFile(t, fields, "file", "week34.csv", csv)
	rec = env.do(t, http.MethodPost, "/api/orders", buf, ct)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["duplicate"])

	// Receive one unit, then overwrite; the receipt must survive.
	recScan := env.postJSON(t, "/api/scan/item", `{"code":"SKU-A"}`)
	require.Equal(t, http.StatusOK, recScan.Code)

	fields["overwrite"] = "true"
	buf, ct = multipartFile(t, fields, "file", "week34.csv", csv)
	rec = env.do(t, http.MethodPost, "/api/orders", buf, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "updated", decodeBody(t, rec)["action"])

	po, err := env.repos.Orders.GetByID(ctx, poID)
	require.NoError(t, err)
	for _, item := range po.Items {
		if item.SKU == "SKU-A" {
			assert.Equal(t, 1, item.QtyReceived)
			assert.Equal(t, storage.POItemStatusPartial, item.Status)
		}
	}
}

func TestOrderUpload_CreatesPlaceholderProducts(t *testing.T) {
	env := newTestEnv(t)
	supplierID := env.createSupplier(t, "Acme")

	csv := "sku,qty\nSKU-NEW,4\n"
	buf, ct := multipartFile(t, map[string]string{"supplier_id": fmt.Sprintf("%d", supplierID)},
		"file", "f.csv", csv)
	rec := env.do(t, http.MethodPost, "/api/orders", buf, ct)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	missing := body["missing_skus"].([]interface{})
	assert.Equal(t, []interface{}{"SKU-NEW"}, missing)

	p, err := env.repos.Products.GetBySKU(context.Background(), "SKU-NEW")
	require.NoError(t, err)
	assert.Equal(t, storage.StatusDraft, p.Status)
}

func TestOrderUpload_UnknownSupplier(t *testing.T) {
	env := newTestEnv(t)
	buf, ct := multipartFile(t, map[string]string{"supplier_id": "42"}, "file", "f.csv", "sku,qty\nA,1\n")
	rec := env.do(t, http.MethodPost, "/api/orders", buf, ct)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIngest_UploadTriggerPollLifecycle(t *testing.T) {
	env := newTestEnv(t)

	// Poll before anything exists: 404, the not-yet signal.
	rec := env.do(t, http.MethodPost, "/api/ingest/process?filename=catalog.pdf", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	buf, ct := multipartFile(t, nil, "file", "catalog.pdf", "%PDF-1.4 fake")
	rec = env.do(t, http.MethodPost, "/api/ingest/upload", buf, ct)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/ingest/trigger?filename=catalog.pdf", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Worker has the file but produced nothing yet: generic processing.
	rec = env.do(t, http.MethodPost, "/api/ingest/process?filename=catalog.pdf", nil, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	// Worker progress file appears.
	processed := filepath.Join(env.sharedDir, "processed")
	require.NoError(t, os.MkdirAll(processed, 0o777))
	require.NoError(t, os.WriteFile(filepath.Join(processed, "progress_catalog.pdf.json"),
		[]byte(`{"status":"processing","current_page":2,"total_pages":3,"message":"Page 2"}`), 0o666))

	rec = env.do(t, http.MethodPost, "/api/ingest/process?filename=catalog.pdf", nil, "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.EqualValues(t, 2, body["current_page"])
	assert.EqualValues(t, 3, body["total_pages"])

	// Manifest lands: terminal preview.
	require.NoError(t, os.WriteFile(filepath.Join(processed, "manifest_catalog.pdf.json"),
		[]byte(`{"mode":"auto","missing_skus":["SKU-X"],"items":[{"uuid":"a","file_path":"/app/shared/processed/crops/a.jpg","source_page":1}]}`), 0o666))

	rec = env.do(t, http.MethodPost, "/api/ingest/process?filename=catalog.pdf", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody(t, rec)
	assert.Equal(t, "preview", body["status"])
	assert.Len(t, body["products"].([]interface{}), 1)

	// The upload ledger marks the file ready.
	rec = env.do(t, http.MethodGet, "/api/ingest/files", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var files []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	require.Len(t, files, 1)
	assert.Equal(t, true, files[0]["is_ready"])
}

func TestIngest_TriggerMissingFile(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/ingest/trigger?filename=ghost.pdf", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecrop_ClampsAndRewritesImage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A real page render to crop from.
	pagesDir := filepath.Join(env.sharedDir, "processed", "pages")
	require.NoError(t, os.MkdirAll(filepath.Join(env.sharedDir, "processed", "crops"), 0o777))
	require.NoError(t, os.MkdirAll(pagesDir, 0o777))
	page := image.NewRGBA(image.Rect(0, 0, 200, 100))
	var pageBuf bytes.Buffer
	require.NoError(t, jpeg.Encode(&pageBuf, page, nil))
	require.NoError(t, os.WriteFile(filepath.Join(pagesDir, "page1.jpg"), pageBuf.Bytes(), 0o666))

	product := &storage.Product{
		SKU:                 "SKU-A",
		ImagePath:           "/media/crops/item1.jpg",
		SourcePageImagePath: "/media/pages/page1.jpg",
	}
	require.NoError(t, env.repos.Products.Create(ctx, product))

	// Rect extends past the right edge; it must be clamped, not rejected.
	payload := `{"x":150,"y":10,"w":100,"h":50}`
	rec := env.do(t, http.MethodPut, "/api/products/"+product.ID.String()+"/recrop",
		strings.NewReader(payload), "application/json")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Contains(t, body["new_image_url"], "/media/crops/item1.jpg?t=")

	out, err := os.Open(filepath.Join(env.sharedDir, "processed", "crops", "item1.jpg"))
	require.NoError(t, err)
	defer out.Close()
	cfg, _, err := image.DecodeConfig(out)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	updated, err := env.repos.Products.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"x":150,"y":10,"w":50,"h":50}`, updated.ImageRect)
}

func TestRecrop_DegenerateRectRejected(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPut, "/api/products/nonsense/recrop",
		strings.NewReader(`{"x":10,"y":10,"w":0,"h":50,"source_path":"/media/pages/p.jpg","dest_path":"/media/crops/c.jpg"}`),
		"application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateAndDeleteProduct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	p := &storage.Product{SKU: "SKU-A", Title: "Before"}
	require.NoError(t, env.repos.Products.Create(ctx, p))

	rec := env.do(t, http.MethodPut, "/api/products/"+p.ID.String(),
		strings.NewReader(`{"title":"After","status":"APPROVED"}`), "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := env.repos.Products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)
	assert.Equal(t, storage.StatusApproved, got.Status)

	rec = env.do(t, http.MethodDelete, "/api/products/"+p.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	_, err = env.repos.Products.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveProduct_UpsertsBySKU(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Placeholder from an earlier order import, waiting for its image.
	require.NoError(t, env.repos.Products.Create(ctx, &storage.Product{SKU: "SKU-A", Title: "Placeholder"}))

	rec := env.postJSON(t, "/api/products",
		`{"sku":"SKU-A","title":"Honey 500g","image_path":"/media/crops/a.jpg"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	products, err := env.repos.Products.List(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1, "save must update the existing SKU, not fork a duplicate")
	assert.Equal(t, "Honey 500g", products[0].Title)
	assert.Equal(t, storage.StatusApproved, products[0].Status)
}
