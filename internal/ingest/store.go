package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/backroomhq/backroom/internal/observability"
	"github.com/backroomhq/backroom/internal/storage"
)

var (
	// ErrNotRegistered means no status exists for the file. Pollers treat
	// this as "not yet", not as failure.
	ErrNotRegistered = errors.New("ingest: no job registered for file")
	// ErrNotStaged means a trigger referenced a file that was never uploaded.
	ErrNotStaged = errors.New("ingest: file not found in staging")
)

// workerPrefix is the path the extraction worker writes into manifests.
// It is rewritten to the public media mount before leaving the server.
const workerPrefix = "/app/shared/processed"

// manifestItem is one detected product region in a worker manifest.
type manifestItem struct {
	UUID                string `json:"uuid"`
	FilePath            string `json:"file_path"`
	SourcePage          int    `json:"source_page"`
	DetectionMethod     string `json:"detection_method"`
	SourcePageImagePath string `json:"source_page_image_path"`
	SourcePageDims      []int  `json:"source_page_dims"`
	Box                 []int  `json:"box"`
	DetectedSKU         string `json:"detected_sku"`
	DetectedName        string `json:"detected_name"`
}

// SKUSource lists the SKUs known for a supplier, used to scope extraction.
type SKUSource interface {
	SKUsForSupplier(ctx context.Context, supplierID int64) ([]string, error)
}

// FileRecorder persists the upload ledger.
type FileRecorder interface {
	Create(ctx context.Context, f *storage.SourceFile) error
	List(ctx context.Context) ([]storage.SourceFile, error)
}

// FileStatus is a ledger entry plus whether its manifest has landed.
type FileStatus struct {
	storage.SourceFile
	IsReady bool `json:"is_ready"`
}

// Store manages extraction jobs over the shared directory. Files move
// uploads/ -> raw/ on trigger; the worker consumes raw/ and writes
// progress_<file>.json then manifest_<file>.json into processed/.
type Store struct {
	logger    *observability.Logger
	sharedDir string
	mediaBase string
	skus      SKUSource
	files     FileRecorder
}

// NewStore creates a store rooted at sharedDir. mediaBase is the URL path
// the processed directory is served under, normally "/media".
func NewStore(logger *observability.Logger, sharedDir, mediaBase string, skus SKUSource, files FileRecorder) *Store {
	return &Store{
		logger:    logger.WithComponent("ingest_store"),
		sharedDir: sharedDir,
		mediaBase: mediaBase,
		skus:      skus,
		files:     files,
	}
}

// SaveUpload stages an uploaded file and records it in the ledger.
func (s *Store) SaveUpload(ctx context.Context, filename string, size int64, r io.Reader) (string, error) {
	uploadsDir := filepath.Join(s.sharedDir, "uploads")
	if err := os.MkdirAll(uploadsDir, 0o777); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}

	destPath := filepath.Join(uploadsDir, filepath.Base(filename))
	dst, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if _, err := io.Copy(dst, r); err != nil {
		dst.Close()
		return "", fmt.Errorf("stage upload: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	// The worker runs as a different user on the shared mount.
	if err := os.Chmod(destPath, 0o777); err != nil {
		s.logger.Warn().Err(err).Str("path", destPath).Msg("Could not widen upload permissions")
	}

	record := &storage.SourceFile{
		FileName: filepath.Base(filename),
		FileSize: size,
		FilePath: destPath,
		Status:   "Uploaded",
	}
	if err := s.files.Create(ctx, record); err != nil {
		return "", fmt.Errorf("record upload: %w", err)
	}

	s.logger.Info().Str("file", record.FileName).Int64("bytes", size).Msg("File staged for extraction")
	return destPath, nil
}

// Trigger moves a staged file into raw/, where the worker picks it up.
// When a supplier is given, a target-SKU sidecar scopes the extraction to
// that supplier's catalog; the sidecar is written even when the supplier
// has no SKUs yet, because its presence alone switches the worker mode.
// Triggering a file already in raw/ is a no-op, not an error.
func (s *Store) Trigger(ctx context.Context, filename string, supplierID *int64) error {
	filename = filepath.Base(filename)
	srcPath := filepath.Join(s.sharedDir, "uploads", filename)
	destPath := filepath.Join(s.sharedDir, "raw", filename)

	if _, err := os.Stat(srcPath); os.IsNotExist(err) {
		if _, err := os.Stat(destPath); err == nil {
			return nil
		}
		return ErrNotStaged
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0o777); err != nil {
		return fmt.Errorf("create raw dir: %w", err)
	}

	if supplierID != nil {
		skus, err := s.skus.SKUsForSupplier(ctx, *supplierID)
		if err != nil {
			return fmt.Errorf("collect supplier SKUs: %w", err)
		}
		if err := s.writeSidecar(filename, *supplierID, skus); err != nil {
			return err
		}
	}

	if err := os.Rename(srcPath, destPath); err != nil {
		return fmt.Errorf("move file to raw: %w", err)
	}
	if err := os.Chmod(destPath, 0o777); err != nil {
		s.logger.Warn().Err(err).Str("path", destPath).Msg("Could not widen raw permissions")
	}

	s.logger.Info().Str("file", filename).Msg("Extraction triggered")
	return nil
}

func (s *Store) writeSidecar(filename string, supplierID int64, skus []string) error {
	sidecar := map[string]interface{}{
		"target_skus": skus,
		"supplier_id": supplierID,
	}
	path := filepath.Join(s.sharedDir, "raw", "target_skus_"+filename+".json")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write target-SKU sidecar: %w", err)
	}
	if err := json.NewEncoder(f).Encode(sidecar); err != nil {
		f.Close()
		return fmt.Errorf("write target-SKU sidecar: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write target-SKU sidecar: %w", err)
	}
	os.Chmod(path, 0o777)
	return nil
}

// Poll reports job status for a file. Precedence: a manifest in processed/
// is terminal; otherwise a progress file gives page-level status; otherwise
// a file still sitting in uploads/ or raw/ means the worker has not started
// and a generic processing message is returned. A file known nowhere at
// all is ErrNotRegistered.
func (s *Store) Poll(_ context.Context, filename string) (*PollResult, error) {
	filename = filepath.Base(filename)
	processedDir := filepath.Join(s.sharedDir, "processed")

	manifestPath := filepath.Join(processedDir, "manifest_"+filename+".json")
	if content, err := os.ReadFile(manifestPath); err == nil {
		preview, err := s.buildPreview(content)
		if err != nil {
			return nil, err
		}
		return &PollResult{Status: "preview", Preview: preview}, nil
	}

	progressPath := filepath.Join(processedDir, "progress_"+filename+".json")
	if content, err := os.ReadFile(progressPath); err == nil {
		var progress struct {
			CurrentPage int    `json:"current_page"`
			TotalPages  int    `json:"total_pages"`
			Message     string `json:"message"`
		}
		if err := json.Unmarshal(content, &progress); err == nil {
			return &PollResult{
				Status:      "processing",
				CurrentPage: progress.CurrentPage,
				TotalPages:  progress.TotalPages,
				Message:     progress.Message,
			}, nil
		}
	}

	for _, dir := range []string{"raw", "uploads"} {
		if _, err := os.Stat(filepath.Join(s.sharedDir, dir, filename)); err == nil {
			return &PollResult{Status: "processing", Message: "Mining data..."}, nil
		}
	}

	return nil, ErrNotRegistered
}

// buildPreview converts a worker manifest into draft preview products.
// Manifests come in two shapes: an object with items, missing_skus, and
// mode, or (from older workers) a bare item array.
func (s *Store) buildPreview(content []byte) (*Preview, error) {
	var manifest struct {
		Items       []manifestItem `json:"items"`
		MissingSKUs []string       `json:"missing_skus"`
		Mode        string         `json:"mode"`
	}
	if err := json.Unmarshal(content, &manifest); err != nil {
		var items []manifestItem
		if err2 := json.Unmarshal(content, &items); err2 != nil {
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		manifest.Items = items
		manifest.Mode = "auto"
	}

	products := make([]storage.Product, 0, len(manifest.Items))
	for _, item := range manifest.Items {
		uid, err := uuid.Parse(item.UUID)
		if err != nil {
			uid = uuid.New()
		}

		sku := item.DetectedSKU
		if sku == "" {
			short := item.UUID
			if len(short) > 8 {
				short = short[:8]
			}
			sku = "DRAFT-" + short
		}

		title := item.DetectedName
		if title == "" {
			title = fmt.Sprintf("Detected Item (Page %d)", item.SourcePage)
		}

		dims, _ := json.Marshal(item.SourcePageDims)
		rect, _ := json.Marshal(item.Box)

		products = append(products, storage.Product{
			ID:                  uid,
			SKU:                 sku,
			Title:               title,
			Status:              storage.StatusDraft,
			ImagePath:           s.mediaPath(item.FilePath),
			SourcePageImagePath: s.mediaPath(item.SourcePageImagePath),
			SourcePageDims:      string(dims),
			ImageRect:           string(rect),
		})
	}

	return &Preview{Products: products, MissingSKUs: manifest.MissingSKUs, Mode: manifest.Mode}, nil
}

// mediaPath rewrites a worker-local processed path to the public media URL.
func (s *Store) mediaPath(p string) string {
	if p == "" {
		return ""
	}
	if strings.HasPrefix(p, workerPrefix) {
		return s.mediaBase + strings.TrimPrefix(p, workerPrefix)
	}
	processedDir := filepath.Join(s.sharedDir, "processed")
	if strings.HasPrefix(p, processedDir) {
		return s.mediaBase + strings.TrimPrefix(p, processedDir)
	}
	return p
}

// Files lists the upload ledger, marking entries whose manifest exists.
func (s *Store) Files(ctx context.Context) ([]FileStatus, error) {
	records, err := s.files.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}

	statuses := make([]FileStatus, 0, len(records))
	for _, f := range records {
		manifestPath := filepath.Join(s.sharedDir, "processed", "manifest_"+f.FileName+".json")
		_, err := os.Stat(manifestPath)
		statuses = append(statuses, FileStatus{SourceFile: f, IsReady: err == nil})
	}
	return statuses, nil
}
