package api

import (
	"encoding/json"
	"errors"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/backroomhq/backroom/internal/geometry"
	"github.com/backroomhq/backroom/internal/storage"
)

// listProducts returns every product, newest first.
func (s *Server) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.repos.Products.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list products", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

// saveProduct persists a reviewed preview product. An existing SKU is
// updated in place so a product imported from an order file earlier picks
// up its image without forking a duplicate row.
func (s *Server) saveProduct(w http.ResponseWriter, r *http.Request) {
	var product storage.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	if product.SKU == "" {
		s.writeError(w, http.StatusBadRequest, "sku is required", "")
		return
	}

	ctx := r.Context()
	existing, err := s.repos.Products.GetBySKU(ctx, product.SKU)
	switch {
	case err == nil:
		existing.Title = product.Title
		existing.ImagePath = product.ImagePath
		existing.SourcePageImagePath = product.SourcePageImagePath
		existing.SourcePageDims = product.SourcePageDims
		existing.ImageRect = product.ImageRect
		existing.Status = storage.StatusApproved
		if err := s.repos.Products.Update(ctx, existing); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to update product", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, existing)

	case errors.Is(err, storage.ErrNotFound):
		product.Status = storage.StatusApproved
		if err := s.repos.Products.Create(ctx, &product); err != nil {
			s.writeError(w, http.StatusInternalServerError, "failed to create product", err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, product)

	default:
		s.writeError(w, http.StatusInternalServerError, "failed to check sku", err.Error())
	}
}

// updateProduct edits SKU, title, or status.
func (s *Server) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id", err.Error())
		return
	}

	var payload struct {
		SKU    string                `json:"sku"`
		Title  string                `json:"title"`
		Status storage.ProductStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}

	ctx := r.Context()
	product, err := s.repos.Products.GetByID(ctx, id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "product not found", "")
		return
	}

	if payload.SKU != "" {
		product.SKU = payload.SKU
	}
	if payload.Title != "" {
		product.Title = payload.Title
	}
	if payload.Status != "" {
		product.Status = payload.Status
	}

	if err := s.repos.Products.Update(ctx, product); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to update product", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, product)
}

// deleteProduct removes a product and its cropped image file.
func (s *Server) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id", err.Error())
		return
	}

	ctx := r.Context()
	product, err := s.repos.Products.GetByID(ctx, id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "product not found", "")
		return
	}

	if product.ImagePath != "" {
		os.Remove(s.mediaToInternal(product.ImagePath))
	}

	if err := s.repos.Products.Delete(ctx, id); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to delete product", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// recropRequest carries the operator's crop rectangle. The rect arrives in
// natural pixels by default; a displayed-space rect must bring the
// rendered size so it can be rescaled.
type recropRequest struct {
	X               float64 `json:"x"`
	Y               float64 `json:"y"`
	W               float64 `json:"w"`
	H               float64 `json:"h"`
	Space           string  `json:"space,omitempty"`
	DisplayedWidth  float64 `json:"displayed_width,omitempty"`
	DisplayedHeight float64 `json:"displayed_height,omitempty"`

	// Draft products are not persisted yet, so their paths ride along.
	SourcePath string `json:"source_path,omitempty"`
	DestPath   string `json:"dest_path,omitempty"`
}

// recropProduct re-cuts the product image from its source page render.
func (s *Server) recropProduct(w http.ResponseWriter, r *http.Request) {
	var payload recropRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid crop payload", err.Error())
		return
	}

	// Degenerate rects are rejected before any file is touched.
	if payload.W <= 0 || payload.H <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid crop rect", "width and height must be positive")
		return
	}
	displayedSpace := strings.EqualFold(payload.Space, string(geometry.Displayed))
	if displayedSpace && (payload.DisplayedWidth <= 0 || payload.DisplayedHeight <= 0) {
		s.writeError(w, http.StatusBadRequest, "invalid crop rect", "displayed size is required for displayed-space rects")
		return
	}

	ctx := r.Context()
	var product *storage.Product
	sourcePath, destPath := payload.SourcePath, payload.DestPath
	if id, err := uuid.Parse(chi.URLParam(r, "id")); err == nil {
		if p, err := s.repos.Products.GetByID(ctx, id); err == nil && p.SourcePageImagePath != "" {
			product = p
			sourcePath = p.SourcePageImagePath
			destPath = p.ImagePath
		}
	}
	if sourcePath == "" || destPath == "" {
		s.writeError(w, http.StatusNotFound, "product not found and paths not provided", "")
		return
	}

	srcFile, err := os.Open(s.mediaToInternal(sourcePath))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "source image not found", sourcePath)
		return
	}
	defer srcFile.Close()

	srcImg, _, err := image.Decode(srcFile)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to decode source image", err.Error())
		return
	}

	bounds := srcImg.Bounds()
	natural := geometry.Size{Width: float64(bounds.Dx()), Height: float64(bounds.Dy())}

	rect := geometry.Rect{
		X: payload.X, Y: payload.Y, Width: payload.W, Height: payload.H,
		Unit: geometry.Pixel, Space: geometry.Natural,
	}
	if displayedSpace {
		displayed := geometry.Size{Width: payload.DisplayedWidth, Height: payload.DisplayedHeight}
		rect.Space = geometry.Displayed
		rect, err = geometry.ToNatural(rect, displayed, natural)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid crop rect", err.Error())
			return
		}
	}

	crop := geometry.RoundPixels(geometry.ClampToBounds(rect, natural))
	if crop.Width <= 0 || crop.Height <= 0 {
		s.writeError(w, http.StatusBadRequest, "crop rect outside image bounds", "")
		return
	}

	cropped := cropImage(srcImg, image.Rect(crop.X, crop.Y, crop.X+crop.Width, crop.Y+crop.Height))

	destInternal := s.mediaToInternal(destPath)
	out, err := os.Create(destInternal)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to save cropped image", err.Error())
		return
	}
	defer out.Close()
	if err := jpeg.Encode(out, cropped, nil); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode cropped image", err.Error())
		return
	}

	if product != nil {
		rectBytes, _ := json.Marshal(crop)
		product.ImageRect = string(rectBytes)
		if err := s.repos.Products.Update(ctx, product); err != nil {
			s.logger.Warn().Err(err).Str("sku", product.SKU).Msg("Could not persist new crop rect")
		}
	}

	// Cache-busting query param so the review UI reloads the image.
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message":       "recrop success",
		"new_image_url": s.internalToMedia(destInternal) + "?t=" + uuid.NewString(),
	})
}

// cropImage cuts the rect out of src. Most decoded image types support
// SubImage; the draw fallback covers the rest.
func cropImage(src image.Image, rect image.Rectangle) image.Image {
	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	if si, ok := src.(subImager); ok {
		return si.SubImage(rect)
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	return dst
}

func (s *Server) mediaToInternal(p string) string {
	base := strings.TrimRight(s.mediaBase, "/")
	if base != "" && strings.HasPrefix(p, base) {
		return s.processedDir() + strings.TrimPrefix(p, base)
	}
	return p
}

func (s *Server) internalToMedia(p string) string {
	dir := s.processedDir()
	if strings.HasPrefix(p, dir) {
		return strings.TrimRight(s.mediaBase, "/") + strings.TrimPrefix(p, dir)
	}
	return p
}
