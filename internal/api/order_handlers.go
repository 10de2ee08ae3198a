package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/backroomhq/backroom/internal/orders"
	"github.com/backroomhq/backroom/internal/storage"
)

// listOrders returns all purchase orders with their line items.
func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	pos, err := s.repos.Orders.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list orders", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, pos)
}

// uploadOrderFile imports a supplier order file into a purchase order.
// Re-uploading a file the supplier already has is a 409 unless overwrite
// is set; an overwrite keeps previously received quantities.
func (s *Server) uploadOrderFile(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, http.StatusBadRequest, "file too big", err.Error())
		return
	}

	supplierID, err := strconv.ParseInt(r.FormValue("supplier_id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "supplier_id is required", "")
		return
	}
	overwrite := r.FormValue("overwrite") == "true"

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid file", err.Error())
		return
	}
	defer file.Close()

	ctx := r.Context()
	supplier, err := s.repos.Suppliers.GetByID(ctx, supplierID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "supplier not found", "")
		return
	}

	rows, err := s.parseRows(header.Filename, file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "could not parse order file", err.Error())
		return
	}

	result, err := s.importer.Import(ctx, supplier, header.Filename, rows, overwrite)
	switch {
	case errors.Is(err, orders.ErrDuplicate):
		s.writeJSON(w, http.StatusConflict, map[string]interface{}{
			"duplicate": true,
			"message":   "An order from this file already exists. Re-upload with overwrite to replace it.",
			"file_name": header.Filename,
		})
	case errors.Is(err, orders.ErrNoItems):
		s.writeError(w, http.StatusBadRequest, "no valid items in file", "")
	case err != nil:
		s.logger.Error().Err(err).Str("file", header.Filename).Msg("Order import failed")
		s.writeError(w, http.StatusInternalServerError, "order import failed", err.Error())
	default:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"po_id":           result.POID,
			"items_count":     result.ItemsCount,
			"found_skus":      len(result.FoundSKUs),
			"found_skus_list": result.FoundSKUs,
			"missing_skus":    result.MissingSKUs,
			"action":          result.Action,
		})
	}
}

// listSuppliers returns all suppliers.
func (s *Server) listSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := s.repos.Suppliers.List(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to list suppliers", err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, suppliers)
}

// createSupplier registers a supplier.
func (s *Server) createSupplier(w http.ResponseWriter, r *http.Request) {
	var supplier storage.Supplier
	if err := json.NewDecoder(r.Body).Decode(&supplier); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if supplier.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required", "")
		return
	}

	if err := s.repos.Suppliers.Create(r.Context(), &supplier); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to create supplier", err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, supplier)
}

// getSupplier returns one supplier by id.
func (s *Server) getSupplier(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid id", err.Error())
		return
	}

	supplier, err := s.repos.Suppliers.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "supplier not found", "")
		return
	}
	s.writeJSON(w, http.StatusOK, supplier)
}
