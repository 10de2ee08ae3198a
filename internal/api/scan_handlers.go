package api

import (
	"encoding/json"
	"net/http"

	"github.com/backroomhq/backroom/internal/receiving"
)

// scanItem reconciles one scanned code against open purchase orders.
//
// Response statuses mirror the engine outcomes: "received" carries the
// product and, unless the receipt was ad-hoc, the updated line item;
// "multiple_pos" carries the disambiguation options and changes nothing.
// An unknown code is a 404 and records nothing.
func (s *Server) scanItem(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code        string `json:"code"`
		POID        *int64 `json:"po_id,omitempty"`
		SkipPOCheck bool   `json:"skip_po_check"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid payload", err.Error())
		return
	}
	if payload.Code == "" {
		s.writeError(w, http.StatusBadRequest, "code is required", "")
		return
	}

	outcome, err := s.engine.Resolve(r.Context(), payload.Code, receiving.Hint{
		POID:        payload.POID,
		SkipPOCheck: payload.SkipPOCheck,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("code", payload.Code).Msg("Scan resolution failed")
		s.writeError(w, http.StatusInternalServerError, "scan failed", err.Error())
		return
	}

	switch outcome.Kind {
	case receiving.KindNotFound:
		s.writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"status": "not_found",
			"code":   payload.Code,
		})

	case receiving.KindMultiplePOs:
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "multiple_pos",
			"product":    outcome.Product,
			"po_options": outcome.Options,
		})

	default:
		resp := map[string]interface{}{
			"status":  "received",
			"product": outcome.Product,
		}
		if outcome.Receipt != nil {
			resp["po_item"] = outcome.Receipt
		}
		if outcome.Warning != "" {
			resp["warning"] = outcome.Warning
		}
		s.writeJSON(w, http.StatusOK, resp)
	}
}
