package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bethesda-shelter/bedline/internal/http/response"
)

type simulateRequest struct {
	Available int `json:"available"`
}

// SimulateOccupancy forces the pool into a known shape for drills and
// testing. Admin-only; never mounted on the caller-facing surface.
func (h *Handlers) SimulateOccupancy(w http.ResponseWriter, r *http.Request) {
	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	if req.Available < 0 || req.Available > h.totalBeds {
		response.BadRequest(w, fmt.Sprintf("available must be 0-%d", h.totalBeds))
		return
	}

	if err := h.bedService.SimulateOccupancy(r.Context(), req.Available); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Simulated: %d beds available, %d occupied", req.Available, h.totalBeds-req.Available),
	})
}

// ForceBedAvailable is the administrative correction path: available from
// any state, deliberately separate from the strict checkout.
func (h *Handlers) ForceBedAvailable(w http.ResponseWriter, r *http.Request) {
	bedNumber, ok := h.bedNumber(w, r)
	if !ok {
		return
	}

	if err := h.bedService.ForceAvailable(r.Context(), bedNumber); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "available",
		"bed_number": bedNumber,
	})
}
