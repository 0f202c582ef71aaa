package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/bethesda-shelter/bedline/internal/http/response"
)

// GetBedSummary returns aggregate counts: available, held, occupied, total.
func (h *Handlers) GetBedSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.bedService.Summary(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetAvailableBeds returns the open-bed count with a speakable message for
// the voice agent.
func (h *Handlers) GetAvailableBeds(w http.ResponseWriter, r *http.Request) {
	count, err := h.bedService.AvailableCount(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}

	message := "No beds available at this time"
	if count > 0 {
		message = fmt.Sprintf("%d beds available", count)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": count,
		"message":   message,
	})
}

// ListBedsDetailed returns every bed with its linked reservation, for the
// staff dashboard's per-bed view.
func (h *Handlers) ListBedsDetailed(w http.ResponseWriter, r *http.Request) {
	beds, err := h.bedService.ListDetailed(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"beds": beds})
}

func (h *Handlers) GetBedStatus(w http.ResponseWriter, r *http.Request) {
	bedNumber, ok := h.bedNumber(w, r)
	if !ok {
		return
	}

	status, err := h.bedService.Status(r.Context(), bedNumber)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bed_number": bedNumber,
		"status":     status,
	})
}

// HoldBed is the staff "mark reserved" action outside the normal
// reservation flow.
func (h *Handlers) HoldBed(w http.ResponseWriter, r *http.Request) {
	bedNumber, ok := h.bedNumber(w, r)
	if !ok {
		return
	}

	if err := h.bedService.Hold(r.Context(), bedNumber); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "held",
		"bed_number": bedNumber,
	})
}

type checkInRequest struct {
	ReservationID string `json:"reservation_id,omitempty"`
}

// CheckInBed occupies a bed, either converting an active reservation or as
// a walk-in when no reservation id is given.
func (h *Handlers) CheckInBed(w http.ResponseWriter, r *http.Request) {
	bedNumber, ok := h.bedNumber(w, r)
	if !ok {
		return
	}

	var req checkInRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.BadRequest(w, "Invalid JSON format")
			return
		}
	}

	if req.ReservationID != "" {
		if _, err := uuid.Parse(req.ReservationID); err != nil {
			response.BadRequest(w, "Malformed reservation id")
			return
		}
	}

	if err := h.bedService.CheckIn(r.Context(), bedNumber, req.ReservationID); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "checked_in",
		"bed_number": bedNumber,
	})
}

func (h *Handlers) CheckOutBed(w http.ResponseWriter, r *http.Request) {
	bedNumber, ok := h.bedNumber(w, r)
	if !ok {
		return
	}

	if err := h.bedService.CheckOut(r.Context(), bedNumber); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "available",
		"bed_number": bedNumber,
	})
}
