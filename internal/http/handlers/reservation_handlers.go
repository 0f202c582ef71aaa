package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bethesda-shelter/bedline/internal/domain"
	"github.com/bethesda-shelter/bedline/internal/http/response"
)

// CreateReservation holds the lowest free bed for the caller. The holder
// fingerprint arrives already hashed; raw contact details never reach this
// service.
func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req domain.ReservationCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	if req.HolderFingerprint == "" {
		response.BadRequest(w, "holder_fingerprint is required")
		return
	}

	result, err := h.reservationService.Create(r.Context(), &req)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(w, "Malformed reservation id")
		return
	}

	detail, err := h.reservationService.Get(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handlers) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		response.BadRequest(w, "Malformed reservation id")
		return
	}

	if err := h.reservationService.Cancel(r.Context(), id); err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "cancelled",
		"reservation_id": id,
	})
}

// ListActiveReservations returns active holds, soonest-expiring first, for
// the staff dashboard.
func (h *Handlers) ListActiveReservations(w http.ResponseWriter, r *http.Request) {
	reservations, err := h.reservationService.ListActive(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(reservations),
		"reservations": reservations,
	})
}

// ExpireReservations is the manual trigger for the sweep; the background
// sweeper calls the same ledger operation on its own schedule.
func (h *Handlers) ExpireReservations(w http.ResponseWriter, r *http.Request) {
	count, err := h.reservationService.ExpireOld(r.Context())
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"expired": count,
		"message": fmt.Sprintf("Expired %d reservations", count),
	})
}
