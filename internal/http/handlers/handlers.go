package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bethesda-shelter/bedline/internal/domain"
	"github.com/bethesda-shelter/bedline/internal/http/response"
	"github.com/bethesda-shelter/bedline/internal/service"
	"github.com/bethesda-shelter/bedline/pkg/auth"
	"github.com/bethesda-shelter/bedline/pkg/logger"
)

type Handlers struct {
	bedService         service.BedService
	reservationService service.ReservationService
	jwtSecret          string
	totalBeds          int
}

func New(bedService service.BedService, reservationService service.ReservationService, jwtSecret string, totalBeds int) *Handlers {
	return &Handlers{
		bedService:         bedService,
		reservationService: reservationService,
		jwtSecret:          jwtSecret,
		totalBeds:          totalBeds,
	}
}

// RequireRole guards staff/admin routes. Tokens come from the shelter's
// identity service; admins pass every role check.
func (h *Handlers) RequireRole(requiredRole string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				response.Unauthorized(w, "Missing or invalid authorization header")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			claims, err := auth.Parse(token, h.jwtSecret)
			if err != nil {
				response.Unauthorized(w, "Invalid token")
				return
			}

			if claims.Role != requiredRole && claims.Role != auth.RoleAdmin {
				response.Forbidden(w, "Insufficient permissions")
				return
			}

			ctx := context.WithValue(r.Context(), logger.StaffIDKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeDomainError maps ledger/registry errors onto the wire. Conflicts keep
// their specific codes; only genuinely unexpected errors become 500s.
func writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrBedNotFound):
		response.NotFound(w, "Bed not found")
	case errors.Is(err, domain.ErrReservationNotFound):
		response.NotFound(w, "Reservation not found")
	case errors.Is(err, domain.ErrAlreadyReserved):
		response.Conflict(w, "You already have an active reservation", response.CodeAlreadyReserved)
	case errors.Is(err, domain.ErrNoBedsAvailable):
		response.Conflict(w, "No beds available at this time", response.CodeNoBedsAvailable)
	case errors.Is(err, domain.ErrBedNotAvailable):
		response.Conflict(w, "Bed is not available", response.CodeBedNotAvailable)
	case errors.Is(err, domain.ErrBedNotOccupied):
		response.Conflict(w, "Bed is not occupied", response.CodeBedNotOccupied)
	case errors.Is(err, domain.ErrInvalidReservation):
		response.Conflict(w, "Invalid or expired reservation for this bed", response.CodeInvalidReservation)
	case errors.Is(err, domain.ErrReservationNotActive):
		response.Conflict(w, "Reservation is not active", response.CodeReservationNotActive)
	default:
		logger.ErrorContext(ctx, "Unexpected error", "error", err)
		response.InternalError(w, "Something went wrong, please try again")
	}
}

// bedNumber pulls and validates the bed number path param. Anything outside
// the fixed pool is a 404, matching the "no such bed" contract.
func (h *Handlers) bedNumber(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "bedNumber")
	n, err := strconv.Atoi(raw)
	if err != nil {
		response.BadRequest(w, "Bed number must be an integer")
		return 0, false
	}
	if !domain.ValidBedNumber(n, h.totalBeds) {
		response.NotFound(w, "Bed not found. Valid beds: 1-"+strconv.Itoa(h.totalBeds))
		return 0, false
	}
	return n, true
}
