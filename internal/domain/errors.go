package domain

import "errors"

// Sentinel errors returned by the registry and ledger. Handlers translate
// these to HTTP codes; they are never collapsed into a generic failure so
// callers can tell "no beds" apart from "system broken".
var (
	// Conflict
	ErrAlreadyReserved = errors.New("caller already has an active reservation")
	ErrNoBedsAvailable = errors.New("no beds available")
	ErrBedNotAvailable = errors.New("bed is not available")

	// NotFound
	ErrBedNotFound         = errors.New("bed not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// InvalidState
	ErrInvalidReservation   = errors.New("reservation is not active for this bed")
	ErrBedNotOccupied       = errors.New("bed is not occupied")
	ErrReservationNotActive = errors.New("reservation is not active")
)
