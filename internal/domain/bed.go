package domain

import "time"

// TotalBeds is the size of the physical pool. Deployments override it via
// config; 108 is the Bethesda building.
const TotalBeds = 108

type BedStatus string

// Canonical casing is lowercase everywhere: stored, compared, serialized.
const (
	BedAvailable BedStatus = "available"
	BedHeld      BedStatus = "held"
	BedOccupied  BedStatus = "occupied"
)

func ParseBedStatus(s string) (BedStatus, bool) {
	switch BedStatus(s) {
	case BedAvailable, BedHeld, BedOccupied:
		return BedStatus(s), true
	default:
		return "", false
	}
}

// CanTransitionTo reports whether the per-bed state machine allows the edge.
// available -> held (hold), available -> occupied (walk-in),
// held -> occupied (check-in), held -> available (release/expire),
// occupied -> available (check-out). Nothing else is legal.
func (s BedStatus) CanTransitionTo(next BedStatus) bool {
	switch s {
	case BedAvailable:
		return next == BedHeld || next == BedOccupied
	case BedHeld:
		return next == BedOccupied || next == BedAvailable
	case BedOccupied:
		return next == BedAvailable
	default:
		return false
	}
}

type Bed struct {
	BedNumber int       `json:"bed_number"`
	Status    BedStatus `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type BedSummary struct {
	Available int `json:"available"`
	Held      int `json:"held"`
	Occupied  int `json:"occupied"`
	Total     int `json:"total"`
}

// BedDetail is one row of the staff dashboard's per-bed view: the bed joined
// against its non-terminal reservation, if any.
type BedDetail struct {
	BedNumber     int       `json:"bed_number"`
	Status        BedStatus `json:"status"`
	ReservationID *string   `json:"reservation_id,omitempty"`
	HolderName    *string   `json:"holder_name,omitempty"`
}

// ValidBedNumber reports whether n falls inside the fixed pool [1, total].
func ValidBedNumber(n, total int) bool {
	return n >= 1 && n <= total
}
