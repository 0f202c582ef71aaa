package domain

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCheckedIn ReservationStatus = "checked_in"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

func ParseReservationStatus(s string) (ReservationStatus, bool) {
	switch ReservationStatus(s) {
	case ReservationActive, ReservationCheckedIn, ReservationExpired, ReservationCancelled:
		return ReservationStatus(s), true
	default:
		return "", false
	}
}

// Terminal reports whether the status is final. Terminal reservations never
// transition again.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationCheckedIn || s == ReservationExpired || s == ReservationCancelled
}

type Reservation struct {
	ReservationID     string            `json:"reservation_id"`
	HolderFingerprint string            `json:"-"`
	BedNumber         int               `json:"bed_number"`
	HolderName        *string           `json:"holder_name,omitempty"`
	Situation         *string           `json:"situation,omitempty"`
	Needs             *string           `json:"needs,omitempty"`
	PreferredLanguage *string           `json:"preferred_language,omitempty"`
	ConfirmationCode  string            `json:"confirmation_code"`
	Status            ReservationStatus `json:"status"`
	CreatedAt         time.Time         `json:"created_at"`
	ExpiresAt         time.Time         `json:"expires_at"`
	CheckedInAt       *time.Time        `json:"checked_in_at,omitempty"`
}

// TimeRemaining returns whole minutes until expiry, floored at zero.
func (r *Reservation) TimeRemaining(now time.Time) int {
	remaining := r.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return int(remaining / time.Minute)
}

type ReservationCreateReq struct {
	HolderFingerprint string  `json:"holder_fingerprint"`
	HolderName        *string `json:"holder_name,omitempty"`
	Situation         *string `json:"situation,omitempty"`
	Needs             *string `json:"needs,omitempty"`
	PreferredLanguage *string `json:"preferred_language,omitempty"`
}

type ReservationCreateRes struct {
	ReservationID    string            `json:"reservation_id"`
	BedNumber        int               `json:"bed_number"`
	Status           ReservationStatus `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	ExpiresAt        time.Time         `json:"expires_at"`
	ConfirmationCode string            `json:"confirmation_code"`
}

// ReservationDetail is the staff-facing view with remaining time computed
// against the clock at read time.
type ReservationDetail struct {
	ReservationID        string            `json:"reservation_id"`
	BedNumber            int               `json:"bed_number"`
	HolderName           *string           `json:"holder_name,omitempty"`
	Situation            *string           `json:"situation,omitempty"`
	Needs                *string           `json:"needs,omitempty"`
	PreferredLanguage    *string           `json:"preferred_language,omitempty"`
	ConfirmationCode     string            `json:"confirmation_code"`
	Status               ReservationStatus `json:"status"`
	CreatedAt            time.Time         `json:"created_at"`
	ExpiresAt            time.Time         `json:"expires_at"`
	CheckedInAt          *time.Time        `json:"checked_in_at,omitempty"`
	TimeRemainingMinutes int               `json:"time_remaining_minutes"`
}

func (r *Reservation) Detail(now time.Time) ReservationDetail {
	return ReservationDetail{
		ReservationID:        r.ReservationID,
		BedNumber:            r.BedNumber,
		HolderName:           r.HolderName,
		Situation:            r.Situation,
		Needs:                r.Needs,
		PreferredLanguage:    r.PreferredLanguage,
		ConfirmationCode:     r.ConfirmationCode,
		Status:               r.Status,
		CreatedAt:            r.CreatedAt,
		ExpiresAt:            r.ExpiresAt,
		CheckedInAt:          r.CheckedInAt,
		TimeRemainingMinutes: r.TimeRemaining(now),
	}
}

// CallLog is the privacy-bounded record kept for staff visibility: hashed
// caller id, intent, short summary. Raw contact details never land here.
type CallLog struct {
	ID            int64     `json:"id"`
	CallerHash    string    `json:"caller_hash"`
	Intent        string    `json:"intent"`
	Summary       string    `json:"summary"`
	ReservationID *string   `json:"reservation_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
