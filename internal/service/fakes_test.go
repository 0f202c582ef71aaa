package service

import (
	"context"
	"sort"
	"time"

	"github.com/bethesda-shelter/bedline/internal/domain"
	"github.com/bethesda-shelter/bedline/internal/repo/postgres"
)

// fakeBackend is an in-memory stand-in for the postgres store and repos.
// WithTx snapshots state and restores it when the callback errors, so
// rollback semantics hold and the conservation invariant can be asserted
// after every operation. Single-goroutine use only.
type fakeBackend struct {
	beds         map[int]domain.BedStatus
	reservations map[string]*domain.Reservation
	callLogs     []domain.CallLog
	published    []string

	failCallLogInsert error
}

func newFakeBackend(totalBeds int) *fakeBackend {
	f := &fakeBackend{
		beds:         make(map[int]domain.BedStatus, totalBeds),
		reservations: make(map[string]*domain.Reservation),
	}
	for i := 1; i <= totalBeds; i++ {
		f.beds[i] = domain.BedAvailable
	}
	return f
}

func (f *fakeBackend) snapshot() (map[int]domain.BedStatus, map[string]*domain.Reservation, []domain.CallLog) {
	beds := make(map[int]domain.BedStatus, len(f.beds))
	for k, v := range f.beds {
		beds[k] = v
	}
	reservations := make(map[string]*domain.Reservation, len(f.reservations))
	for k, v := range f.reservations {
		cp := *v
		reservations[k] = &cp
	}
	logs := append([]domain.CallLog(nil), f.callLogs...)
	return beds, reservations, logs
}

// --- postgres.TxRunner ---

func (f *fakeBackend) WithTx(ctx context.Context, fn func(q postgres.Querier) error) error {
	beds, reservations, logs := f.snapshot()
	if err := fn(nil); err != nil {
		f.beds, f.reservations, f.callLogs = beds, reservations, logs
		return err
	}
	return nil
}

// --- postgres.BedRepo ---

func (f *fakeBackend) Summary(ctx context.Context) (*domain.BedSummary, error) {
	s := &domain.BedSummary{Total: len(f.beds)}
	for _, status := range f.beds {
		switch status {
		case domain.BedAvailable:
			s.Available++
		case domain.BedHeld:
			s.Held++
		case domain.BedOccupied:
			s.Occupied++
		}
	}
	return s, nil
}

// ListDetailed mirrors the repo's join: active holds always link, checked_in
// rows only while the bed is occupied, latest reservation wins.
func (f *fakeBackend) ListDetailed(ctx context.Context) ([]domain.BedDetail, error) {
	details := make([]domain.BedDetail, 0, len(f.beds))
	for n := 1; n <= len(f.beds); n++ {
		d := domain.BedDetail{BedNumber: n, Status: f.beds[n]}
		var latest *domain.Reservation
		for _, r := range f.reservations {
			if r.BedNumber != n {
				continue
			}
			linked := r.Status == domain.ReservationActive ||
				(r.Status == domain.ReservationCheckedIn && f.beds[n] == domain.BedOccupied)
			if !linked {
				continue
			}
			if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
				latest = r
			}
		}
		if latest != nil {
			id := latest.ReservationID
			d.ReservationID = &id
			d.HolderName = latest.HolderName
		}
		details = append(details, d)
	}
	return details, nil
}

func (f *fakeBackend) Status(ctx context.Context, bedNumber int) (domain.BedStatus, error) {
	status, ok := f.beds[bedNumber]
	if !ok {
		return "", domain.ErrBedNotFound
	}
	return status, nil
}

func (f *fakeBackend) AvailableCount(ctx context.Context) (int, error) {
	count := 0
	for _, status := range f.beds {
		if status == domain.BedAvailable {
			count++
		}
	}
	return count, nil
}

func (f *fakeBackend) ClaimFirstAvailable(ctx context.Context, q postgres.Querier) (int, error) {
	for n := 1; n <= len(f.beds); n++ {
		if f.beds[n] == domain.BedAvailable {
			f.beds[n] = domain.BedHeld
			return n, nil
		}
	}
	return 0, domain.ErrNoBedsAvailable
}

func (f *fakeBackend) Hold(ctx context.Context, bedNumber int) error {
	status, ok := f.beds[bedNumber]
	if !ok {
		return domain.ErrBedNotFound
	}
	if status != domain.BedAvailable {
		return domain.ErrBedNotAvailable
	}
	f.beds[bedNumber] = domain.BedHeld
	return nil
}

func (f *fakeBackend) Release(ctx context.Context, q postgres.Querier, bedNumber int, from ...domain.BedStatus) error {
	status, ok := f.beds[bedNumber]
	if !ok {
		return domain.ErrBedNotFound
	}
	if len(from) > 0 {
		allowed := false
		for _, st := range from {
			if status == st {
				allowed = true
			}
		}
		if !allowed {
			return nil
		}
	}
	f.beds[bedNumber] = domain.BedAvailable
	return nil
}

func (f *fakeBackend) Occupy(ctx context.Context, q postgres.Querier, bedNumber int, from ...domain.BedStatus) error {
	status, ok := f.beds[bedNumber]
	if !ok {
		return domain.ErrBedNotFound
	}
	for _, allowed := range from {
		if status == allowed {
			f.beds[bedNumber] = domain.BedOccupied
			return nil
		}
	}
	return domain.ErrBedNotAvailable
}

func (f *fakeBackend) CheckOut(ctx context.Context, bedNumber int) error {
	status, ok := f.beds[bedNumber]
	if !ok {
		return domain.ErrBedNotFound
	}
	if status != domain.BedOccupied {
		return domain.ErrBedNotOccupied
	}
	f.beds[bedNumber] = domain.BedAvailable
	return nil
}

func (f *fakeBackend) ForceAvailable(ctx context.Context, bedNumber int) error {
	return f.Release(ctx, nil, bedNumber)
}

func (f *fakeBackend) SimulateOccupancy(ctx context.Context, available int) error {
	for n := 1; n <= len(f.beds); n++ {
		if n <= available {
			f.beds[n] = domain.BedAvailable
		} else {
			f.beds[n] = domain.BedOccupied
		}
	}
	return nil
}

// --- postgres.ReservationRepo ---

// Insert enforces the same partial unique indexes the schema declares: one
// active reservation per holder and one per bed.
func (f *fakeBackend) Insert(ctx context.Context, q postgres.Querier, r *domain.Reservation) error {
	for _, existing := range f.reservations {
		if existing.Status != domain.ReservationActive {
			continue
		}
		if existing.HolderFingerprint == r.HolderFingerprint {
			return domain.ErrAlreadyReserved
		}
		if existing.BedNumber == r.BedNumber {
			return domain.ErrBedNotAvailable
		}
	}
	cp := *r
	f.reservations[r.ReservationID] = &cp
	return nil
}

func (f *fakeBackend) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	r, ok := f.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeBackend) ActiveByHolder(ctx context.Context, fingerprint string) (*domain.Reservation, error) {
	for _, r := range f.reservations {
		if r.HolderFingerprint == fingerprint && r.Status == domain.ReservationActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) ListActive(ctx context.Context) ([]domain.Reservation, error) {
	var rs []domain.Reservation
	for _, r := range f.reservations {
		if r.Status == domain.ReservationActive {
			rs = append(rs, *r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].ExpiresAt.Before(rs[j].ExpiresAt) })
	return rs, nil
}

func (f *fakeBackend) LockByID(ctx context.Context, q postgres.Querier, id string) (*domain.Reservation, error) {
	return f.GetByID(ctx, id)
}

func (f *fakeBackend) LockActiveForBed(ctx context.Context, q postgres.Querier, id string, bedNumber int) (*domain.Reservation, error) {
	r, ok := f.reservations[id]
	if !ok || r.BedNumber != bedNumber || r.Status != domain.ReservationActive {
		return nil, domain.ErrInvalidReservation
	}
	cp := *r
	return &cp, nil
}

func (f *fakeBackend) LockActiveByBed(ctx context.Context, q postgres.Querier, bedNumber int) (*domain.Reservation, error) {
	for _, r := range f.reservations {
		if r.BedNumber == bedNumber && r.Status == domain.ReservationActive {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeBackend) LockExpired(ctx context.Context, q postgres.Querier, now time.Time) ([]domain.Reservation, error) {
	var rs []domain.Reservation
	for _, r := range f.reservations {
		if r.Status == domain.ReservationActive && r.ExpiresAt.Before(now) {
			rs = append(rs, *r)
		}
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].BedNumber < rs[j].BedNumber })
	return rs, nil
}

func (f *fakeBackend) SetStatus(ctx context.Context, q postgres.Querier, id string, status domain.ReservationStatus) error {
	r, ok := f.reservations[id]
	if !ok {
		return domain.ErrReservationNotFound
	}
	r.Status = status
	return nil
}

func (f *fakeBackend) MarkCheckedIn(ctx context.Context, q postgres.Querier, id string, at time.Time) error {
	r, ok := f.reservations[id]
	if !ok || r.Status != domain.ReservationActive {
		return domain.ErrInvalidReservation
	}
	r.Status = domain.ReservationCheckedIn
	r.CheckedInAt = &at
	return nil
}

// --- postgres.CallLogRepo ---

func (f *fakeBackend) InsertCallLog(ctx context.Context, q postgres.Querier, log *domain.CallLog) error {
	if f.failCallLogInsert != nil {
		return f.failCallLogInsert
	}
	f.callLogs = append(f.callLogs, *log)
	return nil
}

func (f *fakeBackend) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := f.callLogs[:0]
	var deleted int64
	for _, log := range f.callLogs {
		if log.CreatedAt.Before(cutoff) {
			deleted++
		} else {
			kept = append(kept, log)
		}
	}
	f.callLogs = kept
	return deleted, nil
}

// --- events.Publisher ---

func (f *fakeBackend) Publish(ctx context.Context, subject string, data interface{}) error {
	f.published = append(f.published, subject)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

var (
	_ postgres.TxRunner        = (*fakeBackend)(nil)
	_ postgres.BedRepo         = (*fakeBackend)(nil)
	_ postgres.ReservationRepo = (*fakeBackend)(nil)
)

// callLogRepo adapts fakeBackend to postgres.CallLogRepo; Insert would
// otherwise collide with the reservation repo's Insert.
type callLogRepo struct{ f *fakeBackend }

func (c callLogRepo) Insert(ctx context.Context, q postgres.Querier, log *domain.CallLog) error {
	return c.f.InsertCallLog(ctx, q, log)
}

func (c callLogRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.f.DeleteOlderThan(ctx, cutoff)
}

var _ postgres.CallLogRepo = callLogRepo{}
