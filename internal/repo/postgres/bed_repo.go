package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bethesda-shelter/bedline/internal/domain"
)

// BedRepo is the single owner of bed-status mutation. The reservation repo
// and service layer change bed state only through these methods.
type BedRepo interface {
	Summary(ctx context.Context) (*domain.BedSummary, error)
	ListDetailed(ctx context.Context) ([]domain.BedDetail, error)
	Status(ctx context.Context, bedNumber int) (domain.BedStatus, error)
	AvailableCount(ctx context.Context) (int, error)

	// ClaimFirstAvailable atomically flips the lowest-numbered available
	// bed to held. Runs inside the caller's transaction.
	ClaimFirstAvailable(ctx context.Context, q Querier) (int, error)

	Hold(ctx context.Context, bedNumber int) error
	Release(ctx context.Context, q Querier, bedNumber int, from ...domain.BedStatus) error
	Occupy(ctx context.Context, q Querier, bedNumber int, from ...domain.BedStatus) error
	CheckOut(ctx context.Context, bedNumber int) error
	ForceAvailable(ctx context.Context, bedNumber int) error
	SimulateOccupancy(ctx context.Context, available int) error
}

type BedRepoImpl struct {
	pool *pgxpool.Pool
}

func NewBedRepo(pool *pgxpool.Pool) *BedRepoImpl { return &BedRepoImpl{pool: pool} }

func (r *BedRepoImpl) Summary(ctx context.Context) (*domain.BedSummary, error) {
	const q = `SELECT
		count(*) FILTER (WHERE status = 'available'),
		count(*) FILTER (WHERE status = 'held'),
		count(*) FILTER (WHERE status = 'occupied'),
		count(*)
	FROM beds`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var s domain.BedSummary
	err := r.pool.QueryRow(ctx, q).Scan(&s.Available, &s.Held, &s.Occupied, &s.Total)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BedRepoImpl) ListDetailed(ctx context.Context) ([]domain.BedDetail, error) {
	// Lateral join so empty beds still show up. Active holds always link;
	// a checked_in reservation stays linked only while its bed is occupied,
	// so history rows never shadow a bed that has been checked out and is
	// reusable.
	const q = `SELECT b.bed_number, b.status, r.reservation_id, r.holder_name
		FROM beds b
		LEFT JOIN LATERAL (
			SELECT reservation_id, holder_name
			FROM reservations
			WHERE bed_number = b.bed_number
				AND (status = 'active'
					OR (status = 'checked_in' AND b.status = 'occupied'))
			ORDER BY created_at DESC
			LIMIT 1
		) r ON true
		ORDER BY b.bed_number`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	details := make([]domain.BedDetail, 0, domain.TotalBeds)
	for rows.Next() {
		var d domain.BedDetail
		if err := rows.Scan(&d.BedNumber, &d.Status, &d.ReservationID, &d.HolderName); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (r *BedRepoImpl) Status(ctx context.Context, bedNumber int) (domain.BedStatus, error) {
	const q = `SELECT status FROM beds WHERE bed_number = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var status domain.BedStatus
	err := r.pool.QueryRow(ctx, q, bedNumber).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrBedNotFound
	}
	return status, err
}

func (r *BedRepoImpl) AvailableCount(ctx context.Context) (int, error) {
	const q = `SELECT count(*) FROM beds WHERE status = 'available'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var count int
	err := r.pool.QueryRow(ctx, q).Scan(&count)
	return count, err
}

// ClaimFirstAvailable is the allocation primitive. The inner select takes a
// row lock with SKIP LOCKED, so concurrent claimants fan out across distinct
// beds instead of queueing on one row, and no two of them can ever be handed
// the same bed number.
func (r *BedRepoImpl) ClaimFirstAvailable(ctx context.Context, q Querier) (int, error) {
	const sql = `UPDATE beds SET status = 'held', updated_at = now()
		WHERE bed_number = (
			SELECT bed_number FROM beds
			WHERE status = 'available'
			ORDER BY bed_number
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING bed_number`

	var bedNumber int
	err := q.QueryRow(ctx, sql).Scan(&bedNumber)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNoBedsAvailable
	}
	if err != nil {
		return 0, err
	}
	return bedNumber, nil
}

// Hold is the staff "mark reserved" action: a conditional update, not a
// read-then-write, so it cannot race with the allocator.
func (r *BedRepoImpl) Hold(ctx context.Context, bedNumber int) error {
	const q = `UPDATE beds SET status = 'held', updated_at = now()
		WHERE bed_number = $1 AND status = 'available'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, bedNumber)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.missOrConflict(ctx, bedNumber, domain.ErrBedNotAvailable)
	}
	return nil
}

// Release returns a bed to available. With no source states given it flips
// the bed unconditionally (the admin correction path). With them, only a bed
// still in one of those states is touched; a bed that has already moved on,
// such as an occupied one the sweep must never reclaim, is left alone.
func (r *BedRepoImpl) Release(ctx context.Context, q Querier, bedNumber int, from ...domain.BedStatus) error {
	sql := `UPDATE beds SET status = 'available', updated_at = now()
		WHERE bed_number = $1`
	args := []any{bedNumber}
	if len(from) > 0 {
		states := make([]string, len(from))
		for i, st := range from {
			states[i] = string(st)
		}
		sql += ` AND status = ANY($2)`
		args = append(args, states)
	}

	ct, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		if len(from) > 0 {
			// Wrong state is a no-op here, only a missing bed is an error.
			return r.missOrConflictQ(ctx, q, bedNumber, nil)
		}
		return domain.ErrBedNotFound
	}
	return nil
}

// Occupy flips the bed to occupied only if it is currently in one of the
// expected source states (held for a reservation check-in; available or
// held for a check-in with no reservation).
func (r *BedRepoImpl) Occupy(ctx context.Context, q Querier, bedNumber int, from ...domain.BedStatus) error {
	const sql = `UPDATE beds SET status = 'occupied', updated_at = now()
		WHERE bed_number = $1 AND status = ANY($2)`

	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}

	ct, err := q.Exec(ctx, sql, bedNumber, states)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.missOrConflictQ(ctx, q, bedNumber, domain.ErrBedNotAvailable)
	}
	return nil
}

// CheckOut is strict: it only succeeds from occupied. Administrative
// correction goes through ForceAvailable instead.
func (r *BedRepoImpl) CheckOut(ctx context.Context, bedNumber int) error {
	const q = `UPDATE beds SET status = 'available', updated_at = now()
		WHERE bed_number = $1 AND status = 'occupied'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	ct, err := r.pool.Exec(ctx, q, bedNumber)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return r.missOrConflict(ctx, bedNumber, domain.ErrBedNotOccupied)
	}
	return nil
}

// ForceAvailable is the permissive admin path: available from any state,
// bypassing the state machine. Kept separate from CheckOut on purpose.
func (r *BedRepoImpl) ForceAvailable(ctx context.Context, bedNumber int) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return r.Release(ctx, r.pool, bedNumber)
}

// SimulateOccupancy forces exactly `available` lowest-numbered beds to
// available and the rest to occupied. Test/admin utility; never mounted on
// the caller-facing surface.
func (r *BedRepoImpl) SimulateOccupancy(ctx context.Context, available int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE beds SET status = 'occupied', updated_at = now()`); err != nil {
		return err
	}
	if available > 0 {
		const q = `UPDATE beds SET status = 'available', updated_at = now()
			WHERE bed_number <= $1`
		if _, err := tx.Exec(ctx, q, available); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// missOrConflict decides whether a zero-row conditional update means the bed
// does not exist or is just in the wrong state.
func (r *BedRepoImpl) missOrConflict(ctx context.Context, bedNumber int, conflict error) error {
	return r.missOrConflictQ(ctx, r.pool, bedNumber, conflict)
}

func (r *BedRepoImpl) missOrConflictQ(ctx context.Context, q Querier, bedNumber int, conflict error) error {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM beds WHERE bed_number = $1)`, bedNumber).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return domain.ErrBedNotFound
	}
	return conflict
}

var _ BedRepo = (*BedRepoImpl)(nil)
