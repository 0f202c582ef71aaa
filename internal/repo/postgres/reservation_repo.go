package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bethesda-shelter/bedline/internal/domain"
)

type ReservationRepo interface {
	Insert(ctx context.Context, q Querier, r *domain.Reservation) error
	GetByID(ctx context.Context, id string) (*domain.Reservation, error)
	ActiveByHolder(ctx context.Context, fingerprint string) (*domain.Reservation, error)
	ListActive(ctx context.Context) ([]domain.Reservation, error)

	// Row-locking reads used inside ledger transactions.
	LockByID(ctx context.Context, q Querier, id string) (*domain.Reservation, error)
	LockActiveForBed(ctx context.Context, q Querier, id string, bedNumber int) (*domain.Reservation, error)
	LockActiveByBed(ctx context.Context, q Querier, bedNumber int) (*domain.Reservation, error)
	LockExpired(ctx context.Context, q Querier, now time.Time) ([]domain.Reservation, error)

	SetStatus(ctx context.Context, q Querier, id string, status domain.ReservationStatus) error
	MarkCheckedIn(ctx context.Context, q Querier, id string, at time.Time) error
}

type ReservationRepoImpl struct {
	pool *pgxpool.Pool
}

func NewReservationRepo(pool *pgxpool.Pool) *ReservationRepoImpl {
	return &ReservationRepoImpl{pool: pool}
}

const reservationCols = `reservation_id, holder_fingerprint, bed_number,
holder_name, situation, needs, preferred_language, confirmation_code,
status, created_at, expires_at, checked_in_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var r domain.Reservation
	err := row.Scan(
		&r.ReservationID, &r.HolderFingerprint, &r.BedNumber,
		&r.HolderName, &r.Situation, &r.Needs, &r.PreferredLanguage, &r.ConfirmationCode,
		&r.Status, &r.CreatedAt, &r.ExpiresAt, &r.CheckedInAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (repo *ReservationRepoImpl) Insert(ctx context.Context, q Querier, r *domain.Reservation) error {
	const sql = `INSERT INTO reservations (
		reservation_id, holder_fingerprint, bed_number,
		holder_name, situation, needs, preferred_language, confirmation_code,
		status, created_at, expires_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := q.Exec(ctx, sql,
		r.ReservationID, r.HolderFingerprint, r.BedNumber,
		r.HolderName, r.Situation, r.Needs, r.PreferredLanguage, r.ConfirmationCode,
		r.Status, r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		// The partial unique indexes close the races the service-layer
		// prechecks cannot: which one fired decides the conflict. The
		// holder index means this caller already has an active hold; the
		// bed index means the bed was double-claimed.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "reservations_active_bed_idx" {
				return domain.ErrBedNotAvailable
			}
			return domain.ErrAlreadyReserved
		}
		return err
	}
	return nil
}

func (repo *ReservationRepoImpl) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations WHERE reservation_id = $1`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r, err := scanReservation(repo.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	return r, err
}

func (repo *ReservationRepoImpl) ActiveByHolder(ctx context.Context, fingerprint string) (*domain.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
		WHERE holder_fingerprint = $1 AND status = 'active'`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	r, err := scanReservation(repo.pool.QueryRow(ctx, q, fingerprint))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

func (repo *ReservationRepoImpl) ListActive(ctx context.Context) ([]domain.Reservation, error) {
	const q = `SELECT ` + reservationCols + ` FROM reservations
		WHERE status = 'active'
		ORDER BY expires_at`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := repo.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (repo *ReservationRepoImpl) LockByID(ctx context.Context, q Querier, id string) (*domain.Reservation, error) {
	const sql = `SELECT ` + reservationCols + ` FROM reservations
		WHERE reservation_id = $1
		FOR UPDATE`

	r, err := scanReservation(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrReservationNotFound
	}
	return r, err
}

func (repo *ReservationRepoImpl) LockActiveForBed(ctx context.Context, q Querier, id string, bedNumber int) (*domain.Reservation, error) {
	const sql = `SELECT ` + reservationCols + ` FROM reservations
		WHERE reservation_id = $1 AND bed_number = $2 AND status = 'active'
		FOR UPDATE`

	r, err := scanReservation(q.QueryRow(ctx, sql, id, bedNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrInvalidReservation
	}
	return r, err
}

// LockActiveByBed returns the active reservation bound to the bed, locked
// for the transaction, or nil when the bed has no active hold.
func (repo *ReservationRepoImpl) LockActiveByBed(ctx context.Context, q Querier, bedNumber int) (*domain.Reservation, error) {
	const sql = `SELECT ` + reservationCols + ` FROM reservations
		WHERE bed_number = $1 AND status = 'active'
		FOR UPDATE`

	r, err := scanReservation(q.QueryRow(ctx, sql, bedNumber))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// LockExpired grabs all active reservations past their deadline, skipping
// rows another sweep already has locked, so two concurrent sweeps never
// double-release a bed.
func (repo *ReservationRepoImpl) LockExpired(ctx context.Context, q Querier, now time.Time) ([]domain.Reservation, error) {
	const sql = `SELECT ` + reservationCols + ` FROM reservations
		WHERE status = 'active' AND expires_at < $1
		FOR UPDATE SKIP LOCKED`

	rows, err := q.Query(ctx, sql, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectReservations(rows)
}

func (repo *ReservationRepoImpl) SetStatus(ctx context.Context, q Querier, id string, status domain.ReservationStatus) error {
	const sql = `UPDATE reservations SET status = $2 WHERE reservation_id = $1`

	ct, err := q.Exec(ctx, sql, id, status)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrReservationNotFound
	}
	return nil
}

func (repo *ReservationRepoImpl) MarkCheckedIn(ctx context.Context, q Querier, id string, at time.Time) error {
	const sql = `UPDATE reservations SET status = 'checked_in', checked_in_at = $2
		WHERE reservation_id = $1 AND status = 'active'`

	ct, err := q.Exec(ctx, sql, id, at)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrInvalidReservation
	}
	return nil
}

func collectReservations(rows pgx.Rows) ([]domain.Reservation, error) {
	var rs []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		rs = append(rs, *r)
	}
	return rs, rows.Err()
}

var _ ReservationRepo = (*ReservationRepoImpl)(nil)
