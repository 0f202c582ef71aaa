package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bethesda-shelter/bedline/internal/domain"
)

type CallLogRepo interface {
	Insert(ctx context.Context, q Querier, log *domain.CallLog) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type CallLogRepoImpl struct {
	pool *pgxpool.Pool
}

func NewCallLogRepo(pool *pgxpool.Pool) *CallLogRepoImpl {
	return &CallLogRepoImpl{pool: pool}
}

func (repo *CallLogRepoImpl) Insert(ctx context.Context, q Querier, log *domain.CallLog) error {
	const sql = `INSERT INTO call_logs (caller_hash, intent, summary, reservation_id)
		VALUES ($1, $2, $3, $4)`

	_, err := q.Exec(ctx, sql, log.CallerHash, log.Intent, log.Summary, log.ReservationID)
	return err
}

// DeleteOlderThan trims call logs past the retention window. Old rows carry
// no operational value and holding them longer violates the privacy stance.
func (repo *CallLogRepoImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const sql = `DELETE FROM call_logs WHERE created_at < $1`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	ct, err := repo.pool.Exec(ctx, sql, cutoff)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

var _ CallLogRepo = (*CallLogRepoImpl)(nil)
