package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bethesda-shelter/bedline/pkg/config"
)

// Querier is the subset of pgxpool.Pool the bootstrap helpers need.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	pc.MinConns = int32(cfg.MinConns)
	pc.MaxConns = int32(cfg.MaxConns)
	pc.MaxConnLifetime = cfg.MaxLifetime
	pc.HealthCheckPeriod = 30 * time.Second

	return pgxpool.NewWithConfig(ctx, pc)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS beds (
		bed_number INTEGER PRIMARY KEY,
		status     TEXT NOT NULL DEFAULT 'available',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		reservation_id     UUID PRIMARY KEY,
		holder_fingerprint TEXT NOT NULL,
		bed_number         INTEGER NOT NULL REFERENCES beds(bed_number),
		holder_name        TEXT,
		situation          TEXT,
		needs              TEXT,
		preferred_language TEXT,
		confirmation_code  TEXT,
		status             TEXT NOT NULL DEFAULT 'active',
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at         TIMESTAMPTZ NOT NULL,
		checked_in_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS reservations_status_idx ON reservations (status)`,
	`CREATE INDEX IF NOT EXISTS reservations_holder_idx ON reservations (holder_fingerprint)`,
	// One ACTIVE reservation per caller, enforced at the storage layer so a
	// pair of racing create calls cannot both slip past the service check.
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_holder_idx
		ON reservations (holder_fingerprint) WHERE status = 'active'`,
	// One active reservation per bed. Terminal rows (checked_in, expired,
	// cancelled) are history and never block the bed from being reserved
	// again.
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_active_bed_idx
		ON reservations (bed_number) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS call_logs (
		id          BIGSERIAL PRIMARY KEY,
		caller_hash TEXT NOT NULL,
		intent      TEXT,
		summary     TEXT,
		reservation_id UUID,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS call_logs_created_idx ON call_logs (created_at)`,
}

// EnsureSchema creates the tables and indexes if they do not exist yet.
func EnsureSchema(ctx context.Context, db Querier) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SeedBeds inserts bed rows 1..total, skipping any that already exist. The
// pool is fixed: rows are created once and never deleted afterwards.
func SeedBeds(ctx context.Context, db Querier, total int) error {
	const q = `INSERT INTO beds (bed_number, status)
		SELECT g, 'available' FROM generate_series(1, $1) AS g
		ON CONFLICT (bed_number) DO NOTHING`

	if _, err := db.Exec(ctx, q, total); err != nil {
		return fmt.Errorf("seed beds: %w", err)
	}

	// Verified unconditionally: a pool seeded earlier at a different size is
	// a misconfiguration, not a clean start.
	var count int
	if err := db.QueryRow(ctx, `SELECT count(*) FROM beds`).Scan(&count); err != nil {
		return fmt.Errorf("count beds after seed: %w", err)
	}
	if count != total {
		return fmt.Errorf("seed beds: expected %d beds, found %d", total, count)
	}
	return nil
}
