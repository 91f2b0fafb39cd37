package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	version int
	name    string
	up      string
}

var migrations = []migration{
	{1, "create_user_records", migration001Up},
	{2, "create_checkpoints", migration002Up},
}

const createMigrationTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
)`

// Migrator brings the schema up to date.
type Migrator struct {
	conn *Connection
}

// NewMigrator creates a Migrator on conn.
func NewMigrator(conn *Connection) *Migrator {
	return &Migrator{conn: conn}
}

// Migrate applies the pending migrations, one transaction each, and returns
// how many it applied. The migration table is locked for the duration of
// each step so replicas starting together apply every migration once.
func (m *Migrator) Migrate(ctx context.Context) (int, error) {
	if _, err := m.conn.Exec(ctx, createMigrationTable); err != nil {
		return 0, fmt.Errorf("%w: create migration table: %v", ErrMigrationFailed, err)
	}

	applied := 0
	for _, mig := range migrations {
		ran := false
		err := m.conn.InTx(ctx, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, `LOCK TABLE schema_migrations IN EXCLUSIVE MODE`); err != nil {
				return err
			}
			var done bool
			err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, mig.version,
			).Scan(&done)
			if err != nil || done {
				return err
			}
			if _, err := tx.Exec(ctx, mig.up); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, mig.version, mig.name,
			); err != nil {
				return err
			}
			ran = true
			return nil
		})
		if err != nil {
			return applied, fmt.Errorf("%w: %03d_%s: %v", ErrMigrationFailed, mig.version, mig.name, err)
		}
		if ran {
			applied++
		}
	}
	return applied, nil
}

// Version returns the highest applied migration, 0 on an empty database.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var v int
	err := m.conn.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("postgres: schema version: %w", err)
	}
	return v, nil
}

const migration001Up = `
-- One JSON document per user, same format as the {id}.json files.
CREATE TABLE IF NOT EXISTS user_records (
    id NUMERIC(20, 0) PRIMARY KEY,
    data JSONB NOT NULL,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

-- Every previous version of a record, so deletions stay recoverable.
CREATE TABLE IF NOT EXISTS user_record_history (
    seq BIGSERIAL PRIMARY KEY,
    id NUMERIC(20, 0) NOT NULL,
    op VARCHAR(10) NOT NULL,
    data JSONB,
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_op CHECK (op IN ('write', 'delete'))
);

CREATE INDEX IF NOT EXISTS idx_user_record_history_id ON user_record_history(id, seq DESC);
`

const migration002Up = `
CREATE TABLE IF NOT EXISTS checkpoints (
    seq BIGSERIAL PRIMARY KEY,
    message TEXT NOT NULL,
    last_history_seq BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
`
