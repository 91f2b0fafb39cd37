package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/JunyuanChen/SonnyBot-ng/internal/infrastructure/persistence/recordstore"
	"github.com/JunyuanChen/SonnyBot-ng/pkg/retry"
)

// RecordRepository stores user documents in the user_records table.
// It implements recordstore.Backend.
type RecordRepository struct {
	conn    *Connection
	retrier *retry.Retrier
	logger  *slog.Logger
}

// NewRecordRepository creates a new PostgreSQL record repository.
func NewRecordRepository(conn *Connection, logger *slog.Logger) *RecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordRepository{
		conn:    conn,
		retrier: retry.DatabaseRetrier().With(retry.WithRetryIf(IsTransient)),
		logger:  logger.With("component", "postgres"),
	}
}

var _ recordstore.Backend = (*RecordRepository)(nil)

// Read returns the document stored for key.
func (r *RecordRepository) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) ([]byte, error) {
		var data []byte
		err := r.conn.QueryRow(ctx, `SELECT data FROM user_records WHERE id = $1::numeric`, key).Scan(&data)
		return data, err
	})
	if IsNoRows(err) {
		return nil, recordstore.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: read %s: %w", key, err)
	}
	return data, nil
}

// Write upserts the document and appends the new version to the history.
func (r *RecordRepository) Write(ctx context.Context, key string, data []byte) error {
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		return r.conn.InTx(ctx, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, `
				INSERT INTO user_records (id, data, updated_at)
				VALUES ($1::numeric, $2::jsonb, NOW())
				ON CONFLICT (id) DO UPDATE SET
					data = EXCLUDED.data,
					updated_at = NOW()
			`, key, string(data))
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO user_record_history (id, op, data)
				VALUES ($1::numeric, 'write', $2::jsonb)
			`, key, string(data))
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("postgres: write %s: %w", key, err)
	}
	return nil
}

// Remove deletes the document. The last version stays in the history.
func (r *RecordRepository) Remove(ctx context.Context, key string) error {
	var found bool
	err := r.retrier.Do(ctx, func(ctx context.Context) error {
		found = false
		return r.conn.InTx(ctx, func(tx pgx.Tx) error {
			var last []byte
			err := tx.QueryRow(ctx, `DELETE FROM user_records WHERE id = $1::numeric RETURNING data`, key).Scan(&last)
			if IsNoRows(err) {
				return nil
			}
			if err != nil {
				return err
			}
			found = true
			_, err = tx.Exec(ctx, `
				INSERT INTO user_record_history (id, op, data)
				VALUES ($1::numeric, 'delete', $2::jsonb)
			`, key, string(last))
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("postgres: remove %s: %w", key, err)
	}
	if !found {
		return recordstore.ErrUnitNotFound
	}
	return nil
}

// Keys lists every stored id in decimal form.
func (r *RecordRepository) Keys(ctx context.Context) ([]string, error) {
	keys, err := retry.DoWithData(ctx, r.retrier, func(ctx context.Context) ([]string, error) {
		rows, err := r.conn.Query(ctx, `SELECT id::text FROM user_records`)
		if err != nil {
			return nil, err
		}
		return pgx.CollectRows(rows, pgx.RowTo[string])
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: list keys: %w", err)
	}
	return keys, nil
}

// Checkpoint labels the history written since the previous checkpoint.
// Writes are already durable, so there is nothing to push.
func (r *RecordRepository) Checkpoint(ctx context.Context, message string) error {
	tag, err := r.conn.Exec(ctx, `
		INSERT INTO checkpoints (message, last_history_seq)
		SELECT $1, h.seq
		FROM (SELECT COALESCE(MAX(seq), 0) AS seq FROM user_record_history) h
		WHERE h.seq > COALESCE((SELECT MAX(last_history_seq) FROM checkpoints), 0)
	`, message)
	if err != nil {
		return fmt.Errorf("postgres: checkpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		r.logger.Debug("nothing to checkpoint", "message", message)
	}
	return nil
}

// Refresh verifies the database is reachable. The table is the authoritative
// copy, so there is no local state to discard.
func (r *RecordRepository) Refresh(ctx context.Context) error {
	if err := r.retrier.Do(ctx, r.conn.Ping); err != nil {
		return fmt.Errorf("postgres: refresh: %w", err)
	}
	return nil
}

// History returns the stored versions of a record, newest first.
// A nil entry marks a deletion.
func (r *RecordRepository) History(ctx context.Context, key string, limit int) ([][]byte, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT CASE WHEN op = 'delete' THEN NULL ELSE data END
		FROM user_record_history
		WHERE id = $1::numeric
		ORDER BY seq DESC
		LIMIT $2
	`, key, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: history %s: %w", key, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) ([]byte, error) {
		var data []byte
		err := row.Scan(&data)
		return data, err
	})
}
