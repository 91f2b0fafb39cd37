package user

import (
	"context"
)

// ══════════════════════════════════════════════════════════════════════════════
// STORE INTERFACE
// The contract of the user record store. Implementations live in
// infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Store persists user records.
//
// Records returned by Load, LoadOrCreate and All are working copies: mutating
// one has no effect on the store until it is passed to Save. Save only makes
// the change durable locally; Commit turns everything saved so far into one
// checkpoint and propagates it to the remote.
//
// A Store is not safe for interleaved load/save sequences. Callers serialize
// whole sequences through a single store lock.
type Store interface {
	// Load returns a working copy of the record.
	// Returns shared.ErrNotFound if the record is absent or unreadable.
	Load(ctx context.Context, id ID) (*Record, error)

	// LoadOrCreate loads the record, creating and committing a default one
	// when it is absent.
	LoadOrCreate(ctx context.Context, id ID) (*Record, error)

	// Save makes rec the new snapshot and writes it locally. It does not push.
	Save(ctx context.Context, rec *Record) error

	// Destroy removes the record and commits the deletion.
	// Returns shared.ErrNotFound if the record is absent.
	Destroy(ctx context.Context, id ID) error

	// All returns a working copy of every readable record.
	All(ctx context.Context) ([]*Record, error)

	// Commit records all saved changes as one checkpoint and pushes it.
	// With ignoreFailure set, failures are logged instead of returned.
	Commit(ctx context.Context, message string, ignoreFailure bool) error

	// Sync flushes pending changes, then replaces local state with the
	// remote state and drops every cached record.
	Sync(ctx context.Context) error
}
