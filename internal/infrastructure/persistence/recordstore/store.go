// Package recordstore implements user.Store: a process-wide cache of record
// snapshots over a pluggable durable backend.
//
// Every record has two versions in memory. The snapshot is what was last
// saved, and it lives in the cache. The working copy is what callers get from
// Load: a deep copy of the snapshot that can be mutated and abandoned freely.
// Save turns a working copy into the new snapshot and writes it through to
// the backend.
package recordstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/shared"
	"github.com/JunyuanChen/SonnyBot-ng/internal/domain/user"
)

// ══════════════════════════════════════════════════════════════════════════════
// BACKEND
// ══════════════════════════════════════════════════════════════════════════════

// ErrUnitNotFound is returned by backends for a key that has no unit.
var ErrUnitNotFound = errors.New("recordstore: unit not found")

// ErrCorruptRecord marks a unit that exists but cannot be decoded. Errors
// carrying it also match shared.ErrNotFound.
var ErrCorruptRecord = errors.New("corrupted record")

// Backend stores one opaque document per key and knows how to checkpoint and
// refresh the whole set.
type Backend interface {
	// Read returns the document stored under key, or ErrUnitNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write durably replaces the document stored under key.
	Write(ctx context.Context, key string, data []byte) error

	// Remove deletes the document stored under key, or returns ErrUnitNotFound.
	Remove(ctx context.Context, key string) error

	// Keys lists every stored key in no particular order.
	Keys(ctx context.Context) ([]string, error)

	// Checkpoint records every change since the previous checkpoint under
	// message and propagates it to the remote. Nothing to record is not an
	// error.
	Checkpoint(ctx context.Context, message string) error

	// Refresh discards local state and replaces it with the remote state.
	Refresh(ctx context.Context) error
}

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Listener is told about every change the store makes durable locally.
// Listener failures never fail the store operation.
type Listener interface {
	RecordSaved(ctx context.Context, rec *user.Record) error
	RecordDestroyed(ctx context.Context, id user.ID) error
	RecordsReplaced(ctx context.Context) error
}

// Config contains configuration for the Store.
type Config struct {
	Logger *slog.Logger

	// Listeners are notified after Save, Destroy and Sync.
	Listeners []Listener
}

// Store is the cache-backed user.Store.
type Store struct {
	backend   Backend
	logger    *slog.Logger
	listeners []Listener

	mu    sync.Mutex
	cache map[user.ID]*user.Record
}

var _ user.Store = (*Store)(nil)

// New creates a Store over backend.
func New(backend Backend, cfg Config) *Store {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend:   backend,
		logger:    logger.With("component", "record_store"),
		listeners: cfg.Listeners,
		cache:     make(map[user.ID]*user.Record),
	}
}

// Load returns a working copy of the record.
func (s *Store) Load(ctx context.Context, id user.ID) (*user.Record, error) {
	if snap, ok := s.cached(id); ok {
		return snap.Clone(), nil
	}

	data, err := s.backend.Read(ctx, id.String())
	if errors.Is(err, ErrUnitNotFound) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, storageError("Load", fmt.Sprintf("failed to load user %s", id), err)
	}

	snap, err := decode(id, data)
	if err != nil {
		s.logger.Warn("ignoring corrupted user data",
			slog.String("user_id", id.String()),
			slog.String("error", err.Error()),
		)
		return nil, shared.WrapError("user", "Load", shared.ErrNotFound,
			fmt.Sprintf("user %s is corrupted", id), fmt.Errorf("%w: %w", ErrCorruptRecord, err))
	}

	s.mu.Lock()
	s.cache[id] = snap
	s.mu.Unlock()

	return snap.Clone(), nil
}

// LoadOrCreate loads the record, creating a default one if it is absent.
// Creation is saved and committed. When the commit fails the caller gets a
// storage error; the written unit stays behind for the next checkpoint.
func (s *Store) LoadOrCreate(ctx context.Context, id user.ID) (*user.Record, error) {
	rec, err := s.Load(ctx, id)
	if err == nil || !shared.IsNotFound(err) {
		return rec, err
	}

	rec = user.New(id)
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.Commit(ctx, fmt.Sprintf("Create new user %s", id), false); err != nil {
		s.logger.Error("failed to create user", slog.String("user_id", id.String()))
		return nil, storageError("LoadOrCreate", fmt.Sprintf("Failed to create user %s", id), err)
	}
	s.logger.Info("new user created", slog.String("user_id", id.String()))
	return rec, nil
}

// Save makes rec the new snapshot and writes it to the backend. The snapshot
// is replaced only after the write succeeded.
func (s *Store) Save(ctx context.Context, rec *user.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	data, err := rec.Marshal()
	if err != nil {
		return storageError("Save", fmt.Sprintf("failed to encode user %s", rec.ID), err)
	}
	if err := s.backend.Write(ctx, rec.ID.String(), data); err != nil {
		return storageError("Save", fmt.Sprintf("failed to save user %s", rec.ID), err)
	}

	s.mu.Lock()
	s.cache[rec.ID] = rec.Clone()
	s.mu.Unlock()

	s.notify("saved", func(l Listener) error { return l.RecordSaved(ctx, rec) })
	return nil
}

// Destroy removes the record and commits the deletion.
//
// If the unit cannot be removed the cache is left untouched. Once the unit is
// gone the cache entry is evicted, so a failed commit leaves the deletion
// pending for the next checkpoint and still reports a storage error.
func (s *Store) Destroy(ctx context.Context, id user.ID) error {
	err := s.backend.Remove(ctx, id.String())
	if errors.Is(err, ErrUnitNotFound) {
		return notFound(id)
	}
	if err != nil {
		s.logger.Error("failed to remove user", slog.String("user_id", id.String()), slog.String("error", err.Error()))
		return storageError("Destroy", fmt.Sprintf("Failed to delete user %s", id), err)
	}

	s.evict(id)
	s.notify("destroyed", func(l Listener) error { return l.RecordDestroyed(ctx, id) })

	if err := s.Commit(ctx, fmt.Sprintf("Delete user %s", id), false); err != nil {
		s.logger.Error("failed to commit user deletion", slog.String("user_id", id.String()))
		return storageError("Destroy", fmt.Sprintf("Failed to delete user %s", id), err)
	}

	s.logger.Info("user destroyed", slog.String("user_id", id.String()))
	return nil
}

// All returns a working copy of every readable record, ordered by ID.
// Units whose key is not a user ID and units that fail to decode are skipped.
func (s *Store) All(ctx context.Context) ([]*user.Record, error) {
	keys, err := s.backend.Keys(ctx)
	if err != nil {
		return nil, storageError("All", "failed to list users", err)
	}

	records := make([]*user.Record, 0, len(keys))
	for _, key := range keys {
		id, err := user.ParseID(key)
		if err != nil {
			s.logger.Warn("invalid data unit ignored", slog.String("key", key))
			continue
		}

		rec, err := s.Load(ctx, id)
		if shared.IsNotFound(err) {
			// Corrupted, already logged by Load.
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Commit checkpoints all saved changes and pushes them.
func (s *Store) Commit(ctx context.Context, message string, ignoreFailure bool) error {
	err := s.backend.Checkpoint(ctx, message)
	if err == nil {
		s.logger.Debug("checkpoint committed", slog.String("commit", message))
		return nil
	}

	if ignoreFailure {
		s.logger.Warn("checkpoint failed, changes stay pending",
			slog.String("commit", message),
			slog.String("error", err.Error()),
		)
		return nil
	}

	s.logger.Error("checkpoint failed",
		slog.String("commit", message),
		slog.String("error", err.Error()),
	)
	return storageError("Commit", "Failed to save - see logs for details", err)
}

// Sync flushes pending changes, then replaces local state with the remote and
// clears the cache. On failure the cache is kept as is.
func (s *Store) Sync(ctx context.Context) error {
	// Flush lazily committed data first.
	_ = s.Commit(ctx, "Flush lazily committed data", true)

	if err := s.backend.Refresh(ctx); err != nil {
		s.logger.Error("failed to synchronize with remote", slog.String("error", err.Error()))
		return storageError("Sync", "Failed to sync - see logs for details", err)
	}

	s.ClearCache()
	s.notify("replaced", func(l Listener) error { return l.RecordsReplaced(ctx) })
	s.logger.Info("synchronized storage from remote")
	return nil
}

// ClearCache drops every cached snapshot.
func (s *Store) ClearCache() {
	s.mu.Lock()
	n := len(s.cache)
	s.cache = make(map[user.ID]*user.Record)
	s.mu.Unlock()
	s.logger.Debug("cleared record cache", slog.Int("records", n))
}

func (s *Store) notify(event string, fn func(Listener) error) {
	for _, l := range s.listeners {
		if err := fn(l); err != nil {
			s.logger.Warn("store listener failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Store) cached(id user.ID) (*user.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.cache[id]
	return snap, ok
}

func (s *Store) evict(id user.ID) {
	s.mu.Lock()
	delete(s.cache, id)
	s.mu.Unlock()
}

func decode(id user.ID, data []byte) (*user.Record, error) {
	rec, err := user.Unmarshal(id, data)
	if err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func notFound(id user.ID) error {
	return shared.NewDomainError("user", "Load", shared.ErrNotFound, fmt.Sprintf("user %s not found", id))
}

func storageError(op, message string, err error) error {
	return shared.WrapError("store", op, shared.ErrStorage, message, err)
}
