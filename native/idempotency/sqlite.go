package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"

	// The gorm storage layer links the same driver, which registers
	// itself under "sqlite". Importing modernc.org/sqlite here as well
	// would panic on the duplicate registration.
	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStore persists reservations across restarts so replays after a
// crash stay safe.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the backing database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS idempotency_keys (
        scope TEXT NOT NULL,
        key TEXT NOT NULL,
        committed INTEGER NOT NULL DEFAULT 0,
        envelope BLOB,
        expires_at TIMESTAMP NOT NULL,
        first_seen_at TIMESTAMP NOT NULL,
        PRIMARY KEY (scope, key)
    );`)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// SetNowFunc overrides the clock. Primarily for tests.
func (s *SQLiteStore) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	s.now = now
}

// Reserve implements Store.
func (s *SQLiteStore) Reserve(ctx context.Context, scope Scope, key string, ttl time.Duration) (Reservation, error) {
	now := s.now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Reservation{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var committed bool
	var envelope []byte
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		`SELECT committed, envelope, expires_at FROM idempotency_keys WHERE scope = ? AND key = ?`,
		string(scope), key).Scan(&committed, &envelope, &expiresAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO idempotency_keys (scope, key, committed, expires_at, first_seen_at) VALUES (?, ?, 0, ?, ?)`,
			string(scope), key, now.Add(ttl), now); err != nil {
			return Reservation{}, err
		}
		if err := tx.Commit(); err != nil {
			return Reservation{}, err
		}
		return Reservation{State: Fresh}, nil
	case err != nil:
		return Reservation{}, err
	}
	if committed {
		return Reservation{State: Committed, Envelope: envelope}, nil
	}
	if now.Before(expiresAt) {
		return Reservation{State: InFlight}, nil
	}
	// Reclaim an abandoned reservation.
	if _, err := tx.ExecContext(ctx,
		`UPDATE idempotency_keys SET expires_at = ? WHERE scope = ? AND key = ?`,
		now.Add(ttl), string(scope), key); err != nil {
		return Reservation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Reservation{}, err
	}
	return Reservation{State: Fresh}, nil
}

// Commit implements Store.
func (s *SQLiteStore) Commit(ctx context.Context, scope Scope, key string, envelope []byte) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE idempotency_keys SET committed = 1, envelope = ? WHERE scope = ? AND key = ?`,
		envelope, string(scope), key)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrUnknownKey
	}
	return nil
}

// Release implements Store.
func (s *SQLiteStore) Release(ctx context.Context, scope Scope, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_keys WHERE scope = ? AND key = ? AND committed = 0`,
		string(scope), key)
	return err
}
