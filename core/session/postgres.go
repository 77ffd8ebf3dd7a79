package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// sqlxDB is the subset of *sqlx.DB used by PostgresStore.
type sqlxDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var _ sqlxDB = (*sqlx.DB)(nil)

const (
	pgSelectSession = `SELECT record, expires_at FROM conversation_sessions
WHERE session_key = $1 AND expires_at > $2`

	pgUpsertSession = `INSERT INTO conversation_sessions (session_key, record, expires_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_key) DO UPDATE
SET record = EXCLUDED.record, expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`

	pgPurgeSessions = `DELETE FROM conversation_sessions WHERE expires_at <= $1`
)

type sessionRow struct {
	Record    []byte    `db:"record"`
	ExpiresAt time.Time `db:"expires_at"`
}

// PostgresStore keeps records in the conversation_sessions table.
type PostgresStore struct {
	db   sqlxDB
	opts Options
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Purger = (*PostgresStore)(nil)
)

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB, opts Options) *PostgresStore {
	return newPostgresStore(db, opts)
}

func newPostgresStore(db sqlxDB, opts Options) *PostgresStore {
	return &PostgresStore{db: db, opts: opts.withDefaults()}
}

// Load fetches the live row for userID.
func (s *PostgresStore) Load(ctx context.Context, userID string) (Record, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row, pgSelectSession, s.opts.Key(userID), s.opts.Now().UTC())
	if errors.Is(err, sql.ErrNoRows) {
		return Fresh(""), nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: load %s: %w", userID, err)
	}
	return s.opts.load(ctx, "postgres", userID, row.Record)
}

// Save upserts the record with a new expiry.
func (s *PostgresStore) Save(ctx context.Context, userID string, rec Record, ttl time.Duration) error {
	data, err := Encode(rec)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = s.opts.MaxAge
	}
	now := s.opts.Now().UTC()
	if _, err := s.db.ExecContext(ctx, pgUpsertSession, s.opts.Key(userID), string(data), now.Add(ttl), now); err != nil {
		return fmt.Errorf("session: save %s: %w", userID, err)
	}
	return nil
}

// PurgeExpired deletes rows past their expiry.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, pgPurgeSessions, s.opts.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("session: purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("session: purge rows affected: %w", err)
	}
	return n, nil
}
