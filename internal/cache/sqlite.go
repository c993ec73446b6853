package cache

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// sqliteStore keeps cache entries in a local SQLite file so a restart within
// the TTL window does not refetch everything.
type sqliteStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *logrus.Logger
}

// NewSQLiteStore creates a SQLite-backed cache store.
func NewSQLiteStore(dbPath string, ttl time.Duration, logger *logrus.Logger) (Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		fetched_at TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db, ttl: ttl, logger: logger}, nil
}

func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var payload []byte
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&payload, &fetchedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.WithError(err).Warn("cache read failed, treating as miss")
		}
		return nil, false
	}

	if time.Since(fetchedAt) > s.ttl {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			s.logger.WithError(err).Warn("cache eviction failed")
		}
		return nil, false
	}
	return payload, true
}

func (s *sqliteStore) Set(ctx context.Context, key string, payload []byte) {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (key, payload, fetched_at) VALUES (?, ?, ?)`,
		key, payload, time.Now(),
	)
	if err != nil {
		s.logger.WithError(err).Warn("cache write failed")
	}
}

func (s *sqliteStore) Clear(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		s.logger.WithError(err).Warn("cache clear failed")
	}
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}
