package cache

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// postgresStore keeps cache entries in PostgreSQL for deployments where
// several instances share one cache window.
type postgresStore struct {
	db     *sql.DB
	ttl    time.Duration
	logger *logrus.Logger
}

// NewPostgresStore creates a PostgreSQL-backed cache store.
func NewPostgresStore(connURL string, ttl time.Duration, logger *logrus.Logger) (Store, error) {
	db, err := sql.Open("postgres", connURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		payload BYTEA NOT NULL,
		fetched_at TIMESTAMPTZ NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &postgresStore{db: db, ttl: ttl, logger: logger}, nil
}

func (s *postgresStore) Get(ctx context.Context, key string) ([]byte, bool) {
	var payload []byte
	var fetchedAt time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, fetched_at FROM cache_entries WHERE key = $1`, key,
	).Scan(&payload, &fetchedAt)
	if err != nil {
		if err != sql.ErrNoRows {
			s.logger.WithError(err).Warn("cache read failed, treating as miss")
		}
		return nil, false
	}

	if time.Since(fetchedAt) > s.ttl {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
			s.logger.WithError(err).Warn("cache eviction failed")
		}
		return nil, false
	}
	return payload, true
}

func (s *postgresStore) Set(ctx context.Context, key string, payload []byte) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, payload, fetched_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at`,
		key, payload, time.Now(),
	)
	if err != nil {
		s.logger.WithError(err).Warn("cache write failed")
	}
}

func (s *postgresStore) Clear(ctx context.Context) {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`); err != nil {
		s.logger.WithError(err).Warn("cache clear failed")
	}
}

func (s *postgresStore) Close() error {
	return s.db.Close()
}
