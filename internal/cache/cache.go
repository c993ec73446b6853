// Package cache is the TTL-keyed store mapping a query fingerprint to a
// previously computed report. Caching is best effort: a corrupt entry or a
// failed write is logged and treated as a miss, never surfaced to callers.
package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yamada-k/git-insights/internal/config"
)

// DefaultTTL is how long a cached report stays fresh.
const DefaultTTL = 10 * time.Minute

// Store is the abstract interface for the cache layer. Get atomically checks
// the TTL and evicts expired entries on read.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, payload []byte)
	Clear(ctx context.Context)
	Close() error
}

// New selects a cache backend from the configuration.
func New(cfg *config.Config, logger *logrus.Logger) (Store, error) {
	switch cfg.CacheBackend {
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath, DefaultTTL, logger)
	case "postgres":
		return NewPostgresStore(cfg.PostgresURL, DefaultTTL, logger)
	case "redis":
		return NewRedisStore(cfg.RedisURL, DefaultTTL, logger)
	default:
		return NewMemoryStore(DefaultTTL), nil
	}
}

// Fingerprint derives the deterministic cache key for a query. The repo list
// is sorted so the key does not depend on configuration order.
func Fingerprint(kind, org string, repos []string, days int) string {
	sorted := make([]string, len(repos))
	copy(sorted, repos)
	sort.Strings(sorted)
	return fmt.Sprintf("%s:%s:%s:%dd", kind, org, strings.Join(sorted, ","), days)
}
