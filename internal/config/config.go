package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	apperrors "github.com/yamada-k/git-insights/internal/errors"
)

// Config holds the application configuration
type Config struct {
	// GitHub
	GitHubToken  string
	Org          string
	Repos        []string // empty means discover via the org listing
	LookbackDays int

	// Issue tracker (optional; epic and ticket enrichment is disabled without it)
	JiraURL   string
	JiraEmail string
	JiraToken string

	// Cache
	CacheBackend string // "memory", "sqlite", "postgres" or "redis"
	SQLitePath   string
	PostgresURL  string
	RedisURL     string

	// API Server
	APIPort string
	APIHost string

	// CLI
	APIEndpoint string
}

// Load loads the configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	return &Config{
		GitHubToken:  getEnv("GITHUB_TOKEN", ""),
		Org:          getEnv("GITHUB_ORG", ""),
		Repos:        splitList(getEnv("GITHUB_REPOS", "")),
		LookbackDays: getEnvInt("LOOKBACK_DAYS", 30),
		JiraURL:      getEnv("JIRA_URL", ""),
		JiraEmail:    getEnv("JIRA_EMAIL", ""),
		JiraToken:    getEnv("JIRA_TOKEN", ""),
		CacheBackend: getEnv("CACHE_BACKEND", "memory"),
		SQLitePath:   getEnv("SQLITE_PATH", "./cache.db"),
		PostgresURL:  getEnv("POSTGRES_URL", ""),
		RedisURL:     getEnv("REDIS_URL", ""),
		APIPort:      getEnv("API_PORT", "8080"),
		APIHost:      getEnv("API_HOST", "localhost"),
		APIEndpoint:  getEnv("API_ENDPOINT", "http://localhost:8080"),
	}, nil
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration. It must pass before any network
// activity is started.
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return apperrors.NewConfigError("GITHUB_TOKEN", "GitHub token is required")
	}
	if c.Org == "" {
		return apperrors.NewConfigError("GITHUB_ORG", "organization name is required")
	}
	switch c.CacheBackend {
	case "memory", "sqlite", "postgres", "redis":
	default:
		return apperrors.NewConfigError("CACHE_BACKEND", "must be 'memory', 'sqlite', 'postgres' or 'redis'")
	}
	if c.CacheBackend == "postgres" && c.PostgresURL == "" {
		return apperrors.NewConfigError("POSTGRES_URL", "PostgreSQL URL is required when CACHE_BACKEND is 'postgres'")
	}
	if c.CacheBackend == "redis" && c.RedisURL == "" {
		return apperrors.NewConfigError("REDIS_URL", "Redis URL is required when CACHE_BACKEND is 'redis'")
	}
	if c.JiraURL != "" && (c.JiraEmail == "" || c.JiraToken == "") {
		return apperrors.NewConfigError("JIRA_EMAIL", "JIRA email and token are required when JIRA_URL is set")
	}
	return nil
}

// TrackerEnabled reports whether issue-tracker enrichment is configured.
func (c *Config) TrackerEnabled() bool {
	return c.JiraURL != ""
}
