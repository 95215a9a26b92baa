package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	// DatabaseSchemePostgres is the postgres database scheme identifier
	DatabaseSchemePostgres = "postgres"
	// DatabaseSchemeSqlite is the embedded sqlite database scheme identifier
	DatabaseSchemeSqlite = "sqlite"

	DefaultDatabaseURL = "sqlite://escrow.sqlite"
)

type Config struct {
	DBDialect       string        // postgres or sqlite
	DBDsn           string        // DSN string passed to GORM driver
	Caller          string        // address the command surface acts as
	AliasesFile     string        // optional YAML file of address labels
	MetricsAddr     string        // optional listen address for /metrics while watching
	RefreshInterval time.Duration // how often the watch view reloads
	Debug           bool
}

// env is the raw environment; every key may also be given with an ESCROW_ prefix.
type env struct {
	DatabaseURL     string        `envconfig:"DATABASE_URL"`
	Caller          string        `envconfig:"CALLER"`
	AliasesFile     string        `envconfig:"ALIASES_FILE"`
	MetricsAddr     string        `envconfig:"METRICS_ADDR"`
	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"1s"`
	Debug           bool          `envconfig:"DEBUG"`
}

// parseDatabaseURL interprets DATABASE_URL and returns (dialect, dsn).
// Supported schemes: postgres, postgresql, sqlite.
func parseDatabaseURL(databaseURL string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", err
	}
	scheme := strings.ToLower(u.Scheme)
	switch scheme {
	case DatabaseSchemePostgres, "postgresql":
		// GORM postgres driver accepts URL DSN as-is
		return DatabaseSchemePostgres, databaseURL, nil
	case DatabaseSchemeSqlite:
		// sqlite://relative/path or sqlite:///absolute/path
		path := u.Host + u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return "", "", fmt.Errorf("DATABASE_URL %q has no sqlite path", databaseURL)
		}
		if u.RawQuery != "" {
			path += "?" + u.RawQuery
		}
		return DatabaseSchemeSqlite, path, nil
	default:
		return "", "", fmt.Errorf("unsupported DATABASE_URL scheme: %s", u.Scheme)
	}
}

func Load() (Config, error) {
	var e env
	if err := envconfig.Process("escrow", &e); err != nil {
		return Config{}, fmt.Errorf("error processing environment: %w", err)
	}
	cfg := Config{
		Caller:          strings.TrimSpace(e.Caller),
		AliasesFile:     e.AliasesFile,
		MetricsAddr:     e.MetricsAddr,
		RefreshInterval: e.RefreshInterval,
		Debug:           e.Debug,
	}
	if cfg.RefreshInterval <= 0 {
		return Config{}, fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", cfg.RefreshInterval)
	}

	dbURL := strings.TrimSpace(e.DatabaseURL)
	if dbURL == "" {
		dbURL = DefaultDatabaseURL
	}
	dialect, dsn, err := parseDatabaseURL(dbURL)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.DBDialect = dialect
	cfg.DBDsn = dsn
	return cfg, nil
}

func (c Config) String() string {
	return fmt.Sprintf("db=%s caller=%s", c.DBDialect, c.Caller)
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"db=%s dsn=%s caller=%s aliases=%s metrics=%s refresh=%s",
		c.DBDialect,
		maskDSN(c.DBDialect, c.DBDsn),
		c.Caller,
		c.AliasesFile,
		c.MetricsAddr,
		c.RefreshInterval,
	)
}

func maskDSN(dialect, dsn string) string {
	switch strings.ToLower(dialect) {
	case DatabaseSchemePostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			if u.User != nil {
				username := u.User.Username()
				u.User = url.User(username)
			}
			return u.String()
		}
		// Fallback for DSN as key-value list
		parts := strings.Fields(dsn)
		for i, p := range parts {
			lower := strings.ToLower(p)
			if strings.HasPrefix(lower, "password=") {
				parts[i] = "password=***"
			}
		}
		return strings.Join(parts, " ")
	default:
		return dsn
	}
}
