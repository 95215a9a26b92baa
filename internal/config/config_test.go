package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatabaseURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		dialect string
		dsn     string
		wantErr bool
	}{
		{
			name:    "postgres",
			url:     "postgres://escrow:secret@db:5432/escrow?sslmode=disable",
			dialect: DatabaseSchemePostgres,
			dsn:     "postgres://escrow:secret@db:5432/escrow?sslmode=disable",
		},
		{
			name:    "postgresql alias",
			url:     "postgresql://db/escrow",
			dialect: DatabaseSchemePostgres,
			dsn:     "postgresql://db/escrow",
		},
		{name: "sqlite relative", url: "sqlite://escrow.sqlite", dialect: DatabaseSchemeSqlite, dsn: "escrow.sqlite"},
		{name: "sqlite absolute", url: "sqlite:///var/lib/escrow/db.sqlite", dialect: DatabaseSchemeSqlite, dsn: "/var/lib/escrow/db.sqlite"},
		{name: "sqlite opaque", url: "sqlite:escrow.sqlite", dialect: DatabaseSchemeSqlite, dsn: "escrow.sqlite"},
		{name: "sqlite pragmas", url: "sqlite://escrow.sqlite?_pragma=journal_mode(WAL)", dialect: DatabaseSchemeSqlite, dsn: "escrow.sqlite?_pragma=journal_mode(WAL)"},
		{name: "sqlite without path", url: "sqlite://", wantErr: true},
		{name: "mysql", url: "mysql://db/escrow", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			dialect, dsn, err := parseDatabaseURL(tc.url)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.dialect, dialect)
			assert.Equal(t, tc.dsn, dsn)
		})
	}
}

// unsetEnv clears every variable Load reads, restoring them after the test.
func unsetEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{"DATABASE_URL", "CALLER", "ALIASES_FILE", "METRICS_ADDR", "REFRESH_INTERVAL", "DEBUG"} {
		for _, k := range []string{key, "ESCROW_" + key} {
			t.Setenv(k, "")
			require.NoError(t, os.Unsetenv(k))
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DatabaseSchemeSqlite, cfg.DBDialect)
	assert.Equal(t, "escrow.sqlite", cfg.DBDsn)
	assert.Equal(t, time.Second, cfg.RefreshInterval)
	assert.False(t, cfg.Debug)
}

func TestLoadFromEnv(t *testing.T) {
	unsetEnv(t)
	t.Setenv("ESCROW_DATABASE_URL", "postgres://u:p@h/db")
	t.Setenv("CALLER", " 00112233445566778899AABBCCDDEEFF00112233 ")
	t.Setenv("ESCROW_DEBUG", "true")
	t.Setenv("REFRESH_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DatabaseSchemePostgres, cfg.DBDialect)
	assert.Equal(t, "00112233445566778899AABBCCDDEEFF00112233", cfg.Caller)
	assert.True(t, cfg.Debug)
	assert.Equal(t, 250*time.Millisecond, cfg.RefreshInterval)
	assert.NotContains(t, cfg.DebugString(), "u:p@")
}

func TestLoadRejectsBadValues(t *testing.T) {
	unsetEnv(t)
	t.Setenv("DATABASE_URL", "mysql://h/db")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "sqlite://x.sqlite")
	t.Setenv("REFRESH_INTERVAL", "-1s")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("REFRESH_INTERVAL", "soon")
	_, err = Load()
	require.Error(t, err)
}

func TestMaskDSN(t *testing.T) {
	assert.Equal(t, "postgres://u@h/db", maskDSN(DatabaseSchemePostgres, "postgres://u:secret@h/db"))
	assert.Equal(t, "host=h password=*** dbname=db", maskDSN(DatabaseSchemePostgres, "host=h password=secret dbname=db"))
	assert.Equal(t, "escrow.sqlite", maskDSN(DatabaseSchemeSqlite, "escrow.sqlite"))
}
