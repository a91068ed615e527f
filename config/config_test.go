package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.App.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 100, cfg.HTTP.RateLimitPerMinute)
	assert.Equal(t, []string{"*"}, cfg.HTTP.CORSOrigins)
	assert.Empty(t, cfg.HTTP.TrustedProxies)
	assert.Equal(t, 6, cfg.Grouping.DefaultGroupSize)
	assert.Equal(t, 10000, cfg.Grouping.MaxStudents)
	assert.Equal(t, 100, cfg.Grouping.MaxIterations)
	assert.InDelta(t, 1e-6, cfg.Grouping.Tolerance, 1e-12)
	assert.Zero(t, cfg.Grouping.Seed)
	assert.Equal(t, RosterSourceCSV, cfg.Roster.Source)
	assert.Equal(t, "./data", cfg.Roster.CSVDir)
	assert.Equal(t, "grouping.requests", cfg.NATS.Subject)
	assert.Equal(t, "grouper", cfg.NATS.Queue)
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("GROUPING_DEFAULT_SIZE", "4")
	t.Setenv("GROUPING_SEED", "42")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "5s")
	t.Setenv("HTTP_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("HTTP_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.Grouping.DefaultGroupSize)
	assert.Equal(t, uint64(42), cfg.Grouping.Seed)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 5*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.HTTP.TrustedProxies)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("GROUPING_MAX_STUDENTS", "50")

	path := filepath.Join(t.TempDir(), "grouper.yaml")
	yaml := `
grouping:
  default_size: 3
  max_students: 999
roster:
  source: csv
  csv_dir: /srv/rosters
log:
  format: console
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Grouping.DefaultGroupSize)
	// environment wins over the file
	assert.Equal(t, 50, cfg.Grouping.MaxStudents)
	assert.Equal(t, "/srv/rosters", cfg.Roster.CSVDir)
	assert.Equal(t, "console", cfg.Observability.LogFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "zero group size",
			env:     map[string]string{"GROUPING_DEFAULT_SIZE": "0"},
			wantErr: "GROUPING_DEFAULT_SIZE",
		},
		{
			name:    "unknown roster source",
			env:     map[string]string{"ROSTER_SOURCE": "ldap"},
			wantErr: "ROSTER_SOURCE",
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"ROSTER_SOURCE": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "production without database",
			env:     map[string]string{"APP_ENV": "production"},
			wantErr: "DATABASE_URL is required in production",
		},
		{
			name:    "bad port",
			env:     map[string]string{"HTTP_PORT": "70000"},
			wantErr: "HTTP_PORT",
		},
		{
			name:    "bad trusted proxy",
			env:     map[string]string{"HTTP_TRUSTED_PROXIES": "lb.internal"},
			wantErr: "HTTP_TRUSTED_PROXIES",
		},
		{
			name:    "bad log format",
			env:     map[string]string{"LOG_FORMAT": "xml"},
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
