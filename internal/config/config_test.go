package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAdminConfig(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		expectError bool
		validate    func(*testing.T, *AdminConfig)
	}{
		{
			name: "valid config file",
			configFile: `
debug: true
sentry_dsn: "https://sentry.example.com"
database:
  host: localhost
  port: 5433
  user: testuser
  password: testpass
  dbname: testdb
  sslmode: require
  max_open_conns: 40
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 30
nats:
  url: "nats://localhost:4222"
  subject_prefix: "audit"
  reconnect_wait: "5s"
auth:
  api_keys:
    - key-one
    - key-two
`,
			expectError: false,
			validate: func(t *testing.T, cfg *AdminConfig) {
				assert.True(t, cfg.Debug)
				assert.Equal(t, "https://sentry.example.com", cfg.SentryDSN)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5433, cfg.Database.Port)
				assert.Equal(t, "testdb", cfg.Database.DBName)
				assert.Equal(t, "require", cfg.Database.SSLMode)
				assert.Equal(t, 40, cfg.Database.MaxOpenConns)
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, 9090, cfg.Server.Port)
				assert.Equal(t, 30, cfg.Server.ReadTimeout)
				assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
				assert.Equal(t, "audit", cfg.NATS.SubjectPrefix)
				assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
				assert.Equal(t, []string{"key-one", "key-two"}, cfg.Auth.APIKeys)
			},
		},
		{
			name: "defaults applied",
			configFile: `
database:
  host: localhost
  dbname: testdb
`,
			expectError: false,
			validate: func(t *testing.T, cfg *AdminConfig) {
				assert.False(t, cfg.Debug)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "disable", cfg.Database.SSLMode)
				assert.Equal(t, 20, cfg.Database.MaxOpenConns)
				assert.Equal(t, 5, cfg.Database.MaxIdleConns)
				assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
				assert.Equal(t, "0.0.0.0", cfg.Server.Host)
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "histories", cfg.NATS.SubjectPrefix)
				assert.Equal(t, "history-admin", cfg.NATS.ConnectionName)
				assert.Empty(t, cfg.NATS.URL)
			},
		},
		{
			name: "missing database host",
			configFile: `
database:
  dbname: testdb
`,
			expectError: true,
		},
		{
			name: "missing database name",
			configFile: `
database:
  host: localhost
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.configFile)
			cfg, err := LoadAdminConfig(path, t.TempDir())
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, cfg)
		})
	}
}

func TestLoadAdminConfigFromEnvironment(t *testing.T) {
	t.Setenv("HISTORIES_DATABASE_HOST", "env-host")
	t.Setenv("HISTORIES_DATABASE_DBNAME", "env-db")
	t.Setenv("HISTORIES_DATABASE_PASSWORD", "env-secret")
	t.Setenv("HISTORIES_SERVER_PORT", "9999")
	t.Setenv("HISTORIES_NATS_URL", "nats://env:4222")

	// no config file: environment variables alone must suffice
	cfg, err := LoadAdminConfig("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "env-host", cfg.Database.Host)
	assert.Equal(t, "env-db", cfg.Database.DBName)
	assert.Equal(t, "env-secret", cfg.Database.Password)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("HISTORIES_DATABASE_HOST", "env-wins")

	path := writeConfigFile(t, `
database:
  host: file-host
  dbname: testdb
`)
	cfg, err := LoadAdminConfig(path, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "env-wins", cfg.Database.Host)
}

func TestLoadEnvFiles(t *testing.T) {
	// godotenv writes to the process environment
	t.Cleanup(func() {
		_ = os.Unsetenv("HISTORIES_DATABASE_HOST")
		_ = os.Unsetenv("HISTORIES_DATABASE_DBNAME")
	})

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("HISTORIES_DATABASE_HOST=dotenv-host\nHISTORIES_DATABASE_DBNAME=dotenv-db\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.local"),
		[]byte("HISTORIES_DATABASE_HOST=local-host\n"), 0o644))

	cfg, err := LoadAdminConfig("", dir)
	require.NoError(t, err)

	// .env.local overloads .env
	assert.Equal(t, "local-host", cfg.Database.Host)
	assert.Equal(t, "dotenv-db", cfg.Database.DBName)
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "app",
		Password: "secret",
		DBName:   "audit",
		SSLMode:  "disable",
	}
	assert.Equal(t,
		"host=localhost port=5432 user=app password=secret dbname=audit sslmode=disable",
		c.DSN())
}
