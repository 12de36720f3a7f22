package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, "fieldsync.db", c.DatabasePath)
	assert.Equal(t, TransferSigned, c.TransferMode)
	assert.Equal(t, TransportHTTP, c.BackendTransport)
	assert.Equal(t, 10, c.ConcurrentUploads)
	assert.Equal(t, 3, c.MaxRetries)
	assert.Equal(t, time.Second, c.RetryBase)
	assert.Equal(t, 30*time.Second, c.ConnectTimeout)
	assert.Equal(t, 80, c.JPEGQuality)
	require.NoError(t, c.Validate(), "defaults must be valid")
}

func TestLoad_NoSourcesKeepsDefaults(t *testing.T) {
	cfg := load(nil)

	require.NotNil(t, cfg)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.BackendURL)
	assert.Equal(t, 5*time.Second, cfg.CheckInterval)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	path := writeTempJSON(t, dir, "cfg.json", map[string]any{
		"db_path":            "from-json.db",
		"backend_url":        "https://json.example",
		"concurrent_uploads": 4,
		"check_interval":     "750ms",
	})

	t.Setenv("FIELDSYNC_BACKEND_URL", "https://env.example")
	t.Setenv("FIELDSYNC_RETRY_BASE", "250ms")

	cfg := load([]string{"-c", path, "-n", "6"})

	assert.Equal(t, "from-json.db", cfg.DatabasePath, "json overrides defaults")
	assert.Equal(t, "https://env.example", cfg.BackendURL, "env overrides json")
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBase)
	assert.Equal(t, 6, cfg.ConcurrentUploads, "flags override json")
	assert.Equal(t, 750*time.Millisecond, cfg.CheckInterval, "unset -i keeps sub-second json value")
}

func TestLoad_DotenvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "agent.env")
	require.NoError(t, os.WriteFile(envFile, []byte("FIELDSYNC_DB_PATH=dotenv.db\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("FIELDSYNC_DB_PATH") })

	cfg := load([]string{"-env", envFile})
	assert.Equal(t, "dotenv.db", cfg.DatabasePath)
}

func TestLoad_MissingDotenvFilePanics(t *testing.T) {
	require.Panics(t, func() { load([]string{"-env", filepath.Join(t.TempDir(), "none.env")}) })
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		expectPanic bool
		check       func(t *testing.T, c *Config)
	}{
		{
			name: "values applied",
			args: []string{"-a", "https://api.example", "-i", "10", "-m", "s3", "-diag", ""},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, "https://api.example", c.BackendURL)
				assert.Equal(t, 10*time.Second, c.CheckInterval)
				assert.Equal(t, TransferS3, c.TransferMode)
				assert.Empty(t, c.DiagnosticsAddr)
			},
		},
		{
			name: "foreign flags ignored",
			args: []string{"-c", "x.json", "-env", "y.env", "-n", "2"},
			check: func(t *testing.T, c *Config) {
				assert.Equal(t, 2, c.ConcurrentUploads)
			},
		},
		{name: "incorrect check interval", args: []string{"-i", "abc"}, expectPanic: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.LoadDefaults()

			if tt.expectPanic {
				require.Panics(t, func() { parseFlags(cfg, tt.args) })
				return
			}
			require.NotPanics(t, func() { parseFlags(cfg, tt.args) })
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{name: "bad transfer mode", mutate: func(c *Config) { c.TransferMode = "ftp" }},
		{name: "zero concurrency", mutate: func(c *Config) { c.ConcurrentUploads = 0 }},
		{name: "s3 without bucket", mutate: func(c *Config) { c.TransferMode = TransferS3; c.S3Endpoint = "http://minio:9000" }},
		{name: "bad backend url", mutate: func(c *Config) { c.BackendURL = "not a url" }},
		{name: "quality out of range", mutate: func(c *Config) { c.JPEGQuality = 101 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}
}

func TestLoad_InvalidResultPanics(t *testing.T) {
	require.Panics(t, func() { load([]string{"-m", "carrier-pigeon"}) })
}

func TestPath(t *testing.T) {
	c := Config{}
	assert.Equal(t, "a.db", c.Path("a.db"))

	c.DataDir = "/var/lib/fieldsync"
	assert.Equal(t, filepath.Join("/var/lib/fieldsync", "a.db"), c.Path("a.db"))
	assert.Equal(t, "/tmp/b.db", c.Path("/tmp/b.db"))
	assert.Empty(t, c.Path(""))
}
