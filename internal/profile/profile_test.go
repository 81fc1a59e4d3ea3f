package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileFromEnv(t *testing.T) {
	t.Setenv("POLYSTORE_DRIVER", "postgres")
	t.Setenv("POLYSTORE_DSN", "postgres://localhost/polystore")
	t.Setenv("POLYSTORE_NAMESPACE", "mastra_")
	t.Setenv("POLYSTORE_MAX_BATCH_ROWS", "250")
	t.Setenv("POLYSTORE_RETRY_MAX_ATTEMPTS", "7")
	t.Setenv("POLYSTORE_RETRY_INITIAL_INTERVAL", "50ms")
	t.Setenv("POLYSTORE_INDEX_TIMEOUT", "2m")
	t.Setenv("POLYSTORE_REQUESTS_PER_SECOND", "12.5")
	t.Setenv("POLYSTORE_STALE_DRAFT_GRACE", "1h")

	p := &Profile{Mode: "dev"}
	require.NoError(t, p.FromEnv())

	assert.Equal(t, "dev", p.Mode)
	assert.Equal(t, DriverPostgres, p.Driver)
	assert.Equal(t, "postgres://localhost/polystore", p.DSN)
	assert.Equal(t, "mastra_", p.Namespace)
	assert.Equal(t, 250, p.MaxBatchRows)
	assert.Equal(t, 7, p.RetryMaxAttempts)
	assert.Equal(t, 50*time.Millisecond, p.RetryInitialInterval)
	assert.Equal(t, 2*time.Minute, p.IndexTimeout)
	assert.InDelta(t, 12.5, p.RequestsPerSecond, 1e-9)
	assert.Equal(t, time.Hour, p.StaleDraftGrace)
}

func TestProfileFromEnvInvalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"batch rows", "POLYSTORE_MAX_BATCH_ROWS", "many"},
		{"retry interval", "POLYSTORE_RETRY_INITIAL_INTERVAL", "soon"},
		{"rps", "POLYSTORE_REQUESTS_PER_SECOND", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := (&Profile{}).FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestProfileValidate(t *testing.T) {
	t.Run("sqlite defaults DSN into data dir", func(t *testing.T) {
		dir := t.TempDir()
		p := &Profile{Mode: "prod", Driver: DriverSQLite, Data: dir}
		require.NoError(t, p.Validate())
		assert.Equal(t, filepath.Join(dir, "polystore_prod.db"), p.DSN)
		assert.Equal(t, 5, p.RetryMaxAttempts)
		assert.Equal(t, time.Second, p.IndexPollInterval)
		assert.Equal(t, 5*time.Minute, p.IndexTimeout)
	})

	t.Run("unknown mode falls back to demo", func(t *testing.T) {
		p := &Profile{Mode: "staging", Driver: DriverRedis, DSN: "redis://localhost:6379/0"}
		require.NoError(t, p.Validate())
		assert.Equal(t, "demo", p.Mode)
		assert.True(t, p.IsDev())
	})

	t.Run("network drivers need a DSN", func(t *testing.T) {
		for _, driver := range []string{DriverPostgres, DriverCockroach, DriverQdrant, DriverRedis} {
			err := (&Profile{Driver: driver}).Validate()
			assert.Error(t, err, driver)
		}
	})

	t.Run("unknown driver", func(t *testing.T) {
		err := (&Profile{Driver: "mysql", DSN: "x"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mysql")
	})

	t.Run("missing data dir", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope")
		_, statErr := os.Stat(missing)
		require.True(t, os.IsNotExist(statErr))
		err := (&Profile{Driver: DriverSQLite, Data: missing}).Validate()
		assert.Error(t, err)
	})

	t.Run("negative batch rows", func(t *testing.T) {
		err := (&Profile{Driver: DriverRedis, DSN: "redis://x", MaxBatchRows: -1}).Validate()
		assert.Error(t, err)
	})
}
