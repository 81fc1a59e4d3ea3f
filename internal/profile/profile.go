package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/polystore/internal/resilience"
)

// Supported drivers.
const (
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
	DriverCockroach = "cockroach"
	DriverQdrant    = "qdrant"
	DriverRedis     = "redis"
)

// Profile is the configuration used to open a store.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Data is the data directory, used for the default sqlite file
	Data string
	// DSN points to the backend. For qdrant it is host:port, for redis a redis:// URL.
	DSN string
	// Driver is one of postgres, sqlite, cockroach, qdrant, redis
	Driver string
	// Namespace prefixes every table, collection or key the store creates.
	Namespace string

	// Resilience
	MaxBatchRows         int           // POLYSTORE_MAX_BATCH_ROWS (default: dialect ceiling)
	RetryMaxAttempts     int           // POLYSTORE_RETRY_MAX_ATTEMPTS (default: 5)
	RetryInitialInterval time.Duration // POLYSTORE_RETRY_INITIAL_INTERVAL (default: 100ms)
	RetryMaxInterval     time.Duration // POLYSTORE_RETRY_MAX_INTERVAL (default: 5s)
	IndexPollInterval    time.Duration // POLYSTORE_INDEX_POLL_INTERVAL (default: 1s)
	IndexTimeout         time.Duration // POLYSTORE_INDEX_TIMEOUT (default: 5m)
	RequestsPerSecond    float64       // POLYSTORE_REQUESTS_PER_SECOND (default: 0, unthrottled)

	// StaleDraftGrace is the minimum age of a draft header before the
	// initialization sweep reclaims it. POLYSTORE_STALE_DRAFT_GRACE (default: 0)
	StaleDraftGrace time.Duration
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from POLYSTORE_* environment variables.
// Fields already set on the profile are kept when the variable is absent.
func (p *Profile) FromEnv() error {
	p.Mode = getEnvOrDefault("POLYSTORE_MODE", p.Mode)
	p.Driver = getEnvOrDefault("POLYSTORE_DRIVER", p.Driver)
	p.DSN = getEnvOrDefault("POLYSTORE_DSN", p.DSN)
	p.Data = getEnvOrDefault("POLYSTORE_DATA", p.Data)
	p.Namespace = getEnvOrDefault("POLYSTORE_NAMESPACE", p.Namespace)

	var err error
	if p.MaxBatchRows, err = intEnv("POLYSTORE_MAX_BATCH_ROWS", p.MaxBatchRows); err != nil {
		return err
	}
	if p.RetryMaxAttempts, err = intEnv("POLYSTORE_RETRY_MAX_ATTEMPTS", p.RetryMaxAttempts); err != nil {
		return err
	}
	if p.RetryInitialInterval, err = durationEnv("POLYSTORE_RETRY_INITIAL_INTERVAL", p.RetryInitialInterval); err != nil {
		return err
	}
	if p.RetryMaxInterval, err = durationEnv("POLYSTORE_RETRY_MAX_INTERVAL", p.RetryMaxInterval); err != nil {
		return err
	}
	if p.IndexPollInterval, err = durationEnv("POLYSTORE_INDEX_POLL_INTERVAL", p.IndexPollInterval); err != nil {
		return err
	}
	if p.IndexTimeout, err = durationEnv("POLYSTORE_INDEX_TIMEOUT", p.IndexTimeout); err != nil {
		return err
	}
	if p.StaleDraftGrace, err = durationEnv("POLYSTORE_STALE_DRAFT_GRACE", p.StaleDraftGrace); err != nil {
		return err
	}
	if raw := os.Getenv("POLYSTORE_REQUESTS_PER_SECOND"); raw != "" {
		rps, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid POLYSTORE_REQUESTS_PER_SECOND %q", raw)
		}
		p.RequestsPerSecond = rps
	}
	return nil
}

func intEnv(key string, current int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return current, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return current, errors.Wrapf(err, "invalid %s %q", key, raw)
	}
	return v, nil
}

func durationEnv(key string, current time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return current, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return current, errors.Wrapf(err, "invalid %s %q", key, raw)
	}
	return v, nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		absDir, err := filepath.Abs(dataDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fills defaults.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	switch p.Driver {
	case DriverPostgres, DriverCockroach, DriverQdrant, DriverRedis:
		if p.DSN == "" {
			return errors.Errorf("driver %s requires a DSN", p.Driver)
		}
	case DriverSQLite:
		if p.DSN == "" {
			if p.Data == "" {
				p.Data = "."
			}
			dataDir, err := checkDataDir(p.Data)
			if err != nil {
				slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
				return err
			}
			p.Data = dataDir
			p.DSN = filepath.Join(dataDir, fmt.Sprintf("polystore_%s.db", p.Mode))
		}
	default:
		return errors.Errorf("unsupported driver %q", p.Driver)
	}

	if p.MaxBatchRows < 0 {
		return errors.Errorf("max batch rows must not be negative, got %d", p.MaxBatchRows)
	}
	if p.RetryMaxAttempts <= 0 {
		p.RetryMaxAttempts = 5
	}
	if p.RetryInitialInterval <= 0 {
		p.RetryInitialInterval = 100 * time.Millisecond
	}
	if p.RetryMaxInterval <= 0 {
		p.RetryMaxInterval = 5 * time.Second
	}
	if p.IndexPollInterval <= 0 {
		p.IndexPollInterval = time.Second
	}
	if p.IndexTimeout <= 0 {
		p.IndexTimeout = 5 * time.Minute
	}
	if p.RequestsPerSecond < 0 {
		p.RequestsPerSecond = 0
	}
	if p.StaleDraftGrace < 0 {
		p.StaleDraftGrace = 0
	}
	return nil
}

// RetryPolicy returns the backend retry policy configured by the profile.
func (p *Profile) RetryPolicy() resilience.Policy {
	policy := resilience.DefaultPolicy()
	if p.RetryMaxAttempts > 0 {
		policy.MaxAttempts = p.RetryMaxAttempts
	}
	if p.RetryInitialInterval > 0 {
		policy.InitialInterval = p.RetryInitialInterval
	}
	if p.RetryMaxInterval > 0 {
		policy.MaxInterval = p.RetryMaxInterval
	}
	return policy
}

// Throttle returns the round-trip limiter, or nil when unthrottled.
func (p *Profile) Throttle() *resilience.Throttle {
	return resilience.NewThrottle(p.RequestsPerSecond)
}
