package test

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db"
)

// getDriverFromEnv returns the backends selected by DRIVER, a comma
// separated list. The embedded backends run when it is unset.
func getDriverFromEnv() []string {
	raw := os.Getenv("DRIVER")
	if raw == "" {
		return []string{profile.DriverSQLite, profile.DriverRedis}
	}
	var drivers []string
	for _, d := range strings.Split(raw, ",") {
		if d = strings.TrimSpace(d); d != "" {
			drivers = append(drivers, d)
		}
	}
	return drivers
}

// forEachDriver runs fn as a subtest against every selected backend.
func forEachDriver(t *testing.T, fn func(t *testing.T, driver string)) {
	t.Helper()
	for _, driver := range getDriverFromEnv() {
		t.Run(driver, func(t *testing.T) {
			fn(t, driver)
		})
	}
}

// NewTestingProfile returns a profile for driver with an isolated namespace.
func NewTestingProfile(t *testing.T, driver string) *profile.Profile {
	t.Helper()
	p := &profile.Profile{
		Mode:             "dev",
		Driver:           driver,
		Namespace:        fmt.Sprintf("t%x_", rand.Uint32()),
		RetryMaxAttempts: 2,
	}
	switch driver {
	case profile.DriverSQLite:
		p.DSN = ":memory:"
	case profile.DriverRedis:
		p.DSN = "redis://" + miniredis.RunT(t).Addr()
	case profile.DriverPostgres:
		if testing.Short() {
			t.Skip("postgres needs a container")
		}
		p.DSN = GetPostgresDSN(t)
	case profile.DriverCockroach:
		if testing.Short() {
			t.Skip("cockroach needs a container")
		}
		p.DSN = GetCockroachDSN(t)
	case profile.DriverQdrant:
		if testing.Short() {
			t.Skip("qdrant needs a container")
		}
		p.DSN = GetQdrantAddr(t)
	default:
		t.Fatalf("unknown driver %q", driver)
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("invalid profile: %v", err)
	}
	return p
}

// NewTestingDriver opens the backend driver described by p.
func NewTestingDriver(t *testing.T, p *profile.Profile) store.Driver {
	t.Helper()
	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}
	return driver
}

// NewTestingStore returns an initialized store on a fresh namespace of driver.
func NewTestingStore(ctx context.Context, t *testing.T, driver string) *store.Store {
	t.Helper()
	p := NewTestingProfile(t, driver)
	ts := store.New(NewTestingDriver(t, p), p)
	t.Cleanup(func() { _ = ts.Close() })
	if err := ts.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	return ts
}
