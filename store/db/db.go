package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/polystore/internal/profile"
	"github.com/hrygo/polystore/store"
	"github.com/hrygo/polystore/store/db/cockroach"
	"github.com/hrygo/polystore/store/db/postgres"
	"github.com/hrygo/polystore/store/db/qdrant"
	"github.com/hrygo/polystore/store/db/redis"
	"github.com/hrygo/polystore/store/db/sqlite"
)

// ============================================================================
// BACKEND SUPPORT POLICY
// ============================================================================
// PostgreSQL: full SQL, native JSON, synchronous indexes.
// SQLite: full SQL, structured data stored as text, embedded.
// CockroachDB: restricted SQL, small transactions, asynchronous indexes.
// Qdrant: document store, no transactions, asynchronous payload indexes.
// Redis: key-value store, client-side filtering, no secondary indexes.
//
// Every backend implements the whole store.Driver contract; capability gaps
// are reported through store.Capabilities and USER errors.
// ============================================================================

// NewDBDriver creates new db driver based on profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	case "cockroach":
		driver, err = cockroach.NewDB(profile)
	case "qdrant":
		driver, err = qdrant.NewDB(profile)
	case "redis":
		driver, err = redis.NewDB(profile)
	default:
		return nil, errors.Errorf("unknown db driver %q: expected postgres, sqlite, cockroach, qdrant or redis", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
