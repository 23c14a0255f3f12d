// Package db selects the concrete store.Driver for a profile's configured
// backend.
package db

import (
	"fmt"

	"github.com/hrygo/dialogued/internal/profile"
	"github.com/hrygo/dialogued/store"
	"github.com/hrygo/dialogued/store/db/postgres"
	"github.com/hrygo/dialogued/store/db/sqlite"
)

// NewDBDriver opens the store.Driver named by profile.Driver.
func NewDBDriver(prof *profile.Profile) (store.Driver, error) {
	switch prof.Driver {
	case "sqlite":
		return sqlite.NewDB(prof)
	case "postgres", "":
		return postgres.NewDB(prof)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", prof.Driver)
	}
}
