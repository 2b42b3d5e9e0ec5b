package postgres

import (
	"context"
	"fmt"

	"gofinetune/internal/errors"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the trial database and checks it is reachable
func Open(ctx context.Context, driverName, url string) (*sqlx.DB, error) {
	switch driverName {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, errors.ConfigInvalid(fmt.Sprintf("unsupported database driver %q", driverName))
	}

	db, err := sqlx.Open(driverName, url)
	if err != nil {
		return nil, errors.DatabaseError("open "+driverName, err)
	}
	if driverName == DriverSQLite {
		// one writer at a time; parallel trials queue on the pool
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.DatabaseError("connect to "+driverName, err)
	}
	return db, nil
}
