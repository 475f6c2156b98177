package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// driverNames maps config driver names to registered database/sql drivers.
var driverNames = map[string]string{
	"postgres": "postgres",
	"sqlite":   "sqlite",
}

// OpenSQL opens and pings a relational database. Caller should call db.Close().
func OpenSQL(ctx context.Context, driver, dsn string, timeout time.Duration) (*sql.DB, error) {
	name, ok := driverNames[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s open: %w", driver, err)
	}
	if driver == "sqlite" {
		// sqlite allows a single writer; serialise through one connection
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s ping: %w", driver, err)
	}
	return db, nil
}
