package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"
)

// ConnectToDB opens a libsql database handle for the given DSN. A bare
// filesystem path is accepted and converted to a file: URL; anything already
// carrying a scheme (file:, http(s):, libsql:) is passed through untouched.
func ConnectToDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn cannot be empty")
	}

	url := dsn
	if !strings.Contains(dsn, ":") || strings.HasPrefix(dsn, "/") || strings.HasPrefix(dsn, ".") {
		url = fmt.Sprintf("file:%s", dsn)
	}

	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", url, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", url, err)
	}

	if strings.HasPrefix(url, "file:") {
		// SQLite serializes writers; a single pooled connection avoids
		// SQLITE_BUSY under concurrent DDL. TunePool can raise this for
		// remote replicas.
		db.SetMaxOpenConns(1)
		if !strings.Contains(url, ":memory:") {
			if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
				slog.Warn("Could not enable WAL mode", "error", err)
			}
		}
	}

	slog.Debug("Database connection established", "dsn", url)
	return db, nil
}

// TunePool applies connection pool limits. Zero values leave the driver
// defaults in place.
func TunePool(db *sql.DB, maxOpen, maxIdle, idleSec int) {
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if idleSec > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleSec) * time.Second)
	}
}
