package database

import (
	"database/sql"
	"fmt"

	"wisefido-patient-record/internal/config"

	_ "github.com/lib/pq"
)

// NewPostgres opens a PostgreSQL connection and verifies it with a
// ping. An error here means the store is unreachable; callers treat it
// as fatal, retry policy belongs to whoever supervises the process.
func NewPostgres(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
