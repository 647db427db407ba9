package repository

import (
	"context"
	"fmt"
)

// schemaStatements creates the patients table and both history
// ledgers. The ON DELETE CASCADE on patient_name makes history cleanup
// on patient removal the database's concern.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS patients (
		patient_id SERIAL PRIMARY KEY,
		patient_name TEXT UNIQUE NOT NULL,
		procedure TEXT,
		last_updated TEXT,
		soft_data TEXT,
		current_plan JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS dhp_history (
		history_id SERIAL PRIMARY KEY,
		patient_name TEXT NOT NULL REFERENCES patients(patient_name) ON DELETE CASCADE,
		procedure TEXT,
		last_updated TEXT,
		soft_data TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS plan_history (
		history_id SERIAL PRIMARY KEY,
		patient_name TEXT NOT NULL REFERENCES patients(patient_name) ON DELETE CASCADE,
		plan_snapshot JSONB NOT NULL
	)`,
}

// EnsureSchema creates the tables if they do not exist yet
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}
