package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-patient-record/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	dhpHistoryTable  = "dhp_history"
	planHistoryTable = "plan_history"
)

// Querier is the subset of database/sql satisfied by both *sql.DB and
// *sql.Tx, so repository methods compose into a caller-owned
// transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DHPHistoryEntry one retained DHP version. history_id is assigned by
// the database in insertion order; descending history_id is the only
// recency ordering.
type DHPHistoryEntry struct {
	HistoryID int64
	Snapshot  models.DHPSnapshot
}

// PlanHistoryEntry one retained plan version, snapshot held as the raw
// JSONB document.
type PlanHistoryEntry struct {
	HistoryID int64
	Snapshot  []byte
}

// HistoryRepository append-only history ledger for both snapshot kinds.
// Entries are immutable once written; the only mutations are whole-row
// deletes via Trim and DeleteByIDs.
type HistoryRepository struct {
	q      Querier
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		q:      db,
		logger: logger,
	}
}

// WithTx returns a copy bound to the given transaction
func (r *HistoryRepository) WithTx(tx *sql.Tx) *HistoryRepository {
	return &HistoryRepository{q: tx, logger: r.logger}
}

// AppendDHP inserts a new DHP snapshot as the newest entry
func (r *HistoryRepository) AppendDHP(ctx context.Context, patientName string, snap models.DHPSnapshot) error {
	query := `
		INSERT INTO dhp_history (patient_name, procedure, last_updated, soft_data)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.q.ExecContext(ctx, query, patientName, snap.Procedure, snap.LastUpdated, snap.SoftData)
	if err != nil {
		return fmt.Errorf("failed to append dhp history: %w", err)
	}

	return nil
}

// AppendPlan inserts a new plan snapshot as the newest entry
func (r *HistoryRepository) AppendPlan(ctx context.Context, patientName string, planJSON []byte) error {
	query := `
		INSERT INTO plan_history (patient_name, plan_snapshot)
		VALUES ($1, $2)
	`

	_, err := r.q.ExecContext(ctx, query, patientName, planJSON)
	if err != nil {
		return fmt.Errorf("failed to append plan history: %w", err)
	}

	return nil
}

// RecentDHP returns up to count DHP entries newest-first. Returns an
// empty slice when the patient has no entries.
func (r *HistoryRepository) RecentDHP(ctx context.Context, patientName string, count int) ([]DHPHistoryEntry, error) {
	query := `
		SELECT history_id, procedure, last_updated, soft_data
		FROM dhp_history
		WHERE patient_name = $1
		ORDER BY history_id DESC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, patientName, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query dhp history: %w", err)
	}
	defer rows.Close()

	var entries []DHPHistoryEntry
	for rows.Next() {
		var entry DHPHistoryEntry
		var procedure, lastUpdated, softData sql.NullString

		if err := rows.Scan(&entry.HistoryID, &procedure, &lastUpdated, &softData); err != nil {
			return nil, fmt.Errorf("failed to scan dhp history entry: %w", err)
		}

		entry.Snapshot.Procedure = procedure.String
		entry.Snapshot.LastUpdated = lastUpdated.String
		entry.Snapshot.SoftData = softData.String

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read dhp history: %w", err)
	}

	return entries, nil
}

// RecentPlan returns up to count plan entries newest-first
func (r *HistoryRepository) RecentPlan(ctx context.Context, patientName string, count int) ([]PlanHistoryEntry, error) {
	query := `
		SELECT history_id, plan_snapshot
		FROM plan_history
		WHERE patient_name = $1
		ORDER BY history_id DESC
		LIMIT $2
	`

	rows, err := r.q.QueryContext(ctx, query, patientName, count)
	if err != nil {
		return nil, fmt.Errorf("failed to query plan history: %w", err)
	}
	defer rows.Close()

	var entries []PlanHistoryEntry
	for rows.Next() {
		var entry PlanHistoryEntry

		if err := rows.Scan(&entry.HistoryID, &entry.Snapshot); err != nil {
			return nil, fmt.Errorf("failed to scan plan history entry: %w", err)
		}

		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read plan history: %w", err)
	}

	return entries, nil
}

// TrimDHP deletes every DHP entry beyond the limit most recent
func (r *HistoryRepository) TrimDHP(ctx context.Context, patientName string, limit int) error {
	return r.trim(ctx, dhpHistoryTable, patientName, limit)
}

// TrimPlan deletes every plan entry beyond the limit most recent
func (r *HistoryRepository) TrimPlan(ctx context.Context, patientName string, limit int) error {
	return r.trim(ctx, planHistoryTable, patientName, limit)
}

// trim ranks entries by recency and deletes rank > limit, so it
// converges to the limit regardless of current ledger length.
func (r *HistoryRepository) trim(ctx context.Context, table, patientName string, limit int) error {
	query := fmt.Sprintf(`
		DELETE FROM %s
		WHERE history_id IN (
			SELECT history_id FROM (
				SELECT history_id,
				       ROW_NUMBER() OVER (ORDER BY history_id DESC) AS rn
				FROM %s
				WHERE patient_name = $1
			) ranked
			WHERE rn > $2
		)
	`, table, table)

	result, err := r.q.ExecContext(ctx, query, patientName, limit)
	if err != nil {
		return fmt.Errorf("failed to trim %s: %w", table, err)
	}

	if trimmed, err := result.RowsAffected(); err == nil && trimmed > 0 {
		r.logger.Debug("Trimmed history entries",
			zap.String("table", table),
			zap.String("patient", patientName),
			zap.Int64("trimmed", trimmed),
		)
	}

	return nil
}

// DeleteDHPByIDs deletes the DHP entries with the given identities
func (r *HistoryRepository) DeleteDHPByIDs(ctx context.Context, ids []int64) error {
	return r.deleteByIDs(ctx, dhpHistoryTable, ids)
}

// DeletePlanByIDs deletes the plan entries with the given identities
func (r *HistoryRepository) DeletePlanByIDs(ctx context.Context, ids []int64) error {
	return r.deleteByIDs(ctx, planHistoryTable, ids)
}

// deleteByIDs is idempotent: ids that no longer exist simply affect
// zero rows.
func (r *HistoryRepository) deleteByIDs(ctx context.Context, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE history_id = ANY($1)`, table)

	_, err := r.q.ExecContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	return nil
}
