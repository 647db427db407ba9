package repository

import (
	"context"
	"database/sql"
	"fmt"

	"wisefido-patient-record/internal/models"

	"go.uber.org/zap"
)

// DHPRecord current denormalized DHP fields of one patient row
type DHPRecord struct {
	PatientName string
	Snapshot    models.DHPSnapshot
}

// PatientRepository maintains the current-state projection: the single
// denormalized row per patient that mirrors the newest retained
// history entry of each kind.
type PatientRepository struct {
	q      Querier
	logger *zap.Logger
}

// NewPatientRepository creates a new patient repository
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{
		q:      db,
		logger: logger,
	}
}

// WithTx returns a copy bound to the given transaction
func (r *PatientRepository) WithTx(tx *sql.Tx) *PatientRepository {
	return &PatientRepository{q: tx, logger: r.logger}
}

// UpsertDHP creates the patient row with an empty plan, or overwrites
// only the DHP fields when the patient already exists. current_plan is
// never touched on conflict.
func (r *PatientRepository) UpsertDHP(ctx context.Context, patientName string, snap models.DHPSnapshot) error {
	query := `
		INSERT INTO patients (patient_name, procedure, last_updated, soft_data, current_plan)
		VALUES ($1, $2, $3, $4, '{}'::jsonb)
		ON CONFLICT (patient_name) DO UPDATE SET
			procedure = EXCLUDED.procedure,
			last_updated = EXCLUDED.last_updated,
			soft_data = EXCLUDED.soft_data
	`

	_, err := r.q.ExecContext(ctx, query, patientName, snap.Procedure, snap.LastUpdated, snap.SoftData)
	if err != nil {
		return fmt.Errorf("failed to upsert patient dhp: %w", err)
	}

	return nil
}

// UpdateDHP overwrites the DHP fields of an existing patient row.
// Used by rollback, which never creates patients.
func (r *PatientRepository) UpdateDHP(ctx context.Context, patientName string, snap models.DHPSnapshot) error {
	query := `
		UPDATE patients
		SET procedure = $1, last_updated = $2, soft_data = $3
		WHERE patient_name = $4
	`

	_, err := r.q.ExecContext(ctx, query, snap.Procedure, snap.LastUpdated, snap.SoftData, patientName)
	if err != nil {
		return fmt.Errorf("failed to update patient dhp: %w", err)
	}

	return nil
}

// SetPlan overwrites the current plan of an existing patient row.
// Returns false when no row matched, so the caller can reject plan
// pushes for unknown patients.
func (r *PatientRepository) SetPlan(ctx context.Context, patientName string, planJSON []byte) (bool, error) {
	query := `
		UPDATE patients
		SET current_plan = $1
		WHERE patient_name = $2
	`

	result, err := r.q.ExecContext(ctx, query, planJSON, patientName)
	if err != nil {
		return false, fmt.Errorf("failed to set patient plan: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}

	return affected > 0, nil
}

// GetDHP reads the current DHP fields. Returns (nil, nil) when the
// patient is unknown.
func (r *PatientRepository) GetDHP(ctx context.Context, patientName string) (*DHPRecord, error) {
	query := `
		SELECT patient_name, procedure, last_updated, soft_data
		FROM patients
		WHERE patient_name = $1
	`

	var record DHPRecord
	var procedure, lastUpdated, softData sql.NullString

	err := r.q.QueryRowContext(ctx, query, patientName).Scan(
		&record.PatientName,
		&procedure,
		&lastUpdated,
		&softData,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query patient dhp: %w", err)
	}

	record.Snapshot.Procedure = procedure.String
	record.Snapshot.LastUpdated = lastUpdated.String
	record.Snapshot.SoftData = softData.String

	return &record, nil
}

// GetPlan reads the current plan as raw JSON. Returns (nil, nil) when
// the patient is unknown or no plan was ever set (NULL or an empty
// document both count as "no plan").
func (r *PatientRepository) GetPlan(ctx context.Context, patientName string) ([]byte, error) {
	query := `
		SELECT current_plan
		FROM patients
		WHERE patient_name = $1
	`

	var plan sql.NullString

	err := r.q.QueryRowContext(ctx, query, patientName).Scan(&plan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query patient plan: %w", err)
	}

	if !plan.Valid || plan.String == "" || plan.String == "{}" {
		return nil, nil
	}

	return []byte(plan.String), nil
}
